package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fetches_total", Help: "Upstream fetch attempts by source"},
		[]string{"source"},
	)
	FetchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fetch_retries_total", Help: "Upstream fetch retries by source"},
		[]string{"source"},
	)
	SamplesRetained = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "samples_retained_total", Help: "Samples retained after normalization"},
		[]string{"policy"},
	)
	SlotsFilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "slots_filled_total", Help: "Grid slots filled by carry-forward"},
		[]string{"policy"},
	)
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "runs_total", Help: "Metric runs by outcome"},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(FetchesTotal, FetchRetriesTotal, SamplesRetained, SlotsFilled, RunsTotal)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
