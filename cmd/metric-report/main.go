// Binary metric-report resolves one prediction-market metric question
// to a single deterministic integer and writes the audit artifacts.
//
// Stdout carries only the primary result channel: the integer on
// success, "null" on failure. Everything else goes to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/butterygg/metric-report/internal/config"
	"github.com/butterygg/metric-report/internal/engine"
	"github.com/butterygg/metric-report/internal/metrics"
	"github.com/butterygg/metric-report/internal/report"
	"github.com/butterygg/metric-report/internal/source"
	"github.com/butterygg/metric-report/internal/util"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath   = flag.String("config", "config.yaml", "path to the YAML configuration")
		policyName   = flag.String("policy", "", "name of the policy record to run")
		anchorISO    = flag.String("decision-time", "", "decision anchor as ISO-8601 UTC")
		anchorEpoch  = flag.Int64("decision-time-epoch", 0, "decision anchor as epoch seconds or milliseconds")
		artifactsDir = flag.String("artifacts", "", "artifact output directory (default from config)")
		strictFinal  = flag.Bool("strict-final", false, "treat a non-final or gapped run as a hard failure")
		allowEarly   = flag.Bool("allow-early", false, "skip the earliest-answerable guard")
		logLevel     = flag.String("log-level", "", "log level override")
		metricsAddr  = flag.String("metrics-addr", "", "serve /metrics on this address while running")
	)
	flag.Parse()

	// .env may carry endpoint overrides for offline or mirrored runs.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("null")
		fmt.Fprintln(os.Stderr, "error:", err)
		return engine.ExitInternal
	}
	applyEnv(&cfg.Sources)

	level := cfg.App.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	log := util.NewLogger(level)

	if *policyName == "" {
		return fail(log, fmt.Errorf("missing -policy"), engine.ExitValidation)
	}
	p, err := cfg.Policy(*policyName)
	if err != nil {
		return fail(log, err, engine.ExitValidation)
	}
	if err := p.Validate(); err != nil {
		return fail(log, err, engine.ExitValidation)
	}

	addr := cfg.App.MetricsAddr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if addr != "" {
		srv := metrics.Serve(addr)
		defer srv.Close()
		log.Info().Str("addr", addr).Msg("metrics up")
	}

	dir := cfg.App.ArtifactsDir
	if *artifactsDir != "" {
		dir = *artifactsDir
	}
	store, err := report.NewStore(dir)
	if err != nil {
		return fail(log, err, engine.ExitInternal)
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := source.NewClient(
		time.Duration(cfg.Sources.TimeoutMs)*time.Millisecond,
		cfg.Sources.Retries,
		time.Duration(cfg.Sources.BackoffMs)*time.Millisecond,
		log,
	)
	hyperliquid := source.NewHyperliquid(client, cfg.Sources.HyperliquidURL)
	adapters := []source.Adapter{
		source.NewBinance(client, cfg.Sources.BinanceBaseURL),
		hyperliquid,
		source.NewCoinMarketCap(client, cfg.Sources.CMCBaseURL),
		source.NewLlamaChainTVL(client, cfg.Sources.LlamaBaseURL),
		source.NewLlamaProtocolTVL(client, cfg.Sources.LlamaBaseURL),
		source.NewLlamaYields(client, cfg.Sources.YieldsBaseURL),
	}

	// Hyperliquid candle requests want the "@N" pair id, so a
	// base/quote symbol is resolved through spotMeta up front.
	if p.Source == hyperliquid.Name() {
		if base, quote, ok := strings.Cut(p.Symbol, "/"); ok {
			coin, err := hyperliquid.ResolveSpotPair(ctx, base, quote)
			if err != nil {
				return fail(log, err, engine.ExitUpstream)
			}
			log.Info().Str("pair", p.Symbol).Str("coin", coin).Msg("resolved spot pair")
			p.Symbol = coin
			// The allow-list names human pairs; the resolved coin id has
			// to pass the same check downstream.
			if len(p.AllowedSymbols) > 0 {
				p.AllowedSymbols = append(p.AllowedSymbols, coin)
			}
		}
	}

	eng := engine.New(log, adapters)
	result, err := eng.Run(ctx, engine.Input{
		Policy:      p,
		AnchorISO:   *anchorISO,
		AnchorEpoch: *anchorEpoch,
		StrictFinal: *strictFinal,
		AllowEarly:  *allowEarly,
		Store:       store,
	})
	if err != nil {
		fmt.Println("null")
		log.Error().Err(err).Str("status", result.Status).Msg("run failed")
		return engine.ExitCode(err)
	}

	fmt.Println(*result.ResultInteger)
	if result.Status != report.StatusFinal {
		log.Warn().Str("status", result.Status).
			Int("observed", result.ObservedCount).
			Int("expected", result.ExpectedCount).
			Msg("run is not final")
	}
	return engine.ExitOK
}

func fail(log zerolog.Logger, err error, code int) int {
	fmt.Println("null")
	log.Error().Err(err).Msg("run aborted")
	return code
}

func applyEnv(s *config.Sources) {
	for env, target := range map[string]*string{
		"BINANCE_BASE_URL": &s.BinanceBaseURL,
		"HYPERLIQUID_URL":  &s.HyperliquidURL,
		"CMC_BASE_URL":     &s.CMCBaseURL,
		"LLAMA_BASE_URL":   &s.LlamaBaseURL,
		"YIELDS_BASE_URL":  &s.YieldsBaseURL,
	} {
		if v := os.Getenv(env); v != "" {
			*target = v
		}
	}
}
