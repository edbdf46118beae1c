package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/butterygg/metric-report/internal/window"
)

// Store writes run artifacts under a single directory: the untouched
// raw payload, the per-sample classification CSV, and the structured
// result record.
type Store struct {
	dir string
}

// NewStore creates the artifact directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the artifact directory path.
func (s *Store) Dir() string { return s.dir }

// WriteRaw captures an upstream payload verbatim.
func (s *Store) WriteRaw(name string, payload []byte) error {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write raw payload: %w", err)
	}
	return nil
}

// WriteSamples persists one row per retained or grid sample with
// timestamp, value, and provenance.
func (s *Store) WriteSamples(rows []SampleRow) error {
	path := filepath.Join(s.dir, "samples.csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create samples artifact: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"timestamp", "iso", "value", "provenance"}); err != nil {
		return fmt.Errorf("write samples header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.Ts, 10),
			window.FormatEpoch(row.Ts),
			row.Value.String(),
			row.Provenance,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write sample row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteResult persists the structured run record as indented JSON.
func (s *Store) WriteResult(result *RunResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	path := filepath.Join(s.dir, "result.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
