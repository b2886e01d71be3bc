// Package track reports run parameters and metrics to an experiment
// tracking sink. The sink is selected by the run configuration's tracking
// toggle; credentials for a remote service come from the environment and
// are referenced by name only.
package track

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Environment variables consulted when tracking is enabled.
const (
	EnvTrackerHost = "MOONLANDER_TRACKER_HOST"
	EnvTrackerKey  = "MOONLANDER_TRACKER_API_KEY"
)

// Tracker receives experiment parameters and per-step metrics.
type Tracker interface {
	LogParams(params map[string]any) error
	LogMetrics(step int, metrics map[string]float64)
	Close() error
}

// Nop returns a tracker that discards everything, for runs with tracking
// disabled.
func Nop() Tracker { return nopTracker{} }

type nopTracker struct{}

func (nopTracker) LogParams(map[string]any) error     { return nil }
func (nopTracker) LogMetrics(int, map[string]float64) {}
func (nopTracker) Close() error                       { return nil }

// FileTracker appends JSONL records to a run log under the run directory.
type FileTracker struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// record is one JSONL line in the run log.
type record struct {
	Time    string             `json:"time"`
	Kind    string             `json:"kind"`
	Step    int                `json:"step,omitempty"`
	Params  map[string]any     `json:"params,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// NewFileTracker opens (creating directories as needed) a JSONL run log
// at <dir>/metrics.jsonl.
func NewFileTracker(dir string) (*FileTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	path := filepath.Join(dir, "metrics.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	return &FileTracker{file: f, enc: json.NewEncoder(f)}, nil
}

// LogParams writes the run parameters record.
func (t *FileTracker) LogParams(params map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enc.Encode(record{
		Time:   time.Now().UTC().Format(time.RFC3339),
		Kind:   "params",
		Params: params,
	})
}

// LogMetrics writes one metrics record. Write failures are swallowed;
// losing a metrics line must not abort training.
func (t *FileTracker) LogMetrics(step int, metrics map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.enc.Encode(record{
		Time:    time.Now().UTC().Format(time.RFC3339),
		Kind:    "metrics",
		Step:    step,
		Metrics: metrics,
	})
}

// Close flushes and closes the run log.
func (t *FileTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// Multi fans out to several trackers.
func Multi(trackers ...Tracker) Tracker { return multiTracker(trackers) }

type multiTracker []Tracker

func (m multiTracker) LogParams(params map[string]any) error {
	for _, t := range m {
		if err := t.LogParams(params); err != nil {
			return err
		}
	}
	return nil
}

func (m multiTracker) LogMetrics(step int, metrics map[string]float64) {
	for _, t := range m {
		t.LogMetrics(step, metrics)
	}
}

func (m multiTracker) Close() error {
	var firstErr error
	for _, t := range m {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ForRun returns the tracker for a run directory honouring the tracking
// toggle. When enabled, a configured remote host is recorded in the run
// log rather than contacted; the pipeline never blocks on the service.
func ForRun(enabled bool, dir string) (Tracker, error) {
	if !enabled {
		return Nop(), nil
	}
	ft, err := NewFileTracker(dir)
	if err != nil {
		return nil, err
	}
	if host := os.Getenv(EnvTrackerHost); host != "" {
		_ = ft.LogParams(map[string]any{"tracker_host": host})
	}
	return ft, nil
}
