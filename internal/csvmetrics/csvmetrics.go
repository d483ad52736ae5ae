// Package csvmetrics writes one CSV row per timed client operation,
// mirroring the original benchmarking harness's raw-sample output so
// external tooling (spreadsheets, notebooks) can recompute percentiles
// without the client having to implement them itself. Kept on
// encoding/csv: none of the retrieval pack's dependencies provide a CSV
// writer, and the format here is exactly stdlib's wheelhouse (headerless
// rows, no schema evolution).
package csvmetrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"
)

// Record is one sampled operation.
type Record struct {
	ClientName string
	Key        string
	Duration   time.Duration
}

// Writer appends Records to a CSV file, one row per call, with no
// header row (matching the original harness's append-only format).
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// Open creates (or appends to) path for writing.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csvmetrics: open %s: %w", path, err)
	}
	return &Writer{file: f, writer: csv.NewWriter(f)}, nil
}

// Log appends one Record as a CSV row and flushes immediately, so a
// crashed client doesn't lose buffered samples.
func (w *Writer) Log(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	row := []string{r.ClientName, r.Key, fmt.Sprintf("%d", r.Duration.Nanoseconds())}
	if err := w.writer.Write(row); err != nil {
		return err
	}
	w.writer.Flush()
	return w.writer.Error()
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Flush()
	return w.file.Close()
}
