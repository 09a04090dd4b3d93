package arena

import (
	"os"
	"sync"
)

// ResultWriter appends NDJSON lines to the result file under a dedicated
// mutex, shared by every run's finalize call.
type ResultWriter struct {
	mu sync.Mutex
	f  *os.File
}

// OpenResultWriter truncates (or creates) path for a fresh run of lines. A
// nil *ResultWriter (returned when path is empty) makes AppendLine a no-op.
func OpenResultWriter(path string) (*ResultWriter, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &ResultWriter{f: f}, nil
}

// AppendLine writes one JSON object plus a trailing newline.
func (w *ResultWriter) AppendLine(jsonLine string) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.f.WriteString(jsonLine + "\n")
	return err
}

// Close closes the underlying file, if any.
func (w *ResultWriter) Close() error {
	if w == nil {
		return nil
	}
	return w.f.Close()
}
