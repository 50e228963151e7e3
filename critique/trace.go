package critique

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceEntry records one pipeline stage.
type TraceEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Stage     Stage                  `json:"stage"`
	Model     string                 `json:"model"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Inputs    map[string]interface{} `json:"inputs"`
	Output    interface{}            `json:"output"`
	Error     string                 `json:"error,omitempty"`
}

// TraceSink receives trace entries. Record errors are logged, never fatal.
type TraceSink interface {
	Record(ctx context.Context, entry TraceEntry) error
}

// JSONLTrace writes one JSON object per line.
type JSONLTrace struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewJSONLTrace writes entries to w.
func NewJSONLTrace(w io.Writer) *JSONLTrace {
	return &JSONLTrace{w: w}
}

// OpenJSONLTrace appends entries to the file at path, creating parent
// directories as needed.
func OpenJSONLTrace(path string) (*JSONLTrace, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create trace directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &JSONLTrace{w: f, closer: f}, nil
}

// Record writes entry as a single line.
func (t *JSONLTrace) Record(_ context.Context, entry TraceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	return nil
}

// Close closes the underlying file, if OpenJSONLTrace opened one.
func (t *JSONLTrace) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
