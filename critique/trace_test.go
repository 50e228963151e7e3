package critique

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenJSONLTraceAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "roleplaydoh.jsonl")

	for i := 0; i < 2; i++ {
		trace, err := OpenJSONLTrace(path)
		if err != nil {
			t.Fatalf("OpenJSONLTrace failed: %v", err)
		}
		err = trace.Record(context.Background(), TraceEntry{
			Timestamp: time.Now(),
			Stage:     StageDraft,
			Model:     "mock",
			Inputs:    map[string]interface{}{"run": i},
			Output:    "draft",
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if err := trace.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var n int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry TraceEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d invalid: %v", n, err)
		}
		if entry.Inputs["run"] != float64(n) {
			t.Errorf("line %d has run %v", n, entry.Inputs["run"])
		}
		n++
	}
	if n != 2 {
		t.Errorf("expected 2 appended lines, got %d", n)
	}
}

func TestNewJSONLTraceCloseIsNoop(t *testing.T) {
	if err := NewJSONLTrace(os.Stdout).Close(); err != nil {
		t.Errorf("Close on a writer trace should be a no-op, got %v", err)
	}
}
