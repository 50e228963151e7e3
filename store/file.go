package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStorage writes transcripts as JSON.
//
// When path ends in ".json" every transcript goes into that one file: the
// first save writes an object, the second turns it into an array of both
// and later saves append. Any other path is a directory holding one
// <session_id>.json file per session.
type FileStorage struct {
	mu     sync.Mutex
	path   string
	single bool
}

// NewFileStorage creates the parent directory (or the directory itself).
func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("file storage path is empty")
	}
	single := strings.EqualFold(filepath.Ext(path), ".json")
	dir := path
	if single {
		dir = filepath.Dir(path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileStorage{path: path, single: single}, nil
}

// Path returns the file or directory written to.
func (s *FileStorage) Path() string {
	return s.path
}

// Save writes t.
func (s *FileStorage) Save(_ context.Context, t *Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.single {
		return s.appendFile(t)
	}
	if t.ID == "" {
		return fmt.Errorf("transcript id is required")
	}
	data, err := json.MarshalIndent(t, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.path, t.ID+".json"), data)
}

func (s *FileStorage) appendFile(t *Transcript) error {
	var out interface{} = t

	prev, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("read %s: %w", s.path, err)
	default:
		prev = bytes.TrimSpace(prev)
		switch {
		case len(prev) == 0 || bytes.Equal(prev, []byte("null")):
			out = []interface{}{t}
		case prev[0] == '[':
			var items []json.RawMessage
			if err := json.Unmarshal(prev, &items); err != nil {
				return fmt.Errorf("parse %s: %w", s.path, err)
			}
			out = append(toAny(items), t)
		default:
			var obj json.RawMessage
			if err := json.Unmarshal(prev, &obj); err != nil {
				return fmt.Errorf("parse %s: %w", s.path, err)
			}
			out = []interface{}{obj, t}
		}
	}

	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

func toAny(items []json.RawMessage) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename transcript: %w", err)
	}
	return nil
}

// Load returns the transcript with id. In single-file mode the last entry
// with that id wins.
func (s *FileStorage) Load(ctx context.Context, id string) (*Transcript, error) {
	if !s.single {
		s.mu.Lock()
		defer s.mu.Unlock()
		return readTranscript(filepath.Join(s.path, id+".json"), id)
	}

	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ID == id {
			return all[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
}

func readTranscript(path, id string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", path, err)
	}
	return &t, nil
}

// List returns stored transcripts, most recently ended first.
func (s *FileStorage) List(_ context.Context, limit int) ([]*Transcript, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	return newestFirst(all, limit), nil
}

func (s *FileStorage) readAll() ([]*Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.single {
		data, err := os.ReadFile(s.path)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s.path, err)
		}
		return DecodeTranscripts(data)
	}

	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, fmt.Errorf("read storage directory: %w", err)
	}
	var out []*Transcript
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		t, err := readTranscript(filepath.Join(s.path, e.Name()), id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Close is a no-op.
func (s *FileStorage) Close() error {
	return nil
}

// DecodeTranscripts parses a JSON document holding one transcript or an
// array of them.
func DecodeTranscripts(data []byte) ([]*Transcript, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '[' {
		var ts []*Transcript
		if err := json.Unmarshal(data, &ts); err != nil {
			return nil, fmt.Errorf("parse transcripts: %w", err)
		}
		return ts, nil
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return []*Transcript{&t}, nil
}
