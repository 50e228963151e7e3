package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Load when no transcript has the given id.
var ErrNotFound = errors.New("transcript not found")

// Storage saves and loads transcripts.
type Storage interface {
	// Save stores t. Saving an id twice replaces the earlier transcript,
	// except in single-file mode where every save is appended.
	Save(ctx context.Context, t *Transcript) error

	// Load returns the transcript with id, or ErrNotFound.
	Load(ctx context.Context, id string) (*Transcript, error)

	// List returns up to limit transcripts, most recently ended first.
	// A limit of zero or less returns all of them.
	List(ctx context.Context, limit int) ([]*Transcript, error)

	Close() error
}

// Options tune the backends that support them.
type Options struct {
	// TTL expires Redis entries. Zero keeps them forever.
	TTL time.Duration
	// KeyPrefix namespaces Redis keys.
	KeyPrefix string
}

// Open selects a backend from rawURL.
func Open(ctx context.Context, rawURL string, opts Options) (Storage, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("storage url is empty")
	}
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return NewFileStorage(rawURL)
	}
	switch scheme {
	case "file":
		return NewFileStorage(rest)
	case "sqlite":
		return NewSQLiteStorage(ctx, rest)
	case "redis", "rediss":
		return NewRedisStorage(ctx, rawURL, opts)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", scheme)
	}
}

// MemoryStorage keeps transcripts in process. It backs the websocket server
// when no storage is configured, and tests.
type MemoryStorage struct {
	mu          sync.RWMutex
	transcripts map[string]*Transcript
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{transcripts: make(map[string]*Transcript)}
}

// Save stores t.
func (s *MemoryStorage) Save(_ context.Context, t *Transcript) error {
	if t.ID == "" {
		return fmt.Errorf("transcript id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[t.ID] = t
	return nil
}

// Load returns the transcript with id.
func (s *MemoryStorage) Load(_ context.Context, id string) (*Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transcripts[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return t, nil
}

// List returns stored transcripts, most recently ended first.
func (s *MemoryStorage) List(_ context.Context, limit int) ([]*Transcript, error) {
	s.mu.RLock()
	out := make([]*Transcript, 0, len(s.transcripts))
	for _, t := range s.transcripts {
		out = append(out, t)
	}
	s.mu.RUnlock()
	return newestFirst(out, limit), nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}

func newestFirst(ts []*Transcript, limit int) []*Transcript {
	sort.SliceStable(ts, func(i, j int) bool {
		return ts[i].EndedAt.After(ts[j].EndedAt)
	})
	if limit > 0 && len(ts) > limit {
		ts = ts[:limit]
	}
	return ts
}
