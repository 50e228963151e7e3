package session

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/patienthub/patienthub-go/store"
)

// Factory builds the i-th session of a batch. Sessions must not share
// agents.
type Factory func(ctx context.Context, i int) (*Session, error)

// RunBatch runs n sessions with at most parallel running at once. A failed
// session does not stop the others; the returned slice has a transcript
// for every session that got far enough to produce one, and the error is
// the first failure.
func RunBatch(ctx context.Context, n, parallel int, factory Factory) ([]*store.Transcript, error) {
	if n <= 0 {
		return nil, nil
	}
	if parallel <= 0 {
		parallel = 1
	}

	results := make([]*store.Transcript, n)
	var g errgroup.Group
	g.SetLimit(parallel)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			s, err := factory(ctx, i)
			if err != nil {
				return fmt.Errorf("build session %d: %w", i, err)
			}
			t, err := s.Run(ctx)
			results[i] = t
			if err != nil {
				slog.WarnContext(ctx, "session failed", "index", i, "session_id", s.ID(), "error", err)
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	out := results[:0]
	for _, t := range results {
		if t != nil {
			out = append(out, t)
		}
	}
	return out, err
}
