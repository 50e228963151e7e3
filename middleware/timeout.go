package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
)

// TimeoutMetrics tracks timeout middleware metrics.
type TimeoutMetrics struct {
	mu                 sync.RWMutex
	TotalRequests      int64
	SuccessfulRequests int64
	TimedOutRequests   int64
	FailedRequests     int64 // Failed for reasons other than timeout
	TotalDuration      time.Duration
}

func (m *TimeoutMetrics) record(duration time.Duration, counter *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRequests++
	*counter++
	m.TotalDuration += duration
}

// Snapshot returns request counts as (total, succeeded, timed out, failed).
func (m *TimeoutMetrics) Snapshot() (int64, int64, int64, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TotalRequests, m.SuccessfulRequests, m.TimedOutRequests, m.FailedRequests
}

// AvgDuration returns the average request duration.
func (m *TimeoutMetrics) AvgDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.TotalRequests == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.TotalRequests)
}

// TimeoutError is returned when a completion exceeds the configured timeout.
type TimeoutError struct {
	Model   string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("completion from model '%s' timed out after %v", e.Model, e.Timeout)
}

// TimeoutLLM bounds every completion of the wrapped model.
//
// The call runs in its own goroutine so that adapters which ignore context
// cancellation still return control to the session loop on time.
type TimeoutLLM struct {
	llm     llm.LLM
	timeout time.Duration
	metrics *TimeoutMetrics
}

var _ llm.LLM = (*TimeoutLLM)(nil)

// Timeout wraps model with a per-call deadline. A non-positive timeout
// defaults to 60 seconds.
//
// A call that overruns returns a *TimeoutError naming the model:
//
//	model := Timeout(inner, 30*time.Second)
//	_, err := model.Complete(ctx, messages)
//	var te *TimeoutError
//	if errors.As(err, &te) {
//	    slog.Warn("model too slow", "model", te.Model, "after", te.Timeout)
//	}
func Timeout(model llm.LLM, timeout time.Duration) *TimeoutLLM {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TimeoutLLM{llm: model, timeout: timeout, metrics: &TimeoutMetrics{}}
}

// Model returns the model identifier of the wrapped model.
func (t *TimeoutLLM) Model() string {
	return t.llm.Model()
}

// Metrics returns the timeout metrics.
func (t *TimeoutLLM) Metrics() *TimeoutMetrics {
	return t.metrics
}

// Complete calls the wrapped model under a deadline.
func (t *TimeoutLLM) Complete(ctx context.Context, messages []*agent.Message, opts ...llm.CallOption) (*agent.Message, error) {
	start := time.Now()

	timeoutCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		msg *agent.Message
		err error
	}
	done := make(chan result, 1)

	go func() {
		msg, err := t.llm.Complete(timeoutCtx, messages, opts...)
		done <- result{msg, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				t.metrics.record(time.Since(start), &t.metrics.TimedOutRequests)
				return nil, &TimeoutError{Model: t.llm.Model(), Timeout: t.timeout}
			}
			t.metrics.record(time.Since(start), &t.metrics.FailedRequests)
			return nil, res.err
		}
		t.metrics.record(time.Since(start), &t.metrics.SuccessfulRequests)
		return res.msg, nil

	case <-timeoutCtx.Done():
		if err := ctx.Err(); err != nil {
			t.metrics.record(time.Since(start), &t.metrics.FailedRequests)
			return nil, err
		}
		t.metrics.record(time.Since(start), &t.metrics.TimedOutRequests)
		return nil, &TimeoutError{Model: t.llm.Model(), Timeout: t.timeout}
	}
}
