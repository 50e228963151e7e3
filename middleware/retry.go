// Package middleware provides decorators for chat models.
//
// Every decorator implements llm.LLM and wraps another llm.LLM, so they
// stack freely:
//
//	model = middleware.Retry(middleware.Timeout(model, 60*time.Second), middleware.DefaultRetryConfig())
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt).
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the initial backoff duration.
	// Default: 500ms
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration.
	// Default: 10s
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2.0
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// ShouldRetry determines if an error should trigger a retry.
	// If nil, every error except context cancellation is retried.
	ShouldRetry func(error) bool `yaml:"-"`
}

// DefaultRetryConfig returns a retry config with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryLLM wraps a model with retry logic.
type RetryLLM struct {
	llm    llm.LLM
	config RetryConfig
}

var _ llm.LLM = (*RetryLLM)(nil)

// Retry wraps model so that failed completions are retried with
// exponential backoff.
//
// Parameters:
//   - model: The model to wrap
//   - config: Attempts and backoff. Zero fields take the defaults (3 attempts,
//     500ms initial backoff, 10s cap, multiplier 2)
//
// Context cancellation is never retried. Other errors are retried unless
// config.ShouldRetry rejects them.
//
// Example:
//
//	model = Retry(model, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second})
func Retry(model llm.LLM, config RetryConfig) *RetryLLM {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 10 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	return &RetryLLM{llm: model, config: config}
}

// Model returns the model identifier of the wrapped model.
func (r *RetryLLM) Model() string {
	return r.llm.Model()
}

// Complete calls the wrapped model until it succeeds, a non-retryable error
// is returned, or the attempts run out.
func (r *RetryLLM) Complete(ctx context.Context, messages []*agent.Message, opts ...llm.CallOption) (*agent.Message, error) {
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		response, err := r.llm.Complete(ctx, messages, opts...)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !r.retryable(err) {
			return nil, fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, r.config.MaxAttempts, err)
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		slog.Debug("retrying completion",
			"model", r.llm.Model(),
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("retry cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * r.config.BackoffMultiplier)
			if backoff > r.config.MaxBackoff {
				backoff = r.config.MaxBackoff
			}
		}
	}

	return nil, fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

func (r *RetryLLM) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if r.config.ShouldRetry != nil {
		return r.config.ShouldRetry(err)
	}
	return true
}
