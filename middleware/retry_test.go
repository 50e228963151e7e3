package middleware

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
)

// failingLLM fails a specified number of times before succeeding.
type failingLLM struct {
	mu         sync.Mutex
	failCount  int
	attempts   int
	successMsg string
	failure    error
}

func (f *failingLLM) Model() string {
	return "failing-model"
}

func (f *failingLLM) Complete(ctx context.Context, messages []*agent.Message, opts ...llm.CallOption) (*agent.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failCount {
		return nil, f.failure
	}
	return agent.NewMessage(agent.RoleAssistant, f.successMsg), nil
}

func (f *failingLLM) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func hello() []*agent.Message {
	return []*agent.Message{agent.NewMessage(agent.RoleUser, "test")}
}

func TestRetrySuccess(t *testing.T) {
	model := &failingLLM{failCount: 2, successMsg: "success after retries", failure: errors.New("temporary failure")}

	retry := Retry(model, RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	})

	response, err := retry.Complete(context.Background(), hello())
	if err != nil {
		t.Fatalf("Expected success after retries, got error: %v", err)
	}
	if response.Content != "success after retries" {
		t.Errorf("Expected content 'success after retries', got '%s'", response.Content)
	}
	if model.Attempts() != 3 {
		t.Errorf("Expected 3 attempts, got %d", model.Attempts())
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	cause := errors.New("persistent failure")
	model := &failingLLM{failCount: 10, failure: cause}

	retry := Retry(model, RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond})

	_, err := retry.Complete(context.Background(), hello())
	if err == nil {
		t.Fatal("Expected error after max retries, got nil")
	}
	if model.Attempts() != 3 {
		t.Errorf("Expected 3 attempts, got %d", model.Attempts())
	}
	if !strings.Contains(err.Error(), "max retry attempts (3) exceeded") {
		t.Errorf("unexpected error message: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("error should wrap the last failure")
	}
}

func TestRetryNonRetryable(t *testing.T) {
	fatal := errors.New("invalid api key")
	model := &failingLLM{failCount: 10, failure: fatal}

	retry := Retry(model, RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		ShouldRetry:    func(err error) bool { return !errors.Is(err, fatal) },
	})

	_, err := retry.Complete(context.Background(), hello())
	if !errors.Is(err, fatal) {
		t.Fatalf("expected wrapped fatal error, got %v", err)
	}
	if model.Attempts() != 1 {
		t.Errorf("Expected 1 attempt, got %d", model.Attempts())
	}
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &failingLLM{failCount: 10, failure: errors.New("persistent failure")}

	retry := Retry(model, RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    50 * time.Millisecond,
		BackoffMultiplier: 2.0,
	})

	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()

	_, err := retry.Complete(ctx, hello())
	if err == nil {
		t.Fatal("Expected error due to context cancellation, got nil")
	}
	if model.Attempts() >= 5 {
		t.Errorf("Expected fewer than 5 attempts due to cancellation, got %d", model.Attempts())
	}
	if !strings.Contains(err.Error(), "retry cancelled") {
		t.Errorf("Expected error containing 'retry cancelled', got '%s'", err.Error())
	}
}

func TestRetryMaxBackoff(t *testing.T) {
	model := &failingLLM{failCount: 3, successMsg: "success", failure: errors.New("failure")}

	retry := Retry(model, RetryConfig{
		MaxAttempts:       4,
		InitialBackoff:    20 * time.Millisecond,
		MaxBackoff:        30 * time.Millisecond,
		BackoffMultiplier: 10.0,
	})

	start := time.Now()
	if _, err := retry.Complete(context.Background(), hello()); err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	// 20ms + 30ms + 30ms with the cap; 20ms + 200ms + ... without it.
	if d := time.Since(start); d > 150*time.Millisecond {
		t.Errorf("backoff cap not applied, took %v", d)
	}
}

func TestRetryDefaults(t *testing.T) {
	retry := Retry(llm.NewMockLLM("ok"), RetryConfig{})
	if retry.config.MaxAttempts != 3 || retry.config.BackoffMultiplier != 2.0 {
		t.Errorf("defaults not applied: %+v", retry.config)
	}
	if retry.Model() != "mock" {
		t.Errorf("Model should delegate, got %s", retry.Model())
	}
}
