package budget

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
)

func TestPricingLookup(t *testing.T) {
	p := NewPricing()

	tests := []struct {
		model string
		want  Price
		found bool
	}{
		{"gpt-4o", Price{2.50, 10.00}, true},
		{"gpt-4o-mini-2024-07-18", Price{0.15, 0.60}, true},
		{"claude-3-5-haiku-latest", Price{0.80, 4.00}, true},
		{"llama3.1", Price{}, false},
	}
	for _, tt := range tests {
		got, ok := p.Lookup(tt.model)
		if ok != tt.found || got != tt.want {
			t.Errorf("Lookup(%q) = %v, %v; want %v, %v", tt.model, got, ok, tt.want, tt.found)
		}
	}
}

func TestPricingCalculate(t *testing.T) {
	p := NewPricing()
	p.Set("custom", Price{Input: 1, Output: 5})

	if got := p.Calculate("custom", 1_000_000, 1_000_000); math.Abs(got-6) > 1e-9 {
		t.Errorf("expected $6, got %f", got)
	}
	if got := p.Calculate("unknown-model", 1000, 1000); got != 0 {
		t.Errorf("unknown models should cost zero, got %f", got)
	}
}

func TestTrackerSummary(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Record("client", "gpt-4o", llm.Usage{PromptTokens: 100, CompletionTokens: 20})
	tracker.Record("client", "gpt-4o", llm.Usage{PromptTokens: 50, CompletionTokens: 10})
	tracker.Record("therapist", "mock", llm.Usage{PromptTokens: 400, CompletionTokens: 40})

	total := tracker.Total()
	if total.Calls != 3 || total.TotalTokens != 620 {
		t.Errorf("unexpected total %+v", total)
	}

	s := tracker.Summary()
	if s.ByAgent["client"].TotalTokens != 180 {
		t.Errorf("unexpected client usage %+v", s.ByAgent["client"])
	}
	if s.ByModel["mock"].Cost != 0 {
		t.Error("mock model should be free")
	}
	if s.ByModel["gpt-4o"].Cost <= 0 {
		t.Error("gpt-4o usage should have a cost")
	}
	if got := s.TopAgents(); !reflect.DeepEqual(got, []string{"therapist", "client"}) {
		t.Errorf("unexpected agent order %v", got)
	}
	if len(tracker.Records()) != 3 {
		t.Errorf("expected 3 records")
	}
}

func TestTrackerExceeded(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Record("client", "mock", llm.Usage{PromptTokens: 60, CompletionTokens: 40})

	tests := []struct {
		limit int
		want  bool
	}{
		{0, false},
		{-1, false},
		{101, false},
		{100, true},
		{50, true},
	}
	for _, tt := range tests {
		if got := tracker.Exceeded(tt.limit); got != tt.want {
			t.Errorf("Exceeded(%d) = %v, want %v", tt.limit, got, tt.want)
		}
	}
}

func TestTrackedRecordsUsage(t *testing.T) {
	tracker := NewTracker(nil)
	model := Track(llm.NewMockLLM("a", "b"), tracker, "client")

	msgs := []*agent.Message{agent.NewMessage("system", "s"), agent.NewMessage("user", "u")}
	for i := 0; i < 2; i++ {
		if _, err := model.Complete(context.Background(), msgs); err != nil {
			t.Fatal(err)
		}
	}

	total := tracker.Total()
	if total.Calls != 2 || total.PromptTokens != 4 || total.CompletionTokens != 2 {
		t.Errorf("unexpected usage %+v", total)
	}
	if model.Model() != "mock" {
		t.Errorf("Model should delegate")
	}
}

func TestTrackedSkipsErrors(t *testing.T) {
	tracker := NewTracker(nil)
	mock := llm.NewMockLLM()
	mock.Func = func(ctx context.Context, messages []*agent.Message) (string, error) {
		return "", errors.New("down")
	}
	if _, err := Track(mock, tracker, "client").Complete(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
	if tracker.Total().Calls != 0 {
		t.Error("failed calls should not be recorded")
	}
}

func TestTrackerConcurrent(t *testing.T) {
	tracker := NewTracker(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Record("client", "mock", llm.Usage{PromptTokens: 1, CompletionTokens: 1})
		}()
	}
	wg.Wait()
	if got := tracker.Total().TotalTokens; got != 100 {
		t.Errorf("expected 100 tokens, got %d", got)
	}
}
