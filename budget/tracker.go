package budget

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
)

// Record is the usage of a single model call.
type Record struct {
	Agent            string    `json:"agent"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Cost             float64   `json:"cost"`
	Timestamp        time.Time `json:"timestamp"`
}

// Usage aggregates records.
type Usage struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

func (u *Usage) add(r Record) {
	u.Calls++
	u.PromptTokens += r.PromptTokens
	u.CompletionTokens += r.CompletionTokens
	u.TotalTokens += r.PromptTokens + r.CompletionTokens
	u.Cost += r.Cost
}

// Summary is the usage breakdown stored with a transcript.
type Summary struct {
	Usage
	ByAgent map[string]Usage `json:"by_agent,omitempty"`
	ByModel map[string]Usage `json:"by_model,omitempty"`
}

// Tracker accumulates usage for one session. It is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	pricing *Pricing
	records []Record
	total   Usage
}

// NewTracker creates a tracker. A nil pricing table uses NewPricing.
func NewTracker(pricing *Pricing) *Tracker {
	if pricing == nil {
		pricing = NewPricing()
	}
	return &Tracker{pricing: pricing}
}

// Record adds the usage of one call.
func (t *Tracker) Record(agentName, model string, usage llm.Usage) Record {
	r := Record{
		Agent:            agentName,
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Cost:             t.pricing.Calculate(model, usage.PromptTokens, usage.CompletionTokens),
		Timestamp:        time.Now().UTC(),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, r)
	t.total.add(r)
	return r
}

// Total returns the usage so far.
func (t *Tracker) Total() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// Exceeded reports whether total tokens have reached limit. A limit of zero
// or less never triggers, nor does a nil tracker.
func (t *Tracker) Exceeded(limit int) bool {
	if t == nil || limit <= 0 {
		return false
	}
	return t.Total().TotalTokens >= limit
}

// Records returns the individual records, oldest first.
func (t *Tracker) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Record(nil), t.records...)
}

// Summary breaks usage down by agent and by model.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Summary{Usage: t.total, ByAgent: map[string]Usage{}, ByModel: map[string]Usage{}}
	for _, r := range t.records {
		a := s.ByAgent[r.Agent]
		a.add(r)
		s.ByAgent[r.Agent] = a

		m := s.ByModel[r.Model]
		m.add(r)
		s.ByModel[r.Model] = m
	}
	return s
}

// TopAgents returns agent names ordered by total tokens, highest first.
func (s Summary) TopAgents() []string {
	names := make([]string, 0, len(s.ByAgent))
	for name := range s.ByAgent {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := s.ByAgent[names[i]], s.ByAgent[names[j]]
		if a.TotalTokens != b.TotalTokens {
			return a.TotalTokens > b.TotalTokens
		}
		return names[i] < names[j]
	})
	return names
}

// Tracked records the usage of every completion of the wrapped model.
type Tracked struct {
	llm     llm.LLM
	tracker *Tracker
	agent   string
}

var _ llm.LLM = (*Tracked)(nil)

// Track wraps model so that its usage is recorded under agentName.
func Track(model llm.LLM, tracker *Tracker, agentName string) *Tracked {
	return &Tracked{llm: model, tracker: tracker, agent: agentName}
}

// Model returns the wrapped model identifier.
func (t *Tracked) Model() string {
	return t.llm.Model()
}

// Complete calls the wrapped model and records the reported usage.
func (t *Tracked) Complete(ctx context.Context, messages []*agent.Message, opts ...llm.CallOption) (*agent.Message, error) {
	resp, err := t.llm.Complete(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	if usage, ok := llm.UsageFrom(resp); ok {
		model := t.llm.Model()
		if m, ok := resp.Metadata["model"].(string); ok && m != "" {
			model = m
		}
		t.tracker.Record(t.agent, model, usage)
	}
	return resp, nil
}
