// Package budget tracks token usage and estimated cost of model calls.
package budget

import (
	"log/slog"
	"strings"
	"sync"
)

// Price is the cost in dollars per one million tokens.
type Price struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// Pricing maps model identifiers to prices.
type Pricing struct {
	mu     sync.RWMutex
	prices map[string]Price
	warned map[string]bool
}

// NewPricing returns a table with published rates for common models.
// Self-hosted and local models cost nothing.
func NewPricing() *Pricing {
	return &Pricing{
		prices: map[string]Price{
			// OpenAI
			"gpt-4o":        {Input: 2.50, Output: 10.00},
			"gpt-4o-mini":   {Input: 0.15, Output: 0.60},
			"gpt-4.1":       {Input: 2.00, Output: 8.00},
			"gpt-4.1-mini":  {Input: 0.40, Output: 1.60},
			"gpt-3.5-turbo": {Input: 0.50, Output: 1.50},

			// Anthropic
			"claude-sonnet-4":  {Input: 3.00, Output: 15.00},
			"claude-3-5-haiku": {Input: 0.80, Output: 4.00},
			"claude-opus-4":    {Input: 15.00, Output: 75.00},

			// Google
			"gemini-2.0-flash": {Input: 0.10, Output: 0.40},
			"gemini-1.5-pro":   {Input: 1.25, Output: 5.00},

			"mock": {},
		},
		warned: map[string]bool{},
	}
}

// Set overrides the price of a model.
func (p *Pricing) Set(model string, price Price) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[model] = price
}

// Lookup finds the price for model. Versioned names such as
// "claude-3-5-haiku-latest" match their longest known prefix.
func (p *Pricing) Lookup(model string) (Price, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if price, ok := p.prices[model]; ok {
		return price, true
	}
	best := ""
	for name := range p.prices {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Price{}, false
	}
	return p.prices[best], true
}

// Calculate returns the dollar cost of one call. Unknown models cost zero
// and are logged once.
func (p *Pricing) Calculate(model string, promptTokens, completionTokens int) float64 {
	price, ok := p.Lookup(model)
	if !ok {
		p.mu.Lock()
		if !p.warned[model] {
			p.warned[model] = true
			slog.Debug("no pricing for model, cost not tracked", "model", model)
		}
		p.mu.Unlock()
		return 0
	}
	return float64(promptTokens)/1_000_000*price.Input + float64(completionTokens)/1_000_000*price.Output
}
