// Package safety screens text typed by a human before it reaches a
// simulated agent.
//
// A live session forwards whatever the human therapist types straight into
// the client's prompt. Guard rejects oversized turns and turns that look
// like attempts to rewrite the client's instructions:
//
//	g := safety.NewGuard(safety.Config{})
//	if err := g.Check(text); err != nil {
//	    var ve *safety.ValidationError
//	    errors.As(err, &ve) // ve.Reason, ve.Score
//	}
package safety

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Defaults for Config.
const (
	DefaultMaxChars           = 4000
	DefaultInjectionThreshold = 10
)

// Rejection reasons.
const (
	ReasonEmpty     = "empty"
	ReasonTooLong   = "too_long"
	ReasonInjection = "prompt_injection"
)

// ValidationError describes a rejected input.
type ValidationError struct {
	Reason string
	// Score is the injection score, set for ReasonInjection.
	Score   int
	Matched []string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonInjection:
		return fmt.Sprintf("input looks like a prompt injection (score %d)", e.Score)
	case ReasonTooLong:
		return "input is too long"
	default:
		return "input is empty"
	}
}

// Config configures a Guard. Zero values take the defaults; a negative
// InjectionThreshold disables injection screening.
type Config struct {
	MaxChars           int `yaml:"max_chars"`
	InjectionThreshold int `yaml:"injection_threshold"`
}

type pattern struct {
	expr string
	re   *regexp.Regexp
}

func compile(exprs ...string) []pattern {
	out := make([]pattern, len(exprs))
	for i, e := range exprs {
		out[i] = pattern{expr: e, re: regexp.MustCompile("(?i)" + e)}
	}
	return out
}

// Phrases that try to replace the agent's instructions or persona. Each
// match adds 10 to the score.
var injectionPatterns = compile(
	`ignore\s+(all\s+)?(previous|above|prior|your)\s+instructions?`,
	`disregard\s+(all\s+)?(previous|above|prior|your)\s+(instructions?|prompt)`,
	`forget\s+(everything|all|your)\s+(previous\s+)?(instructions?|prompt|rules)`,
	`new\s+instructions?\s*:`,
	`^\s*system\s*(prompt|message)?\s*:`,
	`you\s+are\s+(now\s+)?(no\s+longer|not)\s+(a|the)\s+(client|patient)`,
	`(developer|admin|god)\s+mode`,
	`jailbreak`,
	`</?\s*system\s*>`,
	`<\|[^|]*\|>`,
	`\[/?INST\]`,
	`reveal\s+(your|the)\s+(system\s+)?prompt`,
)

// Words that add to the score on their own.
var suspiciousWords = map[string]int{
	"ignore":       3,
	"disregard":    3,
	"override":     2,
	"bypass":       3,
	"jailbreak":    5,
	"prompt":       2,
	"injection":    4,
	"instructions": 2,
	"sudo":         3,
}

var (
	wordRe    = regexp.MustCompile(`\w+`)
	specialRe = regexp.MustCompile(`[<>{}\[\]|]`)
)

// Guard validates human input. It is safe for concurrent use.
type Guard struct {
	maxChars  int
	threshold int
}

// NewGuard creates a guard.
func NewGuard(cfg Config) *Guard {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.InjectionThreshold == 0 {
		cfg.InjectionThreshold = DefaultInjectionThreshold
	}
	return &Guard{maxChars: cfg.MaxChars, threshold: cfg.InjectionThreshold}
}

// Check returns a *ValidationError when text should not be forwarded.
func (g *Guard) Check(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return &ValidationError{Reason: ReasonEmpty}
	}
	if utf8.RuneCountInString(text) > g.maxChars {
		return &ValidationError{Reason: ReasonTooLong}
	}
	if g.threshold < 0 {
		return nil
	}
	if score, matched := InjectionScore(text); score >= g.threshold {
		return &ValidationError{Reason: ReasonInjection, Score: score, Matched: matched}
	}
	return nil
}

// InjectionScore rates how much text resembles a prompt injection and
// returns the patterns it matched.
func InjectionScore(text string) (int, []string) {
	score := 0
	var matched []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			score += 10
			matched = append(matched, p.expr)
		}
	}
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		score += suspiciousWords[w]
	}
	if len(specialRe.FindAllString(text, -1)) > 5 {
		score += 2
	}
	return score, matched
}
