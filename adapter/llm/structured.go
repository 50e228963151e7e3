package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/patienthub/patienthub-go/agent"
)

// ErrNoJSON is returned when a model response contains no decodable JSON
// object. Callers treat it as a soft failure and fall back to defaults.
var ErrNoJSON = errors.New("no JSON object in model output")

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// ParseJSON decodes a JSON object out of free-form model output.
//
// Markdown code fences are stripped first. If the remaining text is not a
// valid object, the widest {...} span is extracted and decoded instead.
func ParseJSON(raw string, v interface{}) error {
	content := stripFences(raw)
	if content == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}
	match := jsonObjectRe.FindString(content)
	if match == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(match), v); err != nil {
		return fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	return nil
}

func stripFences(raw string) string {
	content := strings.TrimSpace(raw)
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	return strings.TrimSpace(content)
}

// CompleteJSON requests a JSON response and decodes it into v.
//
// The raw response is returned alongside a parse error so callers can log
// or fall back to the text. A transport error returns a nil message.
func CompleteJSON(ctx context.Context, model LLM, messages []*agent.Message, v interface{}, opts ...CallOption) (*agent.Message, error) {
	resp, err := model.Complete(ctx, messages, append(opts, WithJSONMode())...)
	if err != nil {
		return nil, err
	}
	if err := ParseJSON(resp.Content, v); err != nil {
		return resp, err
	}
	return resp, nil
}
