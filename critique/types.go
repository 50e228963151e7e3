package critique

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/patienthub/patienthub-go/adapter/llm"
)

// DefaultQuestion is asked when checklist generation yields nothing usable.
const DefaultQuestion = "Is the client's response relevant and consistent with the therapist's latest message?"

// Stage names a step of the pipeline.
type Stage string

const (
	StageDraft     Stage = "initial_response"
	StageChecklist Stage = "question_generation"
	StageAssess    Stage = "assessment_revision"
)

// SelectionMode chooses how a principle is picked each turn.
type SelectionMode string

const (
	// SelectRandom picks one guideline uniformly from all groups.
	SelectRandom SelectionMode = "random"
	// SelectBundle uses the first non-empty group among the configured ids.
	SelectBundle SelectionMode = "bundle"
)

// Checklist is the set of yes/no questions derived from a principle.
type Checklist struct {
	PrincipleID    string   `json:"principle_id"`
	Principle      []string `json:"principle"`
	Questions      []string `json:"questions"`
	ExtraQuestions []string `json:"extra_questions,omitempty"`
	Justification  []string `json:"extra_questions_justification,omitempty"`
	Defaulted      bool     `json:"defaulted,omitempty"`
}

// All returns the main questions followed by the extra questions.
func (c Checklist) All() []string {
	out := make([]string, 0, len(c.Questions)+len(c.ExtraQuestions))
	out = append(out, c.Questions...)
	return append(out, c.ExtraQuestions...)
}

// Assessment is the model's verdict on a draft.
type Assessment struct {
	Answers       []string `json:"answers"`
	Justification []string `json:"justification"`
	Response      string   `json:"response"`
	Reasoning     string   `json:"reasoning"`
}

// HasViolation reports whether any answer starts with "no".
func (a Assessment) HasViolation() bool {
	for _, ans := range a.Answers {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(ans)), "no") {
			return true
		}
	}
	return false
}

// Input is one client turn to produce.
type Input struct {
	// Persona is the rendered client profile.
	Persona string
	// History is the conversation before the therapist's latest message,
	// one "Speaker: text" line per turn.
	History []string
	// TherapistMessage is the message to reply to.
	TherapistMessage string
}

// Result is the outcome of one pipeline run.
type Result struct {
	Draft      string      `json:"draft"`
	Final      string      `json:"final"`
	Revised    bool        `json:"revised"`
	Fallback   bool        `json:"fallback"`
	Checklist  Checklist   `json:"checklist"`
	Assessment *Assessment `json:"assessment,omitempty"`
}

// parseChecklist decodes a checklist response. The object may be wrapped in
// a "result" key and extra questions may be spelled with a space.
func parseChecklist(raw string) (Checklist, error) {
	payload, err := decodeObject(raw)
	if err != nil {
		return Checklist{}, err
	}
	return Checklist{
		Questions:      stringList(payload, "questions"),
		ExtraQuestions: stringList(payload, "extra_questions", "extra questions"),
		Justification:  stringList(payload, "extra_questions_justification", "extra questions justification"),
	}, nil
}

func parseAssessment(raw string) (Assessment, error) {
	payload, err := decodeObject(raw)
	if err != nil {
		return Assessment{}, err
	}
	return Assessment{
		Answers:       stringList(payload, "answers"),
		Justification: stringList(payload, "justification"),
		Response:      strings.TrimSpace(stringField(payload, "response")),
		Reasoning:     stringField(payload, "reasoning"),
	}, nil
}

func decodeObject(raw string) (map[string]json.RawMessage, error) {
	var payload map[string]json.RawMessage
	if err := llm.ParseJSON(raw, &payload); err != nil {
		return nil, err
	}
	if inner, ok := payload["result"]; ok {
		var unwrapped map[string]json.RawMessage
		if err := json.Unmarshal(inner, &unwrapped); err == nil {
			payload = unwrapped
		}
	}
	return payload, nil
}

// stringList reads the first present key as a list of strings. A bare
// string becomes a one-element list; other scalars are formatted.
func stringList(payload map[string]json.RawMessage, keys ...string) []string {
	for _, key := range keys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var list []interface{}
		if err := json.Unmarshal(raw, &list); err == nil {
			out := make([]string, 0, len(list))
			for _, item := range list {
				if s := strings.TrimSpace(fmt.Sprint(item)); s != "" && item != nil {
					out = append(out, s)
				}
			}
			return out
		}
		var single string
		if err := json.Unmarshal(raw, &single); err == nil && strings.TrimSpace(single) != "" {
			return []string{strings.TrimSpace(single)}
		}
		return nil
	}
	return nil
}

func stringField(payload map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := payload[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}
