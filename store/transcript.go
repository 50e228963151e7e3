// Package store persists session transcripts.
//
// Backends are selected by URL:
//
//	file://data/sessions/session_1.json  single JSON file, appended to
//	file://data/sessions/                one <session_id>.json per session
//	sqlite://data/sessions.db            SQLite table "transcripts"
//	redis://localhost:6379/0             Redis, one key per session
//
// A plain path is treated as file://.
package store

import (
	"time"

	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/budget"
)

// Transcript is the saved record of one therapy session.
type Transcript struct {
	ID        string                 `json:"session_id"`
	Profile   map[string]interface{} `json:"profile"`
	Messages  []*agent.Message       `json:"messages"`
	NumTurns  int                    `json:"num_turns"`
	EndReason string                 `json:"end_reason,omitempty"`

	Client    string `json:"client,omitempty"`
	Therapist string `json:"therapist,omitempty"`

	// ClientState is the client's final introspection snapshot.
	ClientState map[string]interface{} `json:"client_state,omitempty"`
	Usage       *budget.Summary        `json:"usage,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Duration is the wall time of the session.
func (t *Transcript) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.EndedAt.IsZero() {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}

// ByRole returns the messages spoken by role, in order.
func (t *Transcript) ByRole(role string) []*agent.Message {
	var out []*agent.Message
	for _, m := range t.Messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}
