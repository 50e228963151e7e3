package agent

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownAgent is returned by the client and therapist registries when
// no constructor is registered for the requested agent type.
var ErrUnknownAgent = errors.New("unknown agent type")

// Client is a simulated (or human) therapy client.
type Client interface {
	// Name returns the client's display name.
	Name() string

	// SetTherapist introduces the therapist by name before the session starts.
	SetTherapist(name string)

	// Respond produces the client's next turn for the therapist message.
	// The returned message has role "client".
	Respond(ctx context.Context, msg string) (*Message, error)

	// Profile returns the persona record the client was built from.
	Profile() map[string]interface{}

	// Introspect returns a snapshot of the client's internal state.
	Introspect() *IntrospectionResult

	// Reset restores the client to its initial state.
	Reset()
}

// Therapist is a simulated (or human) therapist.
type Therapist interface {
	// Name returns the therapist's display name.
	Name() string

	// SetClient introduces the client by name before the session starts.
	SetClient(name string)

	// Respond produces the therapist's next turn. The returned message has
	// role "therapist".
	Respond(ctx context.Context, msg string) (*Message, error)

	// Reset restores the therapist to its initial state.
	Reset()
}

// IntrospectionResult is a snapshot of an agent's internal state.
//
// Stateful clients report their mental state here; the session runner
// stores the final snapshot next to the transcript.
type IntrospectionResult struct {
	Timestamp     time.Time              `json:"timestamp"`
	AgentName     string                 `json:"agent_name"`
	AgentType     string                 `json:"agent_type"`
	InternalState map[string]interface{} `json:"internal_state"`
}

// NewIntrospectionResult creates a snapshot with a non-nil state map.
func NewIntrospectionResult(name, agentType string, state map[string]interface{}) *IntrospectionResult {
	if state == nil {
		state = make(map[string]interface{})
	}
	return &IntrospectionResult{
		Timestamp:     time.Now().UTC(),
		AgentName:     name,
		AgentType:     agentType,
		InternalState: state,
	}
}
