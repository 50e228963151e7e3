// Package agent provides the core types shared by simulated therapists and
// clients: conversation messages, the agent interfaces and introspection
// snapshots.
package agent

import (
	"fmt"
	"time"
)

// Conversation roles. The chat-model roles (system, user, assistant) are
// used inside an agent's own history; therapist, client and moderator are
// used in session transcripts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTherapist = "therapist"
	RoleClient    = "client"
	RoleModerator = "moderator"
)

const (
	maxContentSize   = 1024 * 1024
	maxMetadataKeys  = 100
	maxMetadataKeyLn = 50
)

var allowedRoles = map[string]bool{
	RoleSystem:    true,
	RoleUser:      true,
	RoleAssistant: true,
	RoleTherapist: true,
	RoleClient:    true,
	RoleModerator: true,
}

// Message is a single conversation turn.
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role, content string) *Message {
	return &Message{
		Role:      role,
		Content:   content,
		Metadata:  make(map[string]interface{}),
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata adds metadata to the message and returns the message for chaining.
func (m *Message) WithMetadata(key string, value interface{}) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
	return m
}

// Validate checks the role, content size and metadata bounds.
func (m *Message) Validate() error {
	if m.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if !allowedRoles[m.Role] {
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if len(m.Content) > maxContentSize {
		return fmt.Errorf("message content exceeds maximum size of %d bytes (got %d bytes)", maxContentSize, len(m.Content))
	}
	if len(m.Metadata) > maxMetadataKeys {
		return fmt.Errorf("message metadata exceeds maximum of %d keys (got %d)", maxMetadataKeys, len(m.Metadata))
	}
	for key := range m.Metadata {
		if len(key) > maxMetadataKeyLn {
			return fmt.Errorf("metadata key %q exceeds maximum length of %d characters", key[:20], maxMetadataKeyLn)
		}
	}
	return nil
}

// Clone returns a copy of the message with its own metadata map.
func (m *Message) Clone() *Message {
	c := *m
	c.Metadata = make(map[string]interface{}, len(m.Metadata))
	for k, v := range m.Metadata {
		c.Metadata[k] = v
	}
	return &c
}
