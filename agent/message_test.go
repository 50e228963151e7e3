package agent

import (
	"strings"
	"testing"
)

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     *Message
		wantErr string
	}{
		{name: "therapist turn", msg: NewMessage(RoleTherapist, "How are you feeling today?")},
		{name: "moderator turn", msg: NewMessage(RoleModerator, "You may start the session now.")},
		{name: "empty role", msg: &Message{Content: "hi"}, wantErr: "role cannot be empty"},
		{name: "unknown role", msg: NewMessage("narrator", "hi"), wantErr: "invalid message role"},
		{
			name:    "oversized content",
			msg:     NewMessage(RoleClient, strings.Repeat("a", maxContentSize+1)),
			wantErr: "exceeds maximum size",
		},
		{
			name:    "long metadata key",
			msg:     NewMessage(RoleClient, "ok").WithMetadata(strings.Repeat("k", 60), 1),
			wantErr: "exceeds maximum length",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMessageClone(t *testing.T) {
	m := NewMessage(RoleClient, "hello").WithMetadata("revised", true)
	c := m.Clone()
	c.Metadata["revised"] = false

	if m.Metadata["revised"] != true {
		t.Error("clone shares metadata with the original")
	}
	if c.Content != m.Content || c.Role != m.Role {
		t.Error("clone lost role or content")
	}
}

func TestNewIntrospectionResult(t *testing.T) {
	r := NewIntrospectionResult("Alex", "basic", nil)
	if r.InternalState == nil {
		t.Fatal("internal state should never be nil")
	}
	if r.AgentName != "Alex" || r.AgentType != "basic" {
		t.Errorf("unexpected result: %+v", r)
	}
}
