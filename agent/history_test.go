package agent

import "testing"

func TestHistoryMessages(t *testing.T) {
	h := NewHistory("You are a client.")
	h.Add(RoleUser, "Hi")
	h.Add(RoleAssistant, "Hello")

	msgs := h.Messages()
	if len(msgs) != 3 || msgs[0].Role != RoleSystem {
		t.Fatalf("expected system prompt first, got %d messages", len(msgs))
	}
	if h.Len() != 2 || h.Last().Content != "Hello" {
		t.Errorf("unexpected history state: len=%d last=%v", h.Len(), h.Last())
	}

	msgs[1] = NewMessage(RoleUser, "changed")
	if h.Messages()[1].Content != "Hi" {
		t.Error("Messages should return a copy")
	}
}

func TestHistoryPruneKeepsSystem(t *testing.T) {
	h := NewHistory("sys")
	h.MaxMessages = 2
	for _, c := range []string{"a", "b", "c", "d"} {
		h.Add(RoleUser, c)
	}

	msgs := h.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "sys" || msgs[1].Content != "c" || msgs[2].Content != "d" {
		t.Errorf("unexpected pruned history: %q %q %q", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}
}

func TestHistoryClearAndSetSystem(t *testing.T) {
	h := NewHistory("")
	if len(h.Messages()) != 0 || h.Last() != nil {
		t.Fatal("empty history should have no messages")
	}

	h.Add(RoleUser, "x")
	h.SetSystem("new prompt")
	if h.System() != "new prompt" || h.Len() != 1 {
		t.Error("SetSystem should keep the conversation")
	}

	h.Clear()
	if h.Len() != 0 || h.System() != "new prompt" {
		t.Error("Clear should keep only the system prompt")
	}
}

func TestHistoryRemoveLast(t *testing.T) {
	h := NewHistory("sys")
	if h.RemoveLast() != nil {
		t.Error("empty history should return nil")
	}
	h.Add(RoleUser, "Hi")
	h.Add(RoleUser, "Are you there?")
	if got := h.RemoveLast(); got == nil || got.Content != "Are you there?" {
		t.Fatalf("unexpected removed message %v", got)
	}
	if h.Len() != 1 || h.Last().Content != "Hi" || h.System() != "sys" {
		t.Errorf("unexpected history after RemoveLast: len=%d", h.Len())
	}
}
