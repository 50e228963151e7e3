package agent

// History is the chat-model message list of a conversational agent.
//
// The system prompt always stays first. When MaxMessages is set, the oldest
// non-system messages are pruned once the limit is exceeded.
type History struct {
	system   *Message
	messages []*Message

	// MaxMessages bounds the number of non-system messages. Zero keeps
	// everything.
	MaxMessages int
}

// NewHistory creates a history with the given system prompt. An empty
// prompt means no system message.
func NewHistory(systemPrompt string) *History {
	h := &History{}
	h.SetSystem(systemPrompt)
	return h
}

// SetSystem replaces the system prompt without touching the conversation.
func (h *History) SetSystem(prompt string) {
	if prompt == "" {
		h.system = nil
		return
	}
	h.system = NewMessage(RoleSystem, prompt)
}

// System returns the current system prompt.
func (h *History) System() string {
	if h.system == nil {
		return ""
	}
	return h.system.Content
}

// Append adds messages and prunes if needed.
func (h *History) Append(msgs ...*Message) {
	h.messages = append(h.messages, msgs...)
	h.prune()
}

// Add appends a new message with role and content.
func (h *History) Add(role, content string) *Message {
	msg := NewMessage(role, content)
	h.Append(msg)
	return msg
}

func (h *History) prune() {
	if h.MaxMessages <= 0 || len(h.messages) <= h.MaxMessages {
		return
	}
	h.messages = append([]*Message(nil), h.messages[len(h.messages)-h.MaxMessages:]...)
}

// Messages returns the prompt to send to a model: the system prompt
// followed by the conversation. The slice is a copy.
func (h *History) Messages() []*Message {
	out := make([]*Message, 0, len(h.messages)+1)
	if h.system != nil {
		out = append(out, h.system)
	}
	return append(out, h.messages...)
}

// Len returns the number of non-system messages.
func (h *History) Len() int {
	return len(h.messages)
}

// Last returns the most recent message, or nil.
func (h *History) Last() *Message {
	if len(h.messages) == 0 {
		return nil
	}
	return h.messages[len(h.messages)-1]
}

// RemoveLast drops and returns the most recent message, or nil. A message
// pruned by MaxMessages is not restored.
func (h *History) RemoveLast() *Message {
	if len(h.messages) == 0 {
		return nil
	}
	last := h.messages[len(h.messages)-1]
	h.messages = h.messages[:len(h.messages)-1]
	return last
}

// Clear drops the conversation and keeps the system prompt.
func (h *History) Clear() {
	h.messages = nil
}
