package persona

import "strings"

const unknown = "Unknown"

// MentalState is a client's inner state, updated once per turn by clients
// that track it.
type MentalState struct {
	Emotion    string `json:"Emotion"`
	Beliefs    string `json:"Beliefs"`
	Desires    string `json:"Desires"`
	Intents    string `json:"Intents"`
	TrustLevel int    `json:"Trust_Level"`
}

// NewMentalState returns the initial state: every field unknown, no trust.
func NewMentalState() MentalState {
	return MentalState{
		Emotion: unknown,
		Beliefs: unknown,
		Desires: unknown,
		Intents: unknown,
	}
}

// Clamp bounds the trust level to 0-100 and fills empty fields.
func (m *MentalState) Clamp() {
	if m.TrustLevel < 0 {
		m.TrustLevel = 0
	}
	if m.TrustLevel > 100 {
		m.TrustLevel = 100
	}
	for _, f := range []*string{&m.Emotion, &m.Beliefs, &m.Desires, &m.Intents} {
		if strings.TrimSpace(*f) == "" {
			*f = unknown
		}
	}
}

// Map returns the state as a plain map for introspection and transcripts.
func (m MentalState) Map() map[string]interface{} {
	return map[string]interface{}{
		"Emotion":     m.Emotion,
		"Beliefs":     m.Beliefs,
		"Desires":     m.Desires,
		"Intents":     m.Intents,
		"Trust_Level": m.TrustLevel,
	}
}
