package clients

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/persona"
)

func testProfile() *persona.Profile {
	p := persona.FromMap(map[string]interface{}{
		"name":        "Alex",
		"description": "Alex is a 34-year-old accountant struggling with work stress.",
		"age":         34.0,
	})
	return &p
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(Config{AgentType: "consistentMI"}, Deps{})
	if !errors.Is(err, agent.ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestTypes(t *testing.T) {
	got := strings.Join(Types(), ",")
	for _, want := range []string{TypeBasic, TypePatientPsi, TypeRoleplayDoh, TypeSimPatient, TypeUser} {
		if !strings.Contains(got, want) {
			t.Errorf("Types() = %s, missing %s", got, want)
		}
	}
}

func TestNewLoadsProfileFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "characters.json")
	data := `[{"name": "Jordan"}, {"name": "Sam", "description": "Sam has insomnia."}]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := New(Config{AgentType: TypeBasic, DataPath: path, DataIdx: 1}, Deps{LLM: llm.NewMockLLM()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Name() != "Sam" {
		t.Errorf("expected Sam, got %s", c.Name())
	}

	_, err = New(Config{AgentType: TypeBasic, DataPath: path, DataIdx: 5}, Deps{LLM: llm.NewMockLLM()})
	if err == nil {
		t.Error("out of range data_idx should fail")
	}
}

func TestBasicRespond(t *testing.T) {
	mock := llm.NewMockLLM("  Honestly, it's been a lot.  ")
	c, err := New(Config{AgentType: TypeBasic}, Deps{LLM: mock, Profile: testProfile()})
	if err != nil {
		t.Fatal(err)
	}
	c.SetTherapist("Dr. Lee")

	msg, err := c.Respond(context.Background(), "Dr. Lee: How has work been?")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if msg.Role != agent.RoleClient || msg.Content != "Honestly, it's been a lot." {
		t.Errorf("unexpected reply %+v", msg)
	}

	prompt := mock.Calls()[0]
	if prompt[0].Role != agent.RoleSystem || !strings.Contains(prompt[0].Content, "Dr. Lee") {
		t.Error("system prompt should name the therapist")
	}
	if !strings.Contains(prompt[0].Content, "34-year-old accountant") {
		t.Error("system prompt should carry the profile")
	}
	if prompt[1].Content != "Dr. Lee: How has work been?" {
		t.Errorf("therapist message not forwarded: %q", prompt[1].Content)
	}
	if _, ok := msg.Metadata["mental_state"]; ok {
		t.Error("mental state should only be reported when tracked")
	}
}

func TestBasicTrackState(t *testing.T) {
	mock := llm.NewMockLLM(
		"I guess I'm okay.",
		`{"Emotion": "Sadness", "Beliefs": "Nobody listens.", "Desires": "Rest", "Intents": "Talk", "Trust_Level": 150}`,
		"Maybe not.",
		"not json at all",
	)
	c, err := New(Config{AgentType: TypeBasic, TrackState: true}, Deps{LLM: mock, Profile: testProfile()})
	if err != nil {
		t.Fatal(err)
	}
	basic := c.(*Basic)

	if _, err := c.Respond(context.Background(), "How are you?"); err != nil {
		t.Fatal(err)
	}
	state := basic.MentalState()
	if state.Emotion != "Sadness" || state.TrustLevel != 100 {
		t.Errorf("expected clamped updated state, got %+v", state)
	}

	msg, err := c.Respond(context.Background(), "Tell me more.")
	if err != nil {
		t.Fatal(err)
	}
	if basic.MentalState().Emotion != "Sadness" {
		t.Error("failed update should keep the previous state")
	}
	if ms, ok := msg.Metadata["mental_state"].(map[string]interface{}); !ok || ms["Trust_Level"] != 100 {
		t.Errorf("turn metadata should carry the state, got %v", msg.Metadata)
	}

	// The third call is the next turn's prompt, which embeds the state.
	if !strings.Contains(mock.Calls()[2][0].Content, "Nobody listens.") {
		t.Error("system prompt should include the tracked state")
	}

	intro := c.Introspect()
	if intro.InternalState["turns"] != 2 {
		t.Errorf("expected 2 turns, got %v", intro.InternalState["turns"])
	}

	c.Reset()
	if basic.MentalState().Emotion != "Unknown" {
		t.Error("Reset should restore the initial state")
	}
}

func TestBasicFailedTurnIsNotKept(t *testing.T) {
	calls := 0
	mock := llm.NewMockLLM()
	mock.Func = func(ctx context.Context, msgs []*agent.Message) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("rate limited")
		}
		return "Fine, I guess.", nil
	}
	c, err := New(Config{AgentType: TypeBasic}, Deps{LLM: mock, Profile: testProfile()})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Respond(context.Background(), "How was your week?"); err == nil {
		t.Fatal("expected the model error")
	}
	if _, err := c.Respond(context.Background(), "How was your week?"); err != nil {
		t.Fatal(err)
	}
	prompt := mock.Calls()[1]
	if len(prompt) != 2 {
		t.Errorf("retried turn should send the therapist line once, got %d messages", len(prompt))
	}
}

func TestBasicRequiresLLM(t *testing.T) {
	if _, err := New(Config{AgentType: TypeBasic}, Deps{Profile: testProfile()}); err == nil {
		t.Error("expected error without an llm")
	}
}

func TestRoleplayDohRespond(t *testing.T) {
	mock := llm.NewMockLLM(
		"I am experiencing occupational stress.",
		`{"questions": ["Does the client sound casual?"]}`,
		`{"answers": ["No"], "response": "Work's been brutal, honestly."}`,
		"Yeah.",
		`{"questions": ["Is it relevant?"]}`,
		`{"answers": ["Yes"]}`,
	)
	c, err := New(Config{AgentType: TypeRoleplayDoh}, Deps{
		LLM:     mock,
		Profile: testProfile(),
		Rand:    rand.New(rand.NewSource(7)),
	})
	if err != nil {
		t.Fatal(err)
	}
	c.SetTherapist("Dr. Lee")

	msg, err := c.Respond(context.Background(), "Dr. Lee: How has work been?")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if msg.Content != "Work's been brutal, honestly." || msg.Metadata["revised"] != true {
		t.Errorf("expected revised reply, got %+v", msg)
	}
	if msg.Metadata["principle"] != "default" {
		t.Errorf("empty principle set should use the default group, got %v", msg.Metadata["principle"])
	}
	if answers, ok := msg.Metadata["answers"].([]string); !ok || answers[0] != "No" {
		t.Errorf("answers missing from metadata: %v", msg.Metadata)
	}

	msg, err = c.Respond(context.Background(), "Dr. Lee: Is that new?")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "Yeah." || msg.Metadata["revised"] != false {
		t.Errorf("expected draft kept, got %+v", msg)
	}

	rp := c.(*RoleplayDoh)
	want := []string{
		"Therapist: How has work been?",
		"Client: Work's been brutal, honestly.",
		"Therapist: Is that new?",
		"Client: Yeah.",
	}
	got := rp.History()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("history = %q, want %q", got, want)
	}
	if c.Introspect().InternalState["revisions"] != 1 {
		t.Error("expected one revision")
	}

	c.Reset()
	if len(rp.History()) != 0 {
		t.Error("Reset should clear history")
	}
	if err := rp.Close(); err != nil {
		t.Error(err)
	}
}

func TestRoleplayDohWritesTrace(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "trace.jsonl")
	mock := llm.NewMockLLM("Draft.", `{"questions": ["q?"]}`, `{"answers": ["yes"]}`)
	c, err := New(Config{AgentType: TypeRoleplayDoh, TracePath: tracePath}, Deps{LLM: mock, Profile: testProfile()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Respond(context.Background(), "Hello"); err != nil {
		t.Fatal(err)
	}
	if err := c.(*RoleplayDoh).Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(strings.TrimSpace(string(data)), "\n") + 1; n != 3 {
		t.Errorf("expected 3 trace lines, got %d", n)
	}
	if !strings.Contains(string(data), `"client":"Alex"`) {
		t.Error("trace entries should carry the client name")
	}
}

func TestRoleplayDohDraftFailure(t *testing.T) {
	mock := llm.NewMockLLM()
	c, err := New(Config{AgentType: TypeRoleplayDoh}, Deps{LLM: mock, Profile: testProfile()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Respond(context.Background(), "Hi"); !errors.Is(err, llm.ErrMockExhausted) {
		t.Errorf("expected the draft error, got %v", err)
	}
}

func TestUserClient(t *testing.T) {
	var out bytes.Buffer
	c, err := New(Config{AgentType: TypeUser}, Deps{Input: strings.NewReader("I feel tired\n"), Output: &out})
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != UserName {
		t.Errorf("unexpected name %s", c.Name())
	}

	msg, err := c.Respond(context.Background(), "How are you?")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "I feel tired" || msg.Role != agent.RoleClient {
		t.Errorf("unexpected message %+v", msg)
	}
	if !strings.Contains(out.String(), "Your response: ") {
		t.Error("expected prompt on output")
	}
	if _, err := c.Respond(context.Background(), "And?"); err == nil {
		t.Error("expected error once input is exhausted")
	}
}
