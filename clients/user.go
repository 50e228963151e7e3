package clients

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/patienthub/patienthub-go/agent"
)

// UserName is the display name of the human client.
const UserName = "Human Client"

// User is a human playing the client, one line of input per turn.
type User struct {
	console *agent.Console

	mu        sync.Mutex
	therapist string
	turns     int
}

var _ agent.Client = (*User)(nil)

// NewUser reads turns from the console.
func NewUser(console *agent.Console) *User {
	return &User{console: console}
}

func newUserFromConfig(_ Config, deps Deps) (agent.Client, error) {
	in, out := deps.Input, deps.Output
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return NewUser(agent.NewConsole(in, out, "Your response: ")), nil
}

// Name returns UserName.
func (u *User) Name() string {
	return UserName
}

// SetTherapist records the therapist's name.
func (u *User) SetTherapist(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.therapist = name
}

// Respond reads the next line typed by the human.
func (u *User) Respond(ctx context.Context, _ string) (*agent.Message, error) {
	line, err := u.console.ReadLine(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading client input: %w", err)
	}
	u.mu.Lock()
	u.turns++
	u.mu.Unlock()
	return agent.NewMessage(agent.RoleClient, line), nil
}

// Profile returns the display name only.
func (u *User) Profile() map[string]interface{} {
	return map[string]interface{}{"name": UserName}
}

// Introspect reports the number of turns typed.
func (u *User) Introspect() *agent.IntrospectionResult {
	u.mu.Lock()
	defer u.mu.Unlock()
	return agent.NewIntrospectionResult(UserName, TypeUser, map[string]interface{}{
		"turns":     u.turns,
		"therapist": u.therapist,
	})
}

// Close stops reading input.
func (u *User) Close() error {
	return u.console.Close()
}

// Reset forgets the therapist.
func (u *User) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.therapist = ""
	u.turns = 0
}
