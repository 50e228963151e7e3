package therapists

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/patienthub/patienthub-go/agent"
)

// UserName is the display name of the human therapist.
const UserName = "Human Therapist"

// User is a human playing the therapist, one line of input per turn.
type User struct {
	console *agent.Console

	mu     sync.Mutex
	client string
}

var _ agent.Therapist = (*User)(nil)

// NewUser reads turns from the console.
func NewUser(console *agent.Console) *User {
	return &User{console: console}
}

func newUserFromConfig(_ Config, deps Deps) (agent.Therapist, error) {
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

// SetClient records the client's name.
func (u *User) SetClient(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.client = name
}

// Respond reads the next line typed by the human.
func (u *User) Respond(ctx context.Context, _ string) (*agent.Message, error) {
	line, err := u.console.ReadLine(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading therapist input: %w", err)
	}
	return agent.NewMessage(agent.RoleTherapist, line), nil
}

// Close stops reading input.
func (u *User) Close() error {
	return u.console.Close()
}

// Reset forgets the client.
func (u *User) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.client = ""
}
