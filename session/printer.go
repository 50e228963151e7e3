package session

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/patienthub/patienthub-go/agent"
)

var (
	therapistColor = lipgloss.Color("#00AFAF")
	clientColor    = lipgloss.Color("#D75F5F")
	moderatorColor = lipgloss.Color("#808080")
)

// NewPrinter returns a TurnFunc that writes the conversation to w, with a
// "--- Turn # n/max ---" header before each therapist message. Colors are
// used only when color is set and w is a terminal.
func NewPrinter(w io.Writer, color bool) TurnFunc {
	var mu sync.Mutex
	r := lipgloss.NewRenderer(w)
	styles := map[string]lipgloss.Style{
		agent.RoleTherapist: r.NewStyle().Bold(true).Foreground(therapistColor),
		agent.RoleClient:    r.NewStyle().Bold(true).Foreground(clientColor),
		agent.RoleModerator: r.NewStyle().Faint(true).Foreground(moderatorColor),
	}
	paint := func(role, s string) string {
		st, ok := styles[role]
		if !color || !ok {
			return s
		}
		return st.Render(s)
	}

	return func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()

		role := ev.Message.Role
		switch role {
		case agent.RoleTherapist:
			fmt.Fprintf(w, "--- Turn # %d/%d ---\n", ev.Turn, ev.MaxTurns)
			fmt.Fprintf(w, "%s: %s\n", paint(role, ev.Speaker), ev.Message.Content)
		case agent.RoleClient:
			fmt.Fprintf(w, "%s: %s\n", paint(role, ev.Speaker), ev.Message.Content)
		default:
			fmt.Fprintln(w, paint(agent.RoleModerator, ev.Message.Content))
		}
	}
}
