// Package clients provides the simulated and human therapy clients.
//
// Clients are built from a Config by agent type:
//
//	client, err := clients.New(clients.Config{
//	    AgentType: "roleplayDoh", // or basic, patientPsi, simPatient, user
//	    DataPath:  "data/characters/PatientPsi.json",
//	}, clients.Deps{LLM: model})
package clients

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"sync"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/observability"
	"github.com/patienthub/patienthub-go/persona"
	"github.com/patienthub/patienthub-go/prompts"
)

// Agent types.
const (
	TypeBasic       = "basic"
	TypePatientPsi  = "patientPsi"
	TypeRoleplayDoh = "roleplayDoh"
	TypeSimPatient  = "simPatient"
	TypeUser        = "user"
)

// Config selects and configures a client.
type Config struct {
	AgentType  string `yaml:"agent_type"`
	Lang       string `yaml:"lang"`
	PromptPath string `yaml:"prompt_path"`

	// DataPath is a JSON array of character profiles; DataIdx selects one.
	DataPath string `yaml:"data_path"`
	DataIdx  int    `yaml:"data_idx"`

	// TrackState enables the mental-state update after each basic client turn.
	TrackState bool `yaml:"track_state"`

	// PatientType is the patientPsi conversational style.
	PatientType string `yaml:"patient_type"`

	// ContinueLastSession makes a simPatient client pick up from the last
	// session saved in PrevSessionPath.
	ContinueLastSession bool   `yaml:"continue_last_session"`
	PrevSessionPath     string `yaml:"prev_session_path"`

	// Principles is the roleplayDoh principles file.
	Principles    string   `yaml:"principles"`
	PrincipleMode string   `yaml:"principle_mode"`
	PrincipleIDs  []string `yaml:"principle_ids"`
	// TracePath receives one JSON line per critique stage when set.
	TracePath string `yaml:"trace_path"`

	// MaxHistory bounds the chat history sent to the model. Zero keeps all.
	MaxHistory int `yaml:"max_history"`
}

// Deps are the runtime collaborators of a client.
type Deps struct {
	// LLM is the chat model. Required by every simulated client.
	LLM llm.LLM
	// QuestionLLM and RevisionLLM override the model for the roleplayDoh
	// checklist and assessment stages.
	QuestionLLM llm.LLM
	RevisionLLM llm.LLM

	// Profile overrides DataPath/DataIdx.
	Profile *persona.Profile

	// Input and Output back the human client.
	Input  io.Reader
	Output io.Writer

	Rand    *rand.Rand
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Constructor builds a client of one agent type.
type Constructor func(cfg Config, deps Deps) (agent.Client, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{
		TypeBasic:       newBasicFromConfig,
		TypePatientPsi:  newPatientPsiFromConfig,
		TypeRoleplayDoh: newRoleplayDohFromConfig,
		TypeSimPatient:  newSimPatientFromConfig,
		TypeUser:        newUserFromConfig,
	}
)

// Register adds or replaces a constructor.
func Register(agentType string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[agentType] = ctor
}

// Types returns the registered agent types, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New builds the client named by cfg.AgentType.
func New(cfg Config, deps Deps) (agent.Client, error) {
	registryMu.RLock()
	ctor, ok := registry[cfg.AgentType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("client %q: %w", cfg.AgentType, agent.ErrUnknownAgent)
	}
	deps.logger().Info("loading client agent", "agent_type", cfg.AgentType)
	return ctor(cfg, deps)
}

func loadProfile(cfg Config, deps Deps) (persona.Profile, error) {
	if deps.Profile != nil {
		return *deps.Profile, nil
	}
	if cfg.DataPath == "" {
		return persona.Profile{}, fmt.Errorf("data_path is required")
	}
	return persona.LoadProfile(cfg.DataPath, cfg.DataIdx)
}

func loadPrompts(cfg Config, name string) (*prompts.Library, error) {
	lang := cfg.Lang
	if lang == "" {
		lang = prompts.DefaultLang
	}
	return prompts.LoadOrDefault(cfg.PromptPath, name, lang)
}
