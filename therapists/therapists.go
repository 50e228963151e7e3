// Package therapists provides the simulated and human therapists.
package therapists

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
	"github.com/patienthub/patienthub-go/prompts"
)

// Agent types.
const (
	TypeBasic = "basic"
	TypeCBT   = "CBT"
	TypeEliza = "eliza"
	TypeUser  = "user"
)

// Config selects and configures a therapist.
type Config struct {
	AgentType  string `yaml:"agent_type"`
	Lang       string `yaml:"lang"`
	PromptPath string `yaml:"prompt_path"`
	Name       string `yaml:"name"`

	// UseCoT asks the basic therapist for {"reasoning", "content"} JSON.
	UseCoT     bool `yaml:"use_cot"`
	MaxHistory int  `yaml:"max_history"`
}

// Deps are the runtime collaborators of a therapist.
type Deps struct {
	LLM llm.LLM

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

// Constructor builds a therapist of one agent type.
type Constructor func(cfg Config, deps Deps) (agent.Therapist, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{
		TypeBasic: newBasicFromConfig,
		TypeCBT:   newCBTFromConfig,
		TypeEliza: newElizaFromConfig,
		TypeUser:  newUserFromConfig,
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

// New builds the therapist named by cfg.AgentType.
func New(cfg Config, deps Deps) (agent.Therapist, error) {
	registryMu.RLock()
	ctor, ok := registry[cfg.AgentType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("therapist %q: %w", cfg.AgentType, agent.ErrUnknownAgent)
	}
	deps.logger().Info("loading therapist agent", "agent_type", cfg.AgentType)
	return ctor(cfg, deps)
}

func loadPrompts(cfg Config, name string) (*prompts.Library, error) {
	lang := cfg.Lang
	if lang == "" {
		lang = prompts.DefaultLang
	}
	return prompts.LoadOrDefault(cfg.PromptPath, name, lang)
}
