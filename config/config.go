// Package config loads the patienthub configuration.
//
// Configuration comes from a YAML file, with ${VAR} references expanded
// from the environment, a .env file loaded beforehand, and a small set of
// PATIENTHUB_* overrides applied last.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/clients"
	"github.com/patienthub/patienthub-go/critique"
	"github.com/patienthub/patienthub-go/evaluation"
	"github.com/patienthub/patienthub-go/interview"
	"github.com/patienthub/patienthub-go/observability"
	"github.com/patienthub/patienthub-go/safety"
	"github.com/patienthub/patienthub-go/session"
	"github.com/patienthub/patienthub-go/therapists"
)

// EnvPrefix prefixes every override variable.
const EnvPrefix = "PATIENTHUB_"

// DefaultSearchPaths returns the config file search order:
// ./patienthub.yaml, ./config.yaml, ~/.config/patienthub/config.yaml,
// /etc/patienthub/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"patienthub.yaml", "config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "patienthub", "config.yaml"))
	}
	return append(paths, "/etc/patienthub/config.yaml")
}

// FindConfig locates a config file. An explicit path must exist. Otherwise
// the first existing DefaultSearchPaths entry is returned, or "" when there
// is none; running on defaults is allowed.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// LoadDotEnv loads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Config holds all patienthub configuration.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Client        ClientConfig        `yaml:"client"`
	Therapist     TherapistConfig     `yaml:"therapist"`
	Session       SessionConfig       `yaml:"session"`
	Evaluator     EvaluatorConfig     `yaml:"evaluator"`
	Interview     interview.Config    `yaml:"interview"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Server        ServerConfig        `yaml:"server"`
}

// LLMConfig is the default chat model plus the call policy wrapped
// around every model.
type LLMConfig struct {
	llm.Config `yaml:",inline"`
	// Timeout bounds one completion. Zero disables it.
	Timeout time.Duration `yaml:"timeout"`
	// RetryDelay is the first backoff delay; MaxRetries lives on llm.Config.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// ClientConfig configures the simulated client. LLM overrides fields of
// the default model.
type ClientConfig struct {
	clients.Config `yaml:",inline"`
	LLM            *llm.Config `yaml:"llm"`
	// QuestionLLM and RevisionLLM override the model of the roleplayDoh
	// checklist and assessment stages.
	QuestionLLM *llm.Config `yaml:"question_llm"`
	RevisionLLM *llm.Config `yaml:"revision_llm"`
}

// TherapistConfig configures the therapist.
type TherapistConfig struct {
	therapists.Config `yaml:",inline"`
	LLM               *llm.Config `yaml:"llm"`
}

// SessionConfig bounds sessions and batches.
type SessionConfig struct {
	session.Config `yaml:",inline"`
	// Count sessions are simulated by one run, Parallel at a time.
	Count    int `yaml:"count"`
	Parallel int `yaml:"parallel"`
}

// EvaluatorConfig configures the rating evaluator.
type EvaluatorConfig struct {
	evaluation.Config `yaml:",inline"`
	LLM               *llm.Config `yaml:"llm"`
	// Output receives the ratings; empty writes to stdout.
	Output string `yaml:"output"`
}

// StorageConfig selects the transcript store.
type StorageConfig struct {
	// URL is a path or file://, sqlite://, redis:// or memory:// URL.
	URL       string        `yaml:"url"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// ObservabilityConfig configures logging, tracing and metrics.
type ObservabilityConfig struct {
	Logging observability.LoggingConfig `yaml:"logging"`
	Tracing observability.TracingConfig `yaml:"tracing"`
	// Metrics enables the Prometheus exporter.
	Metrics bool `yaml:"metrics"`
}

// ServerConfig configures the websocket chat server.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	// AllowedOrigins lists websocket origins; empty allows same-host only.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Guard screens what the human therapist types.
	Guard safety.Config `yaml:"guard"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Config: llm.Config{
				Provider:   llm.ProviderOpenAI,
				Model:      "gpt-4o",
				MaxRetries: 3,
			},
			Timeout:    2 * time.Minute,
			RetryDelay: time.Second,
		},
		Client: ClientConfig{Config: clients.Config{
			AgentType:     clients.TypeRoleplayDoh,
			Lang:          "en",
			DataPath:      "data/characters/PatientPsi.json",
			PrincipleMode: string(critique.SelectRandom),
		}},
		Therapist: TherapistConfig{Config: therapists.Config{
			AgentType: therapists.TypeEliza,
			Lang:      "en",
		}},
		Session: SessionConfig{
			Config: session.Config{
				MaxTurns:        session.DefaultMaxTurns,
				ReminderTurnNum: session.DefaultReminderTurns,
			},
			Count:    1,
			Parallel: 1,
		},
		Evaluator: EvaluatorConfig{Config: evaluation.Config{
			Target:      "client",
			Dimensions:  []string{evaluation.Consistency.Name},
			Granularity: evaluation.GranularitySession,
			Lang:        "en",
			Parallel:    1,
		}},
		Interview: interview.Config{NumQuestions: interview.DefaultNumQuestions},
		Storage:   StorageConfig{URL: "data/sessions"},
		Observability: ObservabilityConfig{
			Logging: observability.LoggingConfig{Level: "info", Format: "text"},
			Tracing: observability.TracingConfig{ServiceName: "patienthub"},
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads only defaults and overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies PATIENTHUB_* overrides and fills missing provider
// credentials from <PROVIDER>_API_KEY and <PROVIDER>_BASE_URL.
func (c *Config) ApplyEnv() {
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.Client.AgentType, "CLIENT_TYPE")
	setString(&c.Client.DataPath, "CLIENT_DATA_PATH")
	setString(&c.Therapist.AgentType, "THERAPIST_TYPE")
	setString(&c.Storage.URL, "STORAGE_URL")
	setString(&c.Observability.Logging.Level, "LOG_LEVEL")
	setString(&c.Observability.Logging.Format, "LOG_FORMAT")
	setString(&c.Observability.Tracing.OTLPEndpoint, "OTLP_ENDPOINT")
	setString(&c.Server.Addr, "SERVER_ADDR")
	setInt(&c.Session.MaxTurns, "MAX_TURNS")
	setInt(&c.Session.TokenBudget, "TOKEN_BUDGET")
	setBool(&c.Observability.Metrics, "METRICS")

	fillCredentials(&c.LLM.Config)
}

func fillCredentials(m *llm.Config) {
	provider := strings.ToUpper(m.Provider)
	if provider == "" {
		provider = strings.ToUpper(llm.ProviderOpenAI)
	}
	if m.APIKey == "" {
		m.APIKey = os.Getenv(provider + "_API_KEY")
	}
	if m.BaseURL == "" {
		m.BaseURL = os.Getenv(provider + "_BASE_URL")
	}
}

// ModelFor returns the default model config with the non-zero fields of
// override applied. Credentials are resolved again when the override
// switches provider.
func (c *Config) ModelFor(override *llm.Config) llm.Config {
	out := c.LLM.Config
	if override == nil {
		return out
	}
	if override.Provider != "" && override.Provider != out.Provider {
		out.Provider = override.Provider
		out.APIKey, out.BaseURL, out.Region, out.Profile = "", "", "", ""
	}
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.APIKey != "" {
		out.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		out.BaseURL = override.BaseURL
	}
	if override.Region != "" {
		out.Region = override.Region
	}
	if override.Profile != "" {
		out.Profile = override.Profile
	}
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.MaxTokens > 0 {
		out.MaxTokens = override.MaxTokens
	}
	if override.MaxRetries > 0 {
		out.MaxRetries = override.MaxRetries
	}
	fillCredentials(&out)
	return out
}

// Validate checks the fields every command relies on.
func (c *Config) Validate() error {
	if c.Session.MaxTurns <= 0 {
		return fmt.Errorf("session.max_turns must be > 0")
	}
	if c.Interview.NumQuestions < 0 {
		return fmt.Errorf("interview.num_questions must be >= 0")
	}
	if c.Session.TokenBudget < 0 {
		return fmt.Errorf("session.token_budget must be >= 0")
	}
	if c.Session.Count <= 0 {
		return fmt.Errorf("session.count must be > 0")
	}
	if c.Session.Parallel <= 0 {
		return fmt.Errorf("session.parallel must be > 0")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be >= 0")
	}
	if c.Client.AgentType == "" {
		return fmt.Errorf("client.agent_type cannot be empty")
	}
	if c.Therapist.AgentType == "" {
		return fmt.Errorf("therapist.agent_type cannot be empty")
	}
	switch c.Evaluator.Granularity {
	case "", evaluation.GranularitySession, evaluation.GranularityTurn:
	default:
		return fmt.Errorf("evaluator.granularity must be %q or %q", evaluation.GranularitySession, evaluation.GranularityTurn)
	}
	if _, err := observability.ParseLevel(c.Observability.Logging.Level); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

func setBool(dst *bool, key string) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}
