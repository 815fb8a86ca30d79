// Package config loads the host configuration: model provider, agent
// profiles, the mail server, session storage, logging and metrics.
//
// Files are YAML. Every string may reference the environment as ${VAR} or
// ${VAR:-default}; .env files are loaded first so they can supply values.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spartacus-desktop/spartacus/logging"
	"github.com/spartacus-desktop/spartacus/model"
	"github.com/spartacus-desktop/spartacus/session"
)

// Config is the root of the configuration file.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Model    ModelConfig    `yaml:"model"`
	Mail     MailConfig     `yaml:"mail"`
	Sessions SessionsConfig `yaml:"sessions"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Agents   []AgentConfig  `yaml:"agents"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// ModelConfig selects the language model provider.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // openai, anthropic or mock
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// MailConfig describes how to launch the Gmail MCP server.
type MailConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`
	CallTimeout Duration          `yaml:"call_timeout"`
}

// SessionsConfig configures the session manager and its store.
type SessionsConfig struct {
	Store         string   `yaml:"store"` // memory or sqlite
	Path          string   `yaml:"path"`
	IdleTTL       Duration `yaml:"idle_ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
	Retention     Duration `yaml:"retention"` // purge stored sessions inactive this long; 0 keeps them
	Busy          string   `yaml:"busy"`      // wait or reject
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9090"; empty disables
}

// AgentConfig is one named agent profile.
type AgentConfig struct {
	Name               string   `yaml:"name"`
	Description        string   `yaml:"description"`
	Instruction        string   `yaml:"instruction"`
	Tools              []string `yaml:"tools"` // omitted selects every available tool, [] none
	MaxIterations      int      `yaml:"max_iterations"`
	MaxParallelTools   int      `yaml:"max_parallel_tools"`
	MaxHistoryMessages int      `yaml:"max_history_messages"`
	ModelTimeout       Duration `yaml:"model_timeout"`
	ToolTimeout        Duration `yaml:"tool_timeout"`
	ConfirmTimeout     Duration `yaml:"confirm_timeout"` // zero waits for an answer
	RunTimeout         Duration `yaml:"run_timeout"`
	Temperature        float64  `yaml:"temperature"`
	MaxTokens          int      `yaml:"max_tokens"`
	ToolChoice         string   `yaml:"tool_choice"` // auto or required
	Stream             bool     `yaml:"stream"`
	ConfirmMutating    *bool    `yaml:"confirm_mutating"`
}

// Default returns the configuration used when no file is given: one
// assistant with every tool, OpenAI, in-memory sessions.
func Default() Config {
	cfg := Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Model: ModelConfig{Provider: "openai"},
		Mail: MailConfig{
			Command:     "node",
			Args:        []string{"mcp_servers/gmail/dist/index.js"},
			CallTimeout: Duration(30 * time.Second),
		},
		Agents: []AgentConfig{{
			Name:        "spartacus",
			Description: "General personal assistant with email access",
		}},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a configuration file. envFiles are loaded into
// the environment first; with none given, .env.local and .env are tried.
func Load(path string, envFiles ...string) (Config, error) {
	if err := LoadEnvFiles(envFiles...); err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, expands environment references, applies defaults and
// validates the result.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}

	expanded, err := yaml.Marshal(expandData(raw))
	if err != nil {
		return Config{}, fmt.Errorf("expand environment: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "openai"
	}
	if c.Mail.CallTimeout == 0 {
		c.Mail.CallTimeout = Duration(30 * time.Second)
	}
	if c.Sessions.Store == "" {
		c.Sessions.Store = "memory"
	}
	if c.Sessions.Path == "" && c.Sessions.Store == "sqlite" {
		c.Sessions.Path = "spartacus.db"
	}
	if c.Sessions.IdleTTL == 0 {
		c.Sessions.IdleTTL = Duration(30 * time.Minute)
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = Duration(time.Minute)
	}
	if c.Sessions.Busy == "" {
		c.Sessions.Busy = "wait"
	}

	for i := range c.Agents {
		a := &c.Agents[i]
		if a.MaxIterations == 0 {
			a.MaxIterations = 10
		}
		if a.MaxParallelTools == 0 {
			a.MaxParallelTools = 4
		}
		if a.ModelTimeout == 0 {
			a.ModelTimeout = Duration(time.Minute)
		}
		if a.RunTimeout == 0 {
			a.RunTimeout = Duration(5 * time.Minute)
		}
		if a.ToolChoice == "" {
			a.ToolChoice = string(model.ToolChoiceRequired)
		}
		if a.ConfirmMutating == nil {
			confirm := true
			a.ConfirmMutating = &confirm
		}
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}

	switch c.Model.Provider {
	case "openai", "anthropic", "mock":
	default:
		errs = append(errs, fmt.Errorf("model.provider: unknown provider %q", c.Model.Provider))
	}

	if c.Mail.Enabled && c.Mail.Command == "" {
		errs = append(errs, errors.New("mail.command: required when mail is enabled"))
	}

	switch c.Sessions.Store {
	case "memory":
	case "sqlite":
		if c.Sessions.Path == "" {
			errs = append(errs, errors.New("sessions.path: required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("sessions.store: must be memory or sqlite, got %q", c.Sessions.Store))
	}
	if c.Sessions.IdleTTL < 0 {
		errs = append(errs, errors.New("sessions.idle_ttl: must not be negative"))
	}
	if c.Sessions.Retention < 0 {
		errs = append(errs, errors.New("sessions.retention: must not be negative"))
	} else if c.Sessions.Retention > 0 && c.Sessions.Retention < c.Sessions.IdleTTL {
		errs = append(errs, errors.New("sessions.retention: must not be shorter than idle_ttl"))
	}
	if _, err := session.ParseBusyPolicy(c.Sessions.Busy); err != nil {
		errs = append(errs, fmt.Errorf("sessions.busy: %w", err))
	}

	if len(c.Agents) == 0 {
		errs = append(errs, errors.New("agents: at least one agent is required"))
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", prefix))
		} else if seen[a.Name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate agent %q", prefix, a.Name))
		}
		seen[a.Name] = true

		if a.MaxIterations < 1 {
			errs = append(errs, fmt.Errorf("%s.max_iterations: must be positive", prefix))
		}
		if a.ModelTimeout < 0 || a.ToolTimeout < 0 || a.ConfirmTimeout < 0 || a.RunTimeout < 0 {
			errs = append(errs, fmt.Errorf("%s: timeouts must not be negative", prefix))
		}
		switch model.ToolChoice(a.ToolChoice) {
		case model.ToolChoiceAuto, model.ToolChoiceRequired:
		default:
			errs = append(errs, fmt.Errorf("%s.tool_choice: must be auto or required, got %q", prefix, a.ToolChoice))
		}
	}

	return errors.Join(errs...)
}

// Agent returns the profile with the given name.
func (c Config) Agent(name string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// Logger builds the configured logger.
func (c Config) Logger() logging.Logger {
	level, _ := logging.ParseLevel(c.Log.Level)
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = c.Log.Format
	return logging.New(cfg)
}
