package spartacus

import (
	"context"
	"errors"
	"fmt"
	"sort"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/spartacus-desktop/spartacus/agent"
	"github.com/spartacus-desktop/spartacus/config"
	"github.com/spartacus-desktop/spartacus/core"
	"github.com/spartacus-desktop/spartacus/logging"
	"github.com/spartacus-desktop/spartacus/mail"
	"github.com/spartacus-desktop/spartacus/model"
	"github.com/spartacus-desktop/spartacus/model/anthropic"
	"github.com/spartacus-desktop/spartacus/model/openai"
	"github.com/spartacus-desktop/spartacus/session"
	"github.com/spartacus-desktop/spartacus/session/sqlite"
	"github.com/spartacus-desktop/spartacus/telemetry"
	"github.com/spartacus-desktop/spartacus/tool"
	"github.com/spartacus-desktop/spartacus/tool/mailtool"
)

// BuildOptions supplies the runtime services FromConfig cannot derive from
// the configuration file.
type BuildOptions struct {
	Logger  logging.Logger
	Metrics *telemetry.Metrics

	// Confirmer approves mutating tools of agents with confirm_mutating.
	// Without one those tools execute directly.
	Confirmer tool.Confirmer

	// Model replaces the configured provider.
	Model model.Model

	// MailClient replaces the MCP client described by the mail section.
	MailClient mail.Client

	// Store replaces the configured session store.
	Store session.Store
}

// FromConfig builds an Assistant with one agent per profile in cfg.
// Resources opened here are released by Assistant.Close.
func FromConfig(cfg config.Config, optFns ...func(o *BuildOptions)) (*Assistant, error) {
	opts := BuildOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	busy, err := session.ParseBusyPolicy(cfg.Sessions.Busy)
	if err != nil {
		return nil, err
	}

	store, storeCloser, err := buildStore(cfg.Sessions, opts.Store)
	if err != nil {
		return nil, err
	}

	a := New(func(o *Options) {
		o.Store = store
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		o.Session = func(so *session.ManagerOptions) {
			so.IdleTTL = cfg.Sessions.IdleTTL.Duration()
			so.SweepInterval = cfg.Sessions.SweepInterval.Duration()
			so.Retention = cfg.Sessions.Retention.Duration()
			so.Busy = busy
		}
	})
	if storeCloser != nil {
		a.AddCloser(storeCloser)
	}

	llm := opts.Model
	if llm == nil {
		llm = buildModel(cfg.Model)
	}

	available, collaborators, err := buildTools(cfg.Mail, opts, a)
	if err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}

	for _, ac := range cfg.Agents {
		ag, err := buildAgent(ac, llm, available, collaborators, opts)
		if err != nil {
			_ = a.Close(context.Background())
			return nil, err
		}
		if err := a.RegisterAgent(ag); err != nil {
			_ = a.Close(context.Background())
			return nil, err
		}
	}

	return a, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func buildStore(cfg config.SessionsConfig, override session.Store) (session.Store, closerFunc, error) {
	if override != nil {
		return override, nil, nil
	}
	switch cfg.Store {
	case "sqlite":
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open session store: %w", err)
		}
		return s, s.Close, nil
	default:
		return session.NewInMemoryStore(), nil, nil
	}
}

func buildModel(cfg config.ModelConfig) model.Model {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			if cfg.APIKey != "" {
				o.APIKey = cfg.APIKey
			}
			if cfg.Temperature != 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens != 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
		})
	case "mock":
		m := model.NewMockModel(nonEmpty(cfg.Name, "mock"), "mock")
		m.SetFallback(func(req model.Request) (model.Response, error) {
			return model.TextResponse("(mock) " + lastUserText(req.Messages)), nil
		})
		return m
	default:
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			if cfg.Temperature != 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens != 0 {
				o.MaxCompletionTokens = int64(cfg.MaxTokens)
			}
		})
	}
}

// buildTools returns the tools agents may select from, by name, and the
// collaborators they bind to.
func buildTools(cfg config.MailConfig, opts BuildOptions, a *Assistant) (map[string]tool.Tool, tool.Collaborators, error) {
	available := make(map[string]tool.Tool)
	collaborators := tool.Collaborators{}
	for _, t := range tool.StateTools() {
		available[t.Name()] = t
	}

	client := opts.MailClient
	if client == nil && cfg.Enabled {
		mc, err := mail.NewMCPClient(func(o *mail.MCPOptions) {
			o.Command = cfg.Command
			o.Args = cfg.Args
			o.Env = cfg.Env
			o.CallTimeout = cfg.CallTimeout.Duration()
			o.Logger = logging.With(opts.Logger, "component", "mail")
		})
		if err != nil {
			return nil, nil, err
		}
		a.AddCloser(mc)
		client = mc
	}

	if client != nil {
		collaborators[mailtool.ClientKey] = client
		for _, t := range mailtool.All() {
			available[t.Name()] = t
		}
	}

	return available, collaborators, nil
}

func buildAgent(cfg config.AgentConfig, llm model.Model, available map[string]tool.Tool, collaborators tool.Collaborators, opts BuildOptions) (*agent.Agent, error) {
	var selected []tool.Tool
	if cfg.Tools == nil {
		for _, name := range sortedKeys(available) {
			selected = append(selected, available[name])
		}
	} else {
		var errs []error
		for _, name := range cfg.Tools {
			t, ok := available[name]
			if !ok {
				errs = append(errs, fmt.Errorf("agent %q: unknown or unavailable tool %q", cfg.Name, name))
				continue
			}
			selected = append(selected, t)
		}
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
	}

	logger := logging.With(opts.Logger, "agent", cfg.Name)

	regOpts := []func(o *tool.RegistryOptions){
		tool.WithLogger(logger),
		tool.WithMetrics(opts.Metrics),
	}
	if cfg.ConfirmMutating != nil && *cfg.ConfirmMutating && opts.Confirmer != nil {
		regOpts = append(regOpts, tool.WithConfirmer(opts.Confirmer), tool.WithConfirmTimeout(cfg.ConfirmTimeout.Duration()))
	}

	registry, err := tool.NewRegistry(collaborators, selected, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", cfg.Name, err)
	}

	return agent.New(cfg.Name, llm, registry, func(o *agent.Options) {
		o.Description = cfg.Description
		if cfg.Instruction != "" {
			o.Instruction = agent.NewInstructionFromText(cfg.Instruction)
		}
		o.MaxIterations = cfg.MaxIterations
		o.MaxParallelTools = cfg.MaxParallelTools
		o.MaxHistoryMessages = cfg.MaxHistoryMessages
		o.ModelTimeout = cfg.ModelTimeout.Duration()
		o.ToolTimeout = cfg.ToolTimeout.Duration()
		o.RunTimeout = cfg.RunTimeout.Duration()
		if cfg.Temperature != 0 {
			o.CompletionOptions.Temperature = cfg.Temperature
		}
		if cfg.MaxTokens != 0 {
			o.CompletionOptions.MaxTokens = cfg.MaxTokens
		}
		o.CompletionOptions.ToolChoice = model.ToolChoice(cfg.ToolChoice)
		o.Stream = cfg.Stream
		o.Logger = logger
		o.Metrics = opts.Metrics
	})
}

func lastUserText(msgs []core.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func sortedKeys(m map[string]tool.Tool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
