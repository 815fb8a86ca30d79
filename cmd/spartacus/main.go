// Command spartacus is the terminal host of the assistant.
//
// Usage:
//
//	spartacus chat --config spartacus.yaml
//	spartacus ask --agent spartacus "Do I have unread mail from Bob?"
//	spartacus agents --config spartacus.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/spartacus-desktop/spartacus"
	"github.com/spartacus-desktop/spartacus/config"
	"github.com/spartacus-desktop/spartacus/logging"
	"github.com/spartacus-desktop/spartacus/telemetry"
)

// CLI defines the command-line interface.
type CLI struct {
	Chat     ChatCmd     `cmd:"" default:"1" help:"Start an interactive conversation."`
	Ask      AskCmd      `cmd:"" help:"Send one message and print the answer."`
	Agents   AgentsCmd   `cmd:"" help:"List the configured agents."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config   string   `short:"c" help:"Path to the config file." type:"path"`
	EnvFile  []string `name:"env-file" help:"Environment files to load (default .env.local and .env)."`
	Provider string   `help:"Override the model provider (openai, anthropic, mock)."`
	Model    string   `help:"Override the model name."`
	LogLevel string   `name:"log-level" help:"Override the log level (debug, info, warn, error)."`
}

// load reads the configuration file, or the built-in defaults when none is
// given, and applies command-line overrides.
func (c *CLI) load() (config.Config, error) {
	var cfg config.Config
	if c.Config != "" {
		loaded, err := config.Load(c.Config, c.EnvFile...)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else {
		if err := config.LoadEnvFiles(c.EnvFile...); err != nil {
			return config.Config{}, err
		}
		cfg = config.Default()
		cfg.Mail.Enabled = os.Getenv("SPARTACUS_MAIL") == "1"
	}

	if c.Provider != "" {
		cfg.Model.Provider = c.Provider
	}
	if c.Model != "" {
		cfg.Model.Name = c.Model
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// host is a running assistant plus the services owned by the command.
type host struct {
	assistant *spartacus.Assistant
	logger    logging.Logger
	cancel    context.CancelFunc
	server    *http.Server
}

// start builds the assistant, starts the idle sweepers and, when
// configured, the metrics listener.
func (c *CLI) start(ctx context.Context, cfg config.Config, confirm *terminalConfirmer) (*host, error) {
	logger := cfg.Logger()

	reg := prometheus.NewRegistry()
	metrics, err := telemetry.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	a, err := spartacus.FromConfig(cfg, func(o *spartacus.BuildOptions) {
		o.Logger = logger
		o.Metrics = metrics
		if confirm != nil {
			o.Confirmer = confirm
		}
	})
	if err != nil {
		return nil, err
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	go a.Start(sweepCtx)

	h := &host{assistant: a, logger: logger, cancel: cancel}

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler(reg))
		h.server = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics.listen.error", "addr", cfg.Metrics.Listen, "error", err.Error())
			}
		}()
		logger.Info("metrics.listen", "addr", cfg.Metrics.Listen)
	}

	return h, nil
}

func (h *host) close() error {
	h.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if h.server != nil {
		_ = h.server.Shutdown(ctx)
	}
	return h.assistant.Close(ctx)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ChatCmd runs the interactive REPL.
type ChatCmd struct {
	Agent   string `short:"a" help:"Agent to talk to." default:"spartacus"`
	Session string `short:"s" help:"Session ID; reuse it to continue a stored conversation." default:"default"`
	NoColor bool   `name:"no-color" help:"Disable colored output."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	in := newLineReader(os.Stdin)
	confirm := newTerminalConfirmer(in, os.Stdout)

	h, err := cli.start(ctx, cfg, confirm)
	if err != nil {
		return err
	}
	defer h.close()

	r := &repl{
		assistant: h.assistant,
		agent:     c.Agent,
		session:   c.Session,
		in:        in,
		out:       os.Stdout,
		color:     !c.NoColor && isTerminal(os.Stdout),
	}
	return r.run(ctx)
}

// AskCmd sends a single message.
type AskCmd struct {
	Agent   string   `short:"a" help:"Agent to ask." default:"spartacus"`
	Session string   `short:"s" help:"Session ID." default:"default"`
	Yes     bool     `short:"y" help:"Approve mutating tools without asking."`
	Message []string `arg:"" help:"Message text."`
}

func (c *AskCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	var confirm *terminalConfirmer
	if !c.Yes {
		confirm = newTerminalConfirmer(newLineReader(os.Stdin), os.Stderr)
	}

	h, err := cli.start(ctx, cfg, confirm)
	if err != nil {
		return err
	}
	defer h.close()

	res, err := h.assistant.RunTurn(ctx, c.Agent, c.Session, joinWords(c.Message))
	if res.FinalText != "" {
		fmt.Println(res.FinalText)
	}
	return err
}

// AgentsCmd lists the configured agents.
type AgentsCmd struct{}

func (c *AgentsCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	h, err := cli.start(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer h.close()

	for _, info := range h.assistant.Agents() {
		desc := info.Description
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Printf("%s: %s\n", info.Name, desc)
		fmt.Printf("  model:          %s\n", info.Model)
		fmt.Printf("  tools:          %v\n", info.Tools)
		fmt.Printf("  max iterations: %d\n", info.MaxIterations)
	}
	return nil
}

// ValidateCmd checks the configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return errors.New("--config is required")
	}
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	fmt.Printf("Configuration %s is valid (%d agents).\n", cli.Config, len(cfg.Agents))
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("spartacus version %s\n", version)
	return nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("spartacus"),
		kong.Description("Spartacus - a personal desktop assistant with email tools"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
