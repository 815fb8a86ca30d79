package mail

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/spartacus-desktop/spartacus/logging"
)

// Tool names exposed by the Gmail MCP server.
const (
	toolSearch = "search_emails"
	toolRead   = "read_email"
	toolSend   = "send_email"
	toolLabels = "list_email_labels"
)

// MCPOptions configures an MCPClient.
type MCPOptions struct {
	// Command and Args launch the MCP server, e.g. "node" and
	// ["mcp_servers/gmail/dist/index.js"].
	Command string
	Args    []string
	Env     map[string]string

	// CallTimeout bounds one tool call when the caller's context has no
	// earlier deadline. Zero disables the limit.
	CallTimeout time.Duration

	Logger logging.Logger
}

// Caller is the subset of the MCP client used by MCPClient.
type Caller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// MCPClient implements Client by calling a Gmail MCP server over stdio.
// The server process is started lazily on the first call and reused until a
// transport error, after which the next call starts a fresh one.
type MCPClient struct {
	opts MCPOptions
	dial func(ctx context.Context) (Caller, func() error, error)

	mu     sync.Mutex
	caller Caller
	closer func() error
	closed bool
}

var _ Client = (*MCPClient)(nil)

// NewMCPClient creates a client for the server launched by Command.
func NewMCPClient(optFns ...func(o *MCPOptions)) (*MCPClient, error) {
	opts := MCPOptions{
		CallTimeout: 30 * time.Second,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Command == "" {
		return nil, errors.New("mail: MCP server command is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	c := &MCPClient{opts: opts}
	c.dial = c.dialStdio
	return c, nil
}

// NewMCPClientFromCaller wraps an already connected MCP caller. The caller
// is kept after errors since there is nothing to reconnect to.
func NewMCPClientFromCaller(caller Caller, optFns ...func(o *MCPOptions)) *MCPClient {
	opts := MCPOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &MCPClient{opts: opts, caller: caller}
}

func (c *MCPClient) connect(ctx context.Context) (Caller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrNotConnected
	}
	if c.caller != nil {
		return c.caller, nil
	}
	if c.dial == nil {
		return nil, ErrNotConnected
	}

	caller, closer, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.caller = caller
	c.closer = closer

	c.opts.Logger.Info("mail.mcp.connected", "command", c.opts.Command)

	return c.caller, nil
}

func (c *MCPClient) dialStdio(ctx context.Context) (Caller, func() error, error) {
	mcpClient, err := client.NewStdioMCPClient(c.opts.Command, c.env(), c.opts.Args...)
	if err != nil {
		return nil, nil, fmt.Errorf("create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return nil, nil, fmt.Errorf("start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "spartacus", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, nil, fmt.Errorf("initialize MCP: %w", err)
	}

	return mcpClient, mcpClient.Close, nil
}

// reset drops a caller that failed at the transport level. A caller that
// was already replaced is left alone.
func (c *MCPClient) reset(failed Caller) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dial == nil || c.caller != failed {
		return
	}
	closer := c.closer
	c.caller, c.closer = nil, nil
	c.opts.Logger.Warn("mail.mcp.reset", "command", c.opts.Command)
	if closer != nil {
		if err := closer(); err != nil {
			c.opts.Logger.Debug("mail.mcp.close.error", "error", err.Error())
		}
	}
}

func (c *MCPClient) env() []string {
	keys := make([]string, 0, len(c.opts.Env))
	for k := range c.opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+c.opts.Env[k])
	}
	return env
}

// Close stops the MCP server. Later calls fail with ErrNotConnected.
func (c *MCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.caller = nil
	if c.closer != nil {
		err := c.closer()
		c.closer = nil
		return err
	}
	return nil
}

// call invokes one MCP tool and returns its concatenated text content.
func (c *MCPClient) call(ctx context.Context, name string, args map[string]any) (string, error) {
	caller, err := c.connect(ctx)
	if err != nil {
		return "", err
	}

	parent := ctx
	if c.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	start := time.Now()
	resp, err := caller.CallTool(ctx, req)
	if err != nil {
		c.opts.Logger.Error("mail.mcp.call.error", "tool", name, "error", err.Error())
		if parent.Err() == nil {
			c.reset(caller)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}

	text := contentText(resp)
	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		c.opts.Logger.Warn("mail.mcp.call.failed", "tool", name, "error", text)
		return "", fmt.Errorf("%s: %s", name, text)
	}

	c.opts.Logger.Debug("mail.mcp.call", "tool", name, "duration_ms", time.Since(start).Milliseconds())

	return text, nil
}

func contentText(resp *mcp.CallToolResult) string {
	if resp == nil {
		return ""
	}
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// Search runs a Gmail search query.
func (c *MCPClient) Search(ctx context.Context, query string, maxResults int) ([]Email, error) {
	args := map[string]any{"query": query}
	if maxResults > 0 {
		args["maxResults"] = maxResults
	}
	text, err := c.call(ctx, toolSearch, args)
	if err != nil {
		return nil, err
	}
	return parseSearch(text), nil
}

// Read fetches one message with its body.
func (c *MCPClient) Read(ctx context.Context, messageID string) (Email, error) {
	text, err := c.call(ctx, toolRead, map[string]any{"messageId": messageID})
	if err != nil {
		return Email{}, err
	}
	e := parseEmail(text)
	if e.ID == "" {
		e.ID = messageID
	}
	return e, nil
}

// Send sends a message.
func (c *MCPClient) Send(ctx context.Context, msg Outgoing) (Receipt, error) {
	if err := msg.Validate(); err != nil {
		return Receipt{}, err
	}

	args := map[string]any{
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.Body,
	}
	if msg.HTMLBody != "" {
		args["htmlBody"] = msg.HTMLBody
	}
	if len(msg.Cc) > 0 {
		args["cc"] = msg.Cc
	}

	text, err := c.call(ctx, toolSend, args)
	if err != nil {
		return Receipt{}, err
	}

	c.opts.Logger.Info("mail.sent", "recipients", len(msg.To)+len(msg.Cc))

	return parseReceipt(text), nil
}

// Labels lists the mailbox labels.
func (c *MCPClient) Labels(ctx context.Context) ([]Label, error) {
	text, err := c.call(ctx, toolLabels, map[string]any{})
	if err != nil {
		return nil, err
	}
	return parseLabels(text), nil
}
