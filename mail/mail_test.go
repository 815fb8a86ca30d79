package mail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	mu       sync.Mutex
	requests []mcp.CallToolRequest
	reply    func(req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

func (f *fakeCaller) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.reply(req)
}

func (f *fakeCaller) last() mcp.CallToolRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}}}
}

const searchText = `ID: 1
Subject: Lunch
From: bob@example.com
Date: Mon, 1 Jan 2024
Snippet: See you at noon

ID: 2
Subject: Report
From: alice@example.com
Date: Tue, 2 Jan 2024

Subject: no id here`

func TestMCPClient_Search(t *testing.T) {
	f := &fakeCaller{reply: func(mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult(searchText), nil
	}}
	c := NewMCPClientFromCaller(f)

	emails, err := c.Search(context.Background(), "from:bob", 5)
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, Email{ID: "1", Subject: "Lunch", From: "bob@example.com", Date: "Mon, 1 Jan 2024", Snippet: "See you at noon"}, emails[0])
	assert.Equal(t, "Report", emails[1].Subject)

	req := f.last()
	assert.Equal(t, "search_emails", req.Params.Name)
	assert.Equal(t, map[string]any{"query": "from:bob", "maxResults": 5}, req.Params.Arguments)
}

func TestMCPClient_Read(t *testing.T) {
	f := &fakeCaller{reply: func(mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult("Thread ID: t1\nSubject: Lunch\nFrom: bob@example.com\nTo: me@example.com\nDate: Mon\n\nHi,\n\nnoon works.\n"), nil
	}}
	c := NewMCPClientFromCaller(f)

	e, err := c.Read(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", e.ID)
	assert.Equal(t, "t1", e.ThreadID)
	assert.Equal(t, "me@example.com", e.To)
	assert.Equal(t, "Hi,\n\nnoon works.", e.Body)
	assert.Equal(t, map[string]any{"messageId": "m1"}, f.last().Params.Arguments)
}

func TestMCPClient_Send(t *testing.T) {
	f := &fakeCaller{reply: func(mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult("Email sent successfully with ID: 18c2f"), nil
	}}
	c := NewMCPClientFromCaller(f)

	r, err := c.Send(context.Background(), Outgoing{To: []string{"bob@example.com"}, Cc: []string{"carol@example.com"}, Subject: "Hi", Body: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "18c2f", r.MessageID)

	args := f.last().Params.Arguments.(map[string]any)
	assert.Equal(t, []string{"bob@example.com"}, args["to"])
	assert.Equal(t, []string{"carol@example.com"}, args["cc"])
	assert.NotContains(t, args, "htmlBody")

	_, err = c.Send(context.Background(), Outgoing{Subject: "no recipients"})
	assert.Error(t, err)
}

func TestMCPClient_Labels(t *testing.T) {
	f := &fakeCaller{reply: func(mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult("ID: INBOX\nName: INBOX\n\nID: Label_1\nName: Receipts\n\nID: CATEGORY_SOCIAL\n"), nil
	}}
	c := NewMCPClientFromCaller(f)

	labels, err := c.Labels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Label{
		{ID: "INBOX", Name: "INBOX", Type: "system"},
		{ID: "Label_1", Name: "Receipts", Type: "user"},
		{ID: "CATEGORY_SOCIAL", Name: "CATEGORY_SOCIAL", Type: "system"},
	}, labels)
}

func TestMCPClient_Errors(t *testing.T) {
	f := &fakeCaller{reply: func(req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if req.Params.Name == "read_email" {
			return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "message not found"}}}, nil
		}
		return nil, errors.New("broken pipe")
	}}
	c := NewMCPClientFromCaller(f)

	_, err := c.Read(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message not found")

	_, err = c.Search(context.Background(), "q", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")

	require.NoError(t, c.Close())
	_, err = c.Labels(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestMCPClient_ReconnectsAfterTransportError(t *testing.T) {
	var dials, closes int
	broken := &fakeCaller{reply: func(mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, errors.New("broken pipe")
	}}
	healthy := &fakeCaller{reply: func(mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult("ID: 7\nName: INBOX"), nil
	}}

	c, err := NewMCPClient(func(o *MCPOptions) { o.Command = "node" })
	require.NoError(t, err)
	c.dial = func(context.Context) (Caller, func() error, error) {
		dials++
		next := healthy
		if dials == 1 {
			next = broken
		}
		return next, func() error { closes++; return nil }, nil
	}

	_, err = c.Labels(context.Background())
	require.ErrorContains(t, err, "broken pipe")
	assert.Equal(t, 1, closes)

	labels, err := c.Labels(context.Background())
	require.NoError(t, err)
	require.Len(t, labels, 1)
	assert.Equal(t, 2, dials)

	// A server-reported failure keeps the connection.
	healthy.reply = func(mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "quota"}}}, nil
	}
	_, err = c.Labels(context.Background())
	require.ErrorContains(t, err, "quota")
	_, _ = c.Labels(context.Background())
	assert.Equal(t, 2, dials)

	require.NoError(t, c.Close())
	_, err = c.Labels(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 2, dials)
}

func TestMCPClient_CallerCancellationKeepsConnection(t *testing.T) {
	var dials int
	blocking := &fakeCaller{}
	blocking.reply = func(mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, context.Canceled
	}

	c, err := NewMCPClient(func(o *MCPOptions) { o.Command = "node" })
	require.NoError(t, err)
	c.dial = func(context.Context) (Caller, func() error, error) {
		dials++
		return blocking, nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_, err = c.Labels(ctx)
	require.Error(t, err)
	_, err = c.Labels(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, dials)
}

func TestNewMCPClient_RequiresCommand(t *testing.T) {
	_, err := NewMCPClient()
	assert.Error(t, err)

	c, err := NewMCPClient(func(o *MCPOptions) {
		o.Command = "node"
		o.Env = map[string]string{"B": "2", "A": "1"}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=2"}, c.env())
}

func TestParseReceipt_WithoutID(t *testing.T) {
	r := parseReceipt("Email sent")
	assert.Empty(t, r.MessageID)
	assert.Equal(t, "Email sent", r.Detail)
}
