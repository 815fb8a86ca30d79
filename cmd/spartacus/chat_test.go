package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spartacus-desktop/spartacus"
	"github.com/spartacus-desktop/spartacus/config"
	"github.com/spartacus-desktop/spartacus/core"
)

func mockAssistant(t *testing.T) *spartacus.Assistant {
	t.Helper()
	cfg := config.Default()
	cfg.Model.Provider = "mock"
	a, err := spartacus.FromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func runREPL(t *testing.T, a *spartacus.Assistant, input string) string {
	t.Helper()
	var out bytes.Buffer
	r := &repl{
		assistant: a,
		agent:     "spartacus",
		session:   "test",
		in:        newLineReader(strings.NewReader(input)),
		out:       &out,
	}
	require.NoError(t, r.run(context.Background()))
	return out.String()
}

func TestREPL_Conversation(t *testing.T) {
	a := mockAssistant(t)

	out := runREPL(t, a, "hello there\n/stats\n/exit\n")

	assert.Contains(t, out, "spartacus> (mock) hello there")
	assert.Contains(t, out, "spartacus: 1 sessions, 0 running, 2 messages, 1 stored, 0 evicted, 0 purged")
}

func TestREPL_CommandsAndEOF(t *testing.T) {
	a := mockAssistant(t)

	out := runREPL(t, a, "/help\n/agents\n/agent nobody\n/bogus\n/session other\nhi\n/sessions\n/clear\n")

	assert.Contains(t, out, "/sessions")
	assert.Contains(t, out, "* spartacus:")
	assert.Contains(t, out, "error: unknown agent")
	assert.Contains(t, out, "unknown command /bogus")
	assert.Contains(t, out, "Switched to session other.")
	assert.Contains(t, out, "other  2 messages  live")
	assert.Contains(t, out, "Conversation cleared.")

	sess, err := a.Session(context.Background(), "spartacus", "other")
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Len())
}

func TestTerminalConfirmer(t *testing.T) {
	call := core.ToolCallRequest{ID: "c1", Name: "send_email"}
	args := map[string]any{"to": []any{"bob@example.com"}}

	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"maybe\n", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			c := newTerminalConfirmer(newLineReader(strings.NewReader(tt.input)), &out)
			ok, err := c.Confirm(context.Background(), call, args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Contains(t, out.String(), "send_email")
			assert.Contains(t, out.String(), "bob@example.com")
		})
	}
}

func TestTerminalConfirmer_Cancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	c := newTerminalConfirmer(newLineReader(pr), &bytes.Buffer{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := c.Confirm(ctx, core.ToolCallRequest{Name: "send_email"}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ok)
}

func TestTerminalConfirmer_CancelledPromptKeepsNextLine(t *testing.T) {
	a := mockAssistant(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	in := newLineReader(pr)
	c := newTerminalConfirmer(in, &bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err := c.Confirm(ctx, core.ToolCallRequest{Name: "send_email"}, nil)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		_, _ = io.WriteString(pw, "are you there\n/exit\n")
	}()

	var out bytes.Buffer
	r := &repl{assistant: a, agent: "spartacus", session: "test", in: in, out: &out}
	require.NoError(t, r.run(context.Background()))
	assert.Contains(t, out.String(), "spartacus> (mock) are you there")
}

func TestREPL_Forget(t *testing.T) {
	a := mockAssistant(t)

	out := runREPL(t, a, "remember this\n/forget\n/sessions\n")
	assert.Contains(t, out, "Conversation deleted.")
	assert.Contains(t, out, "No sessions.")
}

func TestLineReader(t *testing.T) {
	in := newLineReader(strings.NewReader("one\ntwo"))
	ctx := context.Background()

	line, err := in.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one\n", line)

	line, err = in.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", line)

	_, err = in.ReadLine(ctx)
	assert.ErrorIs(t, err, io.EOF)
	_, err = in.ReadLine(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCLI_LoadDefaultsAndOverrides(t *testing.T) {
	cli := &CLI{Provider: "mock", Model: "tiny", LogLevel: "debug", EnvFile: []string{t.TempDir() + "/missing.env"}}
	cfg, err := cli.load()
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Model.Provider)
	assert.Equal(t, "tiny", cfg.Model.Name)
	assert.Equal(t, "debug", cfg.Log.Level)

	cli.Provider = "llama"
	_, err = cli.load()
	require.Error(t, err)
}
