package spartacus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spartacus-desktop/spartacus/agent"
	"github.com/spartacus-desktop/spartacus/config"
	"github.com/spartacus-desktop/spartacus/core"
	"github.com/spartacus-desktop/spartacus/mail"
	"github.com/spartacus-desktop/spartacus/model"
	"github.com/spartacus-desktop/spartacus/session"
	"github.com/spartacus-desktop/spartacus/tool"
)

func echoAgent(t *testing.T, name string) *agent.Agent {
	t.Helper()
	m := model.NewMockModel("mock-"+name, "mock")
	m.SetFallback(func(req model.Request) (model.Response, error) {
		return model.TextResponse(name + ": " + lastUserText(req.Messages)), nil
	})
	reg, err := tool.NewRegistry(nil, nil)
	require.NoError(t, err)
	a, err := agent.New(name, m, reg, func(o *agent.Options) {
		o.Description = "echoes as " + name
	})
	require.NoError(t, err)
	return a
}

func TestAssistant_RegisterAndList(t *testing.T) {
	a := New()
	require.NoError(t, a.RegisterAgent(echoAgent(t, "writer")))
	require.NoError(t, a.RegisterAgent(echoAgent(t, "assistant")))

	err := a.RegisterAgent(echoAgent(t, "writer"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	require.Error(t, a.RegisterAgent(nil))

	infos := a.Agents()
	require.Len(t, infos, 2)
	assert.Equal(t, "assistant", infos[0].Name)
	assert.Equal(t, "writer", infos[1].Name)
	assert.Equal(t, "echoes as writer", infos[1].Description)
	assert.Equal(t, "mock/mock-writer", infos[1].Model)
	assert.Equal(t, []string{core.FinalAnswerToolName}, infos[1].Tools)
	assert.Equal(t, 10, infos[1].MaxIterations)
}

func TestAssistant_UnknownAgent(t *testing.T) {
	a := New()

	res, err := a.RunTurn(context.Background(), "ghost", "s1", "hello")
	require.ErrorIs(t, err, ErrUnknownAgent)
	assert.Equal(t, core.TerminatedError, res.TerminatedReason)

	_, err = a.RunTurnStream(context.Background(), "ghost", "s1", "hello")
	require.ErrorIs(t, err, ErrUnknownAgent)
	require.ErrorIs(t, a.ClearHistory(context.Background(), "ghost", "s1"), ErrUnknownAgent)
	_, err = a.Sessions(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUnknownAgent)
	require.ErrorIs(t, a.DeleteSession(context.Background(), "ghost", "s1"), ErrUnknownAgent)
}

func TestAssistant_SessionsAreBoundToTheirAgent(t *testing.T) {
	store := session.NewInMemoryStore()
	a := New(func(o *Options) { o.Store = store })
	require.NoError(t, a.RegisterAgent(echoAgent(t, "writer")))
	require.NoError(t, a.RegisterAgent(echoAgent(t, "assistant")))

	ctx := context.Background()

	res, err := a.RunTurn(ctx, "writer", "shared", "draft a poem")
	require.NoError(t, err)
	assert.Equal(t, "writer: draft a poem", res.FinalText)

	res, err = a.RunTurn(ctx, "assistant", "shared", "check my inbox")
	require.NoError(t, err)
	assert.Equal(t, "assistant: check my inbox", res.FinalText)

	writer, err := a.Session(ctx, "writer", "shared")
	require.NoError(t, err)
	assistant, err := a.Session(ctx, "assistant", "shared")
	require.NoError(t, err)
	assert.Equal(t, 2, writer.Len())
	assert.Equal(t, 2, assistant.Len())
	assert.Equal(t, "draft a poem", writer.Messages()[0].Content)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"assistant/shared", "writer/shared"}, ids)

	stats, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["writer"].Active)
	assert.Equal(t, 1, stats["writer"].Stored)
	assert.Equal(t, 2, stats["assistant"].Messages)
}

func TestAssistant_StreamAndCollect(t *testing.T) {
	a := New()
	require.NoError(t, a.RegisterAgent(echoAgent(t, "writer")))

	ctx := context.Background()
	events, err := a.RunTurnStream(ctx, "writer", "s1", "hi")
	require.NoError(t, err)

	res, seen, err := Collect(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, "writer: hi", res.FinalText)
	assert.Equal(t, core.TerminatedTextResponse, res.TerminatedReason)
	require.NotEmpty(t, seen)
	assert.Equal(t, core.EventReasoningStarted, seen[0].Type)
	assert.Equal(t, core.EventTerminated, seen[len(seen)-1].Type)
}

func TestCollect_StreamClosedEarly(t *testing.T) {
	ch := make(chan core.Event)
	close(ch)
	_, _, err := Collect(context.Background(), ch)
	require.Error(t, err)
}

func TestAssistant_ClearCloseAndRehydrate(t *testing.T) {
	store := session.NewInMemoryStore()
	ctx := context.Background()

	a := New(func(o *Options) { o.Store = store })
	require.NoError(t, a.RegisterAgent(echoAgent(t, "writer")))
	_, err := a.RunTurn(ctx, "writer", "s1", "one")
	require.NoError(t, err)
	require.NoError(t, a.CloseSession(ctx, "writer", "s1"))

	infos, err := a.Sessions(ctx, "writer")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "s1", infos[0].ID)
	assert.False(t, infos[0].Live)
	assert.Equal(t, 2, infos[0].Messages)

	sess, err := a.Session(ctx, "writer", "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Len())

	require.NoError(t, a.ClearHistory(ctx, "writer", "s1"))
	assert.Equal(t, 0, sess.Len())

	require.NoError(t, a.DeleteSession(ctx, "writer", "s1"))
	infos, err = a.Sessions(ctx, "writer")
	require.NoError(t, err)
	assert.Empty(t, infos)
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

type trackingCloser struct {
	mu     sync.Mutex
	closed int
}

func (c *trackingCloser) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func TestAssistant_CloseReleasesResources(t *testing.T) {
	store := session.NewInMemoryStore()
	ctx := context.Background()

	a := New(func(o *Options) { o.Store = store })
	require.NoError(t, a.RegisterAgent(echoAgent(t, "writer")))
	c := &trackingCloser{}
	a.AddCloser(c)

	sess, err := a.Session(ctx, "writer", "fresh")
	require.NoError(t, err)
	require.NoError(t, sess.AppendUser("pending"))

	require.NoError(t, a.Close(ctx))
	assert.Equal(t, 1, c.closed)

	snap, err := store.Load(ctx, "writer/fresh")
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 1)

	require.NoError(t, a.Close(ctx))
	assert.Equal(t, 1, c.closed)
}

func TestAssistant_StartStopsWithContext(t *testing.T) {
	a := New()
	require.NoError(t, a.RegisterAgent(echoAgent(t, "writer")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

type fakeMail struct {
	mu   sync.Mutex
	sent []mail.Outgoing
}

func (f *fakeMail) Search(_ context.Context, query string, _ int) ([]mail.Email, error) {
	return []mail.Email{{ID: "m1", Subject: "Lunch", From: "bob@example.com"}}, nil
}

func (f *fakeMail) Read(_ context.Context, id string) (mail.Email, error) {
	return mail.Email{ID: id, Subject: "Lunch", Body: "Noon?"}, nil
}

func (f *fakeMail) Send(_ context.Context, msg mail.Outgoing) (mail.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return mail.Receipt{MessageID: "sent-1"}, nil
}

func (f *fakeMail) Labels(context.Context) ([]mail.Label, error) {
	return []mail.Label{{ID: "INBOX", Name: "INBOX", Type: "system"}}, nil
}

func mockConfig() config.Config {
	cfg := config.Default()
	cfg.Model.Provider = "mock"
	return cfg
}

func TestFromConfig_MockProvider(t *testing.T) {
	cfg := mockConfig()
	a, err := FromConfig(cfg)
	require.NoError(t, err)
	defer a.Close(context.Background())

	infos := a.Agents()
	require.Len(t, infos, 1)
	assert.Equal(t, "spartacus", infos[0].Name)
	assert.ElementsMatch(t, []string{core.FinalAnswerToolName, tool.GetStateToolName, tool.SetStateToolName}, infos[0].Tools)

	res, err := a.RunTurn(context.Background(), "spartacus", "s1", "ping")
	require.NoError(t, err)
	assert.Equal(t, "(mock) ping", res.FinalText)
}

func TestFromConfig_ToolSelection(t *testing.T) {
	cfg := mockConfig()
	cfg.Agents = append(cfg.Agents, config.AgentConfig{
		Name:          "reader",
		Tools:         []string{"search_email", "read_email"},
		MaxIterations: 5,
		ToolChoice:    string(model.ToolChoiceAuto),
	})

	a, err := FromConfig(cfg, func(o *BuildOptions) { o.MailClient = &fakeMail{} })
	require.NoError(t, err)
	defer a.Close(context.Background())

	infos := a.Agents()
	require.Len(t, infos, 2)
	assert.ElementsMatch(t, []string{"read_email", "search_email", core.FinalAnswerToolName}, infos[0].Tools)
	assert.Contains(t, infos[1].Tools, "send_email")
	assert.Contains(t, infos[1].Tools, "list_email_labels")
}

func TestFromConfig_UnknownTool(t *testing.T) {
	cfg := mockConfig()
	cfg.Agents[0].Tools = []string{"search_email", "launch_rockets"}

	_, err := FromConfig(cfg, func(o *BuildOptions) { o.MailClient = &fakeMail{} })
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown or unavailable tool "launch_rockets"`)

	cfg.Agents[0].Tools = []string{"search_email"}
	_, err = FromConfig(cfg)
	require.Error(t, err, "mail tools are unavailable without a mail client")
}

func TestFromConfig_InvalidConfig(t *testing.T) {
	cfg := mockConfig()
	cfg.Model.Provider = "llama"
	_, err := FromConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.provider")
}

func TestFromConfig_ConfirmerGatesSend(t *testing.T) {
	cfg := mockConfig()
	fm := &fakeMail{}

	m := model.NewMockModel("scripted", "mock")
	m.AddToolCalls(core.ToolCallRequest{
		ID:        "c1",
		Name:      "send_email",
		Arguments: `{"to":["bob@example.com"],"subject":"Hi","body":"Hello Bob"}`,
	})
	m.AddToolCalls(core.ToolCallRequest{
		ID:        "c2",
		Name:      core.FinalAnswerToolName,
		Arguments: `{"answer":"I did not send it."}`,
	})

	var asked []string
	confirmer := tool.ConfirmFunc(func(_ context.Context, call core.ToolCallRequest, _ map[string]any) (bool, error) {
		asked = append(asked, call.Name)
		return false, nil
	})

	a, err := FromConfig(cfg, func(o *BuildOptions) {
		o.Model = m
		o.MailClient = fm
		o.Confirmer = confirmer
	})
	require.NoError(t, err)
	defer a.Close(context.Background())

	res, err := a.RunTurn(context.Background(), "spartacus", "s1", "email bob")
	require.NoError(t, err)
	assert.Equal(t, "I did not send it.", res.FinalText)
	assert.Equal(t, []string{"send_email"}, asked)
	assert.Empty(t, fm.sent)
	require.Len(t, res.Trace, 1)
	assert.True(t, res.Trace[0].Result.IsError)
	assert.Contains(t, res.Trace[0].Result.Content, tool.CodeDeclined)
}

func TestFromConfig_ConfirmationDisabled(t *testing.T) {
	cfg := mockConfig()
	off := false
	cfg.Agents[0].ConfirmMutating = &off
	fm := &fakeMail{}

	m := model.NewMockModel("scripted", "mock")
	m.AddToolCalls(core.ToolCallRequest{
		ID:        "c1",
		Name:      "send_email",
		Arguments: `{"to":["bob@example.com"],"subject":"Hi","body":"Hello Bob"}`,
	})
	m.AddToolCalls(core.ToolCallRequest{
		ID:        "c2",
		Name:      core.FinalAnswerToolName,
		Arguments: `{"answer":"Sent."}`,
	})

	a, err := FromConfig(cfg, func(o *BuildOptions) {
		o.Model = m
		o.MailClient = fm
		o.Confirmer = tool.ConfirmFunc(func(context.Context, core.ToolCallRequest, map[string]any) (bool, error) {
			return false, errors.New("must not be asked")
		})
	})
	require.NoError(t, err)
	defer a.Close(context.Background())

	res, err := a.RunTurn(context.Background(), "spartacus", "s1", "email bob")
	require.NoError(t, err)
	assert.Equal(t, "Sent.", res.FinalText)
	require.Len(t, fm.sent, 1)
	assert.Equal(t, []string{"bob@example.com"}, fm.sent[0].To)
}

func TestFromConfig_SQLiteStore(t *testing.T) {
	cfg := mockConfig()
	cfg.Sessions.Store = "sqlite"
	cfg.Sessions.Path = t.TempDir() + "/sessions.db"
	ctx := context.Background()

	a, err := FromConfig(cfg)
	require.NoError(t, err)
	_, err = a.RunTurn(ctx, "spartacus", "s1", "remember me")
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	b, err := FromConfig(cfg)
	require.NoError(t, err)
	defer b.Close(ctx)

	sess, err := b.Session(ctx, "spartacus", "s1")
	require.NoError(t, err)
	require.Equal(t, 2, sess.Len())
	assert.Equal(t, "remember me", sess.Messages()[0].Content)
}

func TestFromConfig_EmptyToolListSelectsNone(t *testing.T) {
	cfg := mockConfig()
	cfg.Agents[0].Tools = []string{}

	a, err := FromConfig(cfg, func(o *BuildOptions) { o.MailClient = &fakeMail{} })
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.Equal(t, []string{core.FinalAnswerToolName}, a.Agents()[0].Tools)
}
