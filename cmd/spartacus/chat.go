package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spartacus-desktop/spartacus"
	"github.com/spartacus-desktop/spartacus/core"
)

const (
	colorDim   = "\033[2m"
	colorGreen = "\033[38;2;16;185;129m"
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

const helpText = `Commands:
  /help             show this help
  /agent NAME       switch to another agent
  /agents           list agents
  /session ID       switch to another session
  /sessions         list live and stored sessions of the current agent
  /clear            empty the current conversation
  /forget           delete the current conversation, including its stored copy
  /stats            show session counters
  /exit             leave (also /quit or Ctrl-D)`

// repl is the interactive chat loop.
type repl struct {
	assistant *spartacus.Assistant
	agent     string
	session   string
	in        *lineReader
	out       io.Writer
	color     bool
}

func (r *repl) paint(color, s string) string {
	if !r.color {
		return s
	}
	return color + s + colorReset
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintf(r.out, "Spartacus (agent %s, session %s). Type /help for commands.\n", r.agent, r.session)

	for {
		fmt.Fprint(r.out, r.paint(colorGreen, "you> "))

		line, err := r.in.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, r.paint(colorRed, "error: "+err.Error()))
			}
			if done {
				return nil
			}
			continue
		}

		if err := r.turn(ctx, line); err != nil && ctx.Err() != nil {
			return nil
		}
	}
}

// command handles a slash command. It reports whether the REPL should end.
func (r *repl) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/agents":
		for _, info := range r.assistant.Agents() {
			marker := " "
			if info.Name == r.agent {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %s: %s\n", marker, info.Name, info.Description)
		}
	case "/agent":
		if arg == "" {
			return false, errors.New("usage: /agent NAME")
		}
		if _, err := r.assistant.Sessions(ctx, arg); err != nil {
			return false, err
		}
		r.agent = arg
		fmt.Fprintf(r.out, "Now talking to %s.\n", arg)
	case "/session":
		if arg == "" {
			return false, errors.New("usage: /session ID")
		}
		r.session = arg
		fmt.Fprintf(r.out, "Switched to session %s.\n", arg)
	case "/sessions":
		infos, err := r.assistant.Sessions(ctx, r.agent)
		if err != nil {
			return false, err
		}
		if len(infos) == 0 {
			fmt.Fprintln(r.out, "No sessions.")
		}
		for _, info := range infos {
			where := "stored"
			if info.Live {
				where = "live"
			}
			fmt.Fprintf(r.out, "%s  %d messages  %s  last active %s\n", info.ID, info.Messages, where, info.LastActiveAt.Local().Format("2006-01-02 15:04"))
		}
	case "/clear":
		if err := r.assistant.ClearHistory(ctx, r.agent, r.session); err != nil && !errors.Is(err, core.ErrSessionNotFound) {
			return false, err
		}
		fmt.Fprintln(r.out, "Conversation cleared.")
	case "/forget":
		if err := r.assistant.DeleteSession(ctx, r.agent, r.session); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Conversation deleted.")
	case "/stats":
		stats, err := r.assistant.Stats(ctx)
		if err != nil {
			return false, err
		}
		names := make([]string, 0, len(stats))
		for name := range stats {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := stats[name]
			fmt.Fprintf(r.out, "%s: %d sessions, %d running, %d messages, %d stored, %d evicted, %d purged\n",
				name, s.Active, s.Running, s.Messages, s.Stored, s.Evicted, s.Purged)
		}
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return false, nil
}

// turn streams one run to the terminal.
func (r *repl) turn(ctx context.Context, text string) error {
	events, err := r.assistant.RunTurnStream(ctx, r.agent, r.session, text)
	if err != nil {
		fmt.Fprintln(r.out, r.paint(colorRed, "error: "+err.Error()))
		return err
	}

	streamed := false
	for ev := range events {
		switch ev.Type {
		case core.EventTextDelta:
			if !streamed {
				fmt.Fprint(r.out, r.paint(colorGreen, "spartacus> "))
				streamed = true
			}
			fmt.Fprint(r.out, ev.Delta)
		case core.EventToolCallStarted:
			if ev.ToolCall.Name != core.FinalAnswerToolName {
				fmt.Fprintln(r.out, r.paint(colorDim, "  ["+ev.ToolCall.Name+"]"))
			}
		case core.EventToolCallFinished:
			if ev.Result != nil && ev.Result.IsError && ev.ToolCall.Name != core.FinalAnswerToolName {
				fmt.Fprintln(r.out, r.paint(colorDim, "  ["+ev.ToolCall.Name+" failed]"))
			}
		case core.EventTerminated:
			if streamed {
				fmt.Fprintln(r.out)
			}
			res := ev.Run
			if res == nil {
				continue
			}
			if !streamed || res.TerminatedReason != core.TerminatedTextResponse {
				color := colorGreen
				if res.TerminatedReason == core.TerminatedError {
					color = colorRed
				}
				fmt.Fprintln(r.out, r.paint(color, "spartacus> ")+res.FinalText)
			}
			if res.Err != nil {
				return res.Err
			}
		}
	}
	return nil
}

func joinWords(words []string) string {
	return strings.Join(words, " ")
}
