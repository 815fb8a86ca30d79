package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spartacus-desktop/spartacus/core"
)

// terminalConfirmer asks on the terminal before a mutating tool runs.
// Anything but y or yes declines.
type terminalConfirmer struct {
	mu  sync.Mutex
	in  *lineReader
	out io.Writer
}

func newTerminalConfirmer(in *lineReader, out io.Writer) *terminalConfirmer {
	return &terminalConfirmer{in: in, out: out}
}

func (c *terminalConfirmer) Confirm(ctx context.Context, call core.ToolCallRequest, args map[string]any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\nThe assistant wants to run %s:\n", call.Name)
	if pretty, err := json.MarshalIndent(args, "  ", "  "); err == nil {
		fmt.Fprintf(c.out, "  %s\n", pretty)
	}
	fmt.Fprint(c.out, "Allow? [y/N] ")

	line, err := c.in.ReadLine(ctx)
	if err != nil {
		fmt.Fprintln(c.out)
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
