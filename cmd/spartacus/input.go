package main

import (
	"bufio"
	"context"
	"io"
)

// lineReader owns the terminal input. A single goroutine reads lines and
// hands each one to whichever caller asks next, so a prompt that gives up
// never swallows the following line.
type lineReader struct {
	lines chan string
	err   error // set before lines is closed
}

func newLineReader(r io.Reader) *lineReader {
	l := &lineReader{lines: make(chan string)}
	go l.loop(bufio.NewReader(r))
	return l
}

func (l *lineReader) loop(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			l.lines <- line
		}
		if err != nil {
			l.err = err
			close(l.lines)
			return
		}
	}
}

// ReadLine returns the next line including its newline. After the input
// ends it returns the read error, io.EOF for a clean end.
func (l *lineReader) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-l.lines:
		if !ok {
			return "", l.err
		}
		return line, nil
	}
}
