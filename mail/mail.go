// Package mail defines the mailbox collaborator used by the email tools and
// an implementation backed by a Gmail MCP server.
package mail

import (
	"context"
	"errors"
)

// Email is a message as returned by search (headers and snippet) or read
// (headers and body).
type Email struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
	Subject  string `json:"subject,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Date     string `json:"date,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
	Body     string `json:"body,omitempty"`
}

// Label is a mailbox label.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // system or user
}

// Outgoing is a message to send.
type Outgoing struct {
	To       []string `json:"to"`
	Cc       []string `json:"cc,omitempty"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	HTMLBody string   `json:"html_body,omitempty"`
}

// Validate checks that the message can be sent.
func (o Outgoing) Validate() error {
	if len(o.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	for _, to := range o.To {
		if to == "" {
			return errors.New("recipient address must not be empty")
		}
	}
	if o.Subject == "" && o.Body == "" && o.HTMLBody == "" {
		return errors.New("subject or body is required")
	}
	return nil
}

// Receipt confirms a sent message.
type Receipt struct {
	MessageID string `json:"message_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Client is the mailbox collaborator. Implementations must be safe for
// concurrent use.
type Client interface {
	Search(ctx context.Context, query string, maxResults int) ([]Email, error)
	Read(ctx context.Context, messageID string) (Email, error)
	Send(ctx context.Context, msg Outgoing) (Receipt, error)
	Labels(ctx context.Context) ([]Label, error)
}

// ErrNotConnected is returned by MCPClient calls after Close.
var ErrNotConnected = errors.New("mail server not connected")
