// Package mailtool provides the email tools: search_email, read_email,
// send_email and list_email_labels. Each requires the mail.Client
// collaborator registered under ClientKey.
package mailtool

import (
	"context"
	"fmt"
	"strings"

	"github.com/spartacus-desktop/spartacus/mail"
	"github.com/spartacus-desktop/spartacus/tool"
)

// ClientKey is the collaborator key of the mail.Client.
const ClientKey tool.Key = "mail.client"

// searchPreview is how many search hits are rendered in full.
const searchPreview = 3

// All returns every email tool.
func All() []tool.Tool {
	return []tool.Tool{NewSearch(), NewRead(), NewSend(), NewLabels()}
}

// mailTool implements tool.Tool for a typed argument struct bound to the
// mail client.
type mailTool[A any] struct {
	name        string
	description string
	capability  tool.Capability
	parameters  map[string]any
	run         func(ctx context.Context, client mail.Client, args A) (any, error)
}

func newMailTool[A any](name, description string, capability tool.Capability, run func(ctx context.Context, client mail.Client, args A) (any, error)) *mailTool[A] {
	schema, err := tool.ReflectSchema[A]()
	if err != nil {
		// Argument types are static; reflection cannot fail for them.
		panic(fmt.Sprintf("mailtool: reflect schema for %s: %v", name, err))
	}
	return &mailTool[A]{name: name, description: description, capability: capability, parameters: schema, run: run}
}

func (t *mailTool[A]) Name() string                { return t.name }
func (t *mailTool[A]) Description() string         { return t.description }
func (t *mailTool[A]) Parameters() map[string]any  { return t.parameters }
func (t *mailTool[A]) Capability() tool.Capability { return t.capability }
func (t *mailTool[A]) Requires() []tool.Key        { return []tool.Key{ClientKey} }

func (t *mailTool[A]) Bind(deps tool.Deps) (tool.ExecuteFunc, error) {
	client, err := tool.Lookup[mail.Client](deps, ClientKey)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, raw map[string]any) (any, error) {
		var args A
		if err := tool.DecodeArgs(raw, &args); err != nil {
			return nil, tool.NewToolError(t.name, err.Error(), tool.CodeInvalidArguments)
		}
		return t.run(ctx, client, args)
	}, nil
}

// SearchArgs are the arguments of search_email.
type SearchArgs struct {
	Query      string `json:"query" jsonschema:"required,description=Gmail search query such as 'from:john@example.com after:2024/01/01' or 'is:unread'"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of results to return (default 10)"`
}

// NewSearch returns the search_email tool.
func NewSearch() tool.Tool {
	return newMailTool("search_email",
		"Search emails using Gmail search syntax. Returns subject, sender, date and message ID of the first matches.",
		tool.ReadOnly,
		func(ctx context.Context, client mail.Client, args SearchArgs) (any, error) {
			limit := args.MaxResults
			if limit <= 0 {
				limit = 10
			}
			emails, err := client.Search(ctx, args.Query, limit)
			if err != nil {
				return nil, fmt.Errorf("search emails: %w", err)
			}
			return renderSearch(args.Query, emails), nil
		})
}

func renderSearch(query string, emails []mail.Email) string {
	if len(emails) == 0 {
		return "No emails found for query: " + query
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d emails for query: %s\n\n", len(emails), query)
	for i, e := range emails {
		if i == searchPreview {
			break
		}
		fmt.Fprintf(&b, "%d. Subject: %s\n", i+1, orDefault(e.Subject, "No subject"))
		fmt.Fprintf(&b, "   From: %s\n", orDefault(e.From, "Unknown"))
		fmt.Fprintf(&b, "   Date: %s\n", orDefault(e.Date, "Unknown"))
		fmt.Fprintf(&b, "   ID: %s\n\n", e.ID)
	}
	if len(emails) > searchPreview {
		fmt.Fprintf(&b, "... and %d more emails", len(emails)-searchPreview)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ReadArgs are the arguments of read_email.
type ReadArgs struct {
	MessageID string `json:"message_id" jsonschema:"required,description=Gmail message ID as returned by search_email"`
}

// NewRead returns the read_email tool.
func NewRead() tool.Tool {
	return newMailTool("read_email",
		"Read a specific email by its message ID, including the body.",
		tool.ReadOnly,
		func(ctx context.Context, client mail.Client, args ReadArgs) (any, error) {
			e, err := client.Read(ctx, args.MessageID)
			if err != nil {
				return nil, fmt.Errorf("read email: %w", err)
			}

			var b strings.Builder
			b.WriteString("Email Details:\n")
			fmt.Fprintf(&b, "Subject: %s\n", orDefault(e.Subject, "No subject"))
			fmt.Fprintf(&b, "From: %s\n", orDefault(e.From, "Unknown"))
			fmt.Fprintf(&b, "To: %s\n", orDefault(e.To, "Unknown"))
			fmt.Fprintf(&b, "Date: %s\n\n", orDefault(e.Date, "Unknown"))
			fmt.Fprintf(&b, "Content:\n%s", orDefault(e.Body, "No content"))
			return b.String(), nil
		})
}

// SendArgs are the arguments of send_email.
type SendArgs struct {
	To       []string `json:"to" jsonschema:"required,description=Recipient email addresses"`
	Subject  string   `json:"subject" jsonschema:"required,description=Email subject line"`
	Body     string   `json:"body" jsonschema:"required,description=Email body (plain text)"`
	HTMLBody string   `json:"html_body,omitempty" jsonschema:"description=Email body in HTML format (optional)"`
	Cc       []string `json:"cc,omitempty" jsonschema:"description=CC email addresses (optional)"`
}

// NewSend returns the send_email tool.
func NewSend() tool.Tool {
	return newMailTool("send_email",
		"Send an email. This sends real mail on the user's behalf.",
		tool.Mutating,
		func(ctx context.Context, client mail.Client, args SendArgs) (any, error) {
			msg := mail.Outgoing{To: args.To, Cc: args.Cc, Subject: args.Subject, Body: args.Body, HTMLBody: args.HTMLBody}
			if err := msg.Validate(); err != nil {
				return nil, tool.NewToolError("send_email", err.Error(), tool.CodeInvalidArguments)
			}
			receipt, err := client.Send(ctx, msg)
			if err != nil {
				return nil, fmt.Errorf("send email: %w", err)
			}
			text := "Email sent successfully to " + strings.Join(args.To, ", ")
			if receipt.MessageID != "" {
				text += " (message ID " + receipt.MessageID + ")"
			}
			return text, nil
		})
}

// LabelsArgs is the empty argument object of list_email_labels.
type LabelsArgs struct{}

// NewLabels returns the list_email_labels tool.
func NewLabels() tool.Tool {
	return newMailTool("list_email_labels",
		"List the mailbox labels (folders) that can be used in search queries with label:NAME.",
		tool.ReadOnly,
		func(ctx context.Context, client mail.Client, _ LabelsArgs) (any, error) {
			labels, err := client.Labels(ctx)
			if err != nil {
				return nil, fmt.Errorf("list labels: %w", err)
			}
			if len(labels) == 0 {
				return "No labels found.", nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Found %d labels:\n", len(labels))
			for _, l := range labels {
				fmt.Fprintf(&b, "- %s (%s, id %s)\n", l.Name, l.Type, l.ID)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		})
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
