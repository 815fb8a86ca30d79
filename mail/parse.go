package mail

import "strings"

// The Gmail MCP server answers with plain text blocks of "Key: value"
// header lines. Search results are separated by blank lines; a read result
// has headers, a blank line and the body.

func parseSearch(text string) []Email {
	var emails []Email
	for _, block := range strings.Split(strings.TrimSpace(text), "\n\n") {
		var e Email
		for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
			applyHeader(&e, line)
		}
		if e.ID != "" {
			emails = append(emails, e)
		}
	}
	return emails
}

func parseEmail(text string) Email {
	var (
		e    Email
		body []string
		done bool
	)
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if done {
			body = append(body, line)
			continue
		}
		if strings.TrimSpace(line) == "" {
			done = true
			continue
		}
		applyHeader(&e, line)
	}
	e.Body = strings.TrimSpace(strings.Join(body, "\n"))
	return e
}

func applyHeader(e *Email, line string) {
	key, value, ok := strings.Cut(line, ": ")
	if !ok {
		return
	}
	value = strings.TrimSpace(value)
	switch key {
	case "ID":
		e.ID = value
	case "Thread ID":
		e.ThreadID = value
	case "Subject":
		e.Subject = value
	case "From":
		e.From = value
	case "To":
		e.To = value
	case "Date":
		e.Date = value
	case "Snippet":
		e.Snippet = value
	}
}

var systemLabels = map[string]bool{
	"INBOX": true, "SENT": true, "DRAFT": true, "TRASH": true, "SPAM": true,
	"IMPORTANT": true, "STARRED": true, "UNREAD": true, "CHAT": true,
}

func parseLabels(text string) []Label {
	var (
		labels []Label
		cur    *Label
	)
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ": ")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "ID":
			labels = append(labels, Label{ID: value})
			cur = &labels[len(labels)-1]
		case "Name":
			if cur != nil {
				cur.Name = value
			}
		case "Type":
			if cur != nil {
				cur.Type = value
			}
		}
	}

	for i := range labels {
		l := &labels[i]
		if l.Name == "" {
			l.Name = l.ID
		}
		if l.Type == "" {
			if systemLabels[l.ID] || strings.HasPrefix(l.ID, "CATEGORY_") {
				l.Type = "system"
			} else {
				l.Type = "user"
			}
		}
	}
	return labels
}

// parseReceipt extracts the message id from a send confirmation such as
// "Email sent successfully with ID: 18c2f".
func parseReceipt(text string) Receipt {
	r := Receipt{Detail: strings.TrimSpace(text)}
	if i := strings.LastIndex(text, "ID: "); i >= 0 {
		r.MessageID = strings.TrimSpace(strings.SplitN(text[i+4:], "\n", 2)[0])
	}
	return r
}
