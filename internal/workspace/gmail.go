package workspace

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

// DefaultSearchLimit bounds search results when the caller gives no limit.
const DefaultSearchLimit = 20

// MessageSummary is a message as returned by a search.
type MessageSummary struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Subject  string   `json:"subject,omitempty"`
	Date     string   `json:"date,omitempty"`
	Snippet  string   `json:"snippet,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

// Message is a full message with its decoded text body.
type Message struct {
	MessageSummary
	Body string `json:"body"`
}

// EmailMessage is an outgoing email.
type EmailMessage struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	IsHTML  bool
}

var summaryHeaders = []string{"From", "To", "Subject", "Date"}

// SearchMessages returns the messages matching a Gmail search query.
func (c *Client) SearchMessages(ctx context.Context, query string, limit int64) ([]MessageSummary, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	res, err := c.gmail.Messages.List("me").Q(query).MaxResults(limit).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	out := make([]MessageSummary, 0, len(res.Messages))
	for _, m := range res.Messages {
		full, err := c.gmail.Messages.Get("me", m.Id).
			Format("metadata").
			MetadataHeaders(summaryHeaders...).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get message %s: %w", m.Id, err)
		}
		out = append(out, summarize(full))
	}
	return out, nil
}

// GetMessage retrieves one message including its text body.
func (c *Client) GetMessage(ctx context.Context, id string) (*Message, error) {
	if id == "" {
		return nil, fmt.Errorf("message id is required")
	}

	m, err := c.gmail.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return &Message{
		MessageSummary: summarize(m),
		Body:           textBody(m.Payload),
	}, nil
}

// SendMessage sends an email and returns the new message ID.
func (c *Client) SendMessage(ctx context.Context, msg EmailMessage) (string, error) {
	if len(msg.To) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}
	if msg.Subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if msg.Body == "" {
		return "", fmt.Errorf("body is required")
	}

	raw := base64.URLEncoding.EncodeToString([]byte(buildRFC2822(msg)))
	sent, err := c.gmail.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return sent.Id, nil
}

// ModifyLabels adds and removes labels on a message and returns the
// resulting label set.
func (c *Client) ModifyLabels(ctx context.Context, id string, add, remove []string) ([]string, error) {
	if id == "" {
		return nil, fmt.Errorf("message id is required")
	}
	if len(add) == 0 && len(remove) == 0 {
		return nil, fmt.Errorf("at least one label to add or remove is required")
	}

	m, err := c.gmail.Messages.Modify("me", id, &gmail.ModifyMessageRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to modify labels of %s: %w", id, err)
	}
	return m.LabelIds, nil
}

// TrashMessage moves a message to the trash.
func (c *Client) TrashMessage(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("message id is required")
	}
	if _, err := c.gmail.Messages.Trash("me", id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to trash message %s: %w", id, err)
	}
	return nil
}

func summarize(m *gmail.Message) MessageSummary {
	s := MessageSummary{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Snippet:  m.Snippet,
		Labels:   m.LabelIds,
	}
	if m.Payload == nil {
		return s
	}
	for _, h := range m.Payload.Headers {
		switch h.Name {
		case "From":
			s.From = h.Value
		case "To":
			s.To = h.Value
		case "Subject":
			s.Subject = h.Value
		case "Date":
			s.Date = h.Value
		}
	}
	return s
}

// textBody returns the first text/plain part, falling back to text/html.
func textBody(p *gmail.MessagePart) string {
	if p == nil {
		return ""
	}
	if body := findPart(p, "text/plain"); body != "" {
		return body
	}
	return findPart(p, "text/html")
}

func findPart(p *gmail.MessagePart, mimeType string) string {
	if strings.HasPrefix(p.MimeType, mimeType) && p.Body != nil && p.Body.Data != "" {
		return decodeBody(p.Body.Data)
	}
	for _, part := range p.Parts {
		if body := findPart(part, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func decodeBody(data string) string {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}

func buildRFC2822(msg EmailMessage) string {
	var b strings.Builder

	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	if len(msg.Cc) > 0 {
		b.WriteString("Cc: " + strings.Join(msg.Cc, ", ") + "\r\n")
	}
	if len(msg.Bcc) > 0 {
		b.WriteString("Bcc: " + strings.Join(msg.Bcc, ", ") + "\r\n")
	}
	b.WriteString("Subject: " + encodeRFC2047(msg.Subject) + "\r\n")
	if msg.IsHTML {
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	} else {
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n\r\n")
	b.WriteString(msg.Body)
	return b.String()
}

// encodeRFC2047 encodes non-ASCII header values such as subjects with umlauts.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}
