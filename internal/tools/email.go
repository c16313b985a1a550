package tools

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/settings"
)

const emailReadDefaultLimit = 10

// EmailSendTool sends mail over SMTP using the configured account.
type EmailSendTool struct {
	settings *settings.Manager
}

func NewEmailSendTool(st *settings.Manager) *EmailSendTool {
	return &EmailSendTool{settings: st}
}

func (t *EmailSendTool) Definition() Definition {
	return Definition{
		Name:        "email_send",
		Description: "Send an email from the configured account",
		Category:    settings.CategoryEmail,
		Parameters: objectSchema([]string{"to", "subject", "body"}, map[string]any{
			"to":      prop("string", "Recipient address"),
			"subject": prop("string", "Subject line"),
			"body":    prop("string", "Plain-text message body"),
		}),
	}
}

func (t *EmailSendTool) Execute(ctx context.Context, args map[string]any) *Result {
	to, _ := args["to"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)
	if to == "" || subject == "" {
		return ErrorResult("Error: to and subject are required").
			WithError(guard.NewValidationError("to and subject are required"))
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		e := guard.NewSecurityError("header fields must not contain line breaks")
		return ErrorResult("Error: " + e.Error()).WithError(e)
	}

	creds := t.settings.Get().Integrations.Email
	if creds.SMTPHost == "" || creds.Username == "" || creds.Password == "" {
		return ErrorResult("Error: email is not configured (smtp_host, username, password required)")
	}

	from := creds.FromAddress
	if from == "" {
		from = creds.Username
	}
	port := creds.SMTPPort
	if port == 0 {
		port = 587
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", creds.SMTPHost, port)
	auth := smtp.PlainAuth("", creds.Username, creds.Password, creds.SMTPHost)
	if err := smtp.SendMail(addr, auth, from, []string{to}, []byte(msg.String())); err != nil {
		return ErrorResult(fmt.Sprintf("Error: send failed: %v", err))
	}
	return SilentResult(fmt.Sprintf("Email sent to %s: %s", to, subject))
}

// EmailReadTool fetches recent message summaries over IMAP.
type EmailReadTool struct {
	settings *settings.Manager
}

func NewEmailReadTool(st *settings.Manager) *EmailReadTool {
	return &EmailReadTool{settings: st}
}

func (t *EmailReadTool) Definition() Definition {
	return Definition{
		Name:        "email_read",
		Description: "List recent emails (sender, subject, date) from the configured inbox",
		Category:    settings.CategoryEmail,
		Parameters: objectSchema(nil, map[string]any{
			"folder": prop("string", "Mailbox folder (default INBOX)"),
			"limit":  prop("number", "Maximum messages to return (default 10)"),
			"unseen": prop("boolean", "Only unread messages"),
		}),
	}
}

func (t *EmailReadTool) Execute(ctx context.Context, args map[string]any) *Result {
	creds := t.settings.Get().Integrations.Email
	if creds.IMAPHost == "" || creds.Username == "" || creds.Password == "" {
		return ErrorResult("Error: email is not configured (imap_host, username, password required)")
	}

	folder, _ := args["folder"].(string)
	if folder == "" {
		folder = "INBOX"
	}
	limit := emailReadDefaultLimit
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}
	unseen, _ := args["unseen"].(bool)

	port := creds.IMAPPort
	if port == 0 {
		port = 993
	}
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", creds.IMAPHost, port), nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: IMAP connect failed: %v", err))
	}
	defer c.Logout()

	if err := c.Login(creds.Username, creds.Password); err != nil {
		return ErrorResult(fmt.Sprintf("Error: IMAP login failed: %v", err))
	}

	mbox, err := c.Select(folder, true)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: select %s failed: %v", folder, err))
	}
	if mbox.Messages == 0 {
		return SilentResult("Mailbox is empty.")
	}

	seqset := new(imap.SeqSet)
	if unseen {
		criteria := imap.NewSearchCriteria()
		criteria.WithoutFlags = []string{imap.SeenFlag}
		ids, err := c.Search(criteria)
		if err != nil {
			return ErrorResult(fmt.Sprintf("Error: search failed: %v", err))
		}
		if len(ids) == 0 {
			return SilentResult("No unread messages.")
		}
		if len(ids) > limit {
			ids = ids[len(ids)-limit:]
		}
		seqset.AddNum(ids...)
	} else {
		from := uint32(1)
		if mbox.Messages > uint32(limit) {
			from = mbox.Messages - uint32(limit) + 1
		}
		seqset.AddRange(from, mbox.Messages)
	}

	messages := make(chan *imap.Message, limit)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags}, messages)
	}()

	type summary struct {
		from    string
		subject string
		date    time.Time
		seen    bool
	}
	var rows []summary
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		s := summary{subject: msg.Envelope.Subject, date: msg.Envelope.Date}
		if len(msg.Envelope.From) > 0 {
			s.from = msg.Envelope.From[0].Address()
		}
		for _, f := range msg.Flags {
			if f == imap.SeenFlag {
				s.seen = true
				break
			}
		}
		rows = append(rows, s)
	}
	if err := <-done; err != nil {
		return ErrorResult(fmt.Sprintf("Error: fetch failed: %v", err))
	}
	if len(rows) == 0 {
		return SilentResult("No messages.")
	}

	var b strings.Builder
	// Newest first.
	for i := len(rows) - 1; i >= 0; i-- {
		s := rows[i]
		marker := " "
		if !s.seen {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s | %s | %s\n", marker, s.date.Format("2006-01-02 15:04"), s.from, s.subject)
	}

	out := strings.TrimRight(b.String(), "\n")
	if t.settings.Get().Security.InjectionGuard {
		out = guard.WrapUntrusted("email inbox "+folder, out)
	}
	return NewResult(out)
}
