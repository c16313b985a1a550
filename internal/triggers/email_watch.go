package triggers

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/nextlevelbuilder/agentd/internal/settings"
)

// EmailEvent is one new inbox message matching a watch trigger.
type EmailEvent struct {
	UID     uint32    `json:"uid"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
}

// pollInbox fetches unseen INBOX messages above the trigger's UID
// watermark and applies the from/subject substring filters. Returns the
// matches and the highest UID seen (watermark advance covers even
// non-matching mail so it is never re-examined).
func pollInbox(creds settings.EmailIntegration, fromFilter, subjectFilter string, lastUID uint32) ([]EmailEvent, uint32, error) {
	if creds.IMAPHost == "" || creds.Username == "" {
		return nil, lastUID, fmt.Errorf("email watch requires IMAP credentials in settings")
	}
	port := creds.IMAPPort
	if port == 0 {
		port = 993
	}

	c, err := client.DialTLS(fmt.Sprintf("%s:%d", creds.IMAPHost, port), nil)
	if err != nil {
		return nil, lastUID, fmt.Errorf("imap dial: %w", err)
	}
	defer c.Logout()

	if err := c.Login(creds.Username, creds.Password); err != nil {
		return nil, lastUID, fmt.Errorf("imap login: %w", err)
	}
	folder := creds.WatchFolder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, true); err != nil {
		return nil, lastUID, fmt.Errorf("imap select: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, lastUID, fmt.Errorf("imap search: %w", err)
	}

	var fresh []uint32
	for _, uid := range uids {
		if uid > lastUID {
			fresh = append(fresh, uid)
		}
	}
	if len(fresh) == 0 {
		return nil, lastUID, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(fresh...)
	messages := make(chan *imap.Message, len(fresh))
	if err := c.UidFetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, messages); err != nil {
		return nil, lastUID, fmt.Errorf("imap fetch: %w", err)
	}

	highest := lastUID
	var out []EmailEvent
	for msg := range messages {
		if msg.Uid > highest {
			highest = msg.Uid
		}
		if msg.Envelope == nil {
			continue
		}
		ev := EmailEvent{
			UID:     msg.Uid,
			From:    envelopeFrom(msg.Envelope),
			Subject: msg.Envelope.Subject,
			Date:    msg.Envelope.Date,
		}
		if matchesEmailFilters(ev, fromFilter, subjectFilter) {
			out = append(out, ev)
		}
	}
	return out, highest, nil
}

func envelopeFrom(env *imap.Envelope) string {
	if len(env.From) == 0 {
		return ""
	}
	return env.From[0].Address()
}

// matchesEmailFilters applies case-insensitive substring filters; an
// empty filter matches everything.
func matchesEmailFilters(ev EmailEvent, fromFilter, subjectFilter string) bool {
	if fromFilter != "" && !strings.Contains(strings.ToLower(ev.From), strings.ToLower(fromFilter)) {
		return false
	}
	if subjectFilter != "" && !strings.Contains(strings.ToLower(ev.Subject), strings.ToLower(subjectFilter)) {
		return false
	}
	return true
}
