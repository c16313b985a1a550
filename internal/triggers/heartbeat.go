package triggers

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/bus"
)

// ChecklistFileName is the heartbeat checklist, relative to the
// workspace root.
const ChecklistFileName = "HEARTBEAT.md"

// Heartbeat periodically reads the checklist and publishes a
// heartbeat event when any item is unchecked. The session loop answers
// in heartbeat mode and stays silent when there is nothing to do.
type Heartbeat struct {
	path     string
	interval time.Duration
	channel  string
	events   bus.EventPublisher
}

func NewHeartbeat(path string, interval time.Duration, channel string, events bus.EventPublisher) *Heartbeat {
	return &Heartbeat{path: path, interval: interval, channel: channel, events: events}
}

// Run ticks until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	slog.Info("heartbeat.started", "interval", h.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			items := UncheckedItems(h.path)
			if len(items) == 0 {
				continue
			}
			slog.Debug("heartbeat.tick", "unchecked", len(items))
			h.events.Broadcast(bus.Event{Name: "heartbeat.tick", Payload: map[string]any{
				"items":   items,
				"channel": h.channel,
			}})
		}
	}
}

// UncheckedItems returns the unchecked checklist entries from a
// markdown file. A missing file means nothing to do.
func UncheckedItems(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var items []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "- [ ]"); ok {
			if item := strings.TrimSpace(rest); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}
