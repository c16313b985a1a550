package triggers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/settings"
)

const (
	// watchSyncInterval is how often the file watcher reconciles its
	// watch set against the registry.
	watchSyncInterval = 30 * time.Second

	defaultPollMinutes = 15

	calendarFetchTimeout = 15 * time.Second

	maxCalendarBody = 5 << 20
)

// Engine drives every trigger type except webhooks (those are pushed
// by the webhook server) and publishes trigger-fired events.
type Engine struct {
	registry  *Registry
	events    bus.EventPublisher
	settings  *settings.Manager
	workspace string
	client    *http.Client

	gron *gronx.Gronx
	wg   sync.WaitGroup
}

func NewEngine(reg *Registry, events bus.EventPublisher, st *settings.Manager, workspace string) *Engine {
	return &Engine{
		registry:  reg,
		events:    events,
		settings:  st,
		workspace: workspace,
		client:    &http.Client{Timeout: calendarFetchTimeout},
		gron:      gronx.New(),
	}
}

// Run starts the cron, file-watch, calendar, and email loops and
// blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.wg.Add(4)
	go func() { defer e.wg.Done(); e.cronLoop(ctx) }()
	go func() { defer e.wg.Done(); e.watchLoop(ctx) }()
	go func() { defer e.wg.Done(); e.pollLoop(ctx, TypeCalendar, e.pollCalendar) }()
	go func() { defer e.wg.Done(); e.pollLoop(ctx, TypeEmailWatch, e.pollEmail) }()
	e.wg.Wait()
}

// Fire records the firing and publishes the event the session loop
// consumes in trigger mode.
func (e *Engine) Fire(t *Trigger, payload map[string]any) {
	if err := e.registry.MarkFired(t.ID); err != nil {
		slog.Warn("triggers.mark_fired_failed", "trigger", t.ID, "error", err)
	}
	slog.Info("triggers.fired", "trigger", t.Name, "type", t.Type)
	e.events.Broadcast(bus.Event{Name: "trigger.fired", Payload: map[string]any{
		"trigger_id":   t.ID,
		"trigger_name": t.Name,
		"trigger_type": string(t.Type),
		"action_kind":  string(t.Action.Kind),
		"action":       t.Action.Content,
		"channel":      t.Action.Channel,
		"user_id":      t.Action.UserID,
		"event":        payload,
	}})
}

// cronLoop evaluates cron expressions once per minute.
func (e *Engine) cronLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, t := range e.registry.ListEnabled(TypeCron) {
				expr, _ := t.Config["expression"].(string)
				due, err := e.gron.IsDue(expr, now)
				if err != nil {
					slog.Warn("triggers.cron_eval_failed", "trigger", t.ID, "error", err)
					continue
				}
				if due {
					e.Fire(t, map[string]any{"expression": expr, "at": now.Format(time.RFC3339)})
				}
			}
		}
	}
}

// watchLoop owns one fsnotify watcher and reconciles its directory set
// with the registry every watchSyncInterval.
func (e *Engine) watchLoop(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("triggers.watcher_init_failed", "error", err)
		return
	}
	defer watcher.Close()

	watched := map[string]bool{}
	e.syncWatches(watcher, watched)

	sync := time.NewTicker(watchSyncInterval)
	defer sync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sync.C:
			e.syncWatches(watcher, watched)
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			// New directories join the recursive watch immediately.
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := watcher.Add(ev.Name); err == nil {
						watched[ev.Name] = true
					}
				}
			}
			e.dispatchFileEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("triggers.watch_error", "error", err)
		}
	}
}

// syncWatches adds directory trees for enabled file_watch triggers.
// Paths are jailed to the workspace.
func (e *Engine) syncWatches(watcher *fsnotify.Watcher, watched map[string]bool) {
	want := map[string]bool{}
	for _, t := range e.registry.ListEnabled(TypeFileWatch) {
		raw, _ := t.Config["path"].(string)
		root, err := guard.SafePath(e.workspace, raw)
		if err != nil {
			slog.Warn("triggers.watch_path_rejected", "trigger", t.ID, "path", raw, "error", err)
			continue
		}
		filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			want[p] = true
			return nil
		})
	}
	for dir := range want {
		if !watched[dir] {
			if err := watcher.Add(dir); err == nil {
				watched[dir] = true
			}
		}
	}
	for dir := range watched {
		if !want[dir] {
			watcher.Remove(dir)
			delete(watched, dir)
		}
	}
}

// dispatchFileEvent fires every file_watch trigger whose root contains
// the event path and whose filename pattern matches.
func (e *Engine) dispatchFileEvent(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	for _, t := range e.registry.ListEnabled(TypeFileWatch) {
		raw, _ := t.Config["path"].(string)
		root, err := guard.SafePath(e.workspace, raw)
		if err != nil || !strings.HasPrefix(ev.Name, root) {
			continue
		}
		if pattern, _ := t.Config["pattern"].(string); pattern != "" {
			re, err := regexp.Compile(pattern)
			if err != nil || !re.MatchString(name) {
				continue
			}
		}
		e.Fire(t, map[string]any{
			"eventType": ev.Op.String(),
			"filename":  name,
			"path":      ev.Name,
		})
	}
}

// pollLoop runs per-trigger polling on a shared minute tick, honoring
// each trigger's poll_minutes interval via the last_poll state.
func (e *Engine) pollLoop(ctx context.Context, typ Type, poll func(context.Context, *Trigger, time.Time)) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, t := range e.registry.ListEnabled(typ) {
				if !e.pollDue(t, now) {
					continue
				}
				poll(ctx, t, now)
				if err := e.registry.SetState(t.ID, "last_poll", now.Format(time.RFC3339)); err != nil {
					slog.Warn("triggers.state_persist_failed", "trigger", t.ID, "error", err)
				}
			}
		}
	}
}

func (e *Engine) pollDue(t *Trigger, now time.Time) bool {
	interval := pollInterval(t)
	last, _ := t.State["last_poll"].(string)
	if last == "" {
		return true
	}
	at, err := time.Parse(time.RFC3339, last)
	if err != nil {
		return true
	}
	return now.Sub(at) >= interval
}

func pollInterval(t *Trigger) time.Duration {
	minutes := defaultPollMinutes
	if m, ok := t.Config["poll_minutes"].(float64); ok && m >= 1 {
		minutes = int(m)
	}
	return time.Duration(minutes) * time.Minute
}

// pollCalendar fetches the iCal feed and fires once per event whose
// start lies inside (lastPoll, now+interval].
func (e *Engine) pollCalendar(ctx context.Context, t *Trigger, now time.Time) {
	rawURL, _ := t.Config["url"].(string)
	if err := guard.ValidateURL(ctx, rawURL); err != nil {
		slog.Warn("triggers.calendar_url_rejected", "trigger", t.ID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return
	}
	resp, err := e.client.Do(req)
	if err != nil {
		slog.Warn("triggers.calendar_fetch_failed", "trigger", t.ID, "error", err)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCalendarBody))
	if err != nil {
		return
	}

	from := now.Add(-pollInterval(t))
	if last, ok := t.State["last_poll"].(string); ok {
		if at, err := time.Parse(time.RFC3339, last); err == nil {
			from = at
		}
	}
	until := now.Add(pollInterval(t))

	for _, ev := range eventsInWindow(parseICal(string(body)), from, until) {
		e.Fire(t, map[string]any{
			"summary":     ev.Summary,
			"description": ev.Description,
			"start":       ev.Start.Format(time.RFC3339),
			"end":         ev.End.Format(time.RFC3339),
		})
	}
}

// pollEmail checks the inbox for new mail past the UID watermark.
func (e *Engine) pollEmail(ctx context.Context, t *Trigger, now time.Time) {
	creds := e.settings.Get().Integrations.Email
	fromFilter, _ := t.Config["from"].(string)
	subjectFilter, _ := t.Config["subject"].(string)

	var lastUID uint32
	if v, ok := t.State["last_uid"].(float64); ok {
		lastUID = uint32(v)
	}

	events, highest, err := pollInbox(creds, fromFilter, subjectFilter, lastUID)
	if err != nil {
		slog.Warn("triggers.email_poll_failed", "trigger", t.ID, "error", err)
		return
	}
	if highest > lastUID {
		if err := e.registry.SetState(t.ID, "last_uid", float64(highest)); err != nil {
			slog.Warn("triggers.state_persist_failed", "trigger", t.ID, "error", err)
		}
	}
	for _, ev := range events {
		e.Fire(t, map[string]any{
			"uid":     ev.UID,
			"from":    ev.From,
			"subject": ev.Subject,
			"date":    ev.Date.Format(time.RFC3339),
		})
	}
}
