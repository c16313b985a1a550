package pg

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/approvals"
	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/costs"
	"github.com/nextlevelbuilder/agentd/internal/tasks"
)

const (
	sweepInterval = time.Minute
	// sweepSlack re-reads records mutated just before the previous
	// sweep's cutoff, so a write racing the sweep is never skipped.
	sweepSlack   = 5 * time.Second
	queueSize    = 256
	usageHistory = 7
	flushTimeout = 5 * time.Second
)

type jobKind int

const (
	jobTask jobKind = iota
	jobApproval
)

type job struct {
	kind jobKind
	id   string
}

// Mirror copies task, approval, and usage records into Postgres. Bus
// events trigger targeted upserts; a periodic sweep reconciles anything
// the queue dropped. Rows are never deleted, so the mirror doubles as
// an archive of work the file stores have since pruned.
type Mirror struct {
	db        *sql.DB
	tasks     *tasks.FileStore
	approvals *approvals.Broker
	costs     *costs.Tracker

	queue chan job

	// worker-goroutine only
	lastSweep time.Time
}

// NewMirror wires a mirror over an open database. All collaborators are
// required.
func NewMirror(db *sql.DB, store *tasks.FileStore, broker *approvals.Broker, tracker *costs.Tracker) *Mirror {
	return &Mirror{
		db:        db,
		tasks:     store,
		approvals: broker,
		costs:     tracker,
		queue:     make(chan job, queueSize),
	}
}

// Run mirrors until ctx is cancelled, then flushes one final sweep. The
// database handle is owned by the caller.
func (m *Mirror) Run(ctx context.Context, events bus.EventPublisher) error {
	events.Subscribe("pg-mirror", m.observe)
	defer events.Unsubscribe("pg-mirror")

	m.sweep(ctx)
	slog.Info("store.mirror_started")

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			m.sweep(flushCtx)
			cancel()
			slog.Info("store.mirror_stopped")
			return nil
		case j := <-m.queue:
			m.apply(ctx, j)
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// observe runs on the broadcaster's goroutine and must not block; a
// full queue drops the job and leaves it to the next sweep.
func (m *Mirror) observe(ev bus.Event) {
	var j job
	switch ev.Name {
	case "task.updated":
		j = job{kind: jobTask, id: eventID(ev)}
	case "approval.requested", "approval.resolved", "approval.expired":
		j = job{kind: jobApproval, id: eventID(ev)}
	default:
		return
	}
	if j.id == "" {
		return
	}
	select {
	case m.queue <- j:
	default:
		slog.Debug("store.mirror_backlog", "kind", ev.Name, "id", j.id)
	}
}

func (m *Mirror) apply(ctx context.Context, j job) {
	switch j.kind {
	case jobTask:
		t, err := m.tasks.Get(j.id)
		if err != nil {
			// Deleted between event and write; the row stays as archive.
			slog.Debug("store.mirror_task_gone", "id", j.id)
			return
		}
		if err := m.upsertTask(ctx, t); err != nil {
			slog.Warn("store.mirror_write_failed", "kind", "task", "id", j.id, "error", err)
		}
	case jobApproval:
		req, err := m.approvals.Get(j.id)
		if err != nil {
			slog.Debug("store.mirror_approval_gone", "id", j.id)
			return
		}
		if err := m.upsertApproval(ctx, req); err != nil {
			slog.Warn("store.mirror_write_failed", "kind", "approval", "id", j.id, "error", err)
		}
	}
}

// sweep reconciles everything changed since the last pass. The first
// sweep (and the one after a reconnect) copies the full stores.
func (m *Mirror) sweep(ctx context.Context) {
	start := time.Now()
	cutoff := m.lastSweep.Add(-sweepSlack)
	full := m.lastSweep.IsZero()

	var written, failed int
	for _, t := range m.tasks.List() {
		if !full && !t.UpdatedAt.After(cutoff) {
			continue
		}
		if err := m.upsertTask(ctx, t); err != nil {
			failed++
			continue
		}
		written++
	}
	for _, req := range m.approvals.List() {
		if !full && !approvalTouched(req, cutoff) {
			continue
		}
		if err := m.upsertApproval(ctx, req); err != nil {
			failed++
			continue
		}
		written++
	}
	for _, day := range m.costs.History(usageHistory) {
		if err := m.upsertUsage(ctx, day); err != nil {
			failed++
			continue
		}
		written++
	}

	if failed > 0 {
		slog.Warn("store.mirror_sweep_partial", "written", written, "failed", failed)
		// Keep the old cutoff so the failed records are retried.
		return
	}
	m.lastSweep = start
	if written > 0 {
		slog.Debug("store.mirror_sweep", "written", written, "took", time.Since(start))
	}
}

func approvalTouched(req *approvals.Request, cutoff time.Time) bool {
	if req.CreatedAt.After(cutoff) {
		return true
	}
	return req.ResolvedAt != nil && req.ResolvedAt.After(cutoff)
}

func eventID(ev bus.Event) string {
	payload, _ := ev.Payload.(map[string]any)
	id, _ := payload["id"].(string)
	return id
}
