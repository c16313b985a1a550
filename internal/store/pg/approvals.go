package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/agentd/internal/approvals"
)

func (m *Mirror) upsertApproval(ctx context.Context, req *approvals.Request) error {
	record, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal approval %s: %w", req.ID, err)
	}
	var resolvedAt sql.NullTime
	if req.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *req.ResolvedAt, Valid: true}
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO approvals (id, task_id, tool, risk, status, record, created_at, expires_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   status      = EXCLUDED.status,
		   record      = EXCLUDED.record,
		   resolved_at = EXCLUDED.resolved_at`,
		req.ID, req.TaskID, req.Action.Tool, string(req.Risk), string(req.Status),
		record, req.CreatedAt, req.ExpiresAt, resolvedAt,
	)
	return err
}
