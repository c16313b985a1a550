package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/agentd/internal/tasks"
)

// upsertTask writes one task row. The full record lands in the JSONB
// column; the extracted columns exist for SQL filtering only.
func (m *Mirror) upsertTask(ctx context.Context, t *tasks.Task) error {
	record, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO tasks (id, parent_id, title, status, priority, record, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   parent_id  = EXCLUDED.parent_id,
		   title      = EXCLUDED.title,
		   status     = EXCLUDED.status,
		   priority   = EXCLUDED.priority,
		   record     = EXCLUDED.record,
		   updated_at = EXCLUDED.updated_at`,
		t.ID, t.ParentID, t.Title, string(t.Status), string(t.Priority),
		record, t.CreatedAt, t.UpdatedAt,
	)
	return err
}
