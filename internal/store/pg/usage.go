package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/costs"
)

func (m *Mirror) upsertUsage(ctx context.Context, day costs.DailyUsage) error {
	models, err := json.Marshal(day.Models)
	if err != nil {
		return fmt.Errorf("marshal usage %s: %w", day.Date, err)
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO daily_usage (date, input_tokens, output_tokens, cost, call_count, models, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (date) DO UPDATE SET
		   input_tokens  = EXCLUDED.input_tokens,
		   output_tokens = EXCLUDED.output_tokens,
		   cost          = EXCLUDED.cost,
		   call_count    = EXCLUDED.call_count,
		   models        = EXCLUDED.models,
		   updated_at    = EXCLUDED.updated_at`,
		day.Date, day.InputTokens, day.OutputTokens, day.Cost, day.CallCount,
		models, time.Now(),
	)
	return err
}
