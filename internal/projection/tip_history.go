package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TipHistoryEntry is one projected tip, newest first in query results.
type TipHistoryEntry struct {
	Sequence int64     `json:"sequence"`
	LogIndex int       `json:"log_index"`
	AgentID  string    `json:"agent_id"`
	Tipper   string    `json:"tipper"`
	Amount   string    `json:"amount"`
	Time     time.Time `json:"timestamp"`
}

// QueryByAgent returns up to limit tips for agentID with sequence below
// before (0 means from the newest).
func QueryByAgent(ctx context.Context, db *sql.DB, agentID string, before int64, limit int) ([]TipHistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, log_index, agent_id, tipper, amount::TEXT, ts
		FROM clawboard_tips
		WHERE agent_id = $1 AND ($2 = 0 OR sequence < $2)
		ORDER BY sequence DESC, log_index DESC
		LIMIT $3
	`, agentID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query tips: %w", err)
	}
	defer rows.Close()

	result := make([]TipHistoryEntry, 0)
	for rows.Next() {
		var e TipHistoryEntry
		if err := rows.Scan(&e.Sequence, &e.LogIndex, &e.AgentID, &e.Tipper, &e.Amount, &e.Time); err != nil {
			return nil, err
		}
		e.Time = e.Time.UTC()
		result = append(result, e)
	}
	return result, rows.Err()
}
