package database

import (
	"context"
	"encoding/json"
	"fmt"

	"callguard/internal/domain/models"
	"callguard/internal/domain/services"
	"callguard/pkg/logger"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS call_history (
    call_id     TEXT PRIMARY KEY,
    from_number TEXT NOT NULL,
    to_number   TEXT NOT NULL,
    status      TEXT NOT NULL,
    risk_level  TEXT,
    risk_score  DOUBLE PRECISION,
    started_at  TIMESTAMPTZ NOT NULL,
    ended_at    TIMESTAMPTZ,
    session     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_history_from ON call_history (from_number);
CREATE INDEX IF NOT EXISTS idx_call_history_started ON call_history (started_at DESC);
`

// HistoryRepository persists finished call sessions as JSONB rows
// with a few indexed columns for filtering
type HistoryRepository struct {
	db     *PostgresDB
	logger *logger.Logger
}

func NewHistoryRepository(ctx context.Context, db *PostgresDB, log *logger.Logger) (*HistoryRepository, error) {
	if _, err := db.Pool().Exec(ctx, historySchema); err != nil {
		return nil, fmt.Errorf("failed to ensure history schema: %w", err)
	}
	return &HistoryRepository{
		db:     db,
		logger: log.WithComponent("history-repository"),
	}, nil
}

// Save upserts a finished session
func (r *HistoryRepository) Save(ctx context.Context, session *models.CallSession) error {
	blob, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	var level *string
	var score *float64
	if session.Assessment != nil {
		l := string(session.Assessment.Level)
		level = &l
		score = &session.Assessment.Score
	}

	_, err = r.db.Pool().Exec(ctx, `
		INSERT INTO call_history (call_id, from_number, to_number, status, risk_level, risk_score, started_at, ended_at, session)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (call_id) DO UPDATE SET
			status = EXCLUDED.status,
			risk_level = EXCLUDED.risk_level,
			risk_score = EXCLUDED.risk_score,
			ended_at = EXCLUDED.ended_at,
			session = EXCLUDED.session`,
		session.CallID, session.From, session.To, string(session.Status),
		level, score, session.StartedAt, session.EndedAt, blob,
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.CallID, err)
	}
	return nil
}

// Find returns finished sessions matching the filter, newest first
func (r *HistoryRepository) Find(ctx context.Context, filter services.HistoryFilter) ([]*models.CallSession, error) {
	query := `SELECT session FROM call_history WHERE 1=1`
	var args []any

	if filter.Number != "" {
		args = append(args, filter.Number)
		query += fmt.Sprintf(" AND from_number = $%d", len(args))
	}
	if filter.MinLevel != "" {
		// risk levels are totally ordered; enumerate the acceptable set
		levels := levelsAtLeast(filter.MinLevel)
		args = append(args, levels)
		query += fmt.Sprintf(" AND risk_level = ANY($%d)", len(args))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []*models.CallSession
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		var session models.CallSession
		if err := json.Unmarshal(blob, &session); err != nil {
			r.logger.Warn().Err(err).Msg("skipping undecodable history row")
			continue
		}
		out = append(out, &session)
	}
	return out, rows.Err()
}

func levelsAtLeast(min models.RiskLevel) []string {
	all := []models.RiskLevel{
		models.RiskSafe, models.RiskLow, models.RiskMedium,
		models.RiskHigh, models.RiskCritical, models.RiskMaximum,
	}
	var out []string
	for _, l := range all {
		if l.AtLeast(min) {
			out = append(out, string(l))
		}
	}
	return out
}
