package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"study-flow-service/internal/domain"
)

// TelemetryRepository persists transcripts and test attempts as JSONB rows.
// Upserts are keyed on (user_id, stage/test key) so resubmitting the same
// attempt replaces the prior record instead of duplicating it.
type TelemetryRepository struct {
	pool *pgxpool.Pool
}

func NewTelemetryRepository(pool *pgxpool.Pool) *TelemetryRepository {
	return &TelemetryRepository{pool: pool}
}

func (r *TelemetryRepository) UpsertSession(ctx context.Context, record domain.TranscriptRecord) (domain.TranscriptRecord, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return domain.TranscriptRecord{}, fmt.Errorf("marshal session: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO sessions (user_id, stage_key, data, completed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, stage_key)
		DO UPDATE SET data = EXCLUDED.data, completed = EXCLUDED.completed, updated_at = now()`,
		record.UserID, record.StageKey, data, record.Completed)
	if err != nil {
		return domain.TranscriptRecord{}, fmt.Errorf("upsert session: %w", err)
	}
	return record, nil
}

func (r *TelemetryRepository) ListSessions(ctx context.Context, userID string) ([]domain.TranscriptRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT data FROM sessions WHERE user_id=$1 ORDER BY stage_key`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var records []domain.TranscriptRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var record domain.TranscriptRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// FinalizeSessions marks every open session for the participant completed.
// Already-completed rows are untouched, so repeated calls are no-ops.
func (r *TelemetryRepository) FinalizeSessions(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET completed = TRUE,
		    data = jsonb_set(data, '{completed}', 'true'),
		    updated_at = now()
		WHERE user_id=$1 AND completed = FALSE`, userID)
	if err != nil {
		return fmt.Errorf("finalize sessions: %w", err)
	}
	return nil
}

func (r *TelemetryRepository) UpsertAttempt(ctx context.Context, record domain.TestAttemptRecord) (domain.TestAttemptRecord, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return domain.TestAttemptRecord{}, fmt.Errorf("marshal attempt: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO test_attempts (user_id, test_type, score, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, test_type)
		DO UPDATE SET score = EXCLUDED.score, data = EXCLUDED.data, updated_at = now()`,
		record.UserID, string(record.TestType), record.Score, data)
	if err != nil {
		return domain.TestAttemptRecord{}, fmt.Errorf("upsert attempt: %w", err)
	}
	return record, nil
}
