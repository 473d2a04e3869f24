package storage

import (
	"context"
	"fmt"
	"time"

	"guardacademy.io/guardacademy/internal/scoring"
	"guardacademy.io/guardacademy/internal/session"
)

// ============================================================
// Session records
// ============================================================

// SessionRecord is the durable summary of one completed session. Full
// transcripts are not persisted; the record carries what reporting and
// adaptation need.
type SessionRecord struct {
	ID         string             `json:"id"`
	UserID     string             `json:"user_id"`
	ThreatType session.ThreatType `json:"threat_type"`
	PatternID  string             `json:"pattern_id"`
	Difficulty int                `json:"difficulty"`

	// Score is nil for sessions closed without any decisions.
	Score     *float64          `json:"score,omitempty"`
	RiskLevel scoring.RiskLevel `json:"risk_level"`
	Decisions int               `json:"decisions"`
	HintsUsed int               `json:"hints_used"`

	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
}

// AppendSessionRecord stores a completed session's summary.
func (d *DB) AppendSessionRecord(ctx context.Context, rec SessionRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO session_records (
			id, user_id, threat_type, pattern_id, difficulty, score,
			risk_level, decisions, hints_used, duration_ms, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, string(rec.ThreatType), rec.PatternID, rec.Difficulty,
		rec.Score, string(rec.RiskLevel), rec.Decisions, rec.HintsUsed,
		rec.Duration.Milliseconds(), rec.StartedAt, rec.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to append session record: %w", err)
	}

	return nil
}

// ListSessionRecords returns a user's records, most recent first.
func (d *DB) ListSessionRecords(ctx context.Context, userID string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, threat_type, pattern_id, difficulty, score,
		       risk_level, decisions, hints_used, duration_ms, started_at, ended_at
		FROM session_records
		WHERE user_id = ?
		ORDER BY ended_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var (
			rec        SessionRecord
			durationMs int64
		)
		err := rows.Scan(&rec.ID, &rec.UserID, &rec.ThreatType, &rec.PatternID,
			&rec.Difficulty, &rec.Score, &rec.RiskLevel, &rec.Decisions,
			&rec.HintsUsed, &durationMs, &rec.StartedAt, &rec.EndedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CleanupOldSessions deletes session records older than the retention
// cutoff and returns how many were removed.
func (d *DB) CleanupOldSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := d.db.ExecContext(ctx,
		"DELETE FROM session_records WHERE ended_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old sessions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		d.logger.Info().Int64("deleted", deleted).Dur("older_than", olderThan).Msg("Cleaned up old session records")
	}

	return deleted, nil
}
