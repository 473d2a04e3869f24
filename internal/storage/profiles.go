package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"guardacademy.io/guardacademy/internal/profile"
	"guardacademy.io/guardacademy/internal/session"
)

// ============================================================
// User profiles
// ============================================================

// LoadProfile fetches a user's learning profile. A user with no stored
// profile gets a fresh default; absence is not an error.
func (d *DB) LoadProfile(ctx context.Context, userID string) (*profile.UserProfile, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT user_id, role, difficulty, recent_outcomes, category_failures,
		       recent_patterns, total_sessions, training_ms, hints_used,
		       created_at, updated_at
		FROM user_profiles WHERE user_id = ?
	`, userID)

	var (
		p           profile.UserProfile
		outcomesRaw string
		failuresRaw string
		patternsRaw string
		trainingMs  int64
	)
	err := row.Scan(&p.UserID, &p.Role, &p.Difficulty, &outcomesRaw, &failuresRaw,
		&patternsRaw, &p.TotalSessions, &trainingMs, &p.HintsUsed,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return profile.NewDefault(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	p.TrainingTime = time.Duration(trainingMs) * time.Millisecond

	if err := json.Unmarshal([]byte(outcomesRaw), &p.RecentOutcomes); err != nil {
		return nil, fmt.Errorf("failed to decode recent outcomes: %w", err)
	}
	if err := json.Unmarshal([]byte(failuresRaw), &p.CategoryFailures); err != nil {
		return nil, fmt.Errorf("failed to decode category failures: %w", err)
	}
	if err := json.Unmarshal([]byte(patternsRaw), &p.RecentPatterns); err != nil {
		return nil, fmt.Errorf("failed to decode recent patterns: %w", err)
	}
	if p.CategoryFailures == nil {
		p.CategoryFailures = make(map[session.Category]int)
	}

	return &p, nil
}

// SaveProfile upserts a profile. UpdatedAt is stamped here.
func (d *DB) SaveProfile(ctx context.Context, p *profile.UserProfile) error {
	outcomesRaw, err := json.Marshal(orEmptySlice(p.RecentOutcomes))
	if err != nil {
		return fmt.Errorf("failed to encode recent outcomes: %w", err)
	}
	failuresRaw, err := json.Marshal(p.CategoryFailures)
	if err != nil {
		return fmt.Errorf("failed to encode category failures: %w", err)
	}
	patternsRaw, err := json.Marshal(orEmptySlice(p.RecentPatterns))
	if err != nil {
		return fmt.Errorf("failed to encode recent patterns: %w", err)
	}

	p.UpdatedAt = time.Now().UTC()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO user_profiles (
			user_id, role, difficulty, recent_outcomes, category_failures,
			recent_patterns, total_sessions, training_ms, hints_used,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			role = excluded.role,
			difficulty = excluded.difficulty,
			recent_outcomes = excluded.recent_outcomes,
			category_failures = excluded.category_failures,
			recent_patterns = excluded.recent_patterns,
			total_sessions = excluded.total_sessions,
			training_ms = excluded.training_ms,
			hints_used = excluded.hints_used,
			updated_at = excluded.updated_at
	`, p.UserID, p.Role, p.Difficulty, string(outcomesRaw), string(failuresRaw),
		string(patternsRaw), p.TotalSessions, p.TrainingTime.Milliseconds(),
		p.HintsUsed, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return nil
}

// UpdateProfile runs a read-modify-write cycle on one user's profile under
// that user's lock, so concurrent session completions cannot interleave and
// lose updates.
func (d *DB) UpdateProfile(ctx context.Context, userID string, fn func(*profile.UserProfile) error) (*profile.UserProfile, error) {
	mu := d.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	p, err := d.LoadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := fn(p); err != nil {
		return nil, err
	}

	if err := d.SaveProfile(ctx, p); err != nil {
		return nil, err
	}

	return p, nil
}

// orEmptySlice keeps nil slices out of the JSON columns so loads round-trip
// cleanly through DeepEqual comparisons.
func orEmptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
