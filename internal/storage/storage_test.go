package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"guardacademy.io/guardacademy/internal/profile"
	"guardacademy.io/guardacademy/internal/scoring"
	"guardacademy.io/guardacademy/internal/session"
)

func setupDB(t *testing.T) (*DB, func()) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")

	db, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	return db, func() { db.Close() }
}

func TestMigrate_Idempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")

	db, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("First open failed: %v", err)
	}
	db.Close()

	// Reopening the same file must not re-apply migrations.
	db, err = New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Second open failed: %v", err)
	}
	defer db.Close()

	status, err := db.Health(context.Background())
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	if status != "healthy" {
		t.Errorf("Expected healthy, got %s", status)
	}
}

func TestLoadProfile_DefaultForNewUser(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	p, err := db.LoadProfile(context.Background(), "new-user")
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}

	if p.UserID != "new-user" {
		t.Errorf("Expected user_id new-user, got %s", p.UserID)
	}
	if p.Difficulty != profile.DefaultDifficulty {
		t.Errorf("Expected default difficulty %d, got %d", profile.DefaultDifficulty, p.Difficulty)
	}
	if p.TotalSessions != 0 {
		t.Errorf("Expected zero sessions, got %d", p.TotalSessions)
	}
}

func TestProfile_SaveLoadRoundTrip(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	p := profile.NewDefault("alice")
	p.Role = "finance"
	p.Difficulty = 4
	p.AddOutcome(profile.Outcome{Score: 72.5, ThreatType: session.ThreatPhishing, CompletedAt: now})
	p.AddOutcome(profile.Outcome{Score: 88, ThreatType: session.ThreatVishing, CompletedAt: now.Add(time.Hour)})
	p.AddPattern("phish-invoice-01")
	p.AddCategoryFailures(map[session.Category]int{
		session.CategoryUrgency:   2,
		session.CategoryAuthority: 1,
	})
	p.TotalSessions = 7
	p.TrainingTime = 93 * time.Minute
	p.HintsUsed = 3

	if err := db.SaveProfile(ctx, p); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	loaded, err := db.LoadProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}

	if loaded.Role != p.Role || loaded.Difficulty != p.Difficulty ||
		loaded.TotalSessions != p.TotalSessions || loaded.HintsUsed != p.HintsUsed ||
		loaded.TrainingTime != p.TrainingTime {
		t.Errorf("Scalar fields did not round-trip: %+v vs %+v", loaded, p)
	}
	if !reflect.DeepEqual(loaded.RecentOutcomes, p.RecentOutcomes) {
		t.Errorf("Outcomes did not round-trip: %+v vs %+v", loaded.RecentOutcomes, p.RecentOutcomes)
	}
	if !reflect.DeepEqual(loaded.CategoryFailures, p.CategoryFailures) {
		t.Errorf("Category failures did not round-trip: %+v vs %+v", loaded.CategoryFailures, p.CategoryFailures)
	}
	if !reflect.DeepEqual(loaded.RecentPatterns, p.RecentPatterns) {
		t.Errorf("Patterns did not round-trip: %+v vs %+v", loaded.RecentPatterns, p.RecentPatterns)
	}
	if !loaded.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("CreatedAt did not round-trip: %v vs %v", loaded.CreatedAt, p.CreatedAt)
	}
}

func TestUpdateProfile_ConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.UpdateProfile(ctx, "bob", func(p *profile.UserProfile) error {
				p.TotalSessions++
				return nil
			})
			if err != nil {
				t.Errorf("UpdateProfile failed: %v", err)
			}
		}()
	}
	wg.Wait()

	p, err := db.LoadProfile(ctx, "bob")
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if p.TotalSessions != workers {
		t.Errorf("Expected %d sessions, got %d (lost updates)", workers, p.TotalSessions)
	}
}

func TestUpdateProfile_CallbackErrorAbortsSave(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	p := profile.NewDefault("carol")
	p.TotalSessions = 5
	if err := db.SaveProfile(ctx, p); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	_, err := db.UpdateProfile(ctx, "carol", func(p *profile.UserProfile) error {
		p.TotalSessions = 99
		return context.Canceled
	})
	if err == nil {
		t.Fatal("Expected callback error to propagate")
	}

	loaded, err := db.LoadProfile(ctx, "carol")
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if loaded.TotalSessions != 5 {
		t.Errorf("Expected aborted update to leave profile untouched, got %d sessions", loaded.TotalSessions)
	}
}

func TestSessionRecords_AppendAndList(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	score := 62.5

	records := []SessionRecord{
		{
			ID: "s1", UserID: "alice", ThreatType: session.ThreatPhishing,
			PatternID: "phish-invoice-01", Difficulty: 3, Score: &score,
			RiskLevel: scoring.RiskModerate, Decisions: 2, HintsUsed: 1,
			Duration: 4 * time.Minute, StartedAt: base, EndedAt: base.Add(4 * time.Minute),
		},
		{
			ID: "s2", UserID: "alice", ThreatType: session.ThreatVishing,
			PatternID: "vish-helpdesk-01", Difficulty: 3,
			RiskLevel: scoring.RiskInsufficientData, Decisions: 0,
			Duration: time.Minute, StartedAt: base.Add(10 * time.Minute), EndedAt: base.Add(11 * time.Minute),
		},
	}
	for _, rec := range records {
		if err := db.AppendSessionRecord(ctx, rec); err != nil {
			t.Fatalf("AppendSessionRecord failed: %v", err)
		}
	}

	listed, err := db.ListSessionRecords(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListSessionRecords failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(listed))
	}

	// Most recent first.
	if listed[0].ID != "s2" || listed[1].ID != "s1" {
		t.Errorf("Expected order s2, s1; got %s, %s", listed[0].ID, listed[1].ID)
	}
	if listed[0].Score != nil {
		t.Errorf("Expected nil score for insufficient-data session, got %v", *listed[0].Score)
	}
	if listed[1].Score == nil || *listed[1].Score != score {
		t.Errorf("Expected score %v to round-trip, got %v", score, listed[1].Score)
	}
	if listed[1].Duration != 4*time.Minute {
		t.Errorf("Expected duration to round-trip, got %v", listed[1].Duration)
	}

	other, err := db.ListSessionRecords(ctx, "someone-else", 0)
	if err != nil {
		t.Fatalf("ListSessionRecords failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected no records for unknown user, got %d", len(other))
	}
}

func TestCleanupOldSessions(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	old := SessionRecord{
		ID: "old", UserID: "alice", ThreatType: session.ThreatPhishing,
		PatternID: "phish-invoice-01", Difficulty: 2, RiskLevel: scoring.RiskLow,
		StartedAt: time.Now().UTC().Add(-100 * 24 * time.Hour),
		EndedAt:   time.Now().UTC().Add(-100 * 24 * time.Hour),
	}
	fresh := SessionRecord{
		ID: "fresh", UserID: "alice", ThreatType: session.ThreatPhishing,
		PatternID: "phish-invoice-01", Difficulty: 2, RiskLevel: scoring.RiskLow,
		StartedAt: time.Now().UTC().Add(-time.Hour),
		EndedAt:   time.Now().UTC().Add(-time.Hour),
	}
	for _, rec := range []SessionRecord{old, fresh} {
		if err := db.AppendSessionRecord(ctx, rec); err != nil {
			t.Fatalf("AppendSessionRecord failed: %v", err)
		}
	}

	deleted, err := db.CleanupOldSessions(ctx, 90*24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldSessions failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 record deleted, got %d", deleted)
	}

	remaining, err := db.ListSessionRecords(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListSessionRecords failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "fresh" {
		t.Errorf("Expected only the fresh record to remain, got %+v", remaining)
	}
}
