package profile

import (
	"testing"

	"guardacademy.io/guardacademy/internal/session"
)

func TestAddCategoryFailures_Accumulates(t *testing.T) {
	p := NewDefault("alice")

	p.AddCategoryFailures(map[session.Category]int{session.CategoryUrgency: 2})
	p.AddCategoryFailures(map[session.Category]int{session.CategoryUrgency: 1})

	if got := p.CategoryFailures[session.CategoryUrgency]; got != 3 {
		t.Errorf("Expected urgency count 3, got %d", got)
	}
}

func TestAddCategoryFailures_DecaysOnCleanSessions(t *testing.T) {
	p := NewDefault("alice")
	p.AddCategoryFailures(map[session.Category]int{session.CategoryUrgency: 4})

	// Each clean session decays the count by one until it ages out.
	for i := 3; i >= 1; i-- {
		p.AddCategoryFailures(nil)
		if got := p.CategoryFailures[session.CategoryUrgency]; got != i {
			t.Fatalf("Expected urgency count %d after decay, got %d", i, got)
		}
	}

	p.AddCategoryFailures(nil)
	if _, ok := p.CategoryFailures[session.CategoryUrgency]; ok {
		t.Errorf("Expected urgency weakness to age out, got %v", p.CategoryFailures)
	}
}

func TestAddCategoryFailures_DecayOnlyTouchesCleanCategories(t *testing.T) {
	p := NewDefault("alice")
	p.AddCategoryFailures(map[session.Category]int{
		session.CategoryUrgency:   3,
		session.CategoryAuthority: 2,
	})

	// Urgency failed again; authority was clean this session.
	p.AddCategoryFailures(map[session.Category]int{session.CategoryUrgency: 1})

	if got := p.CategoryFailures[session.CategoryUrgency]; got != 4 {
		t.Errorf("Expected urgency count 4, got %d", got)
	}
	if got := p.CategoryFailures[session.CategoryAuthority]; got != 1 {
		t.Errorf("Expected authority count decayed to 1, got %d", got)
	}
}
