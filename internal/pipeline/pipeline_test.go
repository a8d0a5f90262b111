package pipeline

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/nonews-project/nonews/internal/config"
	"github.com/nonews-project/nonews/internal/database"
)

func TestDryRunCounts(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	segments := []database.Segment{
		{ID: 1, Outlet: "CBS", Program: "CBS Evening News", Date: "1969-01-06", Title: "Peace talks", InNews: true},
		{ID: 2, Outlet: "NBC", Program: "NBC Evening News", Date: "1969-01-07", Title: "Moon program", InNews: true},
	}
	for i := range segments {
		if _, err := db.InsertSegment(&segments[i]); err != nil {
			t.Fatalf("failed to insert segment: %v", err)
		}
	}

	p := New(config.Default(), db)
	r := p.DryRun("", "")

	if len(r.Steps) != 6 {
		t.Fatalf("expected 6 steps, got %d", len(r.Steps))
	}
	if !strings.Contains(r.Steps[0].Summary, "2 dates in range, 2 without events") {
		t.Errorf("unexpected events summary %q", r.Steps[0].Summary)
	}
	if !strings.Contains(r.Steps[1].Summary, "1 without issues") {
		t.Errorf("unexpected issues summary %q", r.Steps[1].Summary)
	}
	if !strings.Contains(r.Steps[2].Summary, "0 topics") {
		t.Errorf("unexpected topics summary %q", r.Steps[2].Summary)
	}
	if !strings.Contains(r.Steps[3].Summary, "2 segments pending") {
		t.Errorf("unexpected topic classify summary %q", r.Steps[3].Summary)
	}
	// The residual pass is gated on hard news with no issue; nothing is
	// labeled yet, so nothing is pending.
	if !strings.Contains(r.Steps[5].Summary, "0 segments pending") {
		t.Errorf("unexpected other classify summary %q", r.Steps[5].Summary)
	}

	// A date range narrows the event step.
	r = p.DryRun("1969-01-07", "")
	if !strings.Contains(r.Steps[0].Summary, "1 dates in range") {
		t.Errorf("unexpected ranged summary %q", r.Steps[0].Summary)
	}
}
