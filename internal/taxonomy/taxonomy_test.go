package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nonews-project/nonews/internal/config"
	"github.com/nonews-project/nonews/internal/database"
)

// stubProvider replays canned responses in order.
type stubProvider struct {
	responses []string
	prompts   []string
	err       error
}

func (p *stubProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.prompts = append(p.prompts, prompt)
	if len(p.responses) == 0 {
		return "", fmt.Errorf("stub provider out of responses")
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r, nil
}

func (p *stubProvider) IsConfigured() bool { return true }
func (p *stubProvider) Name() string       { return "stub" }

// stubEmbedder returns fixed 3-dim vectors keyed by substring match. Texts
// matching no key get a one-hot vector orthogonal to everything else, so
// only keyed texts can look similar.
type stubEmbedder struct {
	vectors map[string][]float64
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	dim := len(texts) + 3
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, dim)
		matched := false
		for key, kv := range e.vectors {
			if strings.Contains(text, key) {
				copy(vec, kv)
				matched = true
				break
			}
		}
		if !matched {
			vec[i+3] = 1
		}
		out[i] = vec
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Model: config.Model{MaxTokens: 1000},
		Taxonomy: config.Taxonomy{
			WindowDays:       3,
			AttachThreshold:  0.7,
			MaxEventsPerDay:  25,
			IssuesPerYear:    15,
			MinTopics:        15,
			MaxTopics:        25,
			MergeThreshold:   0.15,
			RefineIterations: 2,
			SampleSize:       500,
		},
	}
}

func openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertSegment(t *testing.T, db *database.DB, id int64, date, title string) {
	t.Helper()
	_, err := db.InsertSegment(&database.Segment{
		ID:      id,
		Outlet:  "CBS",
		Program: "CBS Evening News",
		Date:    date,
		Title:   title,
		InNews:  true,
	})
	if err != nil {
		t.Fatalf("failed to insert segment %d: %v", id, err)
	}
}

func TestEventBuilderCreatesEvents(t *testing.T) {
	db := openDB(t)
	insertSegment(t, db, 1, "1969-01-06", "Peace talks")
	insertSegment(t, db, 2, "1969-01-06", "Inauguration prep")

	provider := &stubProvider{responses: []string{
		`{"events": [
			{"description": "Paris peace talks resumed", "segments": [1]},
			{"description": "Nixon inauguration preparations continued", "segments": [2]},
			{"description": "Orphan event", "segments": []}
		]}`,
	}}
	b := NewEventBuilder(db, provider, nil, testConfig())

	r, err := b.BuildRange(context.Background(), "1969-01-01", "1969-12-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.DatesProcessed != 1 || r.EventsCreated != 2 {
		t.Errorf("expected 1 date, 2 events, got %+v", r)
	}

	events, err := db.ListEventsWindow("1969-01-06", "1969-01-06")
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events (orphan dropped), got %d", len(events))
	}
	if !events[0].TopStory || events[1].TopStory {
		t.Errorf("expected only the first event marked top story")
	}

	s, err := db.GetSegment(1)
	if err != nil {
		t.Fatalf("failed to get segment: %v", err)
	}
	if s.EventID == nil || *s.EventID != events[0].ID {
		t.Errorf("expected segment 1 attached to first event")
	}
}

func TestEventBuilderSkipsProcessedDates(t *testing.T) {
	db := openDB(t)
	insertSegment(t, db, 1, "1969-01-06", "Peace talks")
	if _, err := db.InsertEvents("1969-01-06", "m", []database.EventDraft{
		{Description: "Already there"},
	}); err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}

	provider := &stubProvider{}
	b := NewEventBuilder(db, provider, nil, testConfig())

	r, err := b.BuildRange(context.Background(), "1969-01-01", "1969-12-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.DatesSkipped != 1 || r.DatesProcessed != 0 {
		t.Errorf("expected the date skipped, got %+v", r)
	}
	if len(provider.prompts) != 0 {
		t.Errorf("expected no model calls for processed dates")
	}
}

func TestEventBuilderRejectsUnknownSegments(t *testing.T) {
	db := openDB(t)
	insertSegment(t, db, 1, "1969-01-06", "Peace talks")

	provider := &stubProvider{responses: []string{
		`{"events": [{"description": "Phantom", "segments": [999]}]}`,
	}}
	b := NewEventBuilder(db, provider, nil, testConfig())

	if _, err := b.BuildRange(context.Background(), "1969-01-01", "1969-12-31"); err == nil {
		t.Fatal("expected error for unknown segment id")
	}

	events, err := db.ListEventsWindow("1969-01-01", "1969-12-31")
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected nothing committed, got %d events", len(events))
	}
}

func TestEventBuilderCapacity(t *testing.T) {
	db := openDB(t)
	insertSegment(t, db, 1, "1969-01-06", "Peace talks")

	var drafts []string
	for i := 0; i < 3; i++ {
		drafts = append(drafts, fmt.Sprintf(`{"description": "Event %d", "segments": [1]}`, i))
	}
	provider := &stubProvider{responses: []string{
		`{"events": [` + strings.Join(drafts, ",") + `]}`,
	}}
	cfg := testConfig()
	cfg.Taxonomy.MaxEventsPerDay = 2
	b := NewEventBuilder(db, provider, nil, cfg)

	_, err := b.BuildRange(context.Background(), "1969-01-01", "1969-12-31")
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	events, err := db.ListEventsWindow("1969-01-01", "1969-12-31")
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no partial commit, got %d events", len(events))
	}
}

func TestEventBuilderAttachesToWindow(t *testing.T) {
	db := openDB(t)
	insertSegment(t, db, 1, "1969-01-06", "Peace talks day one")
	insertSegment(t, db, 2, "1969-01-07", "Peace talks day two")

	// Same embedding for both descriptions: cosine 1.0, one-day gap with a
	// 3-day window gives proximity 0.75, combined 0.75 >= threshold 0.7.
	embedder := &stubEmbedder{vectors: map[string][]float64{
		"peace talks": {0, 1, 0},
	}}
	provider := &stubProvider{responses: []string{
		`{"events": [{"description": "The peace talks continued in Paris", "segments": [1]}]}`,
		`{"events": [{"description": "Another day of the peace talks in Paris", "segments": [2]}]}`,
	}}
	b := NewEventBuilder(db, provider, embedder, testConfig())

	r, err := b.BuildRange(context.Background(), "1969-01-01", "1969-12-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.EventsCreated != 1 || r.EventsAttached != 1 {
		t.Fatalf("expected 1 created and 1 attached, got %+v", r)
	}

	s1, _ := db.GetSegment(1)
	s2, _ := db.GetSegment(2)
	if s1.EventID == nil || s2.EventID == nil || *s1.EventID != *s2.EventID {
		t.Errorf("expected both segments on the same event, got %v and %v", s1.EventID, s2.EventID)
	}
}

func TestIssueBuilderCreatesIssues(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertEvents("1969-03-01", "m", []database.EventDraft{
		{Description: "Vietnam offensive reported", TopStory: true},
	}); err != nil {
		t.Fatalf("failed to seed events: %v", err)
	}

	provider := &stubProvider{responses: []string{
		`{"issues": [
			{"title": "The Vietnam War", "description": "Combat operations and peace talks."},
			{"title": "Inflation", "description": "Rising consumer prices."}
		]}`,
	}}
	b := NewIssueBuilder(db, provider, nil, testConfig())

	r, err := b.BuildYear(context.Background(), 1969)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Created != 2 {
		t.Errorf("expected 2 issues created, got %+v", r)
	}

	// A second run is a no-op.
	r2, err := b.BuildYear(context.Background(), 1969)
	if err != nil {
		t.Fatalf("unexpected error on rerun: %v", err)
	}
	if !r2.Skipped {
		t.Errorf("expected rerun skipped, got %+v", r2)
	}
}

func TestIssueBuilderMergesToBudget(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertEvents("1969-03-01", "m", []database.EventDraft{
		{Description: "Vietnam offensive reported", TopStory: true},
	}); err != nil {
		t.Fatalf("failed to seed events: %v", err)
	}

	provider := &stubProvider{responses: []string{
		`{"issues": [
			{"title": "The Vietnam War", "description": "Combat operations."},
			{"title": "The War in Vietnam", "description": "Fighting in Southeast Asia."},
			{"title": "Inflation", "description": "Rising consumer prices."}
		]}`,
	}}
	embedder := &stubEmbedder{vectors: map[string][]float64{
		"Vietnam":   {0, 1, 0},
		"Inflation": {1, 0, 0},
	}}
	cfg := testConfig()
	cfg.Taxonomy.IssuesPerYear = 2
	b := NewIssueBuilder(db, provider, embedder, cfg)

	r, err := b.BuildYear(context.Background(), 1969)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Created != 2 || r.Merged != 1 {
		t.Errorf("expected 2 created with 1 merged away, got %+v", r)
	}

	issues, err := db.ListIssues(1969)
	if err != nil {
		t.Fatalf("failed to list issues: %v", err)
	}
	if len(issues) > cfg.Taxonomy.IssuesPerYear {
		t.Errorf("budget exceeded: %d issues", len(issues))
	}
}

func TestIssueBuilderAppliesApprovedRevision(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertIssue(1968, "The War in Vietnam", "Fighting escalates"); err != nil {
		t.Fatalf("failed to seed prior issue: %v", err)
	}
	if _, err := db.InsertEvents("1969-03-01", "m", []database.EventDraft{
		{Description: "Vietnam offensive reported", TopStory: true},
	}); err != nil {
		t.Fatalf("failed to seed events: %v", err)
	}

	provider := &stubProvider{responses: []string{
		`{"issues": [{"title": "The Vietnam War", "description": "Combat operations."}],
		  "revisions": [{"old_title": "The War in Vietnam", "new_title": "The Vietnam War"}]}`,
		`{"summary": "Same conflict, same title works for both years.",
		  "title": "The Vietnam War", "approved": true}`,
	}}
	b := NewIssueBuilder(db, provider, nil, testConfig())

	r, err := b.BuildYear(context.Background(), 1969)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.RevisionsApplied != 1 {
		t.Errorf("expected 1 revision applied, got %+v", r)
	}

	prior, err := db.ListIssues(1968)
	if err != nil {
		t.Fatalf("failed to list 1968 issues: %v", err)
	}
	if len(prior) != 1 || prior[0].Title != "The Vietnam War" {
		t.Errorf("expected prior year renamed, got %+v", prior)
	}
}

func TestIssueBuilderRejectedRevision(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertIssue(1968, "The Space Race", "Moon landing preparations"); err != nil {
		t.Fatalf("failed to seed prior issue: %v", err)
	}
	if _, err := db.InsertEvents("1969-03-01", "m", []database.EventDraft{
		{Description: "Apollo progress", TopStory: true},
	}); err != nil {
		t.Fatalf("failed to seed events: %v", err)
	}

	provider := &stubProvider{responses: []string{
		`{"issues": [{"title": "The Vietnam War", "description": "Combat operations."}],
		  "revisions": [{"old_title": "The Space Race", "new_title": "The Vietnam War"}]}`,
		`{"summary": "These are different issues.", "title": "", "approved": false}`,
	}}
	b := NewIssueBuilder(db, provider, nil, testConfig())

	r, err := b.BuildYear(context.Background(), 1969)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.RevisionsApplied != 0 {
		t.Errorf("expected no revisions applied, got %+v", r)
	}

	prior, _ := db.ListIssues(1968)
	if prior[0].Title != "The Space Race" {
		t.Errorf("expected prior title untouched, got %q", prior[0].Title)
	}
}

func TestTopicBuilderRefinesAndCommits(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertEvents("1969-03-01", "m", []database.EventDraft{
		{Description: "Vietnam offensive reported", TopStory: true},
	}); err != nil {
		t.Fatalf("failed to seed events: %v", err)
	}

	// Two refinement iterations: first swaps one topic, second is a no-op.
	provider := &stubProvider{responses: []string{
		`{"explanation": "Sports is too narrow on its own.",
		  "removals": [{"title": "Sports", "id": 12}],
		  "additions": [{"title": "Sports and Recreation", "description": "Sporting events and leisure."}]}`,
		`{"explanation": "The list looks balanced.", "removals": [], "additions": []}`,
	}}
	b := NewTopicBuilder(db, provider, nil, testConfig())

	r, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Iterations != 2 || r.Topics != 20 {
		t.Errorf("expected 2 iterations and 20 topics, got %+v", r)
	}

	topics, err := db.ListTopics()
	if err != nil {
		t.Fatalf("failed to list topics: %v", err)
	}
	var found bool
	for _, topic := range topics {
		if topic.Title == "Sports" {
			t.Error("removed topic still present")
		}
		if topic.Title == "Sports and Recreation" {
			found = true
		}
	}
	if !found {
		t.Error("added topic missing from committed list")
	}

	// Rerun skips: the list already exists.
	r2, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on rerun: %v", err)
	}
	if !r2.Skipped {
		t.Errorf("expected rerun skipped, got %+v", r2)
	}
}

func TestTopicBuilderCapacity(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertEvents("1969-03-01", "m", []database.EventDraft{
		{Description: "Vietnam offensive reported", TopStory: true},
	}); err != nil {
		t.Fatalf("failed to seed events: %v", err)
	}

	// Remove most of the list without replacements, driving the count below
	// the floor.
	var removals []string
	for i := 1; i <= 10; i++ {
		removals = append(removals, fmt.Sprintf(`{"title": "t", "id": %d}`, i))
	}
	provider := &stubProvider{responses: []string{
		`{"explanation": "Trimming.", "removals": [` + strings.Join(removals, ",") + `], "additions": []}`,
	}}
	cfg := testConfig()
	cfg.Taxonomy.RefineIterations = 1
	b := NewTopicBuilder(db, provider, nil, cfg)

	_, err := b.Build(context.Background())
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	topics, err := db.ListTopics()
	if err != nil {
		t.Fatalf("failed to list topics: %v", err)
	}
	if len(topics) != 0 {
		t.Errorf("expected nothing committed, got %d topics", len(topics))
	}
}

func TestTopicBuilderDedupes(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertEvents("1969-03-01", "m", []database.EventDraft{
		{Description: "Vietnam offensive reported", TopStory: true},
	}); err != nil {
		t.Fatalf("failed to seed events: %v", err)
	}

	// The addition duplicates an existing seed topic by embedding; the
	// longer-lived seed entry must win.
	provider := &stubProvider{responses: []string{
		`{"explanation": "Adding an overlapping topic.",
		  "removals": [{"title": "Human Interest Stories", "id": 20}],
		  "additions": [
			{"title": "Global Diplomacy", "description": "Treaties and international relations."},
			{"title": "Feature Stories", "description": "Human interest features."}
		  ]}`,
	}}
	embedder := &stubEmbedder{vectors: map[string][]float64{
		"International Relations": {0, 1, 0},
		"Global Diplomacy":        {0, 1, 0},
	}}
	cfg := testConfig()
	cfg.Taxonomy.RefineIterations = 1
	b := NewTopicBuilder(db, provider, embedder, cfg)

	r, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.MergedAway != 1 {
		t.Errorf("expected 1 duplicate merged away, got %+v", r)
	}

	topics, err := db.ListTopics()
	if err != nil {
		t.Fatalf("failed to list topics: %v", err)
	}
	for _, topic := range topics {
		if topic.Title == "Global Diplomacy" {
			t.Error("expected the younger duplicate dropped")
		}
	}
}
