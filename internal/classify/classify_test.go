package classify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nonews-project/nonews/internal/config"
	"github.com/nonews-project/nonews/internal/database"
	"github.com/nonews-project/nonews/internal/ingest"
)

// stubDecider answers with a configurable function and records its calls.
type stubDecider struct {
	mu    sync.Mutex
	calls []int64
	opts  map[int64][]Option
	fn    func(seg *database.Segment, options []Option) (*Decision, error)
}

func (d *stubDecider) Decide(_ context.Context, _ database.Kind, seg *database.Segment, options []Option) (*Decision, error) {
	d.mu.Lock()
	d.calls = append(d.calls, seg.ID)
	if d.opts == nil {
		d.opts = make(map[int64][]Option)
	}
	d.opts[seg.ID] = options
	d.mu.Unlock()
	return d.fn(seg, options)
}

func (d *stubDecider) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func testConfig() *config.Config {
	return &config.Config{
		Classify: config.Classify{
			Concurrency:      2,
			MaxRetries:       1,
			CallTimeoutSecs:  5,
			YearNeighborhood: 0,
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

func insertSegment(t *testing.T, db *database.DB, s *database.Segment) {
	t.Helper()
	if s.Outlet == "" {
		s.Outlet = "CBS"
	}
	if s.Program == "" {
		s.Program = "CBS Evening News"
	}
	s.InNews = true
	if _, err := db.InsertSegment(s); err != nil {
		t.Fatalf("failed to insert segment %d: %v", s.ID, err)
	}
}

func pickFirst(seg *database.Segment, options []Option) (*Decision, error) {
	hard := true
	if len(options) == 0 {
		return nil, fmt.Errorf("no options offered")
	}
	return &Decision{Choice: &options[0].ID, HardNews: &hard}, nil
}

func TestRunTopicsLabelsAndSkips(t *testing.T) {
	db := openDB(t)
	topicID, err := db.InsertTopic("Politics", "Domestic politics")
	if err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}

	insertSegment(t, db, &database.Segment{ID: 1, Date: "1969-01-06", Title: "Peace talks"})
	insertSegment(t, db, &database.Segment{ID: 2, Date: "1969-01-06", Title: "Ad break", Commercial: true})
	insertSegment(t, db, &database.Segment{ID: 3, Date: "1969-01-06", Title: "", Empty: true})

	decider := &stubDecider{fn: pickFirst}
	c := New(db, decider, testConfig())

	r, err := c.Run(context.Background(), database.KindTopic, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Classified != 1 || r.Skipped != 2 || r.Failed != 0 {
		t.Errorf("expected 1 classified and 2 skipped, got %+v", r)
	}
	if decider.callCount() != 1 {
		t.Errorf("expected 1 decider call, got %d", decider.callCount())
	}

	s, _ := db.GetSegment(1)
	if s.TopicID == nil || *s.TopicID != topicID {
		t.Errorf("expected topic %d, got %v", topicID, s.TopicID)
	}
	if s.HardNews == nil || !*s.HardNews {
		t.Errorf("expected hard_news true, got %v", s.HardNews)
	}
	if s.TopicSnapshot == "" {
		t.Error("expected snapshot id written with label")
	}

	// The skipped segments carry the none sentinel, not NULL.
	for _, id := range []int64{2, 3} {
		s, _ := db.GetSegment(id)
		if s.TopicID == nil || *s.TopicID != database.NoneCategory {
			t.Errorf("expected segment %d labeled -1, got %v", id, s.TopicID)
		}
	}
}

func TestRunRecordsNone(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertTopic("Politics", "Domestic politics"); err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}
	insertSegment(t, db, &database.Segment{ID: 1, Date: "1969-01-06", Title: "Puppy parade"})

	decider := &stubDecider{fn: func(*database.Segment, []Option) (*Decision, error) {
		soft := false
		return &Decision{Choice: nil, HardNews: &soft}, nil
	}}
	c := New(db, decider, testConfig())

	r, err := c.Run(context.Background(), database.KindTopic, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.None != 1 || r.Classified != 0 {
		t.Errorf("expected 1 none, got %+v", r)
	}

	s, _ := db.GetSegment(1)
	if s.TopicID == nil || *s.TopicID != database.NoneCategory {
		t.Errorf("expected -1 label, got %v", s.TopicID)
	}
	if s.HardNews == nil || *s.HardNews {
		t.Errorf("expected hard_news false, got %v", s.HardNews)
	}
}

func TestRunIdempotentUnlessReclassify(t *testing.T) {
	db := openDB(t)
	topicID, err := db.InsertTopic("Politics", "Domestic politics")
	if err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}
	insertSegment(t, db, &database.Segment{ID: 1, Date: "1969-01-06", Title: "Peace talks"})
	hard := true
	if err := db.WriteTopicCategory(1, topicID, &hard, "old-snap"); err != nil {
		t.Fatalf("failed to pre-label: %v", err)
	}

	decider := &stubDecider{fn: pickFirst}
	c := New(db, decider, testConfig())

	r, err := c.Run(context.Background(), database.KindTopic, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decider.callCount() != 0 || r.Classified != 0 {
		t.Errorf("expected labeled segment untouched, got %d calls, %+v", decider.callCount(), r)
	}

	r, err = c.Run(context.Background(), database.KindTopic, RunOptions{Reclassify: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decider.callCount() != 1 || r.Classified != 1 {
		t.Errorf("expected reclassify to call the decider, got %d calls, %+v", decider.callCount(), r)
	}
}

func TestRunRetryExhaustionContinuesBatch(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertTopic("Politics", "Domestic politics"); err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}
	insertSegment(t, db, &database.Segment{ID: 1, Date: "1969-01-06", Title: "Flaky"})
	insertSegment(t, db, &database.Segment{ID: 2, Date: "1969-01-06", Title: "Fine"})

	decider := &stubDecider{fn: func(seg *database.Segment, options []Option) (*Decision, error) {
		if seg.ID == 1 {
			return nil, fmt.Errorf("model refused")
		}
		return pickFirst(seg, options)
	}}
	cfg := testConfig()
	cfg.Classify.Concurrency = 1
	c := New(db, decider, cfg)

	r, err := c.Run(context.Background(), database.KindTopic, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Failed != 1 || r.Classified != 1 {
		t.Errorf("expected 1 failed and 1 classified, got %+v", r)
	}

	failures, err := db.ListFailures(database.KindTopic)
	if err != nil {
		t.Fatalf("failed to list failures: %v", err)
	}
	if len(failures) != 1 || failures[0].SegmentID != 1 {
		t.Fatalf("expected a failure record for segment 1, got %+v", failures)
	}
	// MaxRetries 1 means the initial attempt plus one retry.
	if failures[0].Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", failures[0].Attempts)
	}

	// Failed segment stays NULL so a rerun picks it up.
	s, _ := db.GetSegment(1)
	if s.TopicID != nil {
		t.Errorf("expected failed segment unlabeled, got %v", s.TopicID)
	}
}

func TestRunClearsFailureOnSuccess(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertTopic("Politics", "Domestic politics"); err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}
	insertSegment(t, db, &database.Segment{ID: 1, Date: "1969-01-06", Title: "Peace talks"})
	if err := db.RecordFailure(1, database.KindTopic, 4, "timeout"); err != nil {
		t.Fatalf("failed to seed failure: %v", err)
	}

	c := New(db, &stubDecider{fn: pickFirst}, testConfig())
	if _, err := c.Run(context.Background(), database.KindTopic, RunOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failures, err := db.ListFailures(database.KindTopic)
	if err != nil {
		t.Fatalf("failed to list failures: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("expected failure cleared after success, got %+v", failures)
	}
}

func TestRunIssueYearFiltering(t *testing.T) {
	db := openDB(t)
	nearID, err := db.InsertIssue(1969, "The Vietnam War", "Combat operations")
	if err != nil {
		t.Fatalf("failed to insert issue: %v", err)
	}
	if _, err := db.InsertIssue(1975, "The Fall of Saigon", "End of the war"); err != nil {
		t.Fatalf("failed to insert issue: %v", err)
	}
	insertSegment(t, db, &database.Segment{ID: 1, Date: "1969-01-06", Title: "Peace talks"})

	decider := &stubDecider{fn: pickFirst}
	c := New(db, decider, testConfig())

	r, err := c.Run(context.Background(), database.KindIssue, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Classified != 1 {
		t.Fatalf("expected 1 classified, got %+v", r)
	}

	offered := decider.opts[1]
	if len(offered) != 1 || offered[0].ID != nearID {
		t.Errorf("expected only the 1969 issue offered, got %+v", offered)
	}

	// Widening the neighborhood brings adjacent years in.
	if err := db.ClearLabels(database.KindIssue); err != nil {
		t.Fatalf("failed to clear labels: %v", err)
	}
	cfg := testConfig()
	cfg.Classify.YearNeighborhood = 6
	c = New(db, decider, cfg)
	if _, err := c.Run(context.Background(), database.KindIssue, RunOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if offered := decider.opts[1]; len(offered) != 2 {
		t.Errorf("expected both issues offered with wide neighborhood, got %+v", offered)
	}
}

func TestRunOtherGate(t *testing.T) {
	db := openDB(t)
	insertSegment(t, db, &database.Segment{ID: 1, Date: "1969-01-06", Title: "Hard, no issue"})
	insertSegment(t, db, &database.Segment{ID: 2, Date: "1969-01-06", Title: "Hard, has issue"})
	insertSegment(t, db, &database.Segment{ID: 3, Date: "1969-01-06", Title: "Soft news"})

	issueID, err := db.InsertIssue(1969, "The Vietnam War", "Combat operations")
	if err != nil {
		t.Fatalf("failed to insert issue: %v", err)
	}
	hard, soft := true, false
	topicID, err := db.InsertTopic("Politics", "Domestic politics")
	if err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}
	if err := db.WriteTopicCategory(1, topicID, &hard, ""); err != nil {
		t.Fatal(err)
	}
	if err := db.WriteTopicCategory(2, topicID, &hard, ""); err != nil {
		t.Fatal(err)
	}
	if err := db.WriteTopicCategory(3, topicID, &soft, ""); err != nil {
		t.Fatal(err)
	}
	if err := db.WriteCategory(1, database.KindIssue, database.NoneCategory, ""); err != nil {
		t.Fatal(err)
	}
	if err := db.WriteCategory(2, database.KindIssue, issueID, ""); err != nil {
		t.Fatal(err)
	}
	if err := db.WriteCategory(3, database.KindIssue, database.NoneCategory, ""); err != nil {
		t.Fatal(err)
	}

	decider := &stubDecider{fn: pickFirst}
	c := New(db, decider, testConfig())

	r, err := c.Run(context.Background(), database.KindOther, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Classified != 1 {
		t.Errorf("expected only the hard-news issue-less segment classified, got %+v", r)
	}
	if decider.callCount() != 1 || decider.calls[0] != 1 {
		t.Errorf("expected only segment 1 decided, got %v", decider.calls)
	}

	s, _ := db.GetSegment(1)
	if s.OtherID == nil || *s.OtherID == database.NoneCategory {
		t.Errorf("expected a residual category label, got %v", s.OtherID)
	}
}

func TestRunBatchDeadlineStopsIssuing(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertTopic("Politics", "Domestic politics"); err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}
	insertSegment(t, db, &database.Segment{ID: 1, Date: "1969-01-06", Title: "One"})
	insertSegment(t, db, &database.Segment{ID: 2, Date: "1969-01-06", Title: "Two"})
	insertSegment(t, db, &database.Segment{ID: 3, Date: "1969-01-06", Title: "Three"})

	decider := &stubDecider{fn: pickFirst}
	cfg := testConfig()
	cfg.Classify.BatchDeadlineMin = 1
	c := New(db, decider, cfg)

	// The feed loop reads the clock once to compute the deadline and once
	// per segment before issuing it. Let two segments through, then jump
	// past the deadline so the third is never issued.
	start := time.Date(1998, 8, 17, 18, 0, 0, 0, time.UTC)
	reads := 0
	c.now = func() time.Time {
		reads++
		if reads <= 3 {
			return start
		}
		return start.Add(2 * time.Minute)
	}

	r, err := c.Run(context.Background(), database.KindTopic, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Classified != 2 || r.Failed != 0 {
		t.Errorf("expected 2 classified before the deadline, got %+v", r)
	}
	if decider.callCount() != 2 {
		t.Errorf("expected issuing to stop at the deadline, got %d calls", decider.callCount())
	}

	// Issued work drained; the unissued segment stays NULL for a rerun.
	for _, id := range []int64{1, 2} {
		s, _ := db.GetSegment(id)
		if s.TopicID == nil {
			t.Errorf("expected in-flight segment %d to finish, got no label", id)
		}
	}
	s, _ := db.GetSegment(3)
	if s.TopicID != nil {
		t.Errorf("expected segment 3 left for the next batch, got %v", s.TopicID)
	}
}

// blockingDecider hangs until the per-call context expires, then answers
// normally on later attempts.
type blockingDecider struct {
	mu    sync.Mutex
	calls int
}

func (d *blockingDecider) Decide(ctx context.Context, _ database.Kind, seg *database.Segment, options []Option) (*Decision, error) {
	d.mu.Lock()
	d.calls++
	first := d.calls == 1
	d.mu.Unlock()
	if first {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return pickFirst(seg, options)
}

func TestRunCallTimeoutTriggersRetry(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertTopic("Politics", "Domestic politics"); err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}
	insertSegment(t, db, &database.Segment{ID: 1, Date: "1969-01-06", Title: "Slow answer"})

	decider := &blockingDecider{}
	cfg := testConfig()
	cfg.Classify.CallTimeoutSecs = 1
	c := New(db, decider, cfg)

	r, err := c.Run(context.Background(), database.KindTopic, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Classified != 1 || r.Failed != 0 {
		t.Errorf("expected the retry after a timed-out call to succeed, got %+v", r)
	}
	if decider.calls != 2 {
		t.Errorf("expected a second attempt after the call timeout, got %d", decider.calls)
	}

	failures, err := db.ListFailures(database.KindTopic)
	if err != nil {
		t.Fatalf("failed to list failures: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("expected no failure record after a successful retry, got %+v", failures)
	}
}

func TestRunExcludesNonNewsMaterial(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertTopic("Politics", "Domestic politics"); err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}
	insertSegment(t, db, &database.Segment{ID: 1, Date: "1969-01-06", Title: "Peace talks"})
	promo := &database.Segment{
		ID: 2, Outlet: "CBS", Program: "CBS Evening News",
		Date: "1969-01-06", Title: "Station promo",
	}
	if _, err := db.InsertSegment(promo); err != nil {
		t.Fatalf("failed to insert segment: %v", err)
	}

	decider := &stubDecider{fn: pickFirst}
	c := New(db, decider, testConfig())

	r, err := c.Run(context.Background(), database.KindTopic, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Classified != 1 || decider.callCount() != 1 {
		t.Errorf("expected only the news-portion segment classified, got %+v after %d calls",
			r, decider.callCount())
	}

	s, _ := db.GetSegment(2)
	if s.TopicID != nil {
		t.Errorf("expected non-news segment untouched, got %v", s.TopicID)
	}
}

func TestIngestThenClassify(t *testing.T) {
	db := openDB(t)
	csvPath := filepath.Join(t.TempDir(), "segments.csv")
	data := "id,outlet,program,date,duration,reporter,title,abstract,commercial,empty,in_news\n" +
		"1,CBS,CBS Evening News,1998-08-17,120,,Grand jury testimony,President testifies before the grand jury.,0,0,1\n" +
		"2,CBS,CBS Evening News,1998-08-17,30,,Commercial break,,1,0,1\n" +
		"3,CBS,CBS Evening News,1998-08-17,0,,,,0,1,1\n"
	if err := os.WriteFile(csvPath, []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}

	ir, err := ingest.Segments(db, csvPath)
	if err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}
	if ir.Inserted != 3 || ir.BadRows != 0 {
		t.Fatalf("expected 3 rows inserted, got %+v", ir)
	}

	politics, err := db.InsertTopic("Politics", "Domestic politics and government")
	if err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}
	sports, err := db.InsertTopic("Sports", "Athletic events and athletes")
	if err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}

	decider := &stubDecider{fn: pickFirst}
	c := New(db, decider, testConfig())
	r, err := c.Run(context.Background(), database.KindTopic, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Classified != 1 || r.Skipped != 2 {
		t.Errorf("expected 1 classified and 2 skipped, got %+v", r)
	}

	s, _ := db.GetSegment(1)
	if s.TopicID == nil || (*s.TopicID != politics && *s.TopicID != sports) {
		t.Errorf("expected the story labeled with a topic, got %v", s.TopicID)
	}
	for _, id := range []int64{2, 3} {
		s, _ := db.GetSegment(id)
		if s.TopicID == nil || *s.TopicID != database.NoneCategory {
			t.Errorf("expected segment %d labeled -1, got %v", id, s.TopicID)
		}
	}
}

func TestRunSnapshotPerBatch(t *testing.T) {
	db := openDB(t)
	if _, err := db.InsertTopic("Politics", "Domestic politics"); err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}
	insertSegment(t, db, &database.Segment{ID: 1, Date: "1969-01-06", Title: "One"})
	insertSegment(t, db, &database.Segment{ID: 2, Date: "1969-01-06", Title: "Two"})

	c := New(db, &stubDecider{fn: pickFirst}, testConfig())
	if _, err := c.Run(context.Background(), database.KindTopic, RunOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s1, _ := db.GetSegment(1)
	s2, _ := db.GetSegment(2)
	if s1.TopicSnapshot == "" || s1.TopicSnapshot != s2.TopicSnapshot {
		t.Errorf("expected one snapshot across the batch, got %q and %q",
			s1.TopicSnapshot, s2.TopicSnapshot)
	}

	snap, err := db.GetSnapshot(s1.TopicSnapshot)
	if err != nil {
		t.Fatalf("failed to get snapshot: %v", err)
	}
	if snap == nil || snap.Kind != database.KindTopic || snap.EntryCount != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}
