// Package classify assigns taxonomy labels to segments with a model-backed
// decider, running batches through a bounded worker pool with retries.
package classify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nonews-project/nonews/internal/config"
	"github.com/nonews-project/nonews/internal/database"
)

// RunOptions selects and shapes one classification batch.
type RunOptions struct {
	DateFrom   string
	DateTo     string
	Limit      int
	Randomize  bool
	Reclassify bool
}

// Result reports what one batch did.
type Result struct {
	Classified int
	None       int
	Skipped    int
	Failed     int
	Errors     []string

	mu sync.Mutex
}

func (r *Result) addError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed++
	r.Errors = append(r.Errors, err.Error())
}

// Classifier labels segments in one taxonomy per batch.
type Classifier struct {
	db      *database.DB
	decider Decider
	cfg     *config.Config
	now     func() time.Time // replaceable in tests
}

// New creates a classifier.
func New(db *database.DB, decider Decider, cfg *config.Config) *Classifier {
	return &Classifier{db: db, decider: decider, cfg: cfg, now: time.Now}
}

// Run classifies all pending segments for one taxonomy kind. Segments that
// already carry a label are skipped unless Reclassify is set. The batch
// continues past individual failures; each exhausted segment is recorded in
// the failures table.
func (c *Classifier) Run(ctx context.Context, kind database.Kind, opts RunOptions) (*Result, error) {
	segments, err := c.candidates(kind, opts)
	if err != nil {
		return nil, err
	}

	r := &Result{}
	if len(segments) == 0 {
		log.Printf("No segments to classify for %s", kind)
		return r, nil
	}

	// One snapshot for the whole batch: every label written here can be
	// traced to the same category list.
	snapshot, err := c.db.CreateSnapshot(kind)
	if err != nil {
		return nil, err
	}

	options, err := c.loadOptions(kind, segments)
	if err != nil {
		return nil, err
	}

	// Batch deadline: when it passes, stop issuing new work. In-flight
	// calls drain normally.
	deadline := time.Time{}
	if c.cfg.Classify.BatchDeadlineMin > 0 {
		deadline = c.now().Add(time.Duration(c.cfg.Classify.BatchDeadlineMin) * time.Minute)
	}

	concurrency := c.cfg.Classify.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	work := make(chan *database.Segment)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range work {
				c.classifyOne(ctx, kind, seg, options, snapshot.ID, r)
			}
		}()
	}

	issued := 0
feed:
	for i := range segments {
		if ctx.Err() != nil {
			break
		}
		if !deadline.IsZero() && c.now().After(deadline) {
			log.Printf("Batch deadline reached after %d/%d segments", issued, len(segments))
			break feed
		}
		work <- &segments[i]
		issued++
	}
	close(work)
	wg.Wait()

	log.Printf("Classification (%s) complete: %d classified, %d none, %d skipped, %d failed",
		kind, r.Classified, r.None, r.Skipped, r.Failed)
	return r, ctx.Err()
}

// candidates selects the segments a batch will consider.
func (c *Classifier) candidates(kind database.Kind, opts RunOptions) ([]database.Segment, error) {
	filter := database.SegmentFilter{
		DateFrom:      opts.DateFrom,
		DateTo:        opts.DateTo,
		ProgramSuffix: "Evening News",
		InNewsOnly:    true,
		Randomize:     opts.Randomize,
		Limit:         opts.Limit,
	}
	if !opts.Reclassify {
		filter.Unlabeled = kind
	}
	if kind == database.KindOther {
		// Residual categories only apply to hard news that matched no issue.
		filter.HardNewsOnly = true
		filter.IssueNone = true
	}
	return c.db.ScanSegments(filter)
}

// loadOptions reads the category lists once at batch start. Issues are
// year-scoped, so each candidate year gets its own option list, widened by
// the configured neighborhood.
func (c *Classifier) loadOptions(kind database.Kind, segments []database.Segment) (map[int][]Option, error) {
	options := make(map[int][]Option)

	switch kind {
	case database.KindTopic:
		topics, err := c.db.ListTopics()
		if err != nil {
			return nil, err
		}
		if len(topics) == 0 {
			return nil, fmt.Errorf("no topics in corpus; run taxonomy induction first")
		}
		options[0] = categoryOptions(topics)
	case database.KindOther:
		cats, err := c.db.ListOtherCategories()
		if err != nil {
			return nil, err
		}
		options[0] = categoryOptions(cats)
	case database.KindIssue:
		for _, s := range segments {
			year := s.Year()
			if _, ok := options[year]; ok {
				continue
			}
			issues, err := c.db.ListIssuesNear(year, c.cfg.Classify.YearNeighborhood)
			if err != nil {
				return nil, err
			}
			opts := make([]Option, len(issues))
			for i, is := range issues {
				opts[i] = Option{ID: is.ID, Title: is.Title, Description: is.Description}
			}
			options[year] = opts
		}
	default:
		return nil, fmt.Errorf("cannot classify kind %q", kind)
	}
	return options, nil
}

func (c *Classifier) classifyOne(ctx context.Context, kind database.Kind, seg *database.Segment, options map[int][]Option, snapshotID string, r *Result) {
	// Empty and commercial segments carry no news: label them as matching
	// nothing without spending a model call.
	if seg.Empty || seg.Commercial {
		if err := c.writeDecision(kind, seg.ID, &Decision{}, snapshotID); err != nil {
			r.addError(fmt.Errorf("segment %d: %w", seg.ID, err))
			return
		}
		r.mu.Lock()
		r.Skipped++
		r.mu.Unlock()
		return
	}

	opts := options[0]
	if kind == database.KindIssue {
		opts = options[seg.Year()]
		if len(opts) == 0 {
			r.addError(fmt.Errorf("segment %d: no issues for year %d", seg.ID, seg.Year()))
			c.recordFailure(seg.ID, kind, 1, fmt.Sprintf("no issues for year %d", seg.Year()))
			return
		}
	}

	decision, attempts, err := c.decideWithRetry(ctx, kind, seg, opts)
	if err != nil {
		r.addError(fmt.Errorf("segment %d: %w", seg.ID, err))
		c.recordFailure(seg.ID, kind, attempts, err.Error())
		return
	}

	if err := c.writeDecision(kind, seg.ID, decision, snapshotID); err != nil {
		r.addError(fmt.Errorf("segment %d: %w", seg.ID, err))
		return
	}
	if err := c.db.ClearFailure(seg.ID, kind); err != nil {
		log.Printf("Clearing failure record for segment %d: %v", seg.ID, err)
	}

	r.mu.Lock()
	if decision.Choice == nil {
		r.None++
	} else {
		r.Classified++
	}
	r.mu.Unlock()
}

// decideWithRetry wraps one decider call in a per-attempt timeout and
// exponential backoff. Returns the number of attempts made.
func (c *Classifier) decideWithRetry(ctx context.Context, kind database.Kind, seg *database.Segment, opts []Option) (*Decision, int, error) {
	var decision *Decision
	attempts := 0

	op := func() error {
		attempts++
		callCtx := ctx
		if c.cfg.Classify.CallTimeoutSecs > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.Classify.CallTimeoutSecs)*time.Second)
			defer cancel()
		}

		d, err := c.decider.Decide(callCtx, kind, seg, opts)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		decision = d
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.Classify.MaxRetries))
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, attempts, err
	}
	return decision, attempts, nil
}

func (c *Classifier) writeDecision(kind database.Kind, segmentID int64, decision *Decision, snapshotID string) error {
	categoryID := database.NoneCategory
	if decision.Choice != nil {
		categoryID = *decision.Choice
	}
	if kind == database.KindTopic {
		return c.db.WriteTopicCategory(segmentID, categoryID, decision.HardNews, snapshotID)
	}
	return c.db.WriteCategory(segmentID, kind, categoryID, snapshotID)
}

func (c *Classifier) recordFailure(segmentID int64, kind database.Kind, attempts int, msg string) {
	if err := c.db.RecordFailure(segmentID, kind, attempts, msg); err != nil {
		log.Printf("Recording failure for segment %d: %v", segmentID, err)
	}
}

func categoryOptions(cats []database.Category) []Option {
	opts := make([]Option, len(cats))
	for i, c := range cats {
		opts[i] = Option{ID: c.ID, Title: c.Title, Description: c.Description}
	}
	return opts
}
