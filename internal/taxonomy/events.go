package taxonomy

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nonews-project/nonews/internal/config"
	"github.com/nonews-project/nonews/internal/database"
	"github.com/nonews-project/nonews/internal/llm"
)

const eventsPrompt = `You summarize the day's news by giving a list of all the events that were
covered by the media, and by saying what event was the most important. You
respond with a JSON object as follows:
{"events": [{"description": str, "segments": [int]}, ...]}
The description should be a brief but accurate one-sentence summary of the
event that occurred, specific to the date (not "the war in Iraq" but
"Secretary Rumsfeld announced..."). The segments field holds the ID numbers
of the segments that covered the event.

In a typical broadcast each segment covers a different event, so expect
roughly as many events as segments unless it is a slow news day or one
extremely important event dominated. List the most important event FIRST and
never list the same event twice.

These are the news segments that aired on %s:

%s`

// EventResult summarizes an event induction run.
type EventResult struct {
	DatesProcessed int
	DatesSkipped   int
	EventsCreated  int
	EventsAttached int
	SegmentsLinked int
}

// EventBuilder induces the discrete news events of each broadcast date.
type EventBuilder struct {
	db       *database.DB
	provider llm.Provider
	embedder llm.Embedder
	cfg      *config.Config
}

// NewEventBuilder creates an event builder.
func NewEventBuilder(db *database.DB, provider llm.Provider, embedder llm.Embedder, cfg *config.Config) *EventBuilder {
	return &EventBuilder{db: db, provider: provider, embedder: embedder, cfg: cfg}
}

// BuildRange induces events for every date in [from, to] that has segments
// and no events yet. Dates already processed are skipped, so interrupted
// runs can resume.
func (b *EventBuilder) BuildRange(ctx context.Context, from, to string) (*EventResult, error) {
	dates, err := b.db.DatesInCorpus(0)
	if err != nil {
		return nil, err
	}

	r := &EventResult{}
	for _, date := range dates {
		if (from != "" && date < from) || (to != "" && date > to) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return r, err
		}

		count, err := b.db.CountEventsForDate(date)
		if err != nil {
			return r, err
		}
		if count > 0 {
			r.DatesSkipped++
			continue
		}

		if err := b.buildDate(ctx, date, r); err != nil {
			return r, fmt.Errorf("inducing events for %s: %w", date, err)
		}
		r.DatesProcessed++
	}

	log.Printf("Event induction complete: %d dates processed, %d skipped, %d events created, %d attached",
		r.DatesProcessed, r.DatesSkipped, r.EventsCreated, r.EventsAttached)
	return r, nil
}

type eventResponse struct {
	Events []struct {
		Description string  `json:"description"`
		Segments    []int64 `json:"segments"`
	} `json:"events"`
}

func (b *EventBuilder) buildDate(ctx context.Context, date string, r *EventResult) error {
	segments, err := b.db.ScanSegments(database.SegmentFilter{
		DateFrom:      date,
		DateTo:        date,
		ExcludeEmpty:  true,
		ExcludeAds:    true,
		InNewsOnly:    true,
		ProgramSuffix: "Evening News",
	})
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}

	prompt := fmt.Sprintf(eventsPrompt, date, formatSegments(segments))
	response, err := b.provider.Generate(ctx, prompt, b.cfg.Model.MaxTokens)
	if err != nil {
		return err
	}

	var parsed eventResponse
	if err := llm.DecodeJSON(response, &parsed); err != nil {
		return err
	}

	known := make(map[int64]bool, len(segments))
	for _, s := range segments {
		known[s.ID] = true
	}

	var candidates []database.EventDraft
	for i, e := range parsed.Events {
		for _, segID := range e.Segments {
			if !known[segID] {
				return fmt.Errorf("event references unknown segment %d", segID)
			}
		}
		if len(e.Segments) == 0 {
			log.Printf("Dropping event with no segments: %s", e.Description)
			continue
		}
		candidates = append(candidates, database.EventDraft{
			Description: e.Description,
			TopStory:    i == 0,
			SegmentIDs:  e.Segments,
		})
	}

	if len(candidates) > b.cfg.Taxonomy.MaxEventsPerDay {
		return fmt.Errorf("%d events for %s exceeds the per-day cap of %d: %w",
			len(candidates), date, b.cfg.Taxonomy.MaxEventsPerDay, ErrCapacityExceeded)
	}

	fresh, attached, err := b.attachToWindow(ctx, date, candidates)
	if err != nil {
		return err
	}
	r.EventsAttached += attached

	if len(fresh) > 0 {
		if _, err := b.db.InsertEvents(date, b.provider.Name(), fresh); err != nil {
			return err
		}
		r.EventsCreated += len(fresh)
	}
	for _, d := range candidates {
		r.SegmentsLinked += len(d.SegmentIDs)
	}
	return nil
}

// attachToWindow compares candidates against events from the preceding
// window. A candidate whose combined similarity with an existing event
// clears the attach threshold has its segments linked to that event instead
// of creating a near-duplicate. Ties go to the earliest event.
func (b *EventBuilder) attachToWindow(ctx context.Context, date string, candidates []database.EventDraft) ([]database.EventDraft, int, error) {
	window := b.cfg.Taxonomy.WindowDays
	if window <= 0 || len(candidates) == 0 || b.embedder == nil {
		return candidates, 0, nil
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, 0, fmt.Errorf("bad date %q: %w", date, err)
	}
	from := day.AddDate(0, 0, -window).Format("2006-01-02")
	prior, err := b.db.ListEventsWindow(from, day.AddDate(0, 0, -1).Format("2006-01-02"))
	if err != nil {
		return nil, 0, err
	}
	if len(prior) == 0 {
		return candidates, 0, nil
	}

	texts := make([]string, 0, len(candidates)+len(prior))
	for _, c := range candidates {
		texts = append(texts, c.Description)
	}
	for _, e := range prior {
		texts = append(texts, e.Description)
	}
	embeddings, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, 0, err
	}
	if len(embeddings) != len(texts) {
		return nil, 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(embeddings), len(texts))
	}

	var fresh []database.EventDraft
	attached := 0
	for i, c := range candidates {
		bestScore := 0.0
		bestEvent := -1
		for j, e := range prior {
			eventDay, err := time.Parse("2006-01-02", e.Date)
			if err != nil {
				continue
			}
			gap := day.Sub(eventDay).Hours() / 24
			proximity := 1 - gap/float64(window+1)
			score := cosine(embeddings[i], embeddings[len(candidates)+j]) * proximity
			if score > bestScore || (score == bestScore && bestEvent >= 0 && e.ID < prior[bestEvent].ID) {
				bestScore = score
				bestEvent = j
			}
		}
		if bestEvent >= 0 && bestScore >= b.cfg.Taxonomy.AttachThreshold {
			for _, segID := range c.SegmentIDs {
				if err := b.db.AttachSegmentToEvent(segID, prior[bestEvent].ID); err != nil {
					return nil, attached, err
				}
			}
			attached++
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh, attached, nil
}

func formatSegments(segments []database.Segment) string {
	var sb strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&sb, "(%d) %s\n%s:\n%s\n====================\n",
			s.ID, s.Outlet, s.Title, s.Abstract)
	}
	return sb.String()
}
