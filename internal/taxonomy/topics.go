package taxonomy

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nonews-project/nonews/internal/config"
	"github.com/nonews-project/nonews/internal/database"
	"github.com/nonews-project/nonews/internal/llm"
)

// seedTopics is the starting list the refinement loop iterates on.
var seedTopics = []database.Category{
	{Title: "International Relations", Description: "Coverage of global diplomacy, treaties, and conflicts."},
	{Title: "National Security", Description: "Discussions about terrorism, defense policies, and homeland security."},
	{Title: "Economics and Business", Description: "Reports on the stock market, corporate news, and economic indicators."},
	{Title: "Politics", Description: "Coverage of political parties, campaigns, and elections."},
	{Title: "Congress", Description: "Legislative actions, hearings, and debates."},
	{Title: "The Presidency", Description: "Activities and policies of the sitting president."},
	{Title: "Judiciary", Description: "Supreme Court decisions and significant legal battles."},
	{Title: "Health Care", Description: "Debates on health policies, insurance issues, and public health crises."},
	{Title: "Education", Description: "News on policy changes, school events, and educational reforms."},
	{Title: "Environment", Description: "Issues like climate change, conservation efforts, and natural disasters."},
	{Title: "Technology", Description: "Innovations, cybersecurity, and the impact of tech on society."},
	{Title: "Sports", Description: "Major sporting events, updates, and athlete news."},
	{Title: "Crime and Law Enforcement", Description: "Coverage of major crimes, law enforcement activities, and public safety issues."},
	{Title: "Transportation", Description: "News about public transport, infrastructure projects, and automotive industry updates."},
	{Title: "Arts and Culture", Description: "Highlights from the worlds of art, music, and culture."},
	{Title: "Social Issues", Description: "Discussions on civil rights, social justice, and community movements."},
	{Title: "Science and Research", Description: "Discoveries, research developments, and space exploration."},
	{Title: "Health and Wellness", Description: "News on medical advancements, wellness tips, and health advisories."},
	{Title: "Consumer Affairs", Description: "Consumer protection, product recalls, and shopping advice."},
	{Title: "Human Interest Stories", Description: "Feature stories on individuals or events that have a unique or emotional appeal."},
}

const topicsPrompt = `You are helping me create a list of very high-level news topics for events
from the last fifty years of news. I will present you with a list of events
covered in the news and the current working list of topics. Examine how well
the topics cover the events and suggest changes so that most events can be
categorized under one of the topics, with no topic too broad or too narrow.
Be careful of topics that are too specific: the corpus spans more than five
decades and a wide range of sources.

I'm aiming for a list of around twenty topics, so add, remove, or merge
topics as needed to reach that number. Respond with a JSON object:
{
    "explanation": str,
    "removals": [{"title": str, "id": int}],
    "additions": [{"title": str, "description": str}]
}
The removals field lists the 1-based indices of topics to remove; any topic
you remove should be at least roughly covered by one you add. If the current
list is good, leave both fields empty.

Here are %d events from the news:
%s

Here are the current topics:
%s`

// TopicResult summarizes a topic induction run.
type TopicResult struct {
	Topics     int
	Iterations int
	MergedAway int
	Skipped    bool
}

// TopicBuilder induces the single global topic list by iterative refinement
// over samples of induced events.
type TopicBuilder struct {
	db       *database.DB
	provider llm.Provider
	embedder llm.Embedder
	cfg      *config.Config
}

// NewTopicBuilder creates a topic builder.
func NewTopicBuilder(db *database.DB, provider llm.Provider, embedder llm.Embedder, cfg *config.Config) *TopicBuilder {
	return &TopicBuilder{db: db, provider: provider, embedder: embedder, cfg: cfg}
}

type topicResponse struct {
	Explanation string `json:"explanation"`
	Removals    []struct {
		Title string `json:"title"`
		ID    int    `json:"id"`
	} `json:"removals"`
	Additions []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"additions"`
}

// workingTopic tracks how long a candidate has survived refinement; older
// candidates win deduplication ties.
type workingTopic struct {
	database.Category
	born int
}

// Build induces the global topic list. A corpus that already has topics is
// left alone.
func (b *TopicBuilder) Build(ctx context.Context) (*TopicResult, error) {
	existing, err := b.db.ListTopics()
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		log.Printf("Topic list already built (%d topics), skipping", len(existing))
		return &TopicResult{Topics: len(existing), Skipped: true}, nil
	}

	working := make([]workingTopic, len(seedTopics))
	for i, t := range seedTopics {
		working[i] = workingTopic{Category: t, born: 0}
	}

	r := &TopicResult{}
	for iter := 1; iter <= b.cfg.Taxonomy.RefineIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		refined, err := b.refine(ctx, working, iter)
		if err != nil {
			return nil, fmt.Errorf("refinement iteration %d: %w", iter, err)
		}
		working = refined
		r.Iterations = iter
	}

	deduped, err := b.dedupe(ctx, working)
	if err != nil {
		return nil, err
	}
	r.MergedAway = len(working) - len(deduped)

	if len(deduped) < b.cfg.Taxonomy.MinTopics || len(deduped) > b.cfg.Taxonomy.MaxTopics {
		return nil, fmt.Errorf("refinement produced %d topics, outside [%d, %d]: %w",
			len(deduped), b.cfg.Taxonomy.MinTopics, b.cfg.Taxonomy.MaxTopics, ErrCapacityExceeded)
	}

	final := make([]database.Category, len(deduped))
	for i, t := range deduped {
		final[i] = t.Category
	}
	if err := b.db.ReplaceTopics(final); err != nil {
		return nil, err
	}
	r.Topics = len(final)

	log.Printf("Topic induction complete: %d topics after %d iterations, %d merged away",
		r.Topics, r.Iterations, r.MergedAway)
	return r, nil
}

func (b *TopicBuilder) refine(ctx context.Context, working []workingTopic, iter int) ([]workingTopic, error) {
	events, err := b.db.SampleEvents(b.cfg.Taxonomy.SampleSize)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no events in corpus; run event induction first")
	}

	var eventsStr strings.Builder
	for _, e := range events {
		fmt.Fprintf(&eventsStr, "- %s: %s\n", e.Date, e.Description)
	}
	var topicsStr strings.Builder
	for i, t := range working {
		fmt.Fprintf(&topicsStr, "%d: %s - %s\n", i+1, t.Title, t.Description)
	}

	prompt := fmt.Sprintf(topicsPrompt, len(events), eventsStr.String(), topicsStr.String())
	response, err := b.provider.Generate(ctx, prompt, b.cfg.Model.MaxTokens)
	if err != nil {
		return nil, err
	}

	var parsed topicResponse
	if err := llm.DecodeJSON(response, &parsed); err != nil {
		return nil, err
	}

	removed := make(map[int]bool)
	for _, rm := range parsed.Removals {
		if rm.ID >= 1 && rm.ID <= len(working) {
			removed[rm.ID] = true
		}
	}

	var next []workingTopic
	for i, t := range working {
		if !removed[i+1] {
			next = append(next, t)
		}
	}
	for _, add := range parsed.Additions {
		if strings.TrimSpace(add.Title) == "" {
			continue
		}
		next = append(next, workingTopic{
			Category: database.Category{Title: add.Title, Description: add.Description},
			born:     iter,
		})
	}
	return next, nil
}

// dedupe drops candidates whose embedding sits within merge_threshold cosine
// distance of a longer-lived candidate.
func (b *TopicBuilder) dedupe(ctx context.Context, working []workingTopic) ([]workingTopic, error) {
	if b.embedder == nil || len(working) < 2 {
		return working, nil
	}

	texts := make([]string, len(working))
	for i, t := range working {
		texts[i] = t.Title + ": " + t.Description
	}
	embeddings, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(working) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d topics", len(embeddings), len(working))
	}

	dropped := make([]bool, len(working))
	for i := 0; i < len(working); i++ {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(working); j++ {
			if dropped[j] {
				continue
			}
			if 1-cosine(embeddings[i], embeddings[j]) < b.cfg.Taxonomy.MergeThreshold {
				// Keep whichever candidate has survived more iterations.
				if working[j].born < working[i].born {
					dropped[i] = true
				} else {
					dropped[j] = true
				}
			}
			if dropped[i] {
				break
			}
		}
	}

	var out []workingTopic
	for i, t := range working {
		if !dropped[i] {
			out = append(out, t)
		}
	}
	return out, nil
}
