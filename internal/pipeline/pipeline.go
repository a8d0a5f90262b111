// Package pipeline orchestrates the taxonomy induction and classification
// passes over the corpus.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/nonews-project/nonews/internal/classify"
	"github.com/nonews-project/nonews/internal/config"
	"github.com/nonews-project/nonews/internal/database"
	"github.com/nonews-project/nonews/internal/llm"
	"github.com/nonews-project/nonews/internal/taxonomy"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Steps []StepResult
}

// Pipeline orchestrates the 6-step corpus labeling pipeline.
type Pipeline struct {
	cfg      *config.Config
	db       *database.DB
	provider llm.Provider
	embedder llm.Embedder
}

// New creates a new pipeline.
func New(cfg *config.Config, db *database.DB) *Pipeline {
	m := cfg.Model
	provider := llm.CreateProvider(
		m.Provider,
		m.Model,
		m.OllamaURL,
		m.OpenAIModel,
		m.APIKeyEnv,
	)

	embModel := m.EmbeddingModel
	if embModel == "" {
		embModel = "nomic-embed-text"
	}
	baseURL := m.OllamaURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	embedder := llm.NewOllamaEmbedder(embModel, baseURL)

	return &Pipeline{
		cfg:      cfg,
		db:       db,
		provider: provider,
		embedder: embedder,
	}
}

// Run executes the full pipeline: taxonomy induction in dependency order,
// then one classification pass per taxonomy. A failed step aborts the run;
// within a classification pass, individual segment failures are recorded and
// the pass continues.
func (p *Pipeline) Run(ctx context.Context, from, to string) *Result {
	r := &Result{}

	// Step 1: Events
	step := p.runEvents(ctx, from, to)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 2: Issues
	step = p.runIssues(ctx)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 3: Topics
	step = p.runTopics(ctx)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Steps 4-6: classification passes. Topics run first so the residual
	// pass can rely on hard_news; issues run before the residual pass so
	// its issue gate sees final labels.
	for _, kind := range []database.Kind{database.KindTopic, database.KindIssue, database.KindOther} {
		step = p.runClassify(ctx, kind, from, to)
		r.Steps = append(r.Steps, step)
		if step.Err != nil {
			return r
		}
	}

	return r
}

// DryRun shows what a full run would do without calling the model.
func (p *Pipeline) DryRun(from, to string) *Result {
	r := &Result{}

	dates, pending := 0, 0
	years, _ := p.db.YearsInCorpus()
	for _, year := range years {
		ds, _ := p.db.DatesInCorpus(year)
		for _, d := range ds {
			if (from != "" && d < from) || (to != "" && d > to) {
				continue
			}
			dates++
			n, _ := p.db.CountEventsForDate(d)
			if n == 0 {
				pending++
			}
		}
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Events",
		Summary: fmt.Sprintf("[dry-run] %d dates in range, %d without events", dates, pending),
	})

	pendingYears := 0
	for _, year := range years {
		issues, _ := p.db.ListIssues(year)
		if len(issues) == 0 {
			pendingYears++
		}
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Issues",
		Summary: fmt.Sprintf("[dry-run] %d years, %d without issues", len(years), pendingYears),
	})

	topics, _ := p.db.ListTopics()
	r.Steps = append(r.Steps, StepResult{
		Name:    "Topics",
		Summary: fmt.Sprintf("[dry-run] %d topics in corpus", len(topics)),
	})

	for _, kind := range []database.Kind{database.KindTopic, database.KindIssue, database.KindOther} {
		filter := database.SegmentFilter{
			DateFrom:      from,
			DateTo:        to,
			ProgramSuffix: "Evening News",
			InNewsOnly:    true,
			Unlabeled:     kind,
		}
		if kind == database.KindOther {
			filter.HardNewsOnly = true
			filter.IssueNone = true
		}
		n, _ := p.db.CountSegments(filter)
		r.Steps = append(r.Steps, StepResult{
			Name:    classifyStepName(kind),
			Summary: fmt.Sprintf("[dry-run] %d segments pending", n),
		})
	}

	return r
}

func (p *Pipeline) runEvents(ctx context.Context, from, to string) StepResult {
	log.Println("Step 1/6: Inducing events...")
	builder := taxonomy.NewEventBuilder(p.db, p.provider, p.embedder, p.cfg)
	result, err := builder.BuildRange(ctx, from, to)
	if err != nil {
		return StepResult{Name: "Events", Err: err}
	}
	return StepResult{
		Name: "Events",
		Summary: fmt.Sprintf("Processed %d dates (%d skipped): %d events created, %d segments linked",
			result.DatesProcessed, result.DatesSkipped, result.EventsCreated, result.SegmentsLinked),
	}
}

func (p *Pipeline) runIssues(ctx context.Context) StepResult {
	log.Println("Step 2/6: Inducing issues...")
	builder := taxonomy.NewIssueBuilder(p.db, p.provider, p.embedder, p.cfg)

	years, err := p.db.YearsInCorpus()
	if err != nil {
		return StepResult{Name: "Issues", Err: err}
	}
	created, skipped := 0, 0
	for _, year := range years {
		result, err := builder.BuildYear(ctx, year)
		if err != nil {
			return StepResult{Name: "Issues", Err: fmt.Errorf("year %d: %w", year, err)}
		}
		if result.Skipped {
			skipped++
		} else {
			created += result.Created
		}
	}
	return StepResult{
		Name:    "Issues",
		Summary: fmt.Sprintf("Created %d issues across %d years (%d years skipped)", created, len(years), skipped),
	}
}

func (p *Pipeline) runTopics(ctx context.Context) StepResult {
	log.Println("Step 3/6: Inducing topics...")
	builder := taxonomy.NewTopicBuilder(p.db, p.provider, p.embedder, p.cfg)
	result, err := builder.Build(ctx)
	if err != nil {
		return StepResult{Name: "Topics", Err: err}
	}
	if result.Skipped {
		return StepResult{
			Name:    "Topics",
			Summary: fmt.Sprintf("Topic list already built (%d topics)", result.Topics),
		}
	}
	return StepResult{
		Name: "Topics",
		Summary: fmt.Sprintf("Induced %d topics in %d iterations (%d merged away)",
			result.Topics, result.Iterations, result.MergedAway),
	}
}

func (p *Pipeline) runClassify(ctx context.Context, kind database.Kind, from, to string) StepResult {
	name := classifyStepName(kind)
	log.Printf("%s...", name)
	decider := classify.NewLLMDecider(p.provider, p.cfg.Model.MaxTokens)
	c := classify.New(p.db, decider, p.cfg)
	result, err := c.Run(ctx, kind, classify.RunOptions{DateFrom: from, DateTo: to})
	if err != nil {
		return StepResult{Name: name, Err: err}
	}
	return StepResult{
		Name: name,
		Summary: fmt.Sprintf("%d classified, %d none, %d skipped, %d failed",
			result.Classified, result.None, result.Skipped, result.Failed),
	}
}

func classifyStepName(kind database.Kind) string {
	switch kind {
	case database.KindTopic:
		return "Classify topics"
	case database.KindIssue:
		return "Classify issues"
	default:
		return "Classify other"
	}
}
