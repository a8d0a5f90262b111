package taxonomy

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nonews-project/nonews/internal/cluster"
	"github.com/nonews-project/nonews/internal/config"
	"github.com/nonews-project/nonews/internal/database"
	"github.com/nonews-project/nonews/internal/llm"
)

const issuesPrompt = `You summarize important issues people would think are important national
problems based on what was in the news. You respond with a JSON object as
follows:
{
    "issues": [{"title": str, "description": str}, ...],
    "revisions": [{"old_title": str, "new_title": str}, ...]
}
The title is a short name for the issue (e.g., "Stagflation" or "The Iraq
War") and the description is a brief but accurate one-sentence summary.

It is very important that issue titles maintain continuity across years, so
when issues from previous years are provided you should reuse their titles
exactly. When the same issue ended up with a different title in a previous
year, submit a revision object with the old and new titles. Only revise when
the new title would also have been a reasonable title in the previous years.
If there are no revisions, leave the revisions field out.

%s
Based on this list of events, what were the ten to fifteen most important
issues people would consider important national problems in %d? Be specific
("Inflation" rather than "The Economy"; "The Vietnam War" rather than
"Foreign Policy").
%sNOTE: A small number of these stories may be hallucinated. Ignore stories
that are not relevant to events in %d, or that occurred at a different time.`

const revisionPrompt = `You maintain a database of issues that were important in the news each year.
You will be presented with a proposed title merger and asked to approve or
reject it, based on whether the issues really are the same. Respond with a
JSON object:
{"summary": str, "title": str, "approved": bool}
Approve only when the title makes sense for all years and the issues are the
same ("The Iraq War" and "The War in Iraq" are the same; "The Iraq War" and
"The Vietnam War" are not). If approved, the issue is renamed to the title
you provide. Summarize your reasoning either way.

Should the following issues be merged? If so, what should the title be?
%s:
%s
%s:
%s`

// IssueResult summarizes an issue induction run for one year.
type IssueResult struct {
	Year             int
	Created          int
	Merged           int
	RevisionsApplied int
	Skipped          bool
}

// IssueBuilder induces the sustained issues of each year from its top
// stories.
type IssueBuilder struct {
	db       *database.DB
	provider llm.Provider
	embedder llm.Embedder
	cfg      *config.Config
}

// NewIssueBuilder creates an issue builder.
func NewIssueBuilder(db *database.DB, provider llm.Provider, embedder llm.Embedder, cfg *config.Config) *IssueBuilder {
	return &IssueBuilder{db: db, provider: provider, embedder: embedder, cfg: cfg}
}

type issueResponse struct {
	Issues []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"issues"`
	Revisions []struct {
		OldTitle string `json:"old_title"`
		NewTitle string `json:"new_title"`
	} `json:"revisions"`
}

type revisionResponse struct {
	Summary  string `json:"summary"`
	Title    string `json:"title"`
	Approved bool   `json:"approved"`
}

// BuildYear induces the issues for one year. Years that already have issues
// are skipped so interrupted runs can resume.
func (b *IssueBuilder) BuildYear(ctx context.Context, year int) (*IssueResult, error) {
	r := &IssueResult{Year: year}

	existing, err := b.db.ListIssues(year)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		log.Printf("Issues for %d already built, skipping", year)
		r.Skipped = true
		return r, nil
	}

	topStories, err := b.db.TopStories(year, 3)
	if err != nil {
		return nil, err
	}
	if len(topStories) == 0 {
		return nil, fmt.Errorf("no events for %d; run event induction first", year)
	}

	prior, err := b.db.ListIssuesBefore(year)
	if err != nil {
		return nil, err
	}

	response, err := b.provider.Generate(ctx, b.buildPrompt(topStories, prior, year), b.cfg.Model.MaxTokens)
	if err != nil {
		return nil, err
	}

	var parsed issueResponse
	if err := llm.DecodeJSON(response, &parsed); err != nil {
		return nil, err
	}

	var candidates []database.Category
	for _, is := range parsed.Issues {
		if strings.TrimSpace(is.Title) == "" {
			continue
		}
		candidates = append(candidates, database.Category{Title: is.Title, Description: is.Description})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("model proposed no issues for %d", year)
	}

	// Merge down to budget before anything is committed, so the per-year
	// limit can never be exceeded even transiently.
	budget := b.cfg.Taxonomy.IssuesPerYear
	if len(candidates) > budget {
		merged, err := b.mergeToBudget(ctx, candidates, budget)
		if err != nil {
			return nil, err
		}
		r.Merged = len(candidates) - len(merged)
		candidates = merged
	}

	if err := b.db.InsertIssues(year, candidates); err != nil {
		return nil, err
	}
	r.Created = len(candidates)

	for _, rev := range parsed.Revisions {
		applied, err := b.applyRevision(ctx, prior, rev.OldTitle, rev.NewTitle, year)
		if err != nil {
			log.Printf("Skipping revision %q -> %q: %v", rev.OldTitle, rev.NewTitle, err)
			continue
		}
		if applied {
			r.RevisionsApplied++
		}
	}

	log.Printf("Issues for %d: %d created, %d merged away, %d revisions applied",
		year, r.Created, r.Merged, r.RevisionsApplied)
	return r, nil
}

func (b *IssueBuilder) buildPrompt(topStories []database.Event, prior []database.Issue, year int) string {
	var stories strings.Builder
	for _, e := range topStories {
		fmt.Fprintf(&stories, "%s: %s\n", e.Date, e.Description)
	}

	continuity := ""
	if len(prior) > 0 {
		years := make(map[string][]int)
		var order []string
		for _, is := range prior {
			if _, ok := years[is.Title]; !ok {
				order = append(order, is.Title)
			}
			years[is.Title] = append(years[is.Title], is.Year)
		}
		var sb strings.Builder
		for i, title := range order {
			fmt.Fprintf(&sb, "%3d. %s: %s\n", i+1, title, joinYears(years[title]))
		}
		continuity = "You can come up with brand new issues or borrow from the most important " +
			"issues from previous years:\n" + sb.String() +
			"If an issue was important this year and a previous year, copy the title " +
			"exactly so the issues maintain continuity across years.\n"
	}

	return fmt.Sprintf(issuesPrompt, stories.String(), year, continuity, year)
}

// mergeToBudget collapses near-duplicate candidates by Ward clustering their
// embeddings into exactly budget groups, keeping each group's most central
// candidate.
func (b *IssueBuilder) mergeToBudget(ctx context.Context, candidates []database.Category, budget int) ([]database.Category, error) {
	if b.embedder == nil {
		// Without an embedder, keep the first candidates the model ranked.
		return candidates[:budget], nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Title + ": " + c.Description
	}
	embeddings, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(candidates) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d candidates", len(embeddings), len(candidates))
	}

	labels := cluster.LabelsK(embeddings, budget)
	var merged []database.Category
	for _, group := range cluster.Groups(labels) {
		if len(group) == 0 {
			continue
		}
		best := group[0]
		bestScore := -1.0
		for _, i := range group {
			var total float64
			for _, j := range group {
				if i != j {
					total += cosine(embeddings[i], embeddings[j])
				}
			}
			if total > bestScore {
				bestScore = total
				best = i
			}
		}
		merged = append(merged, candidates[best])
	}
	return merged, nil
}

func (b *IssueBuilder) applyRevision(ctx context.Context, prior []database.Issue, oldTitle, newTitle string, year int) (bool, error) {
	oldEntries := issuesWithTitle(prior, oldTitle)
	newEntries := issuesWithTitle(prior, newTitle)
	// The current year's freshly inserted issues also count as the new side.
	current, err := b.db.ListIssues(year)
	if err != nil {
		return false, err
	}
	newEntries = append(newEntries, issuesWithTitle(current, newTitle)...)

	if len(oldEntries) == 0 || len(newEntries) == 0 {
		return false, fmt.Errorf("title not found in database")
	}

	prompt := fmt.Sprintf(revisionPrompt,
		oldTitle, formatIssueList(oldEntries),
		newTitle, formatIssueList(newEntries))
	response, err := b.provider.Generate(ctx, prompt, b.cfg.Model.MaxTokens)
	if err != nil {
		return false, err
	}

	var parsed revisionResponse
	if err := llm.DecodeJSON(response, &parsed); err != nil {
		return false, err
	}
	if !parsed.Approved || strings.TrimSpace(parsed.Title) == "" {
		log.Printf("Revision %q -> %q rejected: %s", oldTitle, newTitle, parsed.Summary)
		return false, nil
	}

	if _, err := b.db.RenameIssueTitle(oldTitle, parsed.Title); err != nil {
		return false, err
	}
	return true, nil
}

func issuesWithTitle(issues []database.Issue, title string) []database.Issue {
	var out []database.Issue
	for _, is := range issues {
		if is.Title == title {
			out = append(out, is)
		}
	}
	return out
}

func formatIssueList(issues []database.Issue) string {
	var sb strings.Builder
	for i, is := range issues {
		fmt.Fprintf(&sb, "%3d. %s (%d): %s\n", i+1, is.Title, is.Year, is.Description)
	}
	return sb.String()
}

func joinYears(years []int) string {
	parts := make([]string, len(years))
	for i, y := range years {
		parts[i] = fmt.Sprintf("%d", y)
	}
	return strings.Join(parts, ", ")
}
