package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/nonews-project/nonews/internal/database"
	"github.com/nonews-project/nonews/internal/llm"
)

// Option is one category a segment can be assigned to.
type Option struct {
	ID          int64
	Title       string
	Description string
}

// Decision is the outcome of one classification call. A nil Choice means the
// segment fit none of the offered categories. HardNews is only set for topic
// decisions.
type Decision struct {
	Choice      *int64
	HardNews    *bool
	Explanation string
}

// Decider makes a single classification decision for a segment.
type Decider interface {
	Decide(ctx context.Context, kind database.Kind, segment *database.Segment, options []Option) (*Decision, error)
}

const issuesDecidePrompt = `You categorize what issues different news segments cover. You should
respond with a JSON object as follows:
{"explanation": str, "issue": int}
The explanation should briefly say which issue is the best fit for the news
segment and whether it is a good fit or not. If the segment does not fit any
of the issues you have been provided, respond with null for the issue.

Issues:
%s

News Segment:
%s`

const topicsDecidePrompt = `You categorize what topics different news segments cover. You should
respond with a JSON object as follows:
{"explanation": str, "topic": int, "hard_news": bool}
The explanation should briefly say which topic is the best fit for the news
segment and whether it is a good fit or not. If the segment does not fit any
of the topics you have been provided, respond with null for the topic.

The hard_news field should be true if the segment is hard news (politics,
economics, crime) and false otherwise (entertainment, sports, human
interest).

Topics:
%s

News Segment:
%s`

const otherDecidePrompt = `Here is a list of topics:
%s

Your job is to categorize what topics different news segments cover. You
should respond with a JSON object as follows:
{"explanation": str, "topic": int}
The explanation should briefly say which topic is the best fit for the news
segment and whether it is a good fit or not. If the segment does not fit any
of the topics, respond with null for the topic.

News Segment:
%s`

// LLMDecider implements Decider against an llm.Provider.
type LLMDecider struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMDecider creates a model-backed decider.
func NewLLMDecider(provider llm.Provider, maxTokens int) *LLMDecider {
	return &LLMDecider{provider: provider, maxTokens: maxTokens}
}

type decideResponse struct {
	Explanation string `json:"explanation"`
	Topic       *int64 `json:"topic"`
	Issue       *int64 `json:"issue"`
	HardNews    *bool  `json:"hard_news"`
}

// Decide classifies one segment against the offered options. A choice
// outside the offered set is an error so the caller can retry.
func (d *LLMDecider) Decide(ctx context.Context, kind database.Kind, segment *database.Segment, options []Option) (*Decision, error) {
	segmentText := fmt.Sprintf("(%s) %s: %s\n%s", segment.Date, segment.Outlet, segment.Title, segment.Abstract)

	var prompt string
	switch kind {
	case database.KindIssue:
		prompt = fmt.Sprintf(issuesDecidePrompt, formatOptions(options), segmentText)
	case database.KindTopic:
		prompt = fmt.Sprintf(topicsDecidePrompt, formatOptions(options), segmentText)
	case database.KindOther:
		prompt = fmt.Sprintf(otherDecidePrompt, formatOptions(options), segmentText)
	default:
		return nil, fmt.Errorf("no decider prompt for kind %q", kind)
	}

	response, err := d.provider.Generate(ctx, prompt, d.maxTokens)
	if err != nil {
		return nil, err
	}

	var parsed decideResponse
	if err := llm.DecodeJSON(response, &parsed); err != nil {
		return nil, err
	}

	choice := parsed.Topic
	if kind == database.KindIssue {
		choice = parsed.Issue
	}
	if choice != nil && !optionExists(options, *choice) {
		return nil, fmt.Errorf("model chose unknown %s id %d", kind, *choice)
	}

	decision := &Decision{Choice: choice, Explanation: parsed.Explanation}
	if kind == database.KindTopic {
		if parsed.HardNews == nil {
			return nil, fmt.Errorf("topic decision missing hard_news field")
		}
		decision.HardNews = parsed.HardNews
	}
	return decision, nil
}

func formatOptions(options []Option) string {
	var sb strings.Builder
	for _, o := range options {
		fmt.Fprintf(&sb, "%d: %s: %s\n", o.ID, o.Title, o.Description)
	}
	return sb.String()
}

func optionExists(options []Option, id int64) bool {
	for _, o := range options {
		if o.ID == id {
			return true
		}
	}
	return false
}
