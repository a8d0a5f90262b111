package database

import "time"

// Segment is one archived broadcast news segment.
type Segment struct {
	ID         int64
	Outlet     string
	Program    string
	Date       string // YYYY-MM-DD
	Duration   int64  // seconds
	Reporter   string
	Title      string
	Abstract   string
	Commercial bool
	Empty      bool
	InNews     bool

	// Classification results. nil means the pass has not run yet;
	// NoneCategory (-1) means the pass ran and nothing fit.
	HardNews *bool
	EventID  *int64
	IssueID  *int64
	TopicID  *int64
	OtherID  *int64

	IssueSnapshot string
	TopicSnapshot string
	OtherSnapshot string

	IngestedAt time.Time
}

// Year returns the calendar year of the segment's air date.
func (s *Segment) Year() int {
	if len(s.Date) < 4 {
		return 0
	}
	t, err := time.Parse("2006-01-02", s.Date)
	if err != nil {
		return 0
	}
	return t.Year()
}

// Text returns the segment text presented to the model: the title, and the
// abstract when one exists.
func (s *Segment) Text() string {
	if s.Abstract == "" {
		return s.Title
	}
	return s.Title + "\n" + s.Abstract
}

// Event is a discrete news event induced for a single broadcast date.
type Event struct {
	ID          int64
	Date        string
	Description string
	TopStory    bool
	Model       string
	CreatedAt   time.Time
}

// Issue is a year-scoped sustained news story.
type Issue struct {
	ID          int64
	Year        int
	Title       string
	Description string
}

// Category is a generic titled taxonomy entry (topics, residual categories).
type Category struct {
	ID          int64
	Title       string
	Description string
}

// Snapshot records the state of a taxonomy at classification time.
type Snapshot struct {
	ID         string
	Kind       Kind
	EntryCount int
	CreatedAt  time.Time
}

// Aspect names one dimension of a human validation response.
type Aspect string

const (
	AspectNewsType       Aspect = "news_type"
	AspectTopicPrimary   Aspect = "topic_primary"
	AspectTopicSecondary Aspect = "topic_secondary"
	AspectIssuePrimary   Aspect = "issue_primary"
	AspectIssueSecondary Aspect = "issue_secondary"
)

// Response is one human rater's answer for one segment and aspect.
type Response struct {
	ID        int64
	SegmentID int64
	Rater     string
	Aspect    Aspect
	Value     int64
	CreatedAt time.Time
}

// Failure records a segment whose classification exhausted its retries.
type Failure struct {
	SegmentID int64
	Kind      Kind
	Attempts  int
	LastError string
	FailedAt  time.Time
}

// Stats summarizes corpus and classification state for the status command.
type Stats struct {
	Segments      int
	HardNews      int
	Events        int
	Issues        int
	Topics        int
	Responses     int
	Failures      int
	TopicLabeled  int
	IssueLabeled  int
	EventAttached int
}
