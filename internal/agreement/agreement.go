// Package agreement reduces human validation responses to gold labels and
// scores model output against them, with chance-agreement baselines.
package agreement

import (
	"fmt"
	"math"
	"sort"

	"github.com/nonews-project/nonews/internal/database"
)

// Family is one validated dimension. The topic and issue families each pool a
// primary and a secondary survey question; news type has only a primary.
type Family string

const (
	FamilyNewsType Family = "news_type"
	FamilyTopic    Family = "topic"
	FamilyIssue    Family = "issue"
)

// Families lists the validated dimensions in report order.
var Families = []Family{FamilyNewsType, FamilyTopic, FamilyIssue}

func (f Family) primary() database.Aspect {
	switch f {
	case FamilyTopic:
		return database.AspectTopicPrimary
	case FamilyIssue:
		return database.AspectIssuePrimary
	default:
		return database.AspectNewsType
	}
}

func (f Family) secondary() (database.Aspect, bool) {
	switch f {
	case FamilyTopic:
		return database.AspectTopicSecondary, true
	case FamilyIssue:
		return database.AspectIssueSecondary, true
	default:
		return "", false
	}
}

// Gold is the consensus label for one segment: the value(s) with the maximum
// vote weight. Ties are kept as a set and any member scores as correct.
type Gold struct {
	SegmentID int64
	Values    []int64
	Weight    float64
}

// Contains reports whether v is one of the gold values.
func (g *Gold) Contains(v int64) bool {
	for _, gv := range g.Values {
		if gv == v {
			return true
		}
	}
	return false
}

// GoldLabels computes the per-segment gold label by majority vote. Primary
// responses weigh 1, secondary responses weigh 0.5 toward the same family.
// The result does not depend on response order.
func GoldLabels(primary, secondary []database.Response) map[int64]*Gold {
	votes := make(map[int64]map[int64]float64)
	add := func(segmentID, value int64, w float64) {
		if votes[segmentID] == nil {
			votes[segmentID] = make(map[int64]float64)
		}
		votes[segmentID][value] += w
	}
	for _, r := range primary {
		add(r.SegmentID, r.Value, 1)
	}
	for _, r := range secondary {
		add(r.SegmentID, r.Value, 0.5)
	}

	gold := make(map[int64]*Gold, len(votes))
	for segmentID, byValue := range votes {
		g := &Gold{SegmentID: segmentID}
		for value, w := range byValue {
			switch {
			case w > g.Weight:
				g.Weight = w
				g.Values = []int64{value}
			case w == g.Weight:
				g.Values = append(g.Values, value)
			}
		}
		sort.Slice(g.Values, func(i, j int) bool { return g.Values[i] < g.Values[j] })
		gold[segmentID] = g
	}
	return gold
}

// Proportion is an estimated proportion with its standard error and sample
// size.
type Proportion struct {
	Value float64
	SE    float64
	N     int
}

// proportionOf summarizes a slice of 0/1 indicators. The standard error is
// the sample standard deviation over sqrt(n).
func proportionOf(indicators []float64) Proportion {
	n := len(indicators)
	if n == 0 {
		return Proportion{}
	}
	var sum float64
	for _, x := range indicators {
		sum += x
	}
	mean := sum / float64(n)

	var se float64
	if n > 1 {
		var ss float64
		for _, x := range indicators {
			d := x - mean
			ss += d * d
		}
		se = math.Sqrt(ss/float64(n-1)) / math.Sqrt(float64(n))
	}
	return Proportion{Value: mean, SE: se, N: n}
}

// humanAccuracy scores each primary response against its segment's gold.
func humanAccuracy(primary []database.Response, gold map[int64]*Gold) Proportion {
	var indicators []float64
	for _, r := range primary {
		g, ok := gold[r.SegmentID]
		if !ok {
			continue
		}
		if g.Contains(r.Value) {
			indicators = append(indicators, 1)
		} else {
			indicators = append(indicators, 0)
		}
	}
	return proportionOf(indicators)
}

// modelAccuracy scores each segment's model label against gold. Segments
// without a model label are excluded.
func modelAccuracy(gold map[int64]*Gold, model map[int64]int64) Proportion {
	var indicators []float64
	for segmentID, g := range gold {
		label, ok := model[segmentID]
		if !ok {
			continue
		}
		if g.Contains(label) {
			indicators = append(indicators, 1)
		} else {
			indicators = append(indicators, 0)
		}
	}
	return proportionOf(indicators)
}

// pairwiseChance estimates how often two independently drawn responses to the
// same segment agree: per segment, the agreeing pair count over all pairs,
// averaged across segments with at least two responses.
func pairwiseChance(primary []database.Response) (float64, int) {
	counts := make(map[int64]map[int64]int)
	for _, r := range primary {
		if counts[r.SegmentID] == nil {
			counts[r.SegmentID] = make(map[int64]int)
		}
		counts[r.SegmentID][r.Value]++
	}

	var sum float64
	segments := 0
	for _, byValue := range counts {
		n := 0
		for _, c := range byValue {
			n += c
		}
		if n < 2 {
			continue
		}
		agreeing := 0
		for _, c := range byValue {
			agreeing += c * (c - 1) / 2
		}
		sum += float64(agreeing) / float64(n*(n-1)/2)
		segments++
	}
	if segments == 0 {
		return 0, 0
	}
	return sum / float64(segments), segments
}

// modelChance estimates how often a human response matches the model label
// for the same segment. Responses for segments without a model label are
// excluded rather than scored as mismatches.
func modelChance(primary []database.Response, model map[int64]int64) Proportion {
	var indicators []float64
	for _, r := range primary {
		label, ok := model[r.SegmentID]
		if !ok {
			continue
		}
		if r.Value == label {
			indicators = append(indicators, 1)
		} else {
			indicators = append(indicators, 0)
		}
	}
	return proportionOf(indicators)
}

// AspectReport holds the agreement statistics for one family.
type AspectReport struct {
	Family       Family
	Segments     int
	Human        Proportion
	Model        Proportion
	ChanceHuman  float64
	ChanceHumanN int
	ChanceModel  Proportion
	TieSegments  int
}

// Compute derives one family's report from responses and model labels. The
// model map holds one label per segment; segments the model has not labeled
// are simply absent.
func Compute(family Family, primary, secondary []database.Response, model map[int64]int64) *AspectReport {
	gold := GoldLabels(primary, secondary)

	ties := 0
	for _, g := range gold {
		if len(g.Values) > 1 {
			ties++
		}
	}

	chanceHuman, chanceN := pairwiseChance(primary)
	return &AspectReport{
		Family:       family,
		Segments:     len(gold),
		Human:        humanAccuracy(primary, gold),
		Model:        modelAccuracy(gold, model),
		ChanceHuman:  chanceHuman,
		ChanceHumanN: chanceN,
		ChanceModel:  modelChance(primary, model),
		TieSegments:  ties,
	}
}

// Estimator computes agreement reports from the corpus store.
type Estimator struct {
	db *database.DB
}

// New creates an estimator.
func New(db *database.DB) *Estimator {
	return &Estimator{db: db}
}

// Report computes the agreement report for one family.
func (e *Estimator) Report(family Family) (*AspectReport, error) {
	primary, err := e.db.ListResponses(family.primary())
	if err != nil {
		return nil, err
	}
	var secondary []database.Response
	if aspect, ok := family.secondary(); ok {
		secondary, err = e.db.ListResponses(aspect)
		if err != nil {
			return nil, err
		}
	}

	model, err := e.modelLabels(family, primary)
	if err != nil {
		return nil, err
	}
	return Compute(family, primary, secondary, model), nil
}

// ReportAll computes reports for every family.
func (e *Estimator) ReportAll() ([]*AspectReport, error) {
	reports := make([]*AspectReport, 0, len(Families))
	for _, f := range Families {
		r, err := e.Report(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// modelLabels reads the model's label for each rated segment. A NULL label
// means the segment has not been classified and is left out of the map.
func (e *Estimator) modelLabels(family Family, primary []database.Response) (map[int64]int64, error) {
	model := make(map[int64]int64)
	for _, r := range primary {
		if _, ok := model[r.SegmentID]; ok {
			continue
		}
		s, err := e.db.GetSegment(r.SegmentID)
		if err != nil {
			return nil, err
		}
		if s == nil {
			continue
		}
		switch family {
		case FamilyNewsType:
			if s.HardNews != nil {
				if *s.HardNews {
					model[r.SegmentID] = 1
				} else {
					model[r.SegmentID] = 0
				}
			}
		case FamilyTopic:
			if s.TopicID != nil {
				model[r.SegmentID] = *s.TopicID
			}
		case FamilyIssue:
			if s.IssueID != nil {
				model[r.SegmentID] = *s.IssueID
			}
		}
	}
	return model, nil
}
