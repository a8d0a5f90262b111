package agreement

import (
	"fmt"
	"strings"
)

var familyNames = map[Family]string{
	FamilyNewsType: "News Type",
	FamilyTopic:    "Topic",
	FamilyIssue:    "Issue",
}

// Markdown renders the agreement reports as a markdown document. The validate
// command prints it and the viewer renders it to HTML.
func Markdown(reports []*AspectReport) string {
	var sb strings.Builder
	sb.WriteString("# Validation Report\n\n")
	sb.WriteString("| Aspect | Segments | Human Acc. | Model Acc. | Chance (H-H) | Chance (H-M) | Ties |\n")
	sb.WriteString("|---|---|---|---|---|---|---|\n")
	for _, r := range reports {
		fmt.Fprintf(&sb, "| %s | %d | %s | %s | %.3f (n=%d) | %s | %d |\n",
			familyNames[r.Family], r.Segments,
			formatProportion(r.Human), formatProportion(r.Model),
			r.ChanceHuman, r.ChanceHumanN,
			formatProportion(r.ChanceModel), r.TieSegments)
	}
	sb.WriteString("\nAccuracy is the proportion of labels matching the majority-vote gold label.\n")
	sb.WriteString("Chance (H-H) is the probability two raters of the same segment agree;\n")
	sb.WriteString("Chance (H-M) is the probability a rater matches the model's label.\n")
	return sb.String()
}

func formatProportion(p Proportion) string {
	if p.N == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.3f ± %.3f (n=%d)", p.Value, p.SE, p.N)
}
