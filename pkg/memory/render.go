package memory

import (
	"fmt"
	"strings"
)

func renderDiaryMarkdown(e DiaryEntry) string {
	var b strings.Builder
	status := "FAILED"
	if e.Success {
		status = "SUCCESS"
	}
	fmt.Fprintf(&b, "## Diary: %s (attempt %d) — %s\n\n", e.StoryTitle, e.AttemptNumber, status)
	fmt.Fprintf(&b, "- Story: %s\n", e.StoryID)
	fmt.Fprintf(&b, "- Timestamp: %s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "- Files changed: %d\n", e.ChangesMade)
	if len(e.FilesTouched) > 0 {
		fmt.Fprintf(&b, "- Files touched: %s\n", strings.Join(e.FilesTouched, ", "))
	}
	if e.Error != "" {
		fmt.Fprintf(&b, "- Error: %s\n", e.Error)
	}
	if len(e.QualityChecks) > 0 {
		b.WriteString("\n### Quality Checks\n\n")
		for _, c := range e.QualityChecks {
			mark := "✗"
			if c.Passed {
				mark = "✓"
			}
			fmt.Fprintf(&b, "- %s %s\n", mark, c.Name)
		}
	}
	if e.CodeExcerpt != "" {
		b.WriteString("\n### Code Excerpt\n\n```\n")
		b.WriteString(e.CodeExcerpt)
		b.WriteString("\n```\n")
	}
	return b.String()
}

func renderReflectionMarkdown(r Reflection) string {
	var b strings.Builder
	status := "failed"
	if r.FinalSuccess {
		status = "succeeded"
	}
	fmt.Fprintf(&b, "## Reflection: %s\n\n", r.Title)
	fmt.Fprintf(&b, "- Date: %s\n", r.Timestamp.Format("2006-01-02"))
	fmt.Fprintf(&b, "- Status: %s\n", status)
	fmt.Fprintf(&b, "- Attempts: %d\n", r.TotalAttempts)
	if r.CommitRef != "" {
		fmt.Fprintf(&b, "- Commit: %s\n", r.CommitRef)
	}

	b.WriteString("\n### Key Insights\n\n")
	writeBullets(&b, r.Insights)

	b.WriteString("\n### What Worked\n\n")
	writeBullets(&b, r.SuccessFactors)

	b.WriteString("\n### Failure Patterns\n\n")
	writeBullets(&b, r.FailurePatterns)

	b.WriteString("\n### Recommendations\n\n")
	writeBullets(&b, r.Recommendations)

	return b.String()
}

func writeBullets(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("- (none)\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
