package memory

import (
	"fmt"
	"sort"
	"strings"
)

// Failure-pattern bucket names, in the case-insensitive substring priority
// order of spec.md §4.4.
const (
	bucketTest    = "Test failures"
	bucketSyntax  = "Syntax errors"
	bucketImport  = "Import errors"
	bucketType    = "Type errors"
	bucketQuality = "Quality check failures"
	bucketImpl    = "Implementation errors"
)

func classifyFailure(errStr string) string {
	lower := strings.ToLower(errStr)
	switch {
	case strings.Contains(lower, "test") || strings.Contains(lower, "pytest"):
		return bucketTest
	case strings.Contains(lower, "syntax"):
		return bucketSyntax
	case strings.Contains(lower, "import"):
		return bucketImport
	case strings.Contains(lower, "type"):
		return bucketType
	case strings.Contains(lower, "quality"):
		return bucketQuality
	default:
		return bucketImpl
	}
}

type bucketCount struct {
	bucket string
	n      int
}

// countFailureBuckets classifies every failed attempt's error and tallies
// occurrences per bucket, sorted by count descending (ties keep the
// priority order above, since Go's sort.Slice is not stable across equal
// keys unless we break ties explicitly).
func countFailureBuckets(attempts []Attempt) []bucketCount {
	order := []string{bucketTest, bucketSyntax, bucketImport, bucketType, bucketQuality, bucketImpl}
	counts := make(map[string]int, len(order))

	for _, a := range attempts {
		if a.Success || strings.TrimSpace(a.Error) == "" {
			continue
		}
		counts[classifyFailure(a.Error)]++
	}

	out := make([]bucketCount, 0, len(order))
	for _, b := range order {
		if counts[b] > 0 {
			out = append(out, bucketCount{bucket: b, n: counts[b]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].n > out[j].n })
	return out
}

// deriveFailurePatterns implements spec.md §4.4's failure-pattern derivation.
func deriveFailurePatterns(attempts []Attempt) []string {
	buckets := countFailureBuckets(attempts)
	lines := make([]string, 0, len(buckets))
	for _, b := range buckets {
		plural := "s"
		if b.n == 1 {
			plural = ""
		}
		lines = append(lines, fmt.Sprintf("%s occurred in %d attempt%s", b.bucket, b.n, plural))
	}
	return lines
}

// deriveSuccessFactors implements spec.md §4.4's success-factor derivation.
func deriveSuccessFactors(attempts []Attempt) []string {
	var successes, failures []Attempt
	for _, a := range attempts {
		if a.Success {
			successes = append(successes, a)
		} else {
			failures = append(failures, a)
		}
	}
	if len(successes) == 0 {
		return nil
	}

	var factors []string

	sum := 0
	for _, a := range successes {
		sum += a.ChangesMade
	}
	avg := float64(sum) / float64(len(successes))
	factors = append(factors, fmt.Sprintf("Successful attempts averaged %.1f file changes", avg))

	if len(failures) > 0 {
		factors = append(factors, "Persistence through failures led to success")
	}

	for _, a := range successes {
		var passed []string
		for _, c := range a.QualityChecks {
			if c.Passed {
				passed = append(passed, c.Name)
			}
		}
		if len(passed) > 0 {
			factors = append(factors, fmt.Sprintf("Passed quality checks: %s", strings.Join(passed, ", ")))
			break
		}
	}

	return factors
}

// deriveInsights implements spec.md §4.4's insights templates.
func deriveInsights(totalAttempts int, finalSuccess bool, failureBuckets []bucketCount, successFactors []string) []string {
	var insights []string

	switch {
	case totalAttempts <= 1:
		if finalSuccess {
			insights = append(insights, "Task completed successfully on the first attempt.")
		} else {
			insights = append(insights, "Task failed on the only attempt made.")
		}
	case totalAttempts <= 3:
		if finalSuccess {
			insights = append(insights, fmt.Sprintf("Task completed successfully after %d attempts.", totalAttempts))
		} else {
			insights = append(insights, fmt.Sprintf("Task failed after %d attempts.", totalAttempts))
		}
	default:
		if finalSuccess {
			insights = append(insights, fmt.Sprintf("Task required significant effort, completing successfully after %d attempts.", totalAttempts))
		} else {
			insights = append(insights, fmt.Sprintf("Task failed despite %d attempts, indicating a deeper blocker.", totalAttempts))
		}
	}

	if len(failureBuckets) > 0 {
		insights = append(insights, fmt.Sprintf("Primary challenge: %s", failureBuckets[0].bucket))
	}
	if len(successFactors) > 0 {
		insights = append(insights, fmt.Sprintf("Key success factor: %s", successFactors[0]))
	}

	return insights
}

var recommendationTable = map[string]string{
	bucketTest:   "Write tests incrementally alongside implementation",
	bucketSyntax: "Run syntax validation before applying changes",
	bucketImport: "Verify all imports exist before implementation",
	bucketType:   "Add type hints and run type checking early",
}

const maxRecommendations = 5

// deriveRecommendations implements spec.md §4.4's recommendation table.
func deriveRecommendations(failureBuckets []bucketCount) []string {
	var recs []string
	for _, b := range failureBuckets {
		if rec, ok := recommendationTable[b.bucket]; ok {
			recs = append(recs, rec)
		}
		if len(recs) >= maxRecommendations {
			return recs[:maxRecommendations]
		}
	}

	if len(recs) == 0 {
		recs = []string{
			"Break complex tasks into smaller incremental changes",
			"Run quality checks after each significant change",
		}
	}

	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}
