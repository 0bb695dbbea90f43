package orchestrator

import "strings"

// route is the outcome of classify: which path chat() should take and, for
// the workflow path, the resolved task text.
type route int

const (
	routeChat route = iota
	routeCode
	routeWorkflow
	routeResearchPending
)

var codeKeywords = []string{
	"write", "create", "generate", "build", "implement", "code", "program",
	"script", "application", "app", "tool", "software", "system", "module",
	"function", "class", "api", "service", "project",
}

var executionKeywords = []string{
	"execute", "begin", "start", "run", "do it", "go ahead", "proceed",
	"make", "develop", "design", "set up", "setup", "configure", "i want",
	"please", "can you", "could you", "let's", "lets",
}

var researchKeywords = []string{"research", "investigate", "analyze", "study", "look into"}

var workflowKeywords = []string{"workflow", "verify", "comprehensive", "full analysis"}

var explicitInstructionMarkers = []string{"1.", "step 1", "first,", "- ", "* ", "follow these"}

// codePathTriggers is the narrower set that, alongside a code keyword hit,
// forces the code path even without an execution keyword or instruction
// marker (spec.md §4.7 step 3a).
var codePathTriggers = []string{"create", "build", "write", "make", "develop"}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// classify applies the case-insensitive substring routing rules of
// spec.md §4.7 steps 2-3, first-match-wins.
func classify(message string) route {
	lower := strings.ToLower(message)

	hitsCode := containsAny(lower, codeKeywords)
	hitsExec := containsAny(lower, executionKeywords)
	hitsInstruction := containsAny(lower, explicitInstructionMarkers)
	hitsResearch := containsAny(lower, researchKeywords)

	if hitsCode && (hitsExec || hitsInstruction || containsAny(lower, codePathTriggers)) {
		return routeCode
	}
	if hitsExec {
		return routeWorkflow
	}
	if hitsResearch {
		return routeResearchPending
	}
	return routeChat
}

// isSubstantiveTask reports whether message carries enough non-stopword
// content to itself serve as a workflow task, per spec.md §4.7 step 3b(ii).
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "of": true, "and": true,
	"is": true, "it": true, "do": true, "go": true, "on": true, "in": true,
	"i": true, "you": true, "can": true, "could": true, "please": true,
	"let's": true, "lets": true, "proceed": true, "start": true, "begin": true,
	"run": true, "execute": true, "now": true,
}

func isSubstantiveTask(message string) bool {
	words := strings.Fields(strings.ToLower(message))
	count := 0
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:")
		if w == "" || stopwords[w] {
			continue
		}
		count++
	}
	return count >= 3
}
