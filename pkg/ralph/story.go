// Package ralph implements the Ralph Loop (C6): the autonomous
// story-by-story implementation driver. Grounded on the FSM idiom of
// orchestrator/pkg/pm/states.go (map[State][]State transition table)
// generalized to UserStory.Status.
package ralph

import (
	"sort"
	"time"
)

// Status is a story's FSM state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

var validTransitions = map[Status][]Status{
	StatusNotStarted: {StatusInProgress, StatusSkipped},
	StatusInProgress: {StatusInProgress, StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusSkipped:    {},
}

// IsValidStoryTransition mirrors pm.IsValidPMTransition's table-lookup shape.
func IsValidStoryTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Story is one unit of work from a PRD, tracked through the loop.
type Story struct {
	ID                 string
	Title              string
	Description        string
	AcceptanceCriteria []string
	Priority           int
	Position           int // original PRD order, used as a tie-break
	Dependencies       []string

	Status      Status
	Attempts    int
	LastError   string
	CompletedAt *time.Time
	CommitRef   string
}

// PRD is the minimal shape the loop needs; orchestrator/pkg/prd.PRD is
// adapted into this by convertPRD in orchestrator/pkg/orchestrator.
type PRD struct {
	Name        string
	Description string
	BranchName  string
	Stories     []*Story
}

// CompletionPercentage implements spec.md §8 invariant 4.
func (p *PRD) CompletionPercentage() float64 {
	if len(p.Stories) == 0 {
		return 0
	}
	completed := 0
	for _, s := range p.Stories {
		if s.Status == StatusCompleted {
			completed++
		}
	}
	return 100 * float64(completed) / float64(len(p.Stories))
}

// nextEligibleStory implements spec.md §4.6's ordering/tie-break and
// dependency-skip rules. Returns nil if nothing is eligible this iteration.
func nextEligibleStory(stories []*Story) *Story {
	var candidates []*Story
	for _, s := range stories {
		if s.Status == StatusCompleted || s.Status == StatusFailed || s.Status == StatusSkipped {
			continue
		}
		if dependenciesSatisfied(s, stories) {
			candidates = append(candidates, s)
		}
	}

	if len(candidates) == 0 {
		// Nothing eligible: resolve anything permanently blocked (a failed
		// dependency or one that names an unknown id) to skipped, so it
		// doesn't sit in not_started forever, per spec.md §8 invariant 3.
		skipBlockedOnFailedDeps(stories)
		return nil
	}

	sortByPriorityThenPosition(candidates)
	return candidates[0]
}

func dependenciesSatisfied(s *Story, all []*Story) bool {
	byID := make(map[string]*Story, len(all))
	for _, o := range all {
		byID[o.ID] = o
	}
	for _, depID := range s.Dependencies {
		dep, ok := byID[depID]
		if !ok {
			return false // unknown dependency id: always treated as blocked (spec.md §8)
		}
		if dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// skipBlockedOnFailedDeps marks not_started/in_progress stories as skipped
// when they depend on a failed story or one that doesn't exist in the PRD,
// since no future iteration can ever satisfy that dependency.
func skipBlockedOnFailedDeps(stories []*Story) {
	byID := make(map[string]*Story, len(stories))
	for _, o := range stories {
		byID[o.ID] = o
	}
	for _, s := range stories {
		if s.Status != StatusNotStarted && s.Status != StatusInProgress {
			continue
		}
		blockedOnFailure := false
		for _, depID := range s.Dependencies {
			dep, ok := byID[depID]
			if !ok || dep.Status == StatusFailed {
				blockedOnFailure = true
				break
			}
		}
		if blockedOnFailure {
			s.Status = StatusSkipped
		}
	}
}

func sortByPriorityThenPosition(stories []*Story) {
	sort.SliceStable(stories, func(i, j int) bool {
		if stories[i].Priority != stories[j].Priority {
			return stories[i].Priority < stories[j].Priority
		}
		return stories[i].Position < stories[j].Position
	})
}
