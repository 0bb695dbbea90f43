package ralph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextEligibleStoryOrdersByPriorityThenPosition(t *testing.T) {
	stories := []*Story{
		{ID: "a", Priority: 2, Position: 0, Status: StatusNotStarted},
		{ID: "b", Priority: 1, Position: 1, Status: StatusNotStarted},
		{ID: "c", Priority: 1, Position: 0, Status: StatusNotStarted},
	}
	next := nextEligibleStory(stories)
	assert.Equal(t, "c", next.ID)
}

func TestNextEligibleStorySkipsUnknownDependency(t *testing.T) {
	stories := []*Story{
		{ID: "a", Priority: 1, Status: StatusNotStarted, Dependencies: []string{"does-not-exist"}},
	}
	assert.Nil(t, nextEligibleStory(stories))
	assert.Equal(t, StatusSkipped, stories[0].Status)
}

func TestNextEligibleStoryWaitsOnIncompleteDependency(t *testing.T) {
	stories := []*Story{
		{ID: "base", Priority: 1, Status: StatusNotStarted},
		{ID: "dependent", Priority: 2, Status: StatusNotStarted, Dependencies: []string{"base"}},
	}
	next := nextEligibleStory(stories)
	assert.Equal(t, "base", next.ID)
}

func TestNextEligibleStoryPicksDependentOnceDependencyCompleted(t *testing.T) {
	stories := []*Story{
		{ID: "base", Priority: 1, Status: StatusCompleted},
		{ID: "dependent", Priority: 2, Status: StatusNotStarted, Dependencies: []string{"base"}},
	}
	next := nextEligibleStory(stories)
	assert.Equal(t, "dependent", next.ID)
}

func TestNextEligibleStoryReturnsNilWhenNoneEligible(t *testing.T) {
	stories := []*Story{
		{ID: "a", Status: StatusCompleted},
		{ID: "b", Status: StatusFailed},
	}
	assert.Nil(t, nextEligibleStory(stories))
}

func TestSkipBlockedOnFailedDependenciesTransitionsToSkipped(t *testing.T) {
	stories := []*Story{
		{ID: "base", Status: StatusFailed},
		{ID: "dependent", Status: StatusNotStarted, Dependencies: []string{"base"}},
	}
	assert.Nil(t, nextEligibleStory(stories))
	assert.Equal(t, StatusSkipped, stories[1].Status)
}

func TestIsValidStoryTransition(t *testing.T) {
	assert.True(t, IsValidStoryTransition(StatusNotStarted, StatusInProgress))
	assert.True(t, IsValidStoryTransition(StatusInProgress, StatusCompleted))
	assert.False(t, IsValidStoryTransition(StatusCompleted, StatusInProgress))
}

func TestCompletionPercentage(t *testing.T) {
	p := &PRD{Stories: []*Story{
		{Status: StatusCompleted}, {Status: StatusCompleted}, {Status: StatusFailed}, {Status: StatusNotStarted},
	}}
	assert.InDelta(t, 50.0, p.CompletionPercentage(), 0.001)
}

func TestCompletionPercentageEmptyPRD(t *testing.T) {
	p := &PRD{}
	assert.Equal(t, 0.0, p.CompletionPercentage())
}
