package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCodePathOnCodeAndExecutionKeywords(t *testing.T) {
	assert.Equal(t, routeCode, classify("Please build a REST API for me"))
	assert.Equal(t, routeCode, classify("Create a small script that reverses strings"))
}

func TestClassifyCodePathOnInstructionMarker(t *testing.T) {
	assert.Equal(t, routeCode, classify("1. write a function\n2. add tests"))
}

func TestClassifyWorkflowOnExecutionKeyword(t *testing.T) {
	assert.Equal(t, routeWorkflow, classify("Let's go ahead and run the deployment checks"))
}

func TestClassifyResearchPendingWithoutExecution(t *testing.T) {
	assert.Equal(t, routeResearchPending, classify("I'd like to research the competitive landscape"))
}

func TestClassifyChatFallback(t *testing.T) {
	assert.Equal(t, routeChat, classify("What's the weather like today?"))
}

func TestIsSubstantiveTaskRejectsStopwordOnly(t *testing.T) {
	assert.False(t, isSubstantiveTask("can you please do it now"))
}

func TestIsSubstantiveTaskAcceptsContentBearingMessage(t *testing.T) {
	assert.True(t, isSubstantiveTask("summarize our competitors' pricing strategies"))
}
