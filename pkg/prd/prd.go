// Package prd implements the PRD Builder (C8): turns a free-text user
// message into a structured PRD by prompting the LLM for strict JSON,
// falling back to brace-matched extraction and finally to a synthesized
// one-story PRD. Grounded on orchestrator/pkg/architect/scoping.go's
// parseSpecAnalysisJSON (strings.Index "{"/LastIndex "}" extraction before
// json.Unmarshal).
package prd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"orchestrator/pkg/llm"
	"orchestrator/pkg/sessionstore"
)

// UserStory is one unit of work with acceptance criteria and a priority.
type UserStory struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Priority           int      `json:"priority"`
	Dependencies       []string `json:"dependencies,omitempty"`
}

// PRD is the structured bundle produced by BuildPRD.
type PRD struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	BranchName  string      `json:"branchName"`
	UserStories []UserStory `json:"userStories"`
}

const systemPrompt = `You are a product manager. Given the user's request, emit a JSON object only, ` +
	`no prose, no markdown fences, with exactly this shape:
{
  "name": string,
  "description": string,
  "branchName": string,
  "userStories": [
    { "id": string, "title": string, "description": string, "acceptanceCriteria": [string], "priority": integer }
  ]
}
Produce between 1 and 5 user stories inclusive. Priorities are integers, 1 = highest.`

const maxContextMessages = 5

// Builder constructs PRDs from chat history via an LLM client.
type Builder struct {
	client llm.Client
	store  sessionstore.Store
}

// New constructs a Builder.
func New(client llm.Client, store sessionstore.Store) *Builder {
	return &Builder{client: client, store: store}
}

// BuildPRD implements spec.md §4.8's three-stage parse strategy.
func (b *Builder) BuildPRD(ctx context.Context, userMessage, sessionID string) (*PRD, error) {
	transcript := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}

	if b.store != nil {
		if recent, err := b.store.RecentContext(sessionID, maxContextMessages); err == nil {
			for _, m := range recent {
				transcript = append(transcript, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
			}
		}
	}
	transcript = append(transcript, llm.Message{Role: llm.RoleUser, Content: userMessage})

	resp, err := b.client.Complete(ctx, llm.Request{Transcript: transcript, Temperature: 0.3, MaxTokens: 2048})
	if err != nil {
		return fallbackPRD(userMessage), nil
	}

	if p, ok := parseExact(resp.Content); ok {
		return clampStories(p), nil
	}
	if p, ok := parseBraceMatched(resp.Content); ok {
		return clampStories(p), nil
	}
	return fallbackPRD(userMessage), nil
}

func parseExact(text string) (*PRD, bool) {
	var p PRD
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &p); err != nil {
		return nil, false
	}
	if len(p.UserStories) == 0 {
		return nil, false
	}
	return &p, true
}

func parseBraceMatched(text string) (*PRD, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, false
	}
	var p PRD
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return nil, false
	}
	if len(p.UserStories) == 0 {
		return nil, false
	}
	return &p, true
}

func fallbackPRD(userMessage string) *PRD {
	desc := userMessage
	if len(desc) > 200 {
		desc = desc[:200]
	}
	return &PRD{
		Name:        "Code Request",
		Description: desc,
		BranchName:  "feature/code-implementation",
		UserStories: []UserStory{
			{
				ID:                 "US-001",
				Title:              "Code Request",
				Description:        desc,
				AcceptanceCriteria: []string{"Code compiles without errors", "All requirements met"},
				Priority:           1,
			},
		},
	}
}

func clampStories(p *PRD) *PRD {
	if len(p.UserStories) > 5 {
		p.UserStories = p.UserStories[:5]
	}
	for i := range p.UserStories {
		if p.UserStories[i].ID == "" {
			p.UserStories[i].ID = fmt.Sprintf("US-%03d", i+1)
		}
	}
	return p
}
