// Package relevance re-checks similarity-search candidates with a language
// model. Each candidate is judged independently against the skill; batching
// all candidates into one call is a cost optimization only; the judgments
// are logically per-item and the model is instructed not to compare courses
// against each other.
package relevance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/services"
	"github.com/upb/course-advisor/services/providers"
	"go.uber.org/zap"
)

const promptVersion = "relevance-v2"

// Filter asks a language model to accept or reject retrieved candidates.
type Filter struct {
	provider providers.Provider
	model    string
	logger   *zap.Logger
}

// NewFilter creates a new relevance filter
func NewFilter(provider providers.Provider, model string, logger *zap.Logger) *Filter {
	return &Filter{
		provider: provider,
		model:    model,
		logger:   logger,
	}
}

// Info returns the model identity behind filter calls.
func (f *Filter) Info() models.LlmInfo {
	return models.LlmInfo{
		Model:         f.model,
		Provider:      f.provider.Name(),
		PromptVersion: promptVersion,
	}
}

// Judge returns exactly one decision per candidate, in input order. The
// originating question is supplied to the model only to disambiguate; the
// learning-outcome text is the primary evidence and course names secondary
// context. A response that cannot be matched one-to-one against the input
// batch fails the whole batch with ErrMalformedFilterResponse; callers fall
// back to the unfiltered candidate list (fail-open).
func (f *Filter) Judge(ctx context.Context, skill models.Skill, question string, candidates []models.LearningOutcomeMatch) ([]models.RelevanceDecision, models.TokenUsage, error) {
	var usage models.TokenUsage

	if len(candidates) == 0 {
		return []models.RelevanceDecision{}, usage, nil
	}

	resp, err := f.provider.ChatCompletion(ctx, &providers.ChatRequest{
		Model: f.model,
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(skill, question, candidates)},
		},
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return nil, usage, services.NewDomainError(services.ErrorTypeExternal, "relevance filter unavailable", err)
	}

	usage = models.TokenUsage{
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	decisions, err := parseDecisions(skill, resp.Content, candidates)
	if err != nil {
		f.logger.Warn("relevance filter returned malformed decisions",
			zap.String("skill", skill.String()),
			zap.String("model", f.model),
			zap.Int("candidates", len(candidates)),
			zap.Error(err))
		return nil, usage, services.NewDomainError(services.ErrorTypeExternal, "relevance filter returned malformed decisions", err)
	}

	return decisions, usage, nil
}

const systemPrompt = `You judge whether university courses teach a given skill.
Judge each course independently; never compare courses against each other.
The learning outcome text is the primary evidence. The course name is
secondary context. The user's question is only for disambiguating the skill,
never for overriding outcome evidence.
Respond with a JSON object: {"decisions": [{"clo_id": "...",
"accepted": true|false, "reason": "..."}]} with exactly one decision per
listed learning outcome, in any order.`

// buildUserPrompt renders the skill, question and candidate batch. Each
// candidate is identified by its clo_id so decisions can be matched back;
// clo ids are unique even when several outcomes belong to one course.
func buildUserPrompt(skill models.Skill, question string, candidates []models.LearningOutcomeMatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Skill: %s\n", skill)
	fmt.Fprintf(&b, "Question (context only): %s\n\nCourses:\n", question)
	for _, c := range candidates {
		name := c.SubjectNameTH
		if c.SubjectNameEN != "" {
			name += " / " + c.SubjectNameEN
		}
		fmt.Fprintf(&b, "- clo_id: %s\n  name: %s (%s)\n  learning_outcome: %s\n",
			c.CloID, name, c.SubjectCode, c.OutcomeText)
	}
	return b.String()
}

type decisionPayload struct {
	Decisions []struct {
		CloID    string `json:"clo_id"`
		Accepted bool   `json:"accepted"`
		Reason   string `json:"reason"`
	} `json:"decisions"`
}

// parseDecisions validates the structured response: one decision per input
// candidate, matched by declared clo identifier. Count mismatches, unknown
// or duplicate identifiers all fail the batch: a malformed structured
// response is never partially trusted.
func parseDecisions(skill models.Skill, content string, candidates []models.LearningOutcomeMatch) ([]models.RelevanceDecision, error) {
	var payload decisionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decisions: %w", err)
	}

	if len(payload.Decisions) != len(candidates) {
		return nil, fmt.Errorf("decision count mismatch: got %d, want %d", len(payload.Decisions), len(candidates))
	}

	type verdict struct {
		accepted bool
		reason   string
	}
	byClo := make(map[uuid.UUID]verdict, len(payload.Decisions))
	for _, d := range payload.Decisions {
		cloID, err := uuid.Parse(strings.TrimSpace(d.CloID))
		if err != nil {
			return nil, fmt.Errorf("invalid clo_id %q: %w", d.CloID, err)
		}
		if _, dup := byClo[cloID]; dup {
			return nil, fmt.Errorf("duplicate decision for clo %s", cloID)
		}
		byClo[cloID] = verdict{accepted: d.Accepted, reason: d.Reason}
	}

	// Reorder to input order; every candidate must have a decision.
	decisions := make([]models.RelevanceDecision, len(candidates))
	for i, c := range candidates {
		v, ok := byClo[c.CloID]
		if !ok {
			return nil, fmt.Errorf("missing decision for clo %s", c.CloID)
		}
		decisions[i] = models.RelevanceDecision{
			CourseID: c.CourseID,
			Skill:    skill,
			Accepted: v.accepted,
			Reason:   v.reason,
		}
	}

	return decisions, nil
}
