package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/services"
	"github.com/upb/course-advisor/services/pricing"
	"github.com/upb/course-advisor/services/progress"
	"github.com/upb/course-advisor/services/providers"
	"github.com/upb/course-advisor/services/retriever"
	"go.uber.org/zap"
)

// scriptedProvider answers each pipeline stage based on its system prompt.
type scriptedProvider struct {
	mu          sync.Mutex
	language    string
	skillsJSON  string
	answer      string
	failOn      string // substring of the system prompt that triggers an error
	chatCalls   int
	synthPrompt string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chatCalls++

	system := req.Messages[0].Content
	if p.failOn != "" && strings.Contains(system, p.failOn) {
		return nil, errors.New("provider exploded")
	}

	var content string
	switch {
	case strings.Contains(system, "Classify the language"):
		content = p.language
	case strings.Contains(system, "learnable skills"):
		content = p.skillsJSON
	default:
		p.synthPrompt = req.Messages[1].Content
		content = p.answer
	}

	return &providers.ChatResponse{
		Model:   req.Model,
		Content: content,
		Usage:   providers.Usage{PromptTokens: 100, CompletionTokens: 25, TotalTokens: 125},
	}, nil
}

func (p *scriptedProvider) CreateEmbedding(ctx context.Context, req *providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	return nil, errors.New("not an embedding provider")
}

func (p *scriptedProvider) IsAvailable(ctx context.Context) bool { return true }

func (p *scriptedProvider) GetModelInfo(model string) (*providers.ModelInfo, error) {
	return nil, errors.New("unknown model")
}

// stubRetriever returns a fixed per-skill result.
type stubRetriever struct {
	mu      sync.Mutex
	matches map[models.Skill][]models.LearningOutcomeMatch
	calls   int
}

func (r *stubRetriever) RetrieveLOs(ctx context.Context, params retriever.Params) (*retriever.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++

	result := &retriever.Result{
		Matches: make(map[models.Skill][]models.LearningOutcomeMatch, len(params.Skills)),
		Usages:  []models.TokenUsage{{Model: "embed-y", InputTokens: 4}},
	}
	for _, skill := range params.Skills {
		matches := r.matches[skill]
		if matches == nil {
			matches = []models.LearningOutcomeMatch{}
		}
		result.Matches[skill] = matches
	}
	return result, nil
}

// recordingEmitter captures every emitted event in order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(event progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, len(e.events))
	for i, ev := range e.events {
		names[i] = ev.Name
	}
	return names
}

func newTestAccountant() *pricing.Accountant {
	a := pricing.NewAccountant(zap.NewNop())
	a.Register("model-x", 2.50, 10.00)
	return a
}

func testRequest() *QueryRequest {
	return &QueryRequest{
		Question:        "I want to be a data analyst",
		Threshold:       0.5,
		TopN:            10,
		VectorDimension: models.Dimension768,
		EnableLlmFilter: true,
	}
}

func match(code string) models.LearningOutcomeMatch {
	return models.LearningOutcomeMatch{
		SubjectCode:     code,
		SubjectNameTH:   "วิชา " + code,
		AcademicYear:    2024,
		Semester:        1,
		SimilarityScore: 0.8,
		OutcomeText:     "outcome for " + code,
	}
}

func TestService_Run_ZeroSkillsShortCircuitsToInsufficientAnswer(t *testing.T) {
	provider := &scriptedProvider{language: "th", skillsJSON: `{"skills":[]}`}
	ret := &stubRetriever{}
	svc := NewService(provider, "model-x", ret, newTestAccountant(), zap.NewNop())

	resp, err := svc.Run(context.Background(), testRequest(), progress.Nop{})
	require.NoError(t, err)

	assert.Equal(t, insufficientAnswerTH, resp.Answer)
	assert.Empty(t, resp.Skills)
	assert.Empty(t, resp.Matches)

	// No retrieval and no synthesis call: classify + expand only.
	assert.Zero(t, ret.calls)
	assert.Equal(t, 2, provider.chatCalls)
}

func TestService_Run_TwoSkillsOneEmpty(t *testing.T) {
	provider := &scriptedProvider{
		language:   "en",
		skillsJSON: `{"skills":["python","quantum basket weaving"]}`,
		answer:     "Take CS101.",
	}
	ret := &stubRetriever{matches: map[models.Skill][]models.LearningOutcomeMatch{
		"python": {match("CS101")},
	}}
	svc := NewService(provider, "model-x", ret, newTestAccountant(), zap.NewNop())

	resp, err := svc.Run(context.Background(), testRequest(), progress.Nop{})
	require.NoError(t, err)

	require.Len(t, resp.Matches, 2)
	assert.Len(t, resp.Matches[models.Skill("python")], 1)
	assert.Empty(t, resp.Matches[models.Skill("quantum basket weaving")])
	assert.Equal(t, "Take CS101.", resp.Answer)

	// Synthesis evidence only cites the skill that produced matches.
	assert.Contains(t, provider.synthPrompt, "Skill: python")
	assert.NotContains(t, provider.synthPrompt, "quantum basket weaving")
	assert.Contains(t, provider.synthPrompt, "CS101")
}

func TestService_Run_AllMatchesFilteredAwayYieldsInsufficientAnswer(t *testing.T) {
	provider := &scriptedProvider{language: "en", skillsJSON: `{"skills":["X"]}`}
	// The retriever returns the skill key with an empty accepted list.
	ret := &stubRetriever{}
	svc := NewService(provider, "model-x", ret, newTestAccountant(), zap.NewNop())

	resp, err := svc.Run(context.Background(), testRequest(), progress.Nop{})
	require.NoError(t, err)

	assert.Equal(t, insufficientAnswerEN, resp.Answer)
	assert.Empty(t, resp.Matches[models.Skill("X")])
	// Classify + expand only; empty evidence skips the synthesis call.
	assert.Equal(t, 2, provider.chatCalls)
}

func TestService_Run_EmitsTwoEventsPerStagePlusTerminal(t *testing.T) {
	provider := &scriptedProvider{
		language:   "en",
		skillsJSON: `{"skills":["python"]}`,
		answer:     "Take CS101.",
	}
	ret := &stubRetriever{matches: map[models.Skill][]models.LearningOutcomeMatch{
		"python": {match("CS101")},
	}}
	svc := NewService(provider, "model-x", ret, newTestAccountant(), zap.NewNop())

	emitter := &recordingEmitter{}
	_, err := svc.Run(context.Background(), testRequest(), emitter)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"stage_started", "stage_completed",
		"stage_started", "stage_completed",
		"stage_started", "stage_completed",
		"stage_started", "stage_completed",
		"completed",
	}, emitter.names())

	last := emitter.events[len(emitter.events)-1]
	assert.True(t, last.Terminal)
}

func TestService_Run_StageEventsCarryPerStageUsage(t *testing.T) {
	provider := &scriptedProvider{
		language:   "en",
		skillsJSON: `{"skills":["python"]}`,
		answer:     "Take CS101.",
	}
	ret := &stubRetriever{matches: map[models.Skill][]models.LearningOutcomeMatch{
		"python": {match("CS101")},
	}}
	svc := NewService(provider, "model-x", ret, newTestAccountant(), zap.NewNop())

	emitter := &recordingEmitter{}
	_, err := svc.Run(context.Background(), testRequest(), emitter)
	require.NoError(t, err)

	// stage_completed events sit at odd indices; each reports only its own
	// stage's usage, not the running total.
	chatCost := 2.50*100/1_000_000 + 10.00*25/1_000_000

	classifying := emitter.events[1].Payload.(map[string]interface{})
	assert.Equal(t, 125, classifying["tokens"])
	assert.InDelta(t, chatCost, classifying["cost"].(float64), 1e-9)

	expanding := emitter.events[3].Payload.(map[string]interface{})
	assert.Equal(t, 125, expanding["tokens"])

	// Retrieval accrued only the stub's unpriced embedding usage.
	retrieving := emitter.events[5].Payload.(map[string]interface{})
	assert.Equal(t, 4, retrieving["tokens"])
	assert.InDelta(t, 0, retrieving["cost"].(float64), 1e-9)

	synthesizing := emitter.events[7].Payload.(map[string]interface{})
	assert.Equal(t, 125, synthesizing["tokens"])
	assert.InDelta(t, chatCost, synthesizing["cost"].(float64), 1e-9)
}

func TestService_Run_ClassificationFailureIsFatal(t *testing.T) {
	provider := &scriptedProvider{failOn: "Classify the language"}
	svc := NewService(provider, "model-x", &stubRetriever{}, newTestAccountant(), zap.NewNop())

	emitter := &recordingEmitter{}
	_, err := svc.Run(context.Background(), testRequest(), emitter)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrClassificationFailed))

	names := emitter.names()
	assert.Equal(t, "failed", names[len(names)-1])
}

func TestService_Run_UnrecognizedLanguageTagIsFatal(t *testing.T) {
	provider := &scriptedProvider{language: "klingon"}
	svc := NewService(provider, "model-x", &stubRetriever{}, newTestAccountant(), zap.NewNop())

	_, err := svc.Run(context.Background(), testRequest(), progress.Nop{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrClassificationFailed))
}

func TestService_Run_SkillExpansionFailureIsFatal(t *testing.T) {
	provider := &scriptedProvider{language: "en", failOn: "learnable skills"}
	svc := NewService(provider, "model-x", &stubRetriever{}, newTestAccountant(), zap.NewNop())

	_, err := svc.Run(context.Background(), testRequest(), progress.Nop{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrSkillExpansionFailed))
}

func TestService_Run_SynthesisFailureIsFatal(t *testing.T) {
	provider := &scriptedProvider{
		language:   "en",
		skillsJSON: `{"skills":["python"]}`,
		failOn:     "recommend university courses",
	}
	ret := &stubRetriever{matches: map[models.Skill][]models.LearningOutcomeMatch{
		"python": {match("CS101")},
	}}
	svc := NewService(provider, "model-x", ret, newTestAccountant(), zap.NewNop())

	_, err := svc.Run(context.Background(), testRequest(), progress.Nop{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrAnswerSynthesisFailed))
}

func TestService_Run_CancelledBeforeStartFailsWithTerminalEvent(t *testing.T) {
	provider := &scriptedProvider{language: "en", skillsJSON: `{"skills":["python"]}`}
	svc := NewService(provider, "model-x", &stubRetriever{}, newTestAccountant(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	emitter := &recordingEmitter{}
	_, err := svc.Run(ctx, testRequest(), emitter)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrCancelled))

	names := emitter.names()
	require.NotEmpty(t, names)
	assert.Equal(t, "failed", names[len(names)-1])
	assert.Zero(t, provider.chatCalls)
}

func TestService_Run_CapsSkillsAtSix(t *testing.T) {
	provider := &scriptedProvider{
		language:   "en",
		skillsJSON: `{"skills":["a","b","c","d","e","f","g","h"]}`,
		answer:     "Take everything.",
	}
	ret := &stubRetriever{matches: map[models.Skill][]models.LearningOutcomeMatch{
		"a": {match("CS101")},
	}}
	svc := NewService(provider, "model-x", ret, newTestAccountant(), zap.NewNop())

	resp, err := svc.Run(context.Background(), testRequest(), progress.Nop{})
	require.NoError(t, err)
	assert.Len(t, resp.Skills, 6)
}

func TestService_Run_AccumulatesUsageAndCost(t *testing.T) {
	provider := &scriptedProvider{
		language:   "en",
		skillsJSON: `{"skills":["python"]}`,
		answer:     "Take CS101.",
	}
	ret := &stubRetriever{matches: map[models.Skill][]models.LearningOutcomeMatch{
		"python": {match("CS101")},
	}}
	svc := NewService(provider, "model-x", ret, newTestAccountant(), zap.NewNop())

	resp, err := svc.Run(context.Background(), testRequest(), progress.Nop{})
	require.NoError(t, err)

	// Three chat calls at priced rates plus one unpriced embedding usage.
	require.Len(t, resp.Usages, 4)
	expectedPerCall := 2.50*100/1_000_000 + 10.00*25/1_000_000
	assert.InDelta(t, 3*expectedPerCall, resp.Cost, 1e-9)
}

func TestBuildEvidence_FollowsExpansionOrder(t *testing.T) {
	matches := map[models.Skill][]models.LearningOutcomeMatch{
		"sql":    {match("CS201")},
		"python": {match("CS101")},
	}

	evidence := buildEvidence([]models.Skill{"python", "sql"}, matches)

	pythonIdx := strings.Index(evidence, "Skill: python")
	sqlIdx := strings.Index(evidence, "Skill: sql")
	require.GreaterOrEqual(t, pythonIdx, 0)
	require.GreaterOrEqual(t, sqlIdx, 0)
	assert.Less(t, pythonIdx, sqlIdx)
}

func TestInsufficientAnswer_MatchesLanguage(t *testing.T) {
	assert.Equal(t, insufficientAnswerTH, insufficientAnswer(LanguageThai))
	assert.Equal(t, insufficientAnswerEN, insufficientAnswer(LanguageEnglish))
	assert.Equal(t, insufficientAnswerEN, insufficientAnswer(""))
}
