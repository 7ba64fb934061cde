// Package pipeline drives a question through the full advisory flow:
// classify the language, expand the question into skills, retrieve matching
// learning outcomes per skill, and synthesize a cited answer.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/services"
	"github.com/upb/course-advisor/services/pricing"
	"github.com/upb/course-advisor/services/progress"
	"github.com/upb/course-advisor/services/providers"
	"github.com/upb/course-advisor/services/retriever"
	"go.uber.org/zap"
)

// maxSkills caps how many skills one question may expand into.
const maxSkills = 6

// Retriever is the coordinator boundary, narrowed for testability.
type Retriever interface {
	RetrieveLOs(ctx context.Context, params retriever.Params) (*retriever.Result, error)
}

// Service orchestrates the query pipeline state machine.
type Service struct {
	provider   providers.Provider
	chatModel  string
	retriever  Retriever
	accountant *pricing.Accountant
	logger     *zap.Logger
}

// NewService creates a new pipeline service with all dependencies
func NewService(
	provider providers.Provider,
	chatModel string,
	ret Retriever,
	accountant *pricing.Accountant,
	logger *zap.Logger,
) *Service {
	return &Service{
		provider:   provider,
		chatModel:  chatModel,
		retriever:  ret,
		accountant: accountant,
		logger:     logger,
	}
}

// Run executes the pipeline for one question. Progress events are pushed to
// emitter as each stage begins and completes; a terminal event is always the
// last emission. Cancellation is observed at stage boundaries: in-flight
// provider calls for the current stage may still finish and be discarded.
func (s *Service) Run(ctx context.Context, req *QueryRequest, emitter progress.Emitter) (*QueryResponse, error) {
	run := &runState{
		runID:     uuid.New(),
		stage:     StageClassifying,
		startTime: time.Now(),
	}

	s.logger.Info("starting query pipeline",
		zap.String("run_id", run.runID.String()),
		zap.Int("dimension", req.VectorDimension),
		zap.Bool("filter_enabled", req.EnableLlmFilter))

	// Stage 1: classify the question language.
	if err := s.checkCancelled(ctx, run, emitter); err != nil {
		return nil, err
	}
	s.beginStage(run, StageClassifying, emitter)
	language, err := s.classify(ctx, run, req.Question)
	if err != nil {
		return nil, s.fail(run, emitter, err)
	}
	run.language = language
	s.endStage(run, StageClassifying, emitter)

	// Stage 2: expand the question into skills. Zero skills is a valid
	// outcome and simply means there is nothing to retrieve.
	if err := s.checkCancelled(ctx, run, emitter); err != nil {
		return nil, err
	}
	s.beginStage(run, StageExpandingSkills, emitter)
	skills, err := s.expandSkills(ctx, run, req.Question)
	if err != nil {
		return nil, s.fail(run, emitter, err)
	}
	run.skills = skills
	s.endStage(run, StageExpandingSkills, emitter)

	// Stage 3: retrieve learning outcomes per skill. This stage never fails
	// the run; per-skill problems surface as diagnostics.
	if err := s.checkCancelled(ctx, run, emitter); err != nil {
		return nil, err
	}
	s.beginStage(run, StageRetrieving, emitter)
	run.retrieval = s.retrieve(ctx, run, req)
	s.endStage(run, StageRetrieving, emitter)

	// Stage 4: synthesize the answer from the collected evidence.
	if err := s.checkCancelled(ctx, run, emitter); err != nil {
		return nil, err
	}
	s.beginStage(run, StageSynthesizing, emitter)
	answer, err := s.synthesize(ctx, run, req.Question)
	if err != nil {
		return nil, s.fail(run, emitter, err)
	}
	run.answer = answer
	s.endStage(run, StageSynthesizing, emitter)

	run.stage = StageCompleted
	response := s.buildResponse(req, run)

	emitter.Emit(progress.Event{
		Name:     "completed",
		Payload:  response,
		Terminal: true,
	})

	s.logger.Info("query pipeline completed",
		zap.String("run_id", run.runID.String()),
		zap.String("language", run.language),
		zap.Int("skills", len(run.skills)),
		zap.Int("latency_ms", response.LatencyMs),
		zap.Float64("cost", response.Cost))

	return response, nil
}

// classify maps the question to an output-language tag. Anything that is not
// recognizably Thai or English fails the stage; the pipeline cannot style a
// response without knowing the language.
func (s *Service) classify(ctx context.Context, run *runState, question string) (string, error) {
	s.logger.Debug("stage 1: classifying question language", zap.String("run_id", run.runID.String()))

	resp, err := s.chat(ctx, run, classifySystemPrompt, question)
	if err != nil {
		return "", services.NewDomainError(services.ErrorTypeExternal, "question classification failed", err)
	}

	tag := strings.ToLower(strings.TrimSpace(resp))
	switch tag {
	case LanguageThai, LanguageEnglish:
		return tag, nil
	}
	return "", services.NewDomainError(services.ErrorTypeExternal, "question classification failed",
		fmt.Errorf("unrecognized language tag %q", tag))
}

// expandSkills infers up to maxSkills concrete skills from the question.
func (s *Service) expandSkills(ctx context.Context, run *runState, question string) ([]models.Skill, error) {
	s.logger.Debug("stage 2: expanding skills", zap.String("run_id", run.runID.String()))

	resp, err := s.chatJSON(ctx, run, expandSystemPrompt, question)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeExternal, "skill expansion failed", err)
	}

	var payload struct {
		Skills []string `json:"skills"`
	}
	if err := json.Unmarshal([]byte(resp), &payload); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeExternal, "skill expansion failed", err)
	}

	// Blank entries from the model are noise, not a failure; drop them
	// before constructing skills.
	cleaned := make([]string, 0, len(payload.Skills))
	for _, text := range payload.Skills {
		if strings.TrimSpace(text) != "" {
			cleaned = append(cleaned, text)
		}
	}
	skills, err := models.NewSkills(cleaned)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeExternal, "skill expansion failed", err)
	}
	if len(skills) > maxSkills {
		skills = skills[:maxSkills]
	}

	s.logger.Debug("skills expanded",
		zap.String("run_id", run.runID.String()),
		zap.Int("count", len(skills)))

	return skills, nil
}

// retrieve invokes the coordinator once over all expanded skills. With zero
// skills no retrieval work happens at all; the result is an empty mapping.
func (s *Service) retrieve(ctx context.Context, run *runState, req *QueryRequest) *retriever.Result {
	s.logger.Debug("stage 3: retrieving learning outcomes",
		zap.String("run_id", run.runID.String()),
		zap.Int("skills", len(run.skills)))

	if len(run.skills) == 0 {
		return &retriever.Result{Matches: map[models.Skill][]models.LearningOutcomeMatch{}}
	}

	result, err := s.retriever.RetrieveLOs(ctx, retriever.Params{
		Skills:          run.skills,
		Question:        req.Question,
		Threshold:       req.Threshold,
		TopN:            req.TopN,
		VectorDimension: req.VectorDimension,
		EnableLlmFilter: req.EnableLlmFilter,
	})
	if err != nil {
		// Coordinator errors are parameter-level; degrade to empty evidence
		// so the run can still complete with the insufficient answer.
		s.logger.Error("retrieval failed", zap.String("run_id", run.runID.String()), zap.Error(err))
		empty := &retriever.Result{Matches: make(map[models.Skill][]models.LearningOutcomeMatch, len(run.skills))}
		for _, skill := range run.skills {
			empty.Matches[skill] = []models.LearningOutcomeMatch{}
			empty.Diagnostics = append(empty.Diagnostics, retriever.Diagnostic{
				Skill:   skill,
				Stage:   "embedding",
				Message: err.Error(),
			})
		}
		return empty
	}

	for _, u := range result.Usages {
		run.addUsage(u)
	}

	return result
}

// synthesize produces the final answer over the evidence assembled in skill
// expansion order. Empty evidence short-circuits to the canonical
// insufficient-information message without a model call.
func (s *Service) synthesize(ctx context.Context, run *runState, question string) (string, error) {
	s.logger.Debug("stage 4: synthesizing answer", zap.String("run_id", run.runID.String()))

	evidence := buildEvidence(run.skills, run.retrieval.Matches)
	if evidence == "" {
		return insufficientAnswer(run.language), nil
	}

	prompt := fmt.Sprintf("Question: %s\nAnswer language: %s\n\nEvidence:\n%s", question, run.language, evidence)
	resp, err := s.chat(ctx, run, synthesizeSystemPrompt, prompt)
	if err != nil {
		return "", services.NewDomainError(services.ErrorTypeExternal, "answer synthesis failed", err)
	}

	answer := strings.TrimSpace(resp)
	if answer == "" {
		return "", services.NewDomainError(services.ErrorTypeExternal, "answer synthesis failed",
			fmt.Errorf("model returned an empty answer"))
	}

	return answer, nil
}

// chat issues one plain chat call and records its usage on the run.
func (s *Service) chat(ctx context.Context, run *runState, system, user string) (string, error) {
	return s.doChat(ctx, run, system, user, false)
}

// chatJSON issues one chat call in JSON mode and records its usage.
func (s *Service) chatJSON(ctx context.Context, run *runState, system, user string) (string, error) {
	return s.doChat(ctx, run, system, user, true)
}

func (s *Service) doChat(ctx context.Context, run *runState, system, user string, jsonMode bool) (string, error) {
	resp, err := s.provider.ChatCompletion(ctx, &providers.ChatRequest{
		Model: s.chatModel,
		Messages: []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
		JSONMode:    jsonMode,
	})
	if err != nil {
		return "", err
	}

	run.addUsage(models.TokenUsage{
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	})

	return resp.Content, nil
}

// checkCancelled enforces cooperative cancellation at a stage boundary.
func (s *Service) checkCancelled(ctx context.Context, run *runState, emitter progress.Emitter) error {
	if ctx.Err() == nil {
		return nil
	}
	err := services.NewDomainError(services.ErrorTypeCancelled, "pipeline run cancelled", ctx.Err())
	return s.fail(run, emitter, err)
}

// fail transitions the run to its failed terminal state, emits the terminal
// event, and returns the error for the caller.
func (s *Service) fail(run *runState, emitter progress.Emitter, err error) error {
	failedAt := run.stage
	run.stage = StageFailed

	s.logger.Error("query pipeline failed",
		zap.String("run_id", run.runID.String()),
		zap.String("stage", string(failedAt)),
		zap.Error(err))

	emitter.Emit(progress.Event{
		Name: "failed",
		Payload: map[string]interface{}{
			"run_id":     run.runID.String(),
			"stage":      string(failedAt),
			"error":      err.Error(),
			"error_type": string(services.GetErrorType(err)),
			"elapsed_ms": time.Since(run.startTime).Milliseconds(),
		},
		Terminal: true,
	})

	return err
}

func (s *Service) beginStage(run *runState, stage Stage, emitter progress.Emitter) {
	run.stage = stage
	run.stageMark = len(run.usages)
	emitter.Emit(progress.Event{
		Name: "stage_started",
		Payload: map[string]interface{}{
			"run_id":     run.runID.String(),
			"stage":      string(stage),
			"elapsed_ms": time.Since(run.startTime).Milliseconds(),
		},
	})
}

// endStage reports the tokens and cost accrued by this stage alone, not the
// run's cumulative totals.
func (s *Service) endStage(run *runState, stage Stage, emitter progress.Emitter) {
	stageUsages := run.usages[run.stageMark:]
	emitter.Emit(progress.Event{
		Name: "stage_completed",
		Payload: map[string]interface{}{
			"run_id":     run.runID.String(),
			"stage":      string(stage),
			"elapsed_ms": time.Since(run.startTime).Milliseconds(),
			"tokens":     totalTokens(stageUsages),
			"cost":       s.accountant.SumUsage(stageUsages),
		},
	})
}

func (s *Service) buildResponse(req *QueryRequest, run *runState) *QueryResponse {
	return &QueryResponse{
		RunID:       run.runID,
		Question:    req.Question,
		Language:    run.language,
		Skills:      run.skills,
		Matches:     run.retrieval.Matches,
		Diagnostics: run.retrieval.Diagnostics,
		Answer:      run.answer,
		Usages:      run.usages,
		Cost:        s.accountant.SumUsage(run.usages),
		LatencyMs:   int(time.Since(run.startTime).Milliseconds()),
		CompletedAt: time.Now(),
	}
}

// buildEvidence flattens the retrieval mapping in skill expansion order so
// the synthesis input is deterministic for a fixed retrieval result. Skills
// with no accepted matches contribute nothing.
func buildEvidence(skills []models.Skill, matches map[models.Skill][]models.LearningOutcomeMatch) string {
	var b strings.Builder
	for _, skill := range skills {
		courses := matches[skill]
		if len(courses) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Skill: %s\n", skill)
		for _, m := range courses {
			name := m.SubjectNameTH
			if m.SubjectNameEN != "" {
				name += " / " + m.SubjectNameEN
			}
			fmt.Fprintf(&b, "- %s (%s, year %d semester %d): %s\n",
				name, m.SubjectCode, m.AcademicYear, m.Semester, m.OutcomeText)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// insufficientAnswer is the canonical reply when no evidence exists, in the
// classified question language.
func insufficientAnswer(language string) string {
	if language == LanguageThai {
		return insufficientAnswerTH
	}
	return insufficientAnswerEN
}

const (
	insufficientAnswerTH = "ขออภัย ระบบมีข้อมูลไม่เพียงพอที่จะแนะนำรายวิชาสำหรับคำถามนี้ กรุณาระบุทักษะหรือความสนใจให้ชัดเจนยิ่งขึ้น"
	insufficientAnswerEN = "Sorry, there is not enough information to recommend courses for this question. Please describe the skills or interests you want to develop in more detail."
)

const classifySystemPrompt = `Classify the language of the user's question.
Respond with exactly one lowercase tag and nothing else: "th" for Thai,
"en" for English or any other language.`

const expandSystemPrompt = `Extract the concrete, learnable skills implied by
the user's question about study and career goals. Respond with a JSON object:
{"skills": ["...", ...]} containing between zero and six short skill phrases.
Return an empty list when the question implies no identifiable skill.`

const synthesizeSystemPrompt = `You recommend university courses based only on
the evidence provided. Cite only skills and courses that appear in the
evidence; never invent courses, codes or outcomes. Group the recommendation
by skill and mention each course's subject code. Answer in the requested
language, concisely and helpfully.`

func totalTokens(usages []models.TokenUsage) int {
	total := 0
	for _, u := range usages {
		total += u.InputTokens + u.OutputTokens
	}
	return total
}
