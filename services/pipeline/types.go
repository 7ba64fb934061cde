package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/services/retriever"
)

// Stage identifies where a run currently is in the state machine.
type Stage string

const (
	StageClassifying     Stage = "classifying"
	StageExpandingSkills Stage = "expanding_skills"
	StageRetrieving      Stage = "retrieving"
	StageSynthesizing    Stage = "synthesizing"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
)

// Language tags produced by the classify stage.
const (
	LanguageThai    = "th"
	LanguageEnglish = "en"
)

// QueryRequest is one pipeline invocation. Retrieval knobs arrive already
// resolved against configured defaults.
type QueryRequest struct {
	Question        string
	Threshold       float64
	TopN            int
	VectorDimension int
	EnableLlmFilter bool
}

// QueryResponse is the terminal result of a successful run.
type QueryResponse struct {
	RunID       uuid.UUID                                      `json:"run_id"`
	Question    string                                         `json:"question"`
	Language    string                                         `json:"language"`
	Skills      []models.Skill                                 `json:"skills"`
	Matches     map[models.Skill][]models.LearningOutcomeMatch `json:"matches"`
	Diagnostics []retriever.Diagnostic                         `json:"diagnostics,omitempty"`
	Answer      string                                         `json:"answer"`
	Usages      []models.TokenUsage                            `json:"usages"`
	Cost        float64                                        `json:"cost"`
	LatencyMs   int                                            `json:"latency_ms"`
	CompletedAt time.Time                                      `json:"completed_at"`
}

// runState is the per-invocation aggregate. It is mutated only by the
// goroutine driving Run and discarded when the response is built.
type runState struct {
	runID     uuid.UUID
	stage     Stage
	startTime time.Time

	language  string
	skills    []models.Skill
	retrieval *retriever.Result

	usages []models.TokenUsage
	// stageMark indexes usages at the current stage's start, so stage events
	// can report the usage accrued by that stage alone.
	stageMark int

	answer string
}

// addUsage appends one call's usage to the run. A zero-model usage means the
// call produced no billable work.
func (r *runState) addUsage(u models.TokenUsage) {
	if u.Model == "" {
		return
	}
	r.usages = append(r.usages, u)
}
