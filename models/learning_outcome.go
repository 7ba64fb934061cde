package models

import (
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Supported embedding dimensionalities. A corpus row may carry an embedding
// at either dimension, both, or neither; rows without an embedding at the
// requested dimension are excluded from candidacy at that dimension.
const (
	Dimension768  = 768
	Dimension1536 = 1536
)

// ValidDimension reports whether d is a supported embedding dimensionality.
func ValidDimension(d int) bool {
	return d == Dimension768 || d == Dimension1536
}

// LearningOutcome is a corpus row: a course-level statement of what a course
// teaches (CLO), with optional precomputed embeddings at both supported
// dimensions. Rows are read-only; the corpus schema is owned externally.
type LearningOutcome struct {
	CloID         uuid.UUID
	CourseID      uuid.UUID
	SubjectCode   string
	SubjectNameTH string
	SubjectNameEN string // optional, empty when the course has no English name
	AcademicYear  int
	Semester      int
	OutcomeText   string

	// Embedding768 and Embedding1536 are nullable vector columns. A nil
	// pointer means the row is not indexed at that dimension.
	Embedding768  *pgvector.Vector
	Embedding1536 *pgvector.Vector
}

// EmbeddingAt returns the row's embedding at the given dimension, or nil when
// the row is not indexed at that dimension.
func (lo *LearningOutcome) EmbeddingAt(dimension int) []float32 {
	switch dimension {
	case Dimension768:
		if lo.Embedding768 != nil {
			return lo.Embedding768.Slice()
		}
	case Dimension1536:
		if lo.Embedding1536 != nil {
			return lo.Embedding1536.Slice()
		}
	}
	return nil
}

// LearningOutcomeMatch is one ranked candidate produced by similarity search:
// a learning outcome together with its similarity score against a skill
// embedding. Matches are immutable once produced.
type LearningOutcomeMatch struct {
	CloID           uuid.UUID `json:"clo_id"`
	CourseID        uuid.UUID `json:"course_id"`
	SubjectCode     string    `json:"subject_code"`
	SubjectNameTH   string    `json:"subject_name_th"`
	SubjectNameEN   string    `json:"subject_name_en,omitempty"`
	AcademicYear    int       `json:"academic_year"`
	Semester        int       `json:"semester"`
	SimilarityScore float64   `json:"similarity_score"`
	OutcomeText     string    `json:"learning_outcome_text"`
}

// RelevanceDecision is the filter's verdict for one (skill, candidate) pair.
// Decisions are independent per course; the filter never compares candidates
// against each other.
type RelevanceDecision struct {
	CourseID uuid.UUID `json:"course_id"`
	Skill    Skill     `json:"skill"`
	Accepted bool      `json:"accepted"`
	Reason   string    `json:"reason"`
}
