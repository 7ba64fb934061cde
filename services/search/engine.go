// Package search ranks learning outcomes against a query embedding by cosine
// similarity. The engine is read-only: identical inputs over an unchanged
// corpus yield identical ordered output.
package search

import (
	"context"
	"math"
	"sort"

	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/repositories"
	"github.com/upb/course-advisor/services"
	"go.uber.org/zap"
)

// Engine performs similarity search over the learning-outcome corpus.
type Engine struct {
	repo   repositories.LearningOutcomeRepository
	logger *zap.Logger
}

// NewEngine creates a new similarity search engine
func NewEngine(repo repositories.LearningOutcomeRepository, logger *zap.Logger) *Engine {
	return &Engine{
		repo:   repo,
		logger: logger,
	}
}

// Search computes similarity between queryVec and every corpus row indexed at
// dimension, keeps rows scoring at least threshold, and returns the top topN
// in descending score order. Ties break by corpus insertion order, so the
// result is byte-identical across calls on an unchanged corpus. An empty
// corpus yields an empty result, not an error.
func (e *Engine) Search(ctx context.Context, queryVec []float32, dimension int, threshold float64, topN int) ([]models.LearningOutcomeMatch, error) {
	if len(queryVec) != dimension {
		err := services.NewDomainError(services.ErrorTypeValidation, "vector length does not match requested dimension", nil)
		return nil, err.WithDetail("vector_length", len(queryVec)).WithDetail("dimension", dimension)
	}

	outcomes, err := e.repo.FetchByDimension(ctx, dimension)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeExternal, "similarity search unavailable", err)
	}

	type scored struct {
		outcome *models.LearningOutcome
		score   float64
	}

	candidates := make([]scored, 0, len(outcomes))
	for _, lo := range outcomes {
		embedding := lo.EmbeddingAt(dimension)
		if len(embedding) != dimension {
			// Row indexed at a different length than declared; skip it
			// rather than poisoning the ranking.
			continue
		}
		score := cosineSimilarity(queryVec, embedding)
		if score >= threshold {
			candidates = append(candidates, scored{outcome: lo, score: score})
		}
	}

	// Stable keeps corpus insertion order for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}

	matches := make([]models.LearningOutcomeMatch, len(candidates))
	for i, c := range candidates {
		matches[i] = models.LearningOutcomeMatch{
			CloID:           c.outcome.CloID,
			CourseID:        c.outcome.CourseID,
			SubjectCode:     c.outcome.SubjectCode,
			SubjectNameTH:   c.outcome.SubjectNameTH,
			SubjectNameEN:   c.outcome.SubjectNameEN,
			AcademicYear:    c.outcome.AcademicYear,
			Semester:        c.outcome.Semester,
			SimilarityScore: c.score,
			OutcomeText:     c.outcome.OutcomeText,
		}
	}

	e.logger.Debug("similarity search completed",
		zap.Int("dimension", dimension),
		zap.Int("corpus_size", len(outcomes)),
		zap.Int("matches", len(matches)),
		zap.Float64("threshold", threshold))

	return matches, nil
}

// cosineSimilarity returns the cosine of the angle between a and b. Vectors
// are assumed equal length; a zero vector scores 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
