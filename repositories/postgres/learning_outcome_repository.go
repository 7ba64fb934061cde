package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/repositories"
	"go.uber.org/zap"
)

// LearningOutcomeRepo implements repositories.LearningOutcomeRepository
// against the course_learning_outcomes read replica. Rows carry optional
// pgvector embeddings at both 768 and 1536 dimensions.
type LearningOutcomeRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLearningOutcomeRepo creates a new learning outcome repository
func NewLearningOutcomeRepo(db *sql.DB, logger *zap.Logger) *LearningOutcomeRepo {
	return &LearningOutcomeRepo{
		db:     db,
		logger: logger,
	}
}

var _ repositories.LearningOutcomeRepository = (*LearningOutcomeRepo)(nil)

// FetchByDimension retrieves every corpus row with a non-null embedding at
// the given dimension, ordered by insertion (clo_id) so similarity ties break
// deterministically.
func (r *LearningOutcomeRepo) FetchByDimension(ctx context.Context, dimension int) ([]*models.LearningOutcome, error) {
	column, err := embeddingColumn(dimension)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT clo_id, course_id, subject_code, subject_name_th, subject_name_en,
		       academic_year, semester, learning_outcome_text, %s
		FROM course_learning_outcomes
		WHERE %s IS NOT NULL
		ORDER BY id`, column, column)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query learning outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*models.LearningOutcome
	for rows.Next() {
		var (
			lo            models.LearningOutcome
			subjectNameEN sql.NullString
			embedding     pgvector.Vector
		)
		if err := rows.Scan(
			&lo.CloID,
			&lo.CourseID,
			&lo.SubjectCode,
			&lo.SubjectNameTH,
			&subjectNameEN,
			&lo.AcademicYear,
			&lo.Semester,
			&lo.OutcomeText,
			&embedding,
		); err != nil {
			return nil, fmt.Errorf("failed to scan learning outcome: %w", err)
		}

		lo.SubjectNameEN = subjectNameEN.String
		switch dimension {
		case models.Dimension768:
			lo.Embedding768 = &embedding
		case models.Dimension1536:
			lo.Embedding1536 = &embedding
		}

		outcomes = append(outcomes, &lo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate learning outcomes: %w", err)
	}

	return outcomes, nil
}

// CountByDimension returns the number of rows indexed at the given dimension.
func (r *LearningOutcomeRepo) CountByDimension(ctx context.Context, dimension int) (int, error) {
	column, err := embeddingColumn(dimension)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM course_learning_outcomes WHERE %s IS NOT NULL`, column)

	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count learning outcomes: %w", err)
	}

	return count, nil
}

// embeddingColumn maps a dimension to its vector column. The column name is
// chosen from a fixed set, never interpolated from caller input.
func embeddingColumn(dimension int) (string, error) {
	switch dimension {
	case models.Dimension768:
		return "embedding_768", nil
	case models.Dimension1536:
		return "embedding_1536", nil
	default:
		return "", fmt.Errorf("unsupported embedding dimension: %d", dimension)
	}
}
