package repositories

import (
	"context"

	"github.com/upb/course-advisor/models"
)

// LearningOutcomeRepository provides read-only access to the learning-outcome
// corpus. The schema is owned externally (queryable read replica); this
// service never writes to it.
type LearningOutcomeRepository interface {
	// FetchByDimension retrieves every corpus row that carries a non-null
	// embedding at the given dimension (768 or 1536), in stable corpus
	// insertion order. Rows populated at only the other dimension are
	// excluded; a capacity gap, not an error.
	FetchByDimension(ctx context.Context, dimension int) ([]*models.LearningOutcome, error)

	// CountByDimension returns the number of rows indexed at the given
	// dimension, for health and capacity reporting.
	CountByDimension(ctx context.Context, dimension int) (int, error)
}
