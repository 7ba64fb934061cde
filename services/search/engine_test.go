package search

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/services"
	"go.uber.org/zap"
)

// fakeRepo serves a fixed corpus in insertion order.
type fakeRepo struct {
	outcomes []*models.LearningOutcome
	err      error
	calls    int
}

func (r *fakeRepo) FetchByDimension(ctx context.Context, dimension int) ([]*models.LearningOutcome, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.outcomes, nil
}

func (r *fakeRepo) CountByDimension(ctx context.Context, dimension int) (int, error) {
	return len(r.outcomes), nil
}

// vec768 pads the leading components to a full 768-dimension vector.
func vec768(lead ...float32) []float32 {
	v := make([]float32, models.Dimension768)
	copy(v, lead)
	return v
}

func outcome(code string, lead ...float32) *models.LearningOutcome {
	emb := pgvector.NewVector(vec768(lead...))
	return &models.LearningOutcome{
		CloID:         uuid.New(),
		CourseID:      uuid.New(),
		SubjectCode:   code,
		SubjectNameTH: "วิชา " + code,
		AcademicYear:  2024,
		Semester:      1,
		OutcomeText:   "outcome for " + code,
		Embedding768:  &emb,
	}
}

func TestEngine_Search_RanksByDescendingSimilarity(t *testing.T) {
	repo := &fakeRepo{outcomes: []*models.LearningOutcome{
		outcome("CS101", 1, 0),    // similarity 1.0 against query (1,0)
		outcome("CS102", 0, 1),    // similarity 0.0
		outcome("CS103", 1, 1),    // similarity ~0.707
	}}
	engine := NewEngine(repo, zap.NewNop())

	matches, err := engine.Search(context.Background(), vec768(1, 0), models.Dimension768, 0.5, 10)
	require.NoError(t, err)

	require.Len(t, matches, 2)
	assert.Equal(t, "CS101", matches[0].SubjectCode)
	assert.Equal(t, "CS103", matches[1].SubjectCode)
	assert.Greater(t, matches[0].SimilarityScore, matches[1].SimilarityScore)
}

func TestEngine_Search_ThresholdIsInclusive(t *testing.T) {
	repo := &fakeRepo{outcomes: []*models.LearningOutcome{
		outcome("CS101", 1, 0),
	}}
	engine := NewEngine(repo, zap.NewNop())

	matches, err := engine.Search(context.Background(), vec768(1, 0), models.Dimension768, 1.0, 10)
	require.NoError(t, err)

	// Score exactly equal to the threshold survives.
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].SimilarityScore, 1e-6)
}

func TestEngine_Search_TopNTruncates(t *testing.T) {
	repo := &fakeRepo{outcomes: []*models.LearningOutcome{
		outcome("CS101", 1, 0),
		outcome("CS102", 0.9, 0.1),
		outcome("CS103", 0.8, 0.2),
	}}
	engine := NewEngine(repo, zap.NewNop())

	matches, err := engine.Search(context.Background(), vec768(1, 0), models.Dimension768, 0, 2)
	require.NoError(t, err)

	assert.Len(t, matches, 2)
	assert.Equal(t, "CS101", matches[0].SubjectCode)
}

func TestEngine_Search_TiesBreakByCorpusOrder(t *testing.T) {
	// Identical embeddings produce identical scores; corpus insertion order
	// must decide their relative rank.
	repo := &fakeRepo{outcomes: []*models.LearningOutcome{
		outcome("CS201", 1, 0),
		outcome("CS202", 1, 0),
		outcome("CS203", 1, 0),
	}}
	engine := NewEngine(repo, zap.NewNop())

	matches, err := engine.Search(context.Background(), vec768(1, 0), models.Dimension768, 0, 10)
	require.NoError(t, err)

	require.Len(t, matches, 3)
	assert.Equal(t, "CS201", matches[0].SubjectCode)
	assert.Equal(t, "CS202", matches[1].SubjectCode)
	assert.Equal(t, "CS203", matches[2].SubjectCode)
}

func TestEngine_Search_Idempotent(t *testing.T) {
	repo := &fakeRepo{outcomes: []*models.LearningOutcome{
		outcome("CS101", 0.7, 0.3),
		outcome("CS102", 0.6, 0.4),
		outcome("CS103", 0.7, 0.3),
	}}
	engine := NewEngine(repo, zap.NewNop())

	first, err := engine.Search(context.Background(), vec768(1, 0), models.Dimension768, 0, 10)
	require.NoError(t, err)
	second, err := engine.Search(context.Background(), vec768(1, 0), models.Dimension768, 0, 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEngine_Search_DimensionMismatch(t *testing.T) {
	engine := NewEngine(&fakeRepo{}, zap.NewNop())

	_, err := engine.Search(context.Background(), []float32{1, 0}, models.Dimension768, 0.5, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrDimensionMismatch))
}

func TestEngine_Search_RepoFailure(t *testing.T) {
	repo := &fakeRepo{err: errors.New("connection refused")}
	engine := NewEngine(repo, zap.NewNop())

	_, err := engine.Search(context.Background(), vec768(1, 0), models.Dimension768, 0.5, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrSearchUnavailable))
}

func TestEngine_Search_EmptyCorpus(t *testing.T) {
	engine := NewEngine(&fakeRepo{}, zap.NewNop())

	matches, err := engine.Search(context.Background(), vec768(1, 0), models.Dimension768, 0.5, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestEngine_Search_SkipsRowsWithWrongVectorLength(t *testing.T) {
	short := pgvector.NewVector([]float32{1, 0})
	repo := &fakeRepo{outcomes: []*models.LearningOutcome{
		{
			CloID:        uuid.New(),
			CourseID:     uuid.New(),
			SubjectCode:  "BROKEN",
			OutcomeText:  "row indexed at the wrong length",
			Embedding768: &short,
		},
		outcome("CS101", 1, 0),
	}}
	engine := NewEngine(repo, zap.NewNop())

	matches, err := engine.Search(context.Background(), vec768(1, 0), models.Dimension768, 0, 10)
	require.NoError(t, err)

	require.Len(t, matches, 1)
	assert.Equal(t, "CS101", matches[0].SubjectCode)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical vectors", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal vectors", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite vectors", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "zero vector scores zero", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}
