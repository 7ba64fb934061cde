// Package retriever fans retrieval out across skills: each skill is embedded,
// searched against the learning-outcome corpus and optionally re-checked by
// the relevance filter, concurrently and independently of its siblings.
package retriever

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/services"
	"github.com/upb/course-advisor/services/cache"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Embedder produces the query vector for one skill.
type Embedder interface {
	Embed(ctx context.Context, text string, dimension int) ([]float32, models.TokenUsage, error)
}

// Searcher ranks the corpus against a query vector.
type Searcher interface {
	Search(ctx context.Context, queryVec []float32, dimension int, threshold float64, topN int) ([]models.LearningOutcomeMatch, error)
}

// Judge accepts or rejects candidates for one skill.
type Judge interface {
	Judge(ctx context.Context, skill models.Skill, question string, candidates []models.LearningOutcomeMatch) ([]models.RelevanceDecision, models.TokenUsage, error)
}

// Params carries one retrieval request. Skills are assumed already trimmed
// and deduplicated (models.NewSkills).
type Params struct {
	Skills          []models.Skill
	Question        string
	Threshold       float64
	TopN            int
	VectorDimension int
	EnableLlmFilter bool
}

// Diagnostic records a per-skill partial failure that did not abort the
// retrieval. Stage is one of "embedding", "search", "filter".
type Diagnostic struct {
	Skill   models.Skill `json:"skill"`
	Stage   string       `json:"stage"`
	Message string       `json:"message"`
}

// Result maps every requested skill to its ranked matches. The key set
// always equals the input skill set: a skill whose retrieval failed or found
// nothing maps to an empty slice, never a missing key.
type Result struct {
	Matches     map[models.Skill][]models.LearningOutcomeMatch
	Diagnostics []Diagnostic
	Usages      []models.TokenUsage
	CacheHit    bool
}

// Coordinator runs per-skill retrieval under a bounded concurrency limit.
type Coordinator struct {
	embedder Embedder
	searcher Searcher
	judge    Judge
	cache    cache.Cache[map[models.Skill][]models.LearningOutcomeMatch]
	cacheTTL time.Duration
	workers  int64
	logger   *zap.Logger
}

// NewCoordinator creates a new retrieval coordinator
func NewCoordinator(embedder Embedder, searcher Searcher, judge Judge, c cache.Cache[map[models.Skill][]models.LearningOutcomeMatch], cacheTTL time.Duration, workers int, logger *zap.Logger) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		embedder: embedder,
		searcher: searcher,
		judge:    judge,
		cache:    c,
		cacheTTL: cacheTTL,
		workers:  int64(workers),
		logger:   logger,
	}
}

// RetrieveLOs retrieves learning-outcome matches for every skill in params.
// Skills run concurrently, bounded by the worker limit. Per-skill embedding
// or search failure yields an empty slice plus a diagnostic; a filter
// failure yields the unfiltered candidates plus a diagnostic. The call
// returns only after every skill has completed or definitively failed.
func (c *Coordinator) RetrieveLOs(ctx context.Context, params Params) (*Result, error) {
	if !models.ValidDimension(params.VectorDimension) {
		err := services.NewDomainError(services.ErrorTypeValidation, "vector length does not match requested dimension", nil)
		return nil, err.WithDetail("dimension", params.VectorDimension)
	}

	key := cacheKey(params)
	if matches, ok := c.cache.Get(key); ok {
		c.logger.Debug("retrieval cache hit", zap.String("key", key))
		return &Result{Matches: matches, CacheHit: true}, nil
	}

	result := &Result{
		Matches: make(map[models.Skill][]models.LearningOutcomeMatch, len(params.Skills)),
	}
	for _, skill := range params.Skills {
		result.Matches[skill] = []models.LearningOutcomeMatch{}
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(c.workers)
	)

	for _, skill := range params.Skills {
		wg.Add(1)
		go func(skill models.Skill) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				result.Diagnostics = append(result.Diagnostics, Diagnostic{
					Skill:   skill,
					Stage:   "embedding",
					Message: err.Error(),
				})
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			matches, diags, usages := c.retrieveOne(ctx, skill, params)

			mu.Lock()
			result.Matches[skill] = matches
			result.Diagnostics = append(result.Diagnostics, diags...)
			result.Usages = append(result.Usages, usages...)
			mu.Unlock()
		}(skill)
	}

	wg.Wait()

	c.cache.Set(key, result.Matches, c.cacheTTL)

	c.logger.Info("retrieval completed",
		zap.Int("skills", len(params.Skills)),
		zap.Int("dimension", params.VectorDimension),
		zap.Bool("filter_enabled", params.EnableLlmFilter),
		zap.Int("diagnostics", len(result.Diagnostics)))

	return result, nil
}

// retrieveOne runs the embed, search and optional filter steps for a single
// skill. It never returns an error: failures degrade to an empty slice
// (embed/search) or to the unfiltered candidates (filter).
func (c *Coordinator) retrieveOne(ctx context.Context, skill models.Skill, params Params) ([]models.LearningOutcomeMatch, []Diagnostic, []models.TokenUsage) {
	var (
		diags  []Diagnostic
		usages []models.TokenUsage
	)

	vec, embedUsage, err := c.embedder.Embed(ctx, skill.String(), params.VectorDimension)
	if embedUsage.Model != "" {
		usages = append(usages, embedUsage)
	}
	if err != nil {
		c.logger.Warn("embedding failed for skill",
			zap.String("skill", skill.String()),
			zap.Error(err))
		diags = append(diags, Diagnostic{Skill: skill, Stage: "embedding", Message: err.Error()})
		return []models.LearningOutcomeMatch{}, diags, usages
	}

	candidates, err := c.searcher.Search(ctx, vec, params.VectorDimension, params.Threshold, params.TopN)
	if err != nil {
		c.logger.Warn("similarity search failed for skill",
			zap.String("skill", skill.String()),
			zap.Error(err))
		diags = append(diags, Diagnostic{Skill: skill, Stage: "search", Message: err.Error()})
		return []models.LearningOutcomeMatch{}, diags, usages
	}

	if !params.EnableLlmFilter || len(candidates) == 0 {
		return candidates, diags, usages
	}

	decisions, filterUsage, err := c.judge.Judge(ctx, skill, params.Question, candidates)
	if filterUsage.Model != "" {
		usages = append(usages, filterUsage)
	}
	if err != nil {
		// Fail-open: losing evidence is worse than losing precision.
		c.logger.Warn("relevance filter failed for skill, returning unfiltered candidates",
			zap.String("skill", skill.String()),
			zap.Error(err))
		diags = append(diags, Diagnostic{Skill: skill, Stage: "filter", Message: err.Error()})
		return candidates, diags, usages
	}

	// Decisions are aligned with candidates; keep accepted ones in rank order.
	accepted := make([]models.LearningOutcomeMatch, 0, len(candidates))
	for i, d := range decisions {
		if d.Accepted {
			accepted = append(accepted, candidates[i])
		}
	}

	return accepted, diags, usages
}

// cacheKey derives the memoization key from the full parameter set. Skills
// keep their request order so two requests differing only in order are
// cached separately, which is acceptable for a short-TTL cache. With the
// filter enabled the cached matches are post-verdict and the verdicts depend
// on the originating question, so the question joins the key; unfiltered
// results are question-independent and stay shared across questions.
func cacheKey(params Params) string {
	names := make([]string, len(params.Skills))
	for i, s := range params.Skills {
		names[i] = s.String()
	}
	key := fmt.Sprintf("ret:%d:%.4f:%d:%t:%s",
		params.VectorDimension, params.Threshold, params.TopN, params.EnableLlmFilter,
		strings.Join(names, "\x1f"))
	if params.EnableLlmFilter {
		key += "\x1f" + params.Question
	}
	return key
}
