// Package embedding is the gateway to the embedding provider. Results are
// deterministic for a fixed (text, dimension) pair at a fixed model version,
// so the service memoizes them in the TTL cache to avoid redundant remote
// calls.
package embedding

import (
	"context"
	"fmt"

	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/services"
	"github.com/upb/course-advisor/services/cache"
	"github.com/upb/course-advisor/services/providers"
	"go.uber.org/zap"
)

// Service produces fixed-size vectors for skill text.
type Service struct {
	provider providers.Provider
	model    string
	cache    cache.Cache[[]float32]
	logger   *zap.Logger
}

// NewService creates an embedding gateway backed by provider. The cache may
// be shared with other services; keys are namespaced with an "emb:" prefix.
func NewService(provider providers.Provider, model string, c cache.Cache[[]float32], logger *zap.Logger) *Service {
	return &Service{
		provider: provider,
		model:    model,
		cache:    c,
		logger:   logger,
	}
}

// Model returns the embedding model identifier, for usage accounting.
func (s *Service) Model() string {
	return s.model
}

// Embed returns the vector for text at the requested dimension (768 or 1536).
// Provider failures surface as ErrEmbeddingUnavailable; a provider returning
// the wrong vector length is a dimension mismatch, fatal to this call.
func (s *Service) Embed(ctx context.Context, text string, dimension int) ([]float32, models.TokenUsage, error) {
	var usage models.TokenUsage

	if !models.ValidDimension(dimension) {
		err := services.NewDomainError(services.ErrorTypeValidation, "vector length does not match requested dimension", nil)
		return nil, usage, err.WithDetail("dimension", dimension)
	}

	key := cacheKey(text, dimension)
	if vec, ok := s.cache.Get(key); ok {
		return vec, usage, nil
	}

	resp, err := s.provider.CreateEmbedding(ctx, &providers.EmbeddingRequest{
		Model:      s.model,
		Input:      text,
		Dimensions: dimension,
	})
	if err != nil {
		s.logger.Warn("embedding call failed",
			zap.String("model", s.model),
			zap.Int("dimension", dimension),
			zap.Error(err))
		return nil, usage, services.NewDomainError(services.ErrorTypeExternal, "embedding provider unavailable", err)
	}

	if len(resp.Embedding) != dimension {
		err := services.NewDomainError(services.ErrorTypeValidation, "vector length does not match requested dimension", nil)
		return nil, usage, err.
			WithDetail("vector_length", len(resp.Embedding)).
			WithDetail("dimension", dimension)
	}

	usage = models.TokenUsage{
		Model:       resp.Model,
		InputTokens: resp.Usage.PromptTokens,
	}

	s.cache.Set(key, resp.Embedding, 0)

	return resp.Embedding, usage, nil
}

func cacheKey(text string, dimension int) string {
	return fmt.Sprintf("emb:%d:%s", dimension, text)
}
