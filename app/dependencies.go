// Package app is the central wiring point for dependency injection.
package app

import (
	"context"
	"fmt"

	"github.com/upb/course-advisor/config"
	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/repositories"
	"github.com/upb/course-advisor/repositories/postgres"
	"github.com/upb/course-advisor/services/cache"
	"github.com/upb/course-advisor/services/embedding"
	"github.com/upb/course-advisor/services/pipeline"
	"github.com/upb/course-advisor/services/pricing"
	"github.com/upb/course-advisor/services/providers"
	"github.com/upb/course-advisor/services/providers/openai"
	"github.com/upb/course-advisor/services/relevance"
	"github.com/upb/course-advisor/services/retriever"
	"github.com/upb/course-advisor/services/search"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repositories
	Outcomes repositories.LearningOutcomeRepository

	// Provider
	Provider providers.Provider

	// Services
	Accountant *pricing.Accountant
	Embedding  *embedding.Service
	Search     *search.Engine
	Filter     *relevance.Filter
	Retriever  *retriever.Coordinator
	Pipeline   *pipeline.Service
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize PostgreSQL
	db, err := postgres.NewDB(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps.DB = db
	deps.Outcomes = postgres.NewLearningOutcomeRepo(db.DB, logger)

	// Initialize the OpenAI provider
	providerCfg := providers.DefaultProviderConfig()
	providerCfg.APIKey = cfg.OpenAI.APIKey
	providerCfg.BaseURL = cfg.OpenAI.BaseURL
	providerCfg.Timeout = cfg.OpenAI.Timeout
	providerCfg.MaxRetries = cfg.OpenAI.MaxRetries
	deps.Provider = openai.NewOpenAIAdapter(providerCfg)
	logger.Info("registered OpenAI provider",
		zap.String("chat_model", cfg.OpenAI.ChatModel),
		zap.String("embedding_model", cfg.OpenAI.EmbeddingModel))

	// Initialize cost accounting from the provider's model catalog
	deps.Accountant = pricing.NewAccountant(logger)
	deps.registerPrices(cfg.OpenAI.ChatModel, cfg.OpenAI.EmbeddingModel)

	// Initialize retrieval services
	embeddingCache := cache.NewMemory[[]float32]()
	retrievalCache := cache.NewMemory[map[models.Skill][]models.LearningOutcomeMatch]()

	deps.Embedding = embedding.NewService(deps.Provider, cfg.OpenAI.EmbeddingModel, embeddingCache, logger)
	deps.Search = search.NewEngine(deps.Outcomes, logger)
	deps.Filter = relevance.NewFilter(deps.Provider, cfg.OpenAI.ChatModel, logger)
	deps.Retriever = retriever.NewCoordinator(
		deps.Embedding,
		deps.Search,
		deps.Filter,
		retrievalCache,
		cfg.Retrieval.CacheTTL,
		cfg.Retrieval.Workers,
		logger,
	)

	// Initialize the query pipeline
	deps.Pipeline = pipeline.NewService(
		deps.Provider,
		cfg.OpenAI.ChatModel,
		deps.Retriever,
		deps.Accountant,
		logger,
	)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// registerPrices seeds the accountant with per-million-token prices from the
// provider's model catalog. Unknown models simply stay unpriced; their usage
// is reported with zero cost.
func (d *Dependencies) registerPrices(modelNames ...string) {
	for _, name := range modelNames {
		info, err := d.Provider.GetModelInfo(name)
		if err != nil {
			d.Logger.Warn("model has no catalog entry, cost reported as zero",
				zap.String("model", name),
				zap.Error(err))
			continue
		}
		d.Accountant.Register(name,
			info.PricingPerPromptToken*1_000_000,
			info.PricingPerCompletionToken*1_000_000)
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
