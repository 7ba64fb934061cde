package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/upb/course-advisor/config"
	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/services/retriever"
	"github.com/upb/course-advisor/utils"
	"go.uber.org/zap"
)

// RetrievalRequest represents a direct retrieval request over explicit skills
type RetrievalRequest struct {
	Skills          []string `json:"skills" validate:"required,min=1,max=6,dive,required"`
	Question        string   `json:"question,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	TopN            *int     `json:"top_n,omitempty" validate:"omitempty,gte=1"`
	VectorDimension *int     `json:"vector_dimension,omitempty" validate:"omitempty,oneof=768 1536"`
	EnableLlmFilter *bool    `json:"enable_llm_filter,omitempty"`
}

// RetrievalResponse represents the per-skill retrieval result
type RetrievalResponse struct {
	Matches     map[models.Skill][]models.LearningOutcomeMatch `json:"matches"`
	Diagnostics []retriever.Diagnostic                         `json:"diagnostics,omitempty"`
	CacheHit    bool                                           `json:"cache_hit"`
}

// RetrieverService defines the interface for skill retrieval operations
type RetrieverService interface {
	RetrieveLOs(ctx context.Context, params retriever.Params) (*retriever.Result, error)
}

// RetrievalHandler handles direct retrieval HTTP requests
type RetrievalHandler struct {
	service  RetrieverService
	defaults config.RetrievalConfig
	logger   *zap.Logger
}

// NewRetrievalHandler creates a new RetrievalHandler
func NewRetrievalHandler(service RetrieverService, defaults config.RetrievalConfig, logger *zap.Logger) *RetrievalHandler {
	return &RetrievalHandler{
		service:  service,
		defaults: defaults,
		logger:   logger,
	}
}

// HandleRetrieve handles POST /api/v1/retrieval
func (h *RetrievalHandler) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrievalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse retrieval request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("retrieval request validation failed", zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	skills, err := models.NewSkills(req.Skills)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if len(skills) == 0 {
		_ = utils.WriteBadRequest(w, "No valid skills after trimming", nil)
		return
	}

	params := retriever.Params{
		Skills:          skills,
		Question:        req.Question,
		Threshold:       h.defaults.Threshold,
		TopN:            h.defaults.TopN,
		VectorDimension: h.defaults.VectorDimension,
		EnableLlmFilter: h.defaults.EnableLlmFilter,
	}
	if req.Threshold != nil {
		params.Threshold = *req.Threshold
	}
	if req.TopN != nil {
		params.TopN = *req.TopN
	}
	if req.VectorDimension != nil {
		params.VectorDimension = *req.VectorDimension
	}
	if req.EnableLlmFilter != nil {
		params.EnableLlmFilter = *req.EnableLlmFilter
	}

	h.logger.Debug("processing retrieval request",
		zap.Int("skills", len(skills)),
		zap.Int("dimension", params.VectorDimension),
		zap.Bool("filter_enabled", params.EnableLlmFilter))

	result, err := h.service.RetrieveLOs(r.Context(), params)
	if err != nil {
		h.logger.Error("failed to process retrieval request", zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	response := RetrievalResponse{
		Matches:     result.Matches,
		Diagnostics: result.Diagnostics,
		CacheHit:    result.CacheHit,
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write retrieval response", zap.Error(err))
	}
}
