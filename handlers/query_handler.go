package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/upb/course-advisor/config"
	"github.com/upb/course-advisor/services/pipeline"
	"github.com/upb/course-advisor/services/progress"
	"github.com/upb/course-advisor/utils"
	"go.uber.org/zap"
)

// progressBufferSize bounds how many progress events one run may buffer for
// a slow SSE consumer before old ones are dropped.
const progressBufferSize = 32

// QueryHTTPRequest represents a full-pipeline query request
type QueryHTTPRequest struct {
	Question        string   `json:"question" validate:"required,min=1"`
	Threshold       *float64 `json:"threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	TopN            *int     `json:"top_n,omitempty" validate:"omitempty,gte=1"`
	VectorDimension *int     `json:"vector_dimension,omitempty" validate:"omitempty,oneof=768 1536"`
	EnableLlmFilter *bool    `json:"enable_llm_filter,omitempty"`
	Stream          bool     `json:"stream,omitempty"`
}

// PipelineService defines the interface for full query pipeline runs
type PipelineService interface {
	Run(ctx context.Context, req *pipeline.QueryRequest, emitter progress.Emitter) (*pipeline.QueryResponse, error)
}

// QueryHandler handles question-to-answer pipeline HTTP requests
type QueryHandler struct {
	service  PipelineService
	defaults config.RetrievalConfig
	logger   *zap.Logger
}

// NewQueryHandler creates a new QueryHandler
func NewQueryHandler(service PipelineService, defaults config.RetrievalConfig, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		service:  service,
		defaults: defaults,
		logger:   logger,
	}
}

// HandleQuery handles POST /api/v1/query. With "stream": true or an SSE
// Accept header the response is a Server-Sent Events stream of progress
// events ending in a terminal "completed" or "failed" event; otherwise the
// handler blocks and returns the final answer as one JSON document.
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse query request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("query request validation failed", zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	pipelineReq := &pipeline.QueryRequest{
		Question:        strings.TrimSpace(req.Question),
		Threshold:       h.defaults.Threshold,
		TopN:            h.defaults.TopN,
		VectorDimension: h.defaults.VectorDimension,
		EnableLlmFilter: h.defaults.EnableLlmFilter,
	}
	if req.Threshold != nil {
		pipelineReq.Threshold = *req.Threshold
	}
	if req.TopN != nil {
		pipelineReq.TopN = *req.TopN
	}
	if req.VectorDimension != nil {
		pipelineReq.VectorDimension = *req.VectorDimension
	}
	if req.EnableLlmFilter != nil {
		pipelineReq.EnableLlmFilter = *req.EnableLlmFilter
	}

	if req.Stream || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		h.handleStreaming(w, r, pipelineReq)
		return
	}

	response, err := h.service.Run(r.Context(), pipelineReq, progress.Nop{})
	if err != nil {
		h.logger.Error("failed to process query", zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write query response", zap.Error(err))
	}
}

// handleStreaming runs the pipeline in a goroutine and relays its progress
// events over SSE. A consumer disconnect cancels the run through the request
// context; the relay loop then drains whatever the pipeline still emits.
func (h *QueryHandler) handleStreaming(w http.ResponseWriter, r *http.Request, req *pipeline.QueryRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("response writer does not support streaming")
		_ = utils.WriteInternalServerError(w, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := progress.NewStream(progressBufferSize)
	go func() {
		defer stream.Close()
		if _, err := h.service.Run(r.Context(), req, stream); err != nil {
			// The terminal "failed" event already carries the error.
			h.logger.Warn("streamed query run failed", zap.Error(err))
		}
	}()

	for event := range stream.Events() {
		if err := writeSSE(w, event); err != nil {
			// Consumer is gone; keep draining so the pipeline goroutine can
			// finish emitting and close the stream.
			h.logger.Debug("sse write failed, client likely disconnected", zap.Error(err))
			continue
		}
		flusher.Flush()
	}
}

// writeSSE serializes one event in text/event-stream framing.
func writeSSE(w http.ResponseWriter, event progress.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		payload = []byte(`{"error":"unserializable payload"}`)
	}
	if _, err := w.Write([]byte("event: " + event.Name + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
		return err
	}
	return nil
}
