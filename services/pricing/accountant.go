// Package pricing converts token counts into estimated USD cost using a
// per-model price table. Callers must register pricing for every model they
// invoke before first use.
package pricing

import (
	"sync"
	"unicode/utf8"

	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/services"
	"go.uber.org/zap"
)

// CostMode selects which side of a call a price applies to.
type CostMode string

const (
	ModeInput  CostMode = "input"
	ModeOutput CostMode = "output"
)

const tokensPerMillion = 1_000_000

// modelPrice holds the USD price per million tokens for one model.
type modelPrice struct {
	inputPerMillion  float64
	outputPerMillion float64
}

// Accountant counts tokens and estimates USD cost. It is safe for concurrent
// use by in-flight pipeline runs.
type Accountant struct {
	mu     sync.RWMutex
	prices map[string]modelPrice
	logger *zap.Logger
}

// NewAccountant creates an Accountant with an empty price table.
func NewAccountant(logger *zap.Logger) *Accountant {
	return &Accountant{
		prices: make(map[string]modelPrice),
		logger: logger,
	}
}

// Register sets the input/output price per million tokens for a model.
// Re-registering a model overwrites its previous entry.
func (a *Accountant) Register(model string, inputPerMillion, outputPerMillion float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prices[model] = modelPrice{
		inputPerMillion:  inputPerMillion,
		outputPerMillion: outputPerMillion,
	}
}

// CountTokens estimates the token count of text for a model. The estimate is
// the provider-independent ~4 characters per token heuristic; exact counts
// come back in the provider's usage report and take precedence when present.
func (a *Accountant) CountTokens(text string, model string) int {
	if text == "" {
		return 0
	}
	count := utf8.RuneCountInString(text) / 4
	if count < 1 {
		count = 1
	}
	return count
}

// EstimateCost converts a token count into USD for the given model and mode.
// Fails with ErrUnknownModel when no price entry exists for the model.
func (a *Accountant) EstimateCost(tokenCount int, model string, mode CostMode) (float64, error) {
	a.mu.RLock()
	price, ok := a.prices[model]
	a.mu.RUnlock()

	if !ok {
		err := services.NewDomainError(services.ErrorTypeValidation, "no price entry registered for model", nil)
		return 0, err.WithDetail("model", model).WithDetail("mode", string(mode))
	}

	perMillion := price.inputPerMillion
	if mode == ModeOutput {
		perMillion = price.outputPerMillion
	}

	return float64(tokenCount) / tokensPerMillion * perMillion, nil
}

// CostOfUsage prices one call's TokenUsage: input tokens at the input rate
// plus output tokens at the output rate.
func (a *Accountant) CostOfUsage(usage models.TokenUsage) (float64, error) {
	inputCost, err := a.EstimateCost(usage.InputTokens, usage.Model, ModeInput)
	if err != nil {
		return 0, err
	}
	outputCost, err := a.EstimateCost(usage.OutputTokens, usage.Model, ModeOutput)
	if err != nil {
		return 0, err
	}
	return inputCost + outputCost, nil
}

// SumUsage prices a run's accumulated usages additively. Unknown models are
// logged and skipped rather than aborting the summary; a cost table miss is
// fatal to that call's estimate, not to the run.
func (a *Accountant) SumUsage(usages []models.TokenUsage) float64 {
	var total float64
	for _, usage := range usages {
		cost, err := a.CostOfUsage(usage)
		if err != nil {
			a.logger.Warn("skipping cost for unpriced model",
				zap.String("model", usage.Model),
				zap.Error(err))
			continue
		}
		total += cost
	}
	return total
}
