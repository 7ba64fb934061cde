package pricing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/course-advisor/models"
	"github.com/upb/course-advisor/services"
	"go.uber.org/zap"
)

func newTestAccountant() *Accountant {
	a := NewAccountant(zap.NewNop())
	a.Register("model-x", 2.50, 10.00)
	a.Register("embed-y", 0.13, 0)
	return a
}

func TestAccountant_EstimateCost(t *testing.T) {
	a := newTestAccountant()

	t.Run("one million input tokens cost the registered input rate", func(t *testing.T) {
		cost, err := a.EstimateCost(1_000_000, "model-x", ModeInput)
		require.NoError(t, err)
		assert.InDelta(t, 2.50, cost, 1e-9)
	})

	t.Run("one million output tokens cost the registered output rate", func(t *testing.T) {
		cost, err := a.EstimateCost(1_000_000, "model-x", ModeOutput)
		require.NoError(t, err)
		assert.InDelta(t, 10.00, cost, 1e-9)
	})

	t.Run("cost scales linearly with token count", func(t *testing.T) {
		cost, err := a.EstimateCost(500, "embed-y", ModeInput)
		require.NoError(t, err)
		assert.InDelta(t, 0.13*500/1_000_000, cost, 1e-12)
	})

	t.Run("zero tokens cost nothing", func(t *testing.T) {
		cost, err := a.EstimateCost(0, "model-x", ModeInput)
		require.NoError(t, err)
		assert.Zero(t, cost)
	})

	t.Run("unregistered model fails", func(t *testing.T) {
		_, err := a.EstimateCost(100, "model-unknown", ModeInput)
		require.Error(t, err)
		assert.True(t, errors.Is(err, services.ErrUnknownModel))
		assert.Equal(t, "model-unknown", services.GetErrorDetails(err)["model"])
	})
}

func TestAccountant_CountTokens(t *testing.T) {
	a := newTestAccountant()

	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty text", text: "", want: 0},
		{name: "short text floors at one token", text: "ab", want: 1},
		{name: "four characters per token", text: "aaaabbbbcccc", want: 3},
		{name: "multibyte runes count as runes, not bytes", text: "สวัสดีครับ", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.CountTokens(tt.text, "model-x"))
		})
	}
}

func TestAccountant_CostOfUsage(t *testing.T) {
	a := newTestAccountant()

	cost, err := a.CostOfUsage(models.TokenUsage{
		Model:        "model-x",
		InputTokens:  1000,
		OutputTokens: 100,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.50*1000/1_000_000+10.00*100/1_000_000, cost, 1e-12)

	_, err = a.CostOfUsage(models.TokenUsage{Model: "missing", InputTokens: 1})
	assert.True(t, errors.Is(err, services.ErrUnknownModel))
}

func TestAccountant_SumUsage(t *testing.T) {
	a := newTestAccountant()

	total := a.SumUsage([]models.TokenUsage{
		{Model: "model-x", InputTokens: 1_000_000},
		{Model: "embed-y", InputTokens: 1_000_000},
		// Unpriced models are skipped, never abort the summary.
		{Model: "mystery", InputTokens: 1_000_000},
	})

	assert.InDelta(t, 2.50+0.13, total, 1e-9)
}

func TestAccountant_RegisterOverwrites(t *testing.T) {
	a := newTestAccountant()
	a.Register("model-x", 5.00, 20.00)

	cost, err := a.EstimateCost(1_000_000, "model-x", ModeInput)
	require.NoError(t, err)
	assert.InDelta(t, 5.00, cost, 1e-9)
}
