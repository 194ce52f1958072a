package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func testParams() Params {
	return Params{
		Quantity:        1,
		MaxQuantity:     2,
		MaxExposure:     0.8,
		MinConfidence:   0.5,
		MaxTradesPerDay: 10,
		StopLossPct:     0.02,
		TakeProfitPct:   0.05,
	}
}

func buyAnalysis(confidence float64) *domain.StrategyAnalysis {
	return &domain.StrategyAnalysis{
		Strategy:   "test",
		Symbol:     "BTCUSDT",
		Decision:   domain.DecisionBuy,
		Confidence: confidence,
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{"valid", func(p *Params) {}, false},
		{"zero quantity", func(p *Params) { p.Quantity = 0 }, true},
		{"exposure above 1", func(p *Params) { p.MaxExposure = 1.5 }, true},
		{"confidence above 1", func(p *Params) { p.MinConfidence = 2 }, true},
		{"stop loss at 1", func(p *Params) { p.StopLossPct = 1 }, true},
		{"negative take profit", func(p *Params) { p.TakeProfitPct = -0.1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManagerCheck(t *testing.T) {
	m, err := NewManager(DefaultSizingConfig(), &mockLogger{})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("passes within limits", func(t *testing.T) {
		err := m.Check(ctx, testParams(), buyAnalysis(0.9), 1, 50000, 100000, 0)
		assert.NoError(t, err)
	})

	t.Run("quantity above cap", func(t *testing.T) {
		err := m.Check(ctx, testParams(), buyAnalysis(0.9), 3, 50000, 1000000, 0)
		assert.ErrorIs(t, err, ports.ErrRiskRejected)
	})

	t.Run("confidence below minimum", func(t *testing.T) {
		err := m.Check(ctx, testParams(), buyAnalysis(0.3), 1, 50000, 100000, 0)
		assert.ErrorIs(t, err, ports.ErrRiskRejected)
	})

	t.Run("daily trade limit", func(t *testing.T) {
		err := m.Check(ctx, testParams(), buyAnalysis(0.9), 1, 50000, 100000, 10)
		assert.ErrorIs(t, err, ports.ErrRiskRejected)
	})

	t.Run("cost above cash", func(t *testing.T) {
		err := m.Check(ctx, testParams(), buyAnalysis(0.9), 1, 50000, 40000, 0)
		assert.ErrorIs(t, err, ports.ErrRiskRejected)
	})

	t.Run("cost above exposure limit", func(t *testing.T) {
		// 50000 cost vs 100000*0.4 limit.
		p := testParams()
		p.MaxExposure = 0.4
		err := m.Check(ctx, p, buyAnalysis(0.9), 1, 50000, 100000, 0)
		assert.ErrorIs(t, err, ports.ErrRiskRejected)
	})

	t.Run("sell side skips cash checks", func(t *testing.T) {
		a := buyAnalysis(0.9)
		a.Decision = domain.DecisionSell
		err := m.Check(ctx, testParams(), a, 1, 50000, 0, 0)
		assert.NoError(t, err)
	})
}

func TestSizePosition(t *testing.T) {
	m, err := NewManager(DefaultSizingConfig(), &mockLogger{})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, m.SizePosition(1, 0.9), 1e-9)
	assert.InDelta(t, 0.75, m.SizePosition(1, 0.7), 1e-9)
	assert.InDelta(t, 0.5, m.SizePosition(1, 0.3), 1e-9)
	assert.Zero(t, m.SizePosition(0, 0.9))
	assert.Zero(t, m.SizePosition(-1, 0.9))
}
