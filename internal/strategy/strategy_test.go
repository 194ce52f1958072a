package strategy

import (
	"context"
	"testing"
	"time"

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

func testConfig() Config {
	return Config{
		Name:          "test",
		Timeframe:     "1m",
		ShortMAWindow: 3,
		LongMAWindow:  5,
		RSIWindow:     4,
		RSIOverbought: 70,
		RSIOversold:   30,
		ROCWindow:     4,
		StopLossPct:   0.02,
		TakeProfitPct: 0.05,
	}
}

func makeKlines(closes []float64) []*domain.Kline {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Kline, len(closes))
	for i, c := range closes {
		out[i] = &domain.Kline{
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			CloseTime: base.Add(time.Duration(i+1) * time.Minute),
			Symbol:    "BTCUSDT",
			Interval:  "1m",
			Close:     c,
			IsFinal:   true,
		}
	}
	return out
}

// zigzagUp rises two steps then dips one, keeping an uptrend without
// pushing RSI into overbought territory.
func zigzagUp(n int) []float64 {
	out := make([]float64, n)
	price := 100.0
	for i := range out {
		if i%2 == 0 {
			price += 2
		} else {
			price -= 1
		}
		out[i] = price
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		logger      ports.Logger
		expectError bool
	}{
		{name: "valid", mutate: func(c *Config) {}, logger: &mockLogger{}},
		{name: "nil logger", mutate: func(c *Config) {}, logger: nil, expectError: true},
		{
			name:        "zero window",
			mutate:      func(c *Config) { c.ShortMAWindow = 0 },
			logger:      &mockLogger{},
			expectError: true,
		},
		{
			name:        "short window not below long window",
			mutate:      func(c *Config) { c.ShortMAWindow = 5 },
			logger:      &mockLogger{},
			expectError: true,
		},
		{
			name:        "oversold above overbought",
			mutate:      func(c *Config) { c.RSIOversold = 80 },
			logger:      &mockLogger{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			s, err := New(cfg, tt.logger)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, s)
			} else {
				require.NoError(t, err)
				require.NotNil(t, s)
				assert.Equal(t, "test", s.Name())
				assert.Equal(t, 5, s.RequiredDataPoints())
			}
		})
	}
}

func TestEvaluateInsufficientData(t *testing.T) {
	s, err := New(testConfig(), &mockLogger{})
	require.NoError(t, err)

	analysis, err := s.Evaluate(context.Background(), makeKlines([]float64{100, 101}))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionHold, analysis.Decision)
	assert.Contains(t, analysis.Reasoning, "insufficient data")
}

func TestEvaluateBuySignal(t *testing.T) {
	s, err := New(testConfig(), &mockLogger{})
	require.NoError(t, err)

	closes := zigzagUp(30)
	analysis, err := s.Evaluate(context.Background(), makeKlines(closes))
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionBuy, analysis.Decision)
	assert.GreaterOrEqual(t, analysis.Confidence, 0.0)
	assert.LessOrEqual(t, analysis.Confidence, 1.0)
	require.NotNil(t, analysis.StopLoss)
	require.NotNil(t, analysis.TakeProfit)
	last := closes[len(closes)-1]
	assert.InDelta(t, last*0.98, *analysis.StopLoss, 1e-9)
	assert.InDelta(t, last*1.05, *analysis.TakeProfit, 1e-9)
	assert.Equal(t, "BTCUSDT", analysis.Symbol)
}

func TestEvaluateSellSignal(t *testing.T) {
	s, err := New(testConfig(), &mockLogger{})
	require.NoError(t, err)

	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 200 - float64(i)*2
	}
	analysis, err := s.Evaluate(context.Background(), makeKlines(closes))
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionSell, analysis.Decision)
	assert.GreaterOrEqual(t, analysis.Confidence, 0.0)
	assert.LessOrEqual(t, analysis.Confidence, 1.0)
	assert.Nil(t, analysis.StopLoss)
	assert.Nil(t, analysis.TakeProfit)
}

func TestEvaluateTieBreaksToHold(t *testing.T) {
	// A monotonic rise keeps the trend up while RSI pins at 100: the entry
	// and exit conditions are simultaneously true, so HOLD must win.
	s, err := New(testConfig(), &mockLogger{})
	require.NoError(t, err)

	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	analysis, err := s.Evaluate(context.Background(), makeKlines(closes))
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionHold, analysis.Decision)
	assert.Contains(t, analysis.Reasoning, "entry and exit conditions both active")
}

func TestEvaluateIsDeterministic(t *testing.T) {
	s, err := New(testConfig(), &mockLogger{})
	require.NoError(t, err)

	klines := makeKlines(zigzagUp(40))
	a, err := s.Evaluate(context.Background(), klines)
	require.NoError(t, err)
	b, err := s.Evaluate(context.Background(), klines)
	require.NoError(t, err)

	assert.Equal(t, a.Decision, b.Decision)
	assert.Equal(t, a.Confidence, b.Confidence)
	assert.Equal(t, a.Reasoning, b.Reasoning)
	assert.Equal(t, a.Indicators, b.Indicators)
}

func TestConfidenceInvariantIsFatal(t *testing.T) {
	// The invariant check must reject, not clamp.
	_, err := checked(&domain.StrategyAnalysis{Confidence: 1.2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrFatal)

	_, err = checked(&domain.StrategyAnalysis{Confidence: -0.1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrFatal)

	a, err := checked(&domain.StrategyAnalysis{Confidence: 1.0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.Confidence)
}
