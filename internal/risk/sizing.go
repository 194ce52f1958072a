package risk

import (
	"github.com/shopspring/decimal"
)

// SizingConfig holds the multipliers applied to a base position size per
// confidence band. Decimal arithmetic so repeated scaling cannot drift.
type SizingConfig struct {
	HighConfidence   decimal.Decimal // at or above HighThreshold
	MediumConfidence decimal.Decimal
	LowConfidence    decimal.Decimal // below MediumThreshold
	HighThreshold    float64
	MediumThreshold  float64
}

// DefaultSizingConfig gives conservative defaults: full size only on high
// conviction.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		HighConfidence:   decimal.NewFromFloat(1.0),
		MediumConfidence: decimal.NewFromFloat(0.75),
		LowConfidence:    decimal.NewFromFloat(0.5),
		HighThreshold:    0.8,
		MediumThreshold:  0.6,
	}
}

// SizePosition scales the base quantity by the confidence band multiplier.
// Returns zero for a non-positive base.
func (m *Manager) SizePosition(baseQuantity float64, confidence float64) float64 {
	base := decimal.NewFromFloat(baseQuantity)
	if base.LessThanOrEqual(decimal.Zero) {
		return 0
	}

	mult := m.sizing.LowConfidence
	switch {
	case confidence >= m.sizing.HighThreshold:
		mult = m.sizing.HighConfidence
	case confidence >= m.sizing.MediumThreshold:
		mult = m.sizing.MediumConfidence
	}

	sized, _ := base.Mul(mult).Float64()
	return sized
}
