// Package risk evaluates command parameters before any order submission.
// A failed check short-circuits with ErrRiskRejected and no side effect.
package risk

import (
	"context"
	"fmt"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// Params are the per-command risk limits supplied with a decision.
type Params struct {
	Quantity        float64 // requested base quantity
	MaxQuantity     float64 // hard cap on order size
	MaxExposure     float64 // max fraction of cash committed to one order, (0,1]
	MinConfidence   float64 // decisions below this confidence are rejected
	MaxTradesPerDay int     // 0 means unlimited
	StopLossPct     float64 // protective stop distance, fraction of entry
	TakeProfitPct   float64 // profit target distance, fraction of entry
}

// Validate rejects malformed parameters before they reach any check.
func (p Params) Validate() error {
	if p.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ports.ErrValidation)
	}
	if p.MaxExposure < 0 || p.MaxExposure > 1 {
		return fmt.Errorf("%w: max exposure must be within (0,1]", ports.ErrValidation)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("%w: min confidence must be within [0,1]", ports.ErrValidation)
	}
	if p.StopLossPct < 0 || p.StopLossPct >= 1 {
		return fmt.Errorf("%w: stop loss pct must be within [0,1)", ports.ErrValidation)
	}
	if p.TakeProfitPct < 0 {
		return fmt.Errorf("%w: take profit pct must be non-negative", ports.ErrValidation)
	}
	return nil
}

// Manager implements the pre-submission risk checks.
type Manager struct {
	sizing SizingConfig
	logger ports.Logger
}

// NewManager creates a risk manager instance.
func NewManager(sizing SizingConfig, logger ports.Logger) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	return &Manager{sizing: sizing, logger: logger}, nil
}

// Check validates a sized order against the limits. It is evaluated before
// any order submission; a failure means nothing was sent anywhere.
func (m *Manager) Check(ctx context.Context, params Params, analysis *domain.StrategyAnalysis, quantity, price, cash float64, tradesToday int) error {
	if params.MaxQuantity > 0 && quantity > params.MaxQuantity {
		return fmt.Errorf("%w: quantity %.8f exceeds maximum %.8f", ports.ErrRiskRejected, quantity, params.MaxQuantity)
	}

	if analysis.Confidence < params.MinConfidence {
		return fmt.Errorf("%w: confidence %.2f below minimum %.2f", ports.ErrRiskRejected, analysis.Confidence, params.MinConfidence)
	}

	if params.MaxTradesPerDay > 0 && tradesToday >= params.MaxTradesPerDay {
		return fmt.Errorf("%w: daily trade limit reached (%d/%d)", ports.ErrRiskRejected, tradesToday, params.MaxTradesPerDay)
	}

	if analysis.Decision == domain.DecisionBuy {
		cost := quantity * price
		if cost > cash {
			return fmt.Errorf("%w: order cost %.2f exceeds cash %.2f", ports.ErrRiskRejected, cost, cash)
		}
		if params.MaxExposure > 0 && cost > cash*params.MaxExposure {
			return fmt.Errorf("%w: order cost %.2f exceeds exposure limit %.2f", ports.ErrRiskRejected, cost, cash*params.MaxExposure)
		}
	}

	m.logger.Debug(ctx, "risk checks passed", map[string]interface{}{
		"quantity":    quantity,
		"price":       price,
		"tradesToday": tradesToday,
	})
	return nil
}
