package domain

import "time"

// PositionLot is the aggregate holding for one symbol.
type PositionLot struct {
	Quantity float64
	AvgPrice float64 // weighted average entry price
}

// PortfolioSnapshot is a derived view of ledger state. It is recomputed on
// demand from authoritative state and never cached stale beyond one request.
// TotalValue marks open positions to the current market price, not the
// entry price.
type PortfolioSnapshot struct {
	Cash       float64
	Positions  map[string]PositionLot
	TotalValue float64
	PNL        float64 // total value relative to initial funds
	At         time.Time
}
