package ports

import (
	"context"

	"tradecore/internal/domain"
)

// MarketDataFeed is a lazy, time-ordered, restartable sequence of OHLCV
// points for one symbol. The core never blocks on it indefinitely: absence
// of new data past the feed's configured interval surfaces as ErrStaleData,
// which callers treat as "stale", not as a failure.
type MarketDataFeed interface {
	// Next returns the next kline, ErrStaleData when no fresh point arrived
	// in time, or ErrFeedExhausted when the sequence ended.
	Next(ctx context.Context) (*domain.Kline, error)

	// Reset restarts the sequence from the beginning.
	Reset() error
}
