// Package marketdata provides time-ordered kline feeds: an in-memory replay
// feed for backtests and paper trading, plus CSV persistence for historical
// windows.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// ReplayFeed replays a fixed kline window in OpenTime order. It is
// restartable: Reset rewinds the cursor to the first point.
type ReplayFeed struct {
	mu      sync.Mutex
	klines  []*domain.Kline
	cursor  int
	maxGap  time.Duration
	gapSeen bool
}

// NewReplayFeed validates ordering and builds a feed. maxGap > 0 enables
// staleness detection: a hole between consecutive klines larger than maxGap
// surfaces as ErrStaleData before the kline after the hole is delivered.
func NewReplayFeed(klines []*domain.Kline, maxGap time.Duration) (*ReplayFeed, error) {
	if len(klines) == 0 {
		return nil, fmt.Errorf("feed needs at least one kline: %w", ports.ErrValidation)
	}
	for i := 1; i < len(klines); i++ {
		if !klines[i].OpenTime.After(klines[i-1].OpenTime) {
			return nil, fmt.Errorf("klines out of order at index %d: %w", i, ports.ErrValidation)
		}
	}
	return &ReplayFeed{klines: klines, maxGap: maxGap}, nil
}

// Next returns the next kline. A gap larger than maxGap is reported once as
// ErrStaleData; the following call delivers the kline after the hole.
func (f *ReplayFeed) Next(ctx context.Context) (*domain.Kline, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("feed read canceled: %w", ports.ErrContextCanceled)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cursor >= len(f.klines) {
		return nil, ports.ErrFeedExhausted
	}

	k := f.klines[f.cursor]
	if f.maxGap > 0 && f.cursor > 0 && !f.gapSeen {
		prev := f.klines[f.cursor-1]
		if gap := k.OpenTime.Sub(prev.CloseTime); gap > f.maxGap {
			f.gapSeen = true
			return nil, fmt.Errorf("gap of %s before %s: %w", gap, k.OpenTime.Format(time.RFC3339), ports.ErrStaleData)
		}
	}
	f.gapSeen = false
	f.cursor++
	return k, nil
}

// Reset restarts the sequence from the beginning.
func (f *ReplayFeed) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = 0
	f.gapSeen = false
	return nil
}

// Len returns the number of points in the window.
func (f *ReplayFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.klines)
}
