package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
	"tradecore/internal/engine"
	"tradecore/internal/ledger"
	"tradecore/internal/ports"
	"tradecore/internal/risk"
)

const (
	testUser   = "user-1"
	testSymbol = "ETHUSDT"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type memRepo struct {
	mu     sync.Mutex
	trades map[string]*domain.Trade
	ids    []string
}

func newMemRepo() *memRepo {
	return &memRepo{trades: make(map[string]*domain.Trade)}
}

func (r *memRepo) Append(ctx context.Context, trade *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trades[trade.ID]; ok {
		return fmt.Errorf("trade %s already exists", trade.ID)
	}
	r.trades[trade.ID] = trade
	r.ids = append(r.ids, trade.ID)
	return nil
}

func (r *memRepo) Update(ctx context.Context, trade *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trades[trade.ID]; !ok {
		return fmt.Errorf("trade %s not found", trade.ID)
	}
	r.trades[trade.ID] = trade
	return nil
}

func (r *memRepo) FindByID(ctx context.Context, id string) (*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trades[id], nil
}

func (r *memRepo) FindOpen(ctx context.Context, userID string, mode domain.TradingMode, symbol string) (*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.ids {
		t := r.trades[id]
		if t.UserID == userID && t.Mode == mode && t.Symbol == symbol && !t.Status.IsTerminal() {
			return t, nil
		}
	}
	return nil, nil
}

func (r *memRepo) Query(ctx context.Context, q ports.TradeQuery) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for i := len(r.ids) - 1; i >= 0; i-- {
		t := r.trades[r.ids[i]]
		if q.UserID != "" && t.UserID != q.UserID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *memRepo) CountToday(ctx context.Context, userID string, mode domain.TradingMode, symbol string) (int, error) {
	return 0, nil
}

// stubExchange serves a fixed price and an optional scripted kline stream.
type stubExchange struct {
	mu       sync.Mutex
	price    float64
	pingErr  error
	history  []*domain.Kline
	stream   []*domain.Kline
	placed   []ports.OrderRequest
	statusFn func(symbol, clientOrderID string) (*ports.OrderAck, error)
}

func (s *stubExchange) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderAck, error) {
	s.mu.Lock()
	s.placed = append(s.placed, req)
	price := s.price
	s.mu.Unlock()
	return &ports.OrderAck{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: 1,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Status:          domain.OrderStatusFilled,
		AvgPrice:        price,
		OrigQuantity:    req.Quantity,
		ExecutedQty:     req.Quantity,
		Timestamp:       time.Now(),
	}, nil
}

func (s *stubExchange) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*ports.OrderAck, error) {
	return nil, ports.ErrOrderNotFound
}

func (s *stubExchange) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*ports.OrderAck, error) {
	s.mu.Lock()
	fn := s.statusFn
	s.mu.Unlock()
	if fn != nil {
		return fn(symbol, clientOrderID)
	}
	return nil, ports.ErrOrderNotFound
}

func (s *stubExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price, nil
}

func (s *stubExchange) setPrice(price float64) {
	s.mu.Lock()
	s.price = price
	s.mu.Unlock()
}

func (s *stubExchange) placeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.placed)
}

func (s *stubExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history, nil
}

// StreamKlines delivers the scripted klines and then closes the done
// channel, as a stream that dropped and gave up reconnecting would.
func (s *stubExchange) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	doneCh := make(chan struct{})
	stopCh := make(chan struct{}, 1)
	go func() {
		defer close(doneCh)
		for _, k := range s.stream {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			s.setPrice(k.Close)
			handler(k)
		}
	}()
	return doneCh, stopCh, nil
}

func (s *stubExchange) Ping(ctx context.Context) error { return s.pingErr }

// stubStrategy pops one scripted decision per evaluation, holding after the
// script runs out.
type stubStrategy struct {
	mu        sync.Mutex
	decisions []domain.Decision
	calls     int
}

func (s *stubStrategy) Name() string            { return "stub" }
func (s *stubStrategy) RequiredDataPoints() int { return 2 }

func (s *stubStrategy) Evaluate(ctx context.Context, klines []*domain.Kline) (*domain.StrategyAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	decision := domain.DecisionHold
	if s.calls < len(s.decisions) {
		decision = s.decisions[s.calls]
	}
	s.calls++
	return &domain.StrategyAnalysis{
		Strategy:   "stub",
		Symbol:     testSymbol,
		Decision:   decision,
		Confidence: 0.9,
		At:         klines[len(klines)-1].CloseTime,
	}, nil
}

func (s *stubStrategy) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testKlines(n int, close float64) []*domain.Kline {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Kline, n)
	for i := range out {
		open := base.Add(time.Duration(i) * time.Minute)
		out[i] = &domain.Kline{
			OpenTime:  open,
			CloseTime: open.Add(time.Minute - time.Second),
			Symbol:    testSymbol,
			Interval:  "1m",
			Close:     close,
			IsFinal:   true,
		}
	}
	return out
}

func testParams() risk.Params {
	return risk.Params{
		Quantity:      1,
		MaxQuantity:   10,
		MaxExposure:   1,
		StopLossPct:   0.05,
		TakeProfitPct: 0.10,
	}
}

type rig struct {
	service  *Service
	engine   *engine.Engine
	exchange *stubExchange
	strategy *stubStrategy
	repo     *memRepo
}

func newRig(t *testing.T, cash float64) *rig {
	t.Helper()
	logger := &mockLogger{}
	repo := newMemRepo()
	exchange := &stubExchange{price: 50000}

	riskMgr, err := risk.NewManager(risk.DefaultSizingConfig(), logger)
	require.NoError(t, err)

	eng, err := engine.New(engine.Config{Logger: logger, Repository: repo, Risk: riskMgr})
	require.NoError(t, err)
	require.NoError(t, eng.RegisterExchange(domain.ModePaper, exchange))

	priceFn := func(symbol string) (float64, error) {
		return exchange.GetTickerPrice(context.Background(), symbol)
	}
	book, err := ledger.NewSimulatedLedger(cash, priceFn, logger)
	require.NoError(t, err)
	require.NoError(t, eng.RegisterLedger(testUser, domain.ModePaper, book))

	strat := &stubStrategy{}
	svc, err := New(Config{
		Logger:    logger,
		Engine:    eng,
		Exchange:  exchange,
		Strategy:  strat,
		UserID:    testUser,
		Mode:      domain.ModePaper,
		Symbol:    testSymbol,
		Timeframe: "1m",
		Risk:      testParams(),
	})
	require.NoError(t, err)

	return &rig{service: svc, engine: eng, exchange: exchange, strategy: strat, repo: repo}
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestNewRejectsUnknownMode(t *testing.T) {
	logger := &mockLogger{}
	repo := newMemRepo()
	riskMgr, err := risk.NewManager(risk.DefaultSizingConfig(), logger)
	require.NoError(t, err)
	eng, err := engine.New(engine.Config{Logger: logger, Repository: repo, Risk: riskMgr})
	require.NoError(t, err)

	_, err = New(Config{
		Logger:    logger,
		Engine:    eng,
		Exchange:  &stubExchange{},
		Strategy:  &stubStrategy{},
		UserID:    testUser,
		Mode:      "dry-run",
		Symbol:    testSymbol,
		Timeframe: "1m",
		Risk:      testParams(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestHandleKlineIgnoresUnfinishedCandle(t *testing.T) {
	r := newRig(t, 100000)
	r.strategy.decisions = []domain.Decision{domain.DecisionBuy}

	k := testKlines(1, 50000)[0]
	k.IsFinal = false
	r.service.handleKline(k)

	assert.Equal(t, 0, r.strategy.callCount())
	assert.Equal(t, 0, r.exchange.placeCount())
}

func TestHandleKlineOpensTradeOnBuySignal(t *testing.T) {
	r := newRig(t, 100000)
	r.strategy.decisions = []domain.Decision{domain.DecisionBuy}
	r.service.window = testKlines(1, 50000)

	r.service.handleKline(testKlines(2, 50000)[1])

	trade, err := r.repo.FindOpen(context.Background(), testUser, domain.ModePaper, testSymbol)
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, domain.StatusOpen, trade.Status)
	assert.Equal(t, 50000.0, trade.EntryPrice)
	assert.Equal(t, 1, r.exchange.placeCount())
}

func TestHandleKlineSkipsStrategyUntilWindowFull(t *testing.T) {
	r := newRig(t, 100000)
	r.strategy.decisions = []domain.Decision{domain.DecisionBuy}

	r.service.handleKline(testKlines(1, 50000)[0])

	assert.Equal(t, 0, r.strategy.callCount())
}

func TestProtectiveStopPreemptsStrategy(t *testing.T) {
	r := newRig(t, 100000)
	r.strategy.decisions = []domain.Decision{domain.DecisionBuy, domain.DecisionBuy}
	r.service.window = testKlines(1, 50000)

	r.service.handleKline(testKlines(2, 50000)[1])
	trade, err := r.repo.FindOpen(context.Background(), testUser, domain.ModePaper, testSymbol)
	require.NoError(t, err)
	require.NotNil(t, trade)

	// Price drops through the stop. The stop closes the trade and the
	// strategy is not consulted in the same event.
	callsBefore := r.strategy.callCount()
	r.exchange.setPrice(47000)
	r.service.handleKline(testKlines(3, 47000)[2])

	closed, err := r.repo.FindByID(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, closed.CloseReason)
	assert.Equal(t, callsBefore, r.strategy.callCount())
}

func TestStartFailsWhenExchangeUnreachable(t *testing.T) {
	r := newRig(t, 100000)
	r.exchange.pingErr = ports.ErrConnectionFailed

	err := r.service.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)
}

func TestStartFailsOnShortHistory(t *testing.T) {
	r := newRig(t, 100000)
	r.exchange.history = testKlines(1, 50000)

	err := r.service.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrStaleData)
}

func TestStartRunsStreamedKlinesThroughPipeline(t *testing.T) {
	r := newRig(t, 100000)
	r.strategy.decisions = []domain.Decision{domain.DecisionBuy}
	r.exchange.history = testKlines(2, 50000)
	r.exchange.stream = testKlines(3, 50000)[2:]

	// The stub stream closes its done channel after the script, which the
	// service reports as an unexpected stop.
	err := r.service.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)

	trade, ferr := r.repo.FindOpen(context.Background(), testUser, domain.ModePaper, testSymbol)
	require.NoError(t, ferr)
	require.NotNil(t, trade)
	assert.Equal(t, domain.StatusOpen, trade.Status)
}

func TestStartReconcilesPendingTradeFromPreviousRun(t *testing.T) {
	r := newRig(t, 100000)
	r.exchange.history = testKlines(2, 50000)

	// Simulate a crash mid-placement: a pending entry whose order actually
	// filled at the venue.
	pending := &domain.Trade{
		ID:     "stale-1",
		UserID: testUser,
		Mode:   domain.ModePaper,
		Symbol: testSymbol,
		Side:   domain.Buy,
		Status: domain.StatusPendingEntry,
		EntryOrder: &domain.OrderDetails{
			ID:            "o-1",
			ClientOrderID: "c-1",
			Symbol:        testSymbol,
			Side:          domain.Buy,
			Type:          domain.OrderTypeMarket,
			Category:      domain.CategoryEntry,
			Quantity:      1,
			Status:        domain.OrderStatusNew,
		},
	}
	require.NoError(t, r.repo.Append(context.Background(), pending))
	r.exchange.statusFn = func(symbol, clientOrderID string) (*ports.OrderAck, error) {
		return &ports.OrderAck{
			ClientOrderID:   clientOrderID,
			ExchangeOrderID: 7,
			Symbol:          symbol,
			Side:            domain.Buy,
			Type:            domain.OrderTypeMarket,
			Status:          domain.OrderStatusFilled,
			AvgPrice:        50000,
			OrigQuantity:    1,
			ExecutedQty:     1,
			Timestamp:       time.Now(),
		}, nil
	}

	err := r.service.Start(context.Background())
	require.Error(t, err) // empty stream script closes immediately

	trade, ferr := r.repo.FindByID(context.Background(), "stale-1")
	require.NoError(t, ferr)
	assert.Equal(t, domain.StatusOpen, trade.Status)
	assert.Equal(t, 50000.0, trade.EntryPrice)
}
