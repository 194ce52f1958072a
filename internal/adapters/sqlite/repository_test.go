package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "tradecore-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	})
	return repo
}

func newTrade(userID, symbol string, status domain.TradeStatus) *domain.Trade {
	confidence := 0.85
	return &domain.Trade{
		ID:         uuid.NewString(),
		UserID:     userID,
		Mode:       domain.ModeReal,
		Symbol:     symbol,
		Side:       domain.Buy,
		Quantity:   1.5,
		EntryPrice: 2000.0,
		Status:     status,
		Confidence: &confidence,
		EntryOrder: &domain.OrderDetails{
			ID:            uuid.NewString(),
			ClientOrderID: uuid.NewString(),
			Symbol:        symbol,
			Side:          domain.Buy,
			Type:          domain.OrderTypeMarket,
			Category:      domain.CategoryEntry,
			Quantity:      1.5,
			Status:        domain.OrderStatusNew,
			TransactTime:  time.Now().Truncate(time.Second),
		},
	}
}

func TestAppendAndFindByID(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	trade := newTrade("user-1", "ETHUSDT", domain.StatusPendingEntry)
	stopLoss := 1900.0
	trade.StopLoss = &stopLoss

	require.NoError(t, repo.Append(ctx, trade))

	got, err := repo.FindByID(ctx, trade.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, trade.UserID, got.UserID)
	assert.Equal(t, domain.ModeReal, got.Mode)
	assert.Equal(t, domain.StatusPendingEntry, got.Status)
	assert.Equal(t, trade.Quantity, got.Quantity)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.85, *got.Confidence, 1e-9)
	require.NotNil(t, got.StopLoss)
	assert.Equal(t, 1900.0, *got.StopLoss)
	assert.Nil(t, got.PNL)

	require.NotNil(t, got.EntryOrder)
	assert.Equal(t, trade.EntryOrder.ClientOrderID, got.EntryOrder.ClientOrderID)
	assert.Equal(t, domain.OrderStatusNew, got.EntryOrder.Status)
	assert.Empty(t, got.ExitOrders)
}

func TestFindByIDMissingReturnsNil(t *testing.T) {
	repo := setupTestDB(t)

	got, err := repo.FindByID(context.Background(), "no-such-trade")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateRewritesTradeAndOrdersAtomically(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	trade := newTrade("user-1", "ETHUSDT", domain.StatusPendingEntry)
	require.NoError(t, repo.Append(ctx, trade))

	// Entry fills and the trade later closes with an exit order.
	execQty := 1.5
	execPrice := 2000.0
	trade.EntryOrder.Status = domain.OrderStatusFilled
	trade.EntryOrder.ExecutedQty = &execQty
	trade.EntryOrder.ExecutedPrice = &execPrice
	trade.ExecutedAt = time.Now().Truncate(time.Second)
	trade.Status = domain.StatusOpen
	require.NoError(t, repo.Update(ctx, trade))

	exitPrice := 2200.0
	pnl := 300.0
	pnlPercent := 10.0
	trade.ExitOrders = append(trade.ExitOrders, &domain.OrderDetails{
		ID:            uuid.NewString(),
		ClientOrderID: uuid.NewString(),
		Symbol:        trade.Symbol,
		Side:          domain.Sell,
		Type:          domain.OrderTypeMarket,
		Category:      domain.CategoryExit,
		Quantity:      1.5,
		ExecutedQty:   &execQty,
		ExecutedPrice: &exitPrice,
		Status:        domain.OrderStatusFilled,
		TransactTime:  time.Now().Truncate(time.Second).Add(time.Minute),
	})
	trade.PNL = &pnl
	trade.PNLPercent = &pnlPercent
	trade.CloseReason = domain.CloseReasonSignal
	trade.Status = domain.StatusClosed
	require.NoError(t, repo.Update(ctx, trade))

	got, err := repo.FindByID(ctx, trade.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, domain.StatusClosed, got.Status)
	assert.Equal(t, domain.CloseReasonSignal, got.CloseReason)
	require.NotNil(t, got.PNL)
	assert.Equal(t, 300.0, *got.PNL)
	require.NotNil(t, got.EntryOrder)
	assert.Equal(t, domain.OrderStatusFilled, got.EntryOrder.Status)
	require.Len(t, got.ExitOrders, 1)
	assert.Equal(t, domain.CategoryExit, got.ExitOrders[0].Category)
	require.NotNil(t, got.ExitOrders[0].ExecutedPrice)
	assert.Equal(t, 2200.0, *got.ExitOrders[0].ExecutedPrice)
}

func TestUpdateMissingTrade(t *testing.T) {
	repo := setupTestDB(t)

	trade := newTrade("user-1", "ETHUSDT", domain.StatusOpen)
	err := repo.Update(context.Background(), trade)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestFindOpenReturnsOnlyNonTerminal(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	closed := newTrade("user-1", "ETHUSDT", domain.StatusClosed)
	require.NoError(t, repo.Append(ctx, closed))
	failed := newTrade("user-1", "ETHUSDT", domain.StatusFailed)
	require.NoError(t, repo.Append(ctx, failed))

	got, err := repo.FindOpen(ctx, "user-1", domain.ModeReal, "ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, got)

	open := newTrade("user-1", "ETHUSDT", domain.StatusOpen)
	require.NoError(t, repo.Append(ctx, open))

	got, err = repo.FindOpen(ctx, "user-1", domain.ModeReal, "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, open.ID, got.ID)

	// Other users and modes don't see it.
	got, err = repo.FindOpen(ctx, "user-2", domain.ModeReal, "ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = repo.FindOpen(ctx, "user-1", domain.ModePaper, "ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueryFilters(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, newTrade("user-1", "ETHUSDT", domain.StatusClosed)))
	require.NoError(t, repo.Append(ctx, newTrade("user-1", "BTCUSDT", domain.StatusOpen)))
	require.NoError(t, repo.Append(ctx, newTrade("user-2", "ETHUSDT", domain.StatusOpen)))

	all, err := repo.Query(ctx, ports.TradeQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	closed, err := repo.Query(ctx, ports.TradeQuery{UserID: "user-1", Status: domain.StatusClosed})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "ETHUSDT", closed[0].Symbol)
	require.NotNil(t, closed[0].EntryOrder)

	limited, err := repo.Query(ctx, ports.TradeQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCountToday(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	n, err := repo.CountToday(ctx, "user-1", domain.ModeReal, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, repo.Append(ctx, newTrade("user-1", "ETHUSDT", domain.StatusClosed)))
	require.NoError(t, repo.Append(ctx, newTrade("user-1", "ETHUSDT", domain.StatusOpen)))
	require.NoError(t, repo.Append(ctx, newTrade("user-1", "BTCUSDT", domain.StatusOpen)))

	n, err = repo.CountToday(ctx, "user-1", domain.ModeReal, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDuplicateClientOrderIDRejected(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	first := newTrade("user-1", "ETHUSDT", domain.StatusClosed)
	require.NoError(t, repo.Append(ctx, first))

	second := newTrade("user-1", "BTCUSDT", domain.StatusPendingEntry)
	second.EntryOrder.ClientOrderID = first.EntryOrder.ClientOrderID
	err := repo.Append(ctx, second)
	require.Error(t, err)
}
