package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (or creates) the database and ensures the schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tradecore.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite trade store ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: a proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL DEFAULT 0,
		executed_at TIMESTAMP DEFAULT NULL,
		status TEXT NOT NULL,
		pnl REAL DEFAULT NULL,
		pnl_percent REAL DEFAULT NULL,
		close_reason TEXT DEFAULT NULL,
		confidence REAL DEFAULT NULL,
		stop_loss REAL DEFAULT NULL,
		take_profit REAL DEFAULT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_orders (
		id TEXT PRIMARY KEY,
		trade_id TEXT NOT NULL,
		client_order_id TEXT NOT NULL UNIQUE,
		exchange_order_id INTEGER NOT NULL DEFAULT 0,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		category TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		executed_qty REAL DEFAULT NULL,
		executed_price REAL DEFAULT NULL,
		fee REAL DEFAULT NULL,
		status TEXT NOT NULL,
		transact_time TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_user_mode_symbol_status
		ON trades (user_id, mode, symbol, status);
	CREATE INDEX IF NOT EXISTS idx_trade_orders_trade_id
		ON trade_orders (trade_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

const tradeColumns = `id, user_id, mode, symbol, side, quantity, entry_price,
	executed_at, status, pnl, pnl_percent, close_reason, confidence,
	stop_loss, take_profit`

const orderColumns = `id, trade_id, client_order_id, exchange_order_id, symbol,
	side, type, category, quantity, price, executed_qty, executed_price,
	fee, status, transact_time`

// Append saves a new trade together with its order rows in one transaction.
func (r *Repository) Append(ctx context.Context, trade *domain.Trade) error {
	if trade == nil || trade.ID == "" {
		return fmt.Errorf("trade with id is required: %w", ports.ErrValidation)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
	INSERT INTO trades (` + tradeColumns + `, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, query,
		trade.ID, trade.UserID, string(trade.Mode), trade.Symbol, string(trade.Side),
		trade.Quantity, trade.EntryPrice, nullTime(trade.ExecutedAt), string(trade.Status),
		trade.PNL, trade.PNLPercent, nullString(string(trade.CloseReason)),
		trade.Confidence, trade.StopLoss, trade.TakeProfit, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", trade.ID, err)
	}

	if err := insertOrders(ctx, tx, trade); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trade %s: %w", trade.ID, err)
	}
	r.logger.Debug(ctx, "Trade appended", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol})
	return nil
}

// Update rewrites a trade and its order rows in one transaction, so the
// status, pnl and order states always change together.
func (r *Repository) Update(ctx context.Context, trade *domain.Trade) error {
	if trade == nil || trade.ID == "" {
		return fmt.Errorf("trade with id is required: %w", ports.ErrValidation)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
	UPDATE trades
	SET quantity = ?, entry_price = ?, executed_at = ?, status = ?, pnl = ?,
	    pnl_percent = ?, close_reason = ?, confidence = ?, stop_loss = ?,
	    take_profit = ?
	WHERE id = ?`

	result, err := tx.ExecContext(ctx, query,
		trade.Quantity, trade.EntryPrice, nullTime(trade.ExecutedAt), string(trade.Status),
		trade.PNL, trade.PNLPercent, nullString(string(trade.CloseReason)),
		trade.Confidence, trade.StopLoss, trade.TakeProfit,
		trade.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade %s: %w", trade.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade %s: %w", trade.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade %s not found for update: %w", trade.ID, ports.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trade_orders WHERE trade_id = ?`, trade.ID); err != nil {
		return fmt.Errorf("failed to clear orders for trade %s: %w", trade.ID, err)
	}
	if err := insertOrders(ctx, tx, trade); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trade %s: %w", trade.ID, err)
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": trade.ID, "status": trade.Status})
	return nil
}

func insertOrders(ctx context.Context, tx *sql.Tx, trade *domain.Trade) error {
	const query = `
	INSERT INTO trade_orders (` + orderColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	orders := make([]*domain.OrderDetails, 0, 1+len(trade.ExitOrders))
	if trade.EntryOrder != nil {
		orders = append(orders, trade.EntryOrder)
	}
	orders = append(orders, trade.ExitOrders...)

	for _, o := range orders {
		_, err := tx.ExecContext(ctx, query,
			o.ID, trade.ID, o.ClientOrderID, o.ExchangeOrderID, o.Symbol,
			string(o.Side), string(o.Type), string(o.Category), o.Quantity, o.Price,
			o.ExecutedQty, o.ExecutedPrice, o.Fee, string(o.Status), o.TransactTime)
		if err != nil {
			return fmt.Errorf("failed to insert order %s for trade %s: %w", o.ClientOrderID, trade.ID, err)
		}
	}
	return nil
}

// FindByID retrieves a trade with its orders. Returns nil, nil if missing.
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Trade, error) {
	const query = `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade %s: %w", id, err)
	}
	if err := r.attachOrders(ctx, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// FindOpen retrieves the non-terminal trade for a (user, mode, symbol).
// Returns nil, nil when there is none.
func (r *Repository) FindOpen(ctx context.Context, userID string, mode domain.TradingMode, symbol string) (*domain.Trade, error) {
	const query = `
	SELECT ` + tradeColumns + `
	FROM trades
	WHERE user_id = ? AND mode = ? AND symbol = ? AND status NOT IN (?, ?)
	ORDER BY created_at DESC LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, userID, string(mode), symbol,
		string(domain.StatusClosed), string(domain.StatusFailed))
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open trade for %s: %w", symbol, err)
	}
	if err := r.attachOrders(ctx, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// Query retrieves trades matching the filter, newest first.
func (r *Repository) Query(ctx context.Context, q ports.TradeQuery) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE 1=1`
	args := make([]interface{}, 0, 5)
	if q.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, q.UserID)
	}
	if q.Mode != "" {
		query += ` AND mode = ?`
		args = append(args, string(q.Mode))
	}
	if q.Symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, q.Symbol)
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	query += ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	for _, trade := range trades {
		if err := r.attachOrders(ctx, trade); err != nil {
			return nil, err
		}
	}
	return trades, nil
}

// CountToday counts trades created today for a (user, mode, symbol).
func (r *Repository) CountToday(ctx context.Context, userID string, mode domain.TradingMode, symbol string) (int, error) {
	const query = `
	SELECT COUNT(*) FROM trades
	WHERE user_id = ? AND mode = ? AND symbol = ?
	  AND date(created_at) = date('now', 'localtime')`

	var count int
	err := r.db.QueryRowContext(ctx, query, userID, string(mode), symbol).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades today for %s: %w", symbol, err)
	}
	return count, nil
}

func (r *Repository) attachOrders(ctx context.Context, trade *domain.Trade) error {
	const query = `
	SELECT ` + orderColumns + `
	FROM trade_orders
	WHERE trade_id = ?
	ORDER BY transact_time ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, trade.ID)
	if err != nil {
		return fmt.Errorf("failed to query orders for trade %s: %w", trade.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return fmt.Errorf("failed to scan order for trade %s: %w", trade.ID, err)
		}
		if order.Category == domain.CategoryEntry {
			trade.EntryOrder = order
		} else {
			trade.ExitOrders = append(trade.ExitOrders, order)
		}
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating order rows for trade %s: %w", trade.ID, err)
	}
	return nil
}

// scanner is compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var (
		mode, side, status string
		executedAt         sql.NullTime
		closeReason        sql.NullString
		pnl, pnlPercent    sql.NullFloat64
		confidence         sql.NullFloat64
		stopLoss, takeProf sql.NullFloat64
	)
	err := s.Scan(
		&t.ID, &t.UserID, &mode, &t.Symbol, &side, &t.Quantity, &t.EntryPrice,
		&executedAt, &status, &pnl, &pnlPercent, &closeReason, &confidence,
		&stopLoss, &takeProf)
	if err != nil {
		return nil, err
	}
	t.Mode = domain.TradingMode(mode)
	t.Side = domain.OrderSide(side)
	t.Status = domain.TradeStatus(status)
	if executedAt.Valid {
		t.ExecutedAt = executedAt.Time
	}
	if closeReason.Valid {
		t.CloseReason = domain.CloseReason(closeReason.String)
	}
	t.PNL = nullableFloat(pnl)
	t.PNLPercent = nullableFloat(pnlPercent)
	t.Confidence = nullableFloat(confidence)
	t.StopLoss = nullableFloat(stopLoss)
	t.TakeProfit = nullableFloat(takeProf)
	return t, nil
}

func scanOrder(s scanner) (*domain.OrderDetails, error) {
	o := &domain.OrderDetails{}
	var (
		tradeID                    string
		side, typ, category, state string
		execQty, execPrice, fee    sql.NullFloat64
	)
	err := s.Scan(
		&o.ID, &tradeID, &o.ClientOrderID, &o.ExchangeOrderID, &o.Symbol,
		&side, &typ, &category, &o.Quantity, &o.Price, &execQty, &execPrice,
		&fee, &state, &o.TransactTime)
	if err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Category = domain.OrderCategory(category)
	o.Status = domain.OrderStatus(state)
	o.ExecutedQty = nullableFloat(execQty)
	o.ExecutedPrice = nullableFloat(execPrice)
	o.Fee = nullableFloat(fee)
	return o, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
