// Package config loads application configuration from the environment,
// optionally seeded by a .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"tradecore/internal/domain"
	"tradecore/internal/risk"
	"tradecore/internal/strategy"
)

// Config holds all application configuration.
type Config struct {
	// Trading
	Mode         string  `envconfig:"TRADING_MODE" default:"paper"` // "paper" or "real"
	UserID       string  `envconfig:"USER_ID" default:"default"`
	Symbol       string  `envconfig:"SYMBOL" default:"ETHUSDT"`
	Timeframe    string  `envconfig:"TIMEFRAME" default:"1m"`
	InitialFunds float64 `envconfig:"INITIAL_FUNDS" default:"10000"`

	// Binance API
	APIKey               string        `envconfig:"BINANCE_API_KEY"`
	SecretKey            string        `envconfig:"BINANCE_API_SECRET"`
	IsTestnet            bool          `envconfig:"IS_TESTNET" default:"true"`
	ReconnectDelay       time.Duration `envconfig:"RECONNECT_DELAY" default:"5s"`
	MaxReconnectAttempts int           `envconfig:"MAX_RECONNECT_ATTEMPTS" default:"10"`
	OrderTimeout         time.Duration `envconfig:"ORDER_TIMEOUT" default:"10s"`

	// Risk
	Quantity        float64 `envconfig:"QUANTITY" default:"1.0"`
	MaxQuantity     float64 `envconfig:"MAX_QUANTITY" default:"10.0"`
	MaxExposure     float64 `envconfig:"MAX_EXPOSURE" default:"0.5"`
	MinConfidence   float64 `envconfig:"MIN_CONFIDENCE" default:"0.6"`
	MaxTradesPerDay int     `envconfig:"MAX_TRADES_PER_DAY" default:"5"`
	StopLossPct     float64 `envconfig:"STOP_LOSS_PCT" default:"0.05"`
	TakeProfitPct   float64 `envconfig:"TAKE_PROFIT_PCT" default:"0.10"`

	// Strategy
	StrategyName  string  `envconfig:"STRATEGY_NAME" default:"ma-crossover"`
	ShortMAWindow int     `envconfig:"STRATEGY_SHORT_MA_WINDOW" default:"10"`
	LongMAWindow  int     `envconfig:"STRATEGY_LONG_MA_WINDOW" default:"50"`
	RSIWindow     int     `envconfig:"STRATEGY_RSI_WINDOW" default:"14"`
	RSIOverbought float64 `envconfig:"STRATEGY_RSI_OVERBOUGHT" default:"70"`
	RSIOversold   float64 `envconfig:"STRATEGY_RSI_OVERSOLD" default:"30"`
	ROCWindow     int     `envconfig:"STRATEGY_ROC_WINDOW" default:"10"`

	// Database
	DBPath string `envconfig:"DB_PATH" default:"./data/tradecore.db"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON  bool   `envconfig:"LOG_JSON" default:"false"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []string

	if !c.TradingMode().Valid() {
		errs = append(errs, fmt.Sprintf("TRADING_MODE must be %q or %q, got %q", domain.ModePaper, domain.ModeReal, c.Mode))
	}
	if c.TradingMode() == domain.ModeReal {
		if c.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set for real trading")
		}
		if c.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set for real trading")
		}
	}
	if c.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	if c.InitialFunds <= 0 {
		errs = append(errs, "INITIAL_FUNDS must be positive")
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, "RECONNECT_DELAY must be positive")
	}
	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}
	if c.OrderTimeout <= 0 {
		errs = append(errs, "ORDER_TIMEOUT must be positive")
	}
	if c.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	if err := c.RiskParams().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.StrategyConfig().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TradingMode returns the configured mode as a domain type.
func (c *Config) TradingMode() domain.TradingMode {
	return domain.TradingMode(c.Mode)
}

// RiskParams maps the configuration onto the risk gate's parameters.
func (c *Config) RiskParams() risk.Params {
	return risk.Params{
		Quantity:        c.Quantity,
		MaxQuantity:     c.MaxQuantity,
		MaxExposure:     c.MaxExposure,
		MinConfidence:   c.MinConfidence,
		MaxTradesPerDay: c.MaxTradesPerDay,
		StopLossPct:     c.StopLossPct,
		TakeProfitPct:   c.TakeProfitPct,
	}
}

// StrategyConfig maps the configuration onto the strategy evaluator.
func (c *Config) StrategyConfig() strategy.Config {
	return strategy.Config{
		Name:          c.StrategyName,
		Timeframe:     c.Timeframe,
		ShortMAWindow: c.ShortMAWindow,
		LongMAWindow:  c.LongMAWindow,
		RSIWindow:     c.RSIWindow,
		RSIOverbought: c.RSIOverbought,
		RSIOversold:   c.RSIOversold,
		ROCWindow:     c.ROCWindow,
		StopLossPct:   c.StopLossPct,
		TakeProfitPct: c.TakeProfitPct,
	}
}
