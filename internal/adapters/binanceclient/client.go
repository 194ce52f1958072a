package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.ExchangeClient interface using the go-binance
// library. Order identity is the engine-chosen client order id, so retries
// and status queries survive lost responses.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectDelay       time.Duration // Reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max attempts before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key invalid / permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -2010, -2011, -2022: // Order rejected / cancel rejected
			mappedErr = ports.ErrExchangeRejected
		case -2019, -3005, -3041, -4047: // Margin / balance insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116,
			-1117, -1120, -1121, -1125, -1127, -1128, -1130,
			-4003, -4014, -4015: // Parameter/request format errors
			mappedErr = ports.ErrValidation
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Non-API errors: network, context cancellation, parsing.
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// handleOrderError classifies order-call failures by ambiguity. A venue
// answer (API error) is a definite rejection; a transport failure leaves the
// order's fate unknown and is reported as ErrExchangeTimeout so the caller
// reconciles before failing the trade.
func (c *Client) handleOrderError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		mapped := c.handleError(ctx, err, operation)
		// Unmapped venue answers still mean the venue saw the request.
		if errors.Is(mapped, ports.ErrUnknown) {
			return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeRejected, err)
		}
		return mapped
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	}
	c.logger.Warn(ctx, operation+" outcome ambiguous", map[string]interface{}{"error": err.Error()})
	return fmt.Errorf("%s outcome unknown: %w: %w", operation, ports.ErrExchangeTimeout, err)
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetAccountBalance retrieves the wallet balance for an asset (e.g. "USDT").
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAccountBalance"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Assets {
		if bal.Asset == asset {
			balance, err := strconv.ParseFloat(bal.WalletBalance, 64)
			if err != nil {
				parseErr := fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.WalletBalance, asset, err)
				return 0, c.handleError(ctx, parseErr, op)
			}
			return balance, nil
		}
	}

	err = fmt.Errorf("asset %s not found in account balance: %w", asset, ports.ErrNotFound)
	return 0, c.handleError(ctx, err, op)
}

// GetTickerPrice retrieves the last ticker price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].LastPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].LastPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// PlaceOrder submits an order identified by the caller's client order id.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderAck, error) {
	op := "PlaceOrder"
	if req.ClientOrderID == "" {
		return nil, fmt.Errorf("%s: client order id is required: %w", op, ports.ErrValidation)
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Quantity(formatFloat(req.Quantity)).
		NewClientOrderID(req.ClientOrderID).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)

	switch req.Type {
	case domain.OrderTypeMarket:
		svc.Type(futures.OrderTypeMarket)
	case domain.OrderTypeLimit:
		svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatFloat(req.Price))
	case domain.OrderTypeStopMarket:
		svc.Type(futures.OrderTypeStopMarket).
			StopPrice(formatFloat(req.StopPrice))
	case domain.OrderTypeTakeProfit:
		svc.Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatFloat(req.StopPrice))
	default:
		return nil, fmt.Errorf("%s: unsupported order type %q: %w", op, req.Type, ports.ErrValidation)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleOrderError(ctx, err, op)
	}

	ack := translateCreateResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":        req.Symbol,
		"side":          req.Side,
		"quantity":      req.Quantity,
		"clientOrderID": req.ClientOrderID,
		"status":        ack.Status,
		"avgPrice":      ack.AvgPrice,
	})
	return ack, nil
}

// CancelOrder cancels an open order by its client order id. When the venue
// answers that the order is unknown, the order state is queried so a fill
// that beat the cancel is reported as ErrOrderAlreadyFilled.
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*ports.OrderAck, error) {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "clientOrderID": clientOrderID})

	res, err := c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == -2011 || apiErr.Code == -2013) {
			// "Unknown order sent": either never existed or already terminal.
			ack, statusErr := c.GetOrderStatus(ctx, symbol, clientOrderID)
			if statusErr != nil {
				return nil, statusErr
			}
			if ack.Filled() {
				return nil, fmt.Errorf("%s: order %s: %w", op, clientOrderID, ports.ErrOrderAlreadyFilled)
			}
			// Already canceled/expired on the venue side.
			return ack, nil
		}
		return nil, c.handleOrderError(ctx, err, op)
	}

	ack := translateCancelResponse(res)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "clientOrderID": clientOrderID, "status": ack.Status})
	return ack, nil
}

// GetOrderStatus queries the authoritative state of an order.
func (c *Client) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*ports.OrderAck, error) {
	op := "GetOrderStatus"
	order, err := c.futuresClient.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(order), nil
}

// StreamKlines starts a WebSocket stream for K-line/candlestick data with a
// reconnect loop. Closing stopCh ends the stream; doneCh closes when the
// loop exits.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamKlines"
	wsCtx, cancelWs := context.WithCancel(ctx)

	binanceHandler := func(event *futures.WsKlineEvent) {
		domainKline, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(wsCtx, err, op+": Failed to translate WebSocket kline event")
			return
		}
		handler(domainKline)
	}

	binanceErrHandler := func(err error) {
		translatedErr := c.handleError(wsCtx, err, op+" WebSocket")
		errHandler(translatedErr)
	}

	go func() {
		defer cancelWs()

		attempt := 0
		for {
			select {
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": Context cancelled, stopping connection attempts.", map[string]interface{}{"symbol": symbol, "interval": interval})
				return
			default:
				c.logger.Info(wsCtx, op+": Attempting WebSocket connection...", map[string]interface{}{"symbol": symbol, "interval": interval, "attempt": attempt + 1})
				innerDoneCh, innerStopCh, connectErr := futures.WsKlineServe(symbol, interval, binanceHandler, binanceErrHandler)

				if connectErr != nil {
					c.handleError(wsCtx, connectErr, op+" connection attempt")
					attempt++
					if attempt >= c.maxReconnectAttempts {
						c.logger.Error(wsCtx, connectErr, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"symbol": symbol, "interval": interval, "maxAttempts": c.maxReconnectAttempts})
						return
					}

					// Exponential backoff with 10% jitter.
					delay := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
					jitter := time.Duration(float64(delay) * 0.1 * float64(time.Millisecond))
					actualDelay := delay + jitter
					c.logger.Info(wsCtx, op+": Connection failed, retrying...", map[string]interface{}{"symbol": symbol, "interval": interval, "attempt": attempt + 1, "delay": actualDelay.String()})

					select {
					case <-time.After(actualDelay):
						continue
					case <-wsCtx.Done():
						return
					}
				}

				c.logger.Info(wsCtx, op+": WebSocket connection established.", map[string]interface{}{"symbol": symbol, "interval": interval})
				attempt = 0

				select {
				case <-innerDoneCh:
					c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...", map[string]interface{}{"symbol": symbol, "interval": interval})
				case <-wsCtx.Done():
					select {
					case innerStopCh <- struct{}{}:
					default:
					}
					return
				}
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// GetKlines retrieves historical klines/candlestick data for the given symbol.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		domainKlines = append(domainKlines, dk)
	}

	return domainKlines, nil
}

// GetKlinesRange fetches all klines for a symbol/interval between start and end time.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	var allKlines []*domain.Kline
	const maxLimit = 1500
	from := start

	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			dk, err := translateBinanceKline(bk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline range: %w", err), op)
			}
			allKlines = append(allKlines, dk)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime)
		if from.After(end) || len(klines) < maxLimit {
			break
		}
	}

	return allKlines, nil
}

// --- Translation Helpers ---

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func translateCreateResponse(order *futures.CreateOrderResponse) *ports.OrderAck {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderAck{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: order.OrderID,
		Symbol:          order.Symbol,
		Side:            domain.OrderSide(order.Side),
		Type:            domain.OrderType(order.Type),
		Status:          domain.OrderStatus(order.Status),
		Price:           price,
		AvgPrice:        avgPrice,
		OrigQuantity:    origQty,
		ExecutedQty:     execQty,
		Timestamp:       time.UnixMilli(order.UpdateTime),
	}
}

func translateCancelResponse(res *futures.CancelOrderResponse) *ports.OrderAck {
	if res == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(res.Price, 64)
	origQty, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)

	return &ports.OrderAck{
		ClientOrderID:   res.ClientOrderID,
		ExchangeOrderID: res.OrderID,
		Symbol:          res.Symbol,
		Side:            domain.OrderSide(res.Side),
		Type:            domain.OrderType(res.Type),
		Status:          domain.OrderStatus(res.Status),
		Price:           price,
		OrigQuantity:    origQty,
		ExecutedQty:     execQty,
		Timestamp:       time.Now(),
	}
}

func translateOrder(order *futures.Order) *ports.OrderAck {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderAck{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: order.OrderID,
		Symbol:          order.Symbol,
		Side:            domain.OrderSide(order.Side),
		Type:            domain.OrderType(order.Type),
		Status:          domain.OrderStatus(order.Status),
		Price:           price,
		AvgPrice:        avgPrice,
		OrigQuantity:    origQty,
		ExecutedQty:     execQty,
		Timestamp:       time.UnixMilli(order.UpdateTime),
	}
}

func translateWsKline(event *futures.WsKlineEvent) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   k.IsFinal,
	}, nil
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,   // not present in futures.Kline
		Interval:  interval, // not present in futures.Kline
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   true, // historical klines are always final
	}, nil
}
