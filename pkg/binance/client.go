// Package binance is the exchange connectivity layer for USD-M futures:
// a signed REST client for market data, orders and fills, plus a
// websocket mark-price stream.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/meanrev/pairsbot/pkg/models"
)

const (
	mainnetBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"
)

// Client is the exchange capability consumed by the trading engine.
type Client interface {
	RecentCloses(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64) (models.OrderFill, error)
	AccountTrades(ctx context.Context, symbol string, limit int) ([]models.Fill, error)
	Positions(ctx context.Context, symbol string) ([]models.PositionSnapshot, error)
}

// FuturesClient talks to the Binance USD-M futures REST API. All private
// endpoints are HMAC-SHA256 signed; requests are paced by a shared rate
// limiter so bursts of leg orders stay inside exchange weight limits.
type FuturesClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

func NewFuturesClient(apiKey, apiSecret string, testnet bool, logger *logrus.Logger) *FuturesClient {
	baseURL := mainnetBaseURL
	if testnet {
		baseURL = testnetBaseURL
	}
	return &FuturesClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		logger:     logger,
	}
}

// RecentCloses fetches up to limit bars for one instrument, ordered
// most-recent-last. The final bar may still be forming.
func (c *FuturesClient) RecentCloses(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/klines", params, false)
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parsing klines: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("parsing kline open time: %w", err)
		}
		var closeStr string
		if err := json.Unmarshal(row[4], &closeStr); err != nil {
			return nil, fmt.Errorf("parsing kline close: %w", err)
		}
		closePrice, err := strconv.ParseFloat(closeStr, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing kline close price: %w", err)
		}
		candles = append(candles, models.Candle{
			OpenTime: time.UnixMilli(openMs).UTC(),
			Close:    closePrice,
		})
	}
	return candles, nil
}

type orderResponse struct {
	OrderID     int64            `json:"orderId"`
	Symbol      string           `json:"symbol"`
	Status      string           `json:"status"`
	Side        models.OrderSide `json:"side"`
	AvgPrice    string           `json:"avgPrice"`
	ExecutedQty string           `json:"executedQty"`
	UpdateTime  int64            `json:"updateTime"`
}

// PlaceMarketOrder submits an immediate-fill market order for one leg.
func (c *FuturesClient) PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64) (models.OrderFill, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	params.Set("newOrderRespType", "RESULT")

	body, err := c.doRequest(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return models.OrderFill{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.OrderFill{}, fmt.Errorf("parsing order response: %w", err)
	}

	fill := models.OrderFill{
		OrderID:    resp.OrderID,
		Symbol:     resp.Symbol,
		Side:       resp.Side,
		Status:     resp.Status,
		UpdateTime: time.UnixMilli(resp.UpdateTime).UTC(),
		Raw:        json.RawMessage(body),
	}
	fill.ExecutedQty, _ = strconv.ParseFloat(resp.ExecutedQty, 64)
	fill.AvgPrice, _ = strconv.ParseFloat(resp.AvgPrice, 64)

	c.logger.WithFields(logrus.Fields{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"order_id": fill.OrderID,
		"status":   fill.Status,
	}).Info("Market order placed")
	return fill, nil
}

type accountTrade struct {
	Symbol      string `json:"symbol"`
	Time        int64  `json:"time"`
	RealizedPnL string `json:"realizedPnl"`
	Commission  string `json:"commission"`
}

// AccountTrades fetches the most recent fills for one instrument.
func (c *FuturesClient) AccountTrades(ctx context.Context, symbol string, limit int) ([]models.Fill, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/userTrades", params, true)
	if err != nil {
		return nil, err
	}

	var trades []accountTrade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("parsing account trades: %w", err)
	}

	fills := make([]models.Fill, 0, len(trades))
	for _, t := range trades {
		fill := models.Fill{
			Symbol: t.Symbol,
			Time:   time.UnixMilli(t.Time).UTC(),
		}
		fill.RealizedPnL, _ = strconv.ParseFloat(t.RealizedPnL, 64)
		fill.Commission, _ = strconv.ParseFloat(t.Commission, 64)
		fills = append(fills, fill)
	}
	return fills, nil
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnrealizedProfit string `json:"unRealizedProfit"`
}

// Positions fetches the exchange's position snapshots, optionally
// filtered by symbol. Used only for status display.
func (c *FuturesClient) Positions(ctx context.Context, symbol string) ([]models.PositionSnapshot, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true)
	if err != nil {
		return nil, err
	}

	var risks []positionRisk
	if err := json.Unmarshal(body, &risks); err != nil {
		return nil, fmt.Errorf("parsing positions: %w", err)
	}

	snapshots := make([]models.PositionSnapshot, 0, len(risks))
	for _, r := range risks {
		snap := models.PositionSnapshot{Symbol: r.Symbol}
		snap.PositionAmt, _ = strconv.ParseFloat(r.PositionAmt, 64)
		snap.EntryPrice, _ = strconv.ParseFloat(r.EntryPrice, 64)
		snap.MarkPrice, _ = strconv.ParseFloat(r.MarkPrice, 64)
		snap.UnrealizedProfit, _ = strconv.ParseFloat(r.UnrealizedProfit, 64)
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (c *FuturesClient) sign(query string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *FuturesClient) doRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := params.Encode()
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", "5000")
		// The signature covers the encoded payload and is appended last.
		query = params.Encode()
		query += "&signature=" + c.sign(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		return nil, apiErr
	}
	return body, nil
}
