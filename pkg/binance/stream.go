package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	mainnetStreamURL = "wss://fstream.binance.com/stream"
	testnetStreamURL = "wss://stream.binancefuture.com/stream"
)

// MarkPriceStream subscribes to the combined mark-price stream for a set
// of instruments and keeps the latest price per symbol. It feeds the
// read-only status surface; the trading engine never reads from it.
type MarkPriceStream struct {
	url       string
	symbols   []string
	conn      *websocket.Conn
	mu        sync.RWMutex
	connected bool
	prices    map[string]float64
	updated   time.Time
	logger    *logrus.Logger
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type markPriceEvent struct {
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
	EventTime int64  `json:"E"`
}

func NewMarkPriceStream(symbols []string, testnet bool, logger *logrus.Logger) *MarkPriceStream {
	url := mainnetStreamURL
	if testnet {
		url = testnetStreamURL
	}
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@markPrice")
	}
	return &MarkPriceStream{
		url:     url + "?streams=" + strings.Join(streams, "/"),
		symbols: symbols,
		prices:  make(map[string]float64),
		logger:  logger,
	}
}

func (m *MarkPriceStream) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("connecting mark price stream: %w", err)
	}
	m.conn = conn
	m.connected = true

	go m.readLoop(ctx)
	go m.keepAlive(ctx)

	return nil
}

// Prices returns a copy of the latest mark prices and when they were
// last updated.
func (m *MarkPriceStream) Prices() (map[string]float64, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]float64, len(m.prices))
	for k, v := range m.prices {
		out[k] = v
	}
	return out, m.updated
}

func (m *MarkPriceStream) Close() {
	m.handleDisconnect()
}

func (m *MarkPriceStream) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.handleDisconnect()
			return
		default:
			var env streamEnvelope
			if err := m.conn.ReadJSON(&env); err != nil {
				m.logger.WithError(err).Error("Failed to read mark price stream")
				m.handleDisconnect()
				return
			}

			var event markPriceEvent
			if err := json.Unmarshal(env.Data, &event); err != nil || event.Symbol == "" {
				continue
			}
			price, err := strconv.ParseFloat(event.MarkPrice, 64)
			if err != nil {
				continue
			}

			m.mu.Lock()
			m.prices[event.Symbol] = price
			m.updated = time.UnixMilli(event.EventTime).UTC()
			m.mu.Unlock()
		}
	}
}

func (m *MarkPriceStream) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.connected {
				if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					m.logger.WithError(err).Error("Failed to ping mark price stream")
					m.mu.Unlock()
					m.handleDisconnect()
					continue
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *MarkPriceStream) handleDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = false
	if m.conn != nil {
		m.conn.Close()
	}
}
