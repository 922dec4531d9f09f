package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meanrev/pairsbot/pkg/models"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trade_logs.json")
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	l, err := Open(path, logger)
	require.NoError(t, err)
	return l, path
}

func sampleRecord(id string) models.TradeRecord {
	return models.TradeRecord{
		TradeID:   id,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Symbol1:   "ETHUSDT",
		Symbol2:   "SOLUSDT",
		Side:      models.SideShort,
		EntryData: models.EntryData{Price1: 2000, Price2: 100, Qty1: 2, Qty2: 40, Spread: 0.01, ZScore: 1.6},
		MarketData: models.MarketSnapshot{
			SpreadMean: 0.002, SpreadStd: 0.005,
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Create(sampleRecord("short_1")))

	got, err := l.Get("short_1")
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusEntered, got.Status)
	assert.NotNil(t, got.Orders)

	assert.ErrorIs(t, l.Create(sampleRecord("short_1")), ErrDuplicateID)
}

func TestAppendOrderOnlyWhileEntered(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Create(sampleRecord("short_1")))

	order := models.OrderLogEntry{
		Timestamp: time.Now().UTC(),
		Type:      "ENTRY_LEG1_SHORT",
		Response:  json.RawMessage(`{"orderId":1}`),
	}
	require.NoError(t, l.AppendOrder("short_1", order))

	require.NoError(t, l.Finalize("short_1",
		models.ExitData{Reason: models.ExitTakeProfit},
		models.PnLAnalysis{TotalPnL: 12.5, TotalFees: 1.1}))

	assert.ErrorIs(t, l.AppendOrder("short_1", order), ErrNotEntered)
	assert.ErrorIs(t, l.AppendOrder("missing", order), ErrNotFound)
}

func TestFinalizeExactlyOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Create(sampleRecord("long_7")))

	exit := models.ExitData{Spread: 0.001, ZScore: 0.2, Reason: models.ExitStopLoss}
	require.NoError(t, l.Finalize("long_7", exit, models.PnLAnalysis{TotalPnL: -80}))
	assert.ErrorIs(t, l.Finalize("long_7", exit, models.PnLAnalysis{}), ErrAlreadyFinal)

	got, err := l.Get("long_7")
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusCompleted, got.Status)
	require.NotNil(t, got.ExitData)
	assert.Equal(t, models.ExitStopLoss, got.ExitData.Reason)
}

func TestPersistenceRoundTrip(t *testing.T) {
	l, path := newTestLedger(t)
	require.NoError(t, l.Create(sampleRecord("short_1")))
	require.NoError(t, l.AppendOrder("short_1", models.OrderLogEntry{
		Timestamp: time.Now().UTC(),
		Type:      "ENTRY_LEG2_LONG",
		Response:  json.RawMessage(`{"orderId":2}`),
	}))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	reopened, err := Open(path, logger)
	require.NoError(t, err)

	got, err := reopened.Get("short_1")
	require.NoError(t, err)
	assert.Len(t, got.Orders, 1)
	assert.Equal(t, "ENTRY_LEG2_LONG", got.Orders[0].Type)
}

func TestFileLayoutStable(t *testing.T) {
	l, path := newTestLedger(t)
	require.NoError(t, l.Create(sampleRecord("short_1")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(raw, &records))
	require.Len(t, records, 1)

	for _, key := range []string{
		"trade_id", "timestamp", "status", "symbol1", "symbol2",
		"side", "entry_data", "market_data", "orders", "exit_data", "pnl_analysis",
	} {
		assert.Contains(t, records[0], key)
	}
	assert.Equal(t, "ENTERED", records[0]["status"])
	assert.Equal(t, "short", records[0]["side"])
}

func TestLast(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Create(sampleRecord("a_1")))
	require.NoError(t, l.Create(sampleRecord("a_2")))
	require.NoError(t, l.Create(sampleRecord("a_3")))

	last := l.Last(2)
	require.Len(t, last, 2)
	assert.Equal(t, "a_2", last[0].TradeID)
	assert.Equal(t, "a_3", last[1].TradeID)

	assert.Len(t, l.Last(10), 3)
}
