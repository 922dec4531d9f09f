package trader

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meanrev/pairsbot/pkg/ledger"
	"github.com/meanrev/pairsbot/pkg/models"
)

func reconTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	l, err := ledger.Open(filepath.Join(t.TempDir(), "trade_logs.json"), logger)
	require.NoError(t, err)
	return l
}

func TestComputePnLSumsFillsInsideWindow(t *testing.T) {
	entryTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	client := newFakeClient()
	client.fills["ETHUSDT"] = []models.Fill{
		{Symbol: "ETHUSDT", Time: entryTime.Add(2 * time.Minute), RealizedPnL: 12.5, Commission: 0.8},
		{Symbol: "ETHUSDT", Time: entryTime.Add(-2 * time.Hour), RealizedPnL: 999, Commission: 9},
	}
	client.fills["SOLUSDT"] = []models.Fill{
		{Symbol: "SOLUSDT", Time: entryTime.Add(30 * time.Minute), RealizedPnL: -4.5, Commission: 0.2},
		{Symbol: "SOLUSDT", Time: entryTime.Add(90 * time.Minute), RealizedPnL: 777, Commission: 7},
	}

	l := reconTestLedger(t)
	require.NoError(t, l.Create(models.TradeRecord{
		TradeID:   "long_1717243200",
		Timestamp: entryTime,
		Symbol1:   "ETHUSDT",
		Symbol2:   "SOLUSDT",
		Side:      models.SideLong,
	}))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := NewReconciler(client, l, time.Hour, logger)

	pnl := r.ComputePnL(context.Background(), "long_1717243200")

	assert.Empty(t, pnl.Error)
	assert.InDelta(t, 8.0, pnl.TotalPnL, 1e-9)
	assert.InDelta(t, 1.0, pnl.TotalFees, 1e-9)
}

func TestComputePnLIncludesFillsSlightlyBeforeEntry(t *testing.T) {
	// Fill timestamps can precede the recorded entry time by clock skew;
	// the window is symmetric around the entry.
	entryTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	client := newFakeClient()
	client.fills["ETHUSDT"] = []models.Fill{
		{Symbol: "ETHUSDT", Time: entryTime.Add(-5 * time.Second), RealizedPnL: 3, Commission: 0.1},
	}

	l := reconTestLedger(t)
	require.NoError(t, l.Create(models.TradeRecord{
		TradeID:   "short_1717243200",
		Timestamp: entryTime,
		Symbol1:   "ETHUSDT",
		Symbol2:   "SOLUSDT",
		Side:      models.SideShort,
	}))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := NewReconciler(client, l, time.Hour, logger)

	pnl := r.ComputePnL(context.Background(), "short_1717243200")
	assert.InDelta(t, 3.0, pnl.TotalPnL, 1e-9)
}

func TestComputePnLUnknownTrade(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := NewReconciler(newFakeClient(), reconTestLedger(t), time.Hour, logger)

	pnl := r.ComputePnL(context.Background(), "long_0")
	assert.Equal(t, "trade entry not found", pnl.Error)
	assert.Zero(t, pnl.TotalPnL)
}

func TestComputePnLReportsFetchFailure(t *testing.T) {
	client := newFakeClient()
	client.fillsErr["ETHUSDT"] = fmt.Errorf("binance: 503")

	l := reconTestLedger(t)
	require.NoError(t, l.Create(models.TradeRecord{
		TradeID:   "long_1",
		Timestamp: time.Now().UTC(),
		Symbol1:   "ETHUSDT",
		Symbol2:   "SOLUSDT",
		Side:      models.SideLong,
	}))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := NewReconciler(client, l, time.Hour, logger)

	pnl := r.ComputePnL(context.Background(), "long_1")
	assert.Equal(t, "binance: 503", pnl.Error)
}
