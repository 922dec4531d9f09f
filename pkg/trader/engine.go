// Package trader owns the pairs-trading decision engine: the position
// lifecycle state machine and the polling run loop that drives it.
package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meanrev/pairsbot/internal/config"
	"github.com/meanrev/pairsbot/pkg/binance"
	"github.com/meanrev/pairsbot/pkg/ledger"
	"github.com/meanrev/pairsbot/pkg/lot"
	"github.com/meanrev/pairsbot/pkg/metrics"
	"github.com/meanrev/pairsbot/pkg/models"
	"github.com/meanrev/pairsbot/pkg/signal"
)

// shutdownTimeout bounds the best-effort close of an open position when
// the engine is stopped.
const shutdownTimeout = 30 * time.Second

// Status is the read-only snapshot served to the dashboard.
type Status struct {
	Running  bool                 `json:"running"`
	Market   *models.MarketSample `json:"market"`
	Position *Position            `json:"position"`
	Trades   []models.TradeRecord `json:"trades"`
}

// Engine evaluates the spread signal once per poll interval and drives
// the single open position through entry, partial exit, stop-loss,
// take-profit, max-hold and shutdown transitions.
//
// One logical thread of control: the run loop is the only goroutine that
// touches the position, the signal history and the exchange order flow.
// External callers get snapshots and a stop signal, nothing else.
type Engine struct {
	trading  config.TradingConfig
	pair     models.InstrumentPair
	interval time.Duration
	client   binance.Client
	ledger   *ledger.Ledger
	computer *signal.Computer
	recon    *Reconciler
	logger   *logrus.Logger

	// Loop-owned state; never touched outside the run goroutine.
	position    *Position
	lastBarTime time.Time

	mu      sync.Mutex // lifecycle: running flag, cancel, done
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	snapMu   sync.RWMutex // published copies for Status()
	lastSeen *models.MarketSample
	posView  *Position
}

func NewEngine(cfg *config.Config, client binance.Client, l *ledger.Ledger, logger *logrus.Logger) *Engine {
	pair := cfg.Pair()
	return &Engine{
		trading:  cfg.Trading,
		pair:     pair,
		interval: cfg.PollInterval(),
		client:   client,
		ledger:   l,
		computer: signal.NewComputer(pair, cfg.Trading.NotionalPerLeg, cfg.Trading.RollingWindow),
		recon:    NewReconciler(client, l, cfg.ReconcileWindow(), logger),
		logger:   logger,
	}
}

// Start launches the run loop. It is an error to start a running engine;
// a second position can never be opened by a second loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	go e.run(ctx, e.done)
	return nil
}

// Stop requests a stop and blocks until the loop has exited. The stop is
// observed at the top of the next tick or sleep interval; an in-flight
// exchange call is never pre-empted. An open position is closed
// best-effort on the way out.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status returns a read-only snapshot: running flag, latest sample, the
// open position (or nil) and the most recent trade records.
func (e *Engine) Status() Status {
	e.snapMu.RLock()
	sample := e.lastSeen
	pos := e.posView.clone()
	e.snapMu.RUnlock()

	return Status{
		Running:  e.Running(),
		Market:   sample,
		Position: pos,
		Trades:   e.ledger.Last(20),
	}
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		close(done)
	}()

	e.logger.WithFields(logrus.Fields{
		"symbol1":  e.pair.Symbol1,
		"symbol2":  e.pair.Symbol2,
		"interval": e.interval,
	}).Info("Engine started")

	for {
		e.tick(ctx)
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-time.After(e.interval):
		}
	}
}

// tick is one scheduler pass: refresh market data, run the every-tick
// emergency stop check, and on a new bar run the full entry/exit
// evaluation. A transport failure aborts the tick; the loop retries at
// the next interval.
func (e *Engine) tick(ctx context.Context) {
	metrics.TicksTotal.Inc()

	sample, err := e.refreshMarketData(ctx)
	if err != nil {
		metrics.TickErrorsTotal.Inc()
		e.logger.WithError(err).Error("Tick aborted: market data refresh failed")
		return
	}
	defer e.publish(sample)

	metrics.Spread.Set(sample.Spread)
	if sample.ZScoreValid {
		metrics.SpreadZScore.Set(sample.ZScore)
	} else {
		metrics.SpreadZScore.Set(0)
	}

	// Emergency safety net: the z-score stop-loss breach alone is
	// re-checked on every tick, not only on new bars. The close consumes
	// the whole tick; entry evaluation waits for the next one.
	if e.position != nil && sample.ZScoreValid && e.stopLossBreached(sample.ZScore) {
		e.logger.WithFields(logrus.Fields{
			"trade_id": e.position.TradeID,
			"zscore":   sample.ZScore,
		}).Warn("Emergency stop loss triggered")
		e.closePosition(ctx, sample, models.ExitEmergencyStopLoss)
		return
	}

	if !sample.Timestamp.After(e.lastBarTime) {
		return
	}
	e.lastBarTime = sample.Timestamp

	if e.position == nil {
		e.evaluateEntry(ctx, sample)
		return
	}

	e.position.HoldingBars++
	e.evaluateExit(ctx, sample)
}

// refreshMarketData fetches recent bars for both legs, joins them on
// open time and feeds them through the signal computer. Returns the
// latest derived sample.
func (e *Engine) refreshMarketData(ctx context.Context) (models.MarketSample, error) {
	limit := e.trading.RollingWindow + signal.HistoryBuffer

	candles1, err := e.client.RecentCloses(ctx, e.pair.Symbol1, e.trading.BarInterval, limit)
	if err != nil {
		return models.MarketSample{}, fmt.Errorf("fetching %s closes: %w", e.pair.Symbol1, err)
	}
	candles2, err := e.client.RecentCloses(ctx, e.pair.Symbol2, e.trading.BarInterval, limit)
	if err != nil {
		return models.MarketSample{}, fmt.Errorf("fetching %s closes: %w", e.pair.Symbol2, err)
	}

	closes2 := make(map[int64]float64, len(candles2))
	for _, c := range candles2 {
		closes2[c.OpenTime.Unix()] = c.Close
	}

	matched := false
	for _, c := range candles1 {
		if p2, ok := closes2[c.OpenTime.Unix()]; ok {
			e.computer.Append(c.OpenTime, c.Close, p2)
			matched = true
		}
	}
	if !matched {
		return models.MarketSample{}, fmt.Errorf("no overlapping bars for %s/%s", e.pair.Symbol1, e.pair.Symbol2)
	}

	sample, _ := e.computer.Latest()
	return sample, nil
}

// evaluateEntry opens a position when the z-score crosses the entry
// threshold. An undefined z-score is no signal.
func (e *Engine) evaluateEntry(ctx context.Context, sample models.MarketSample) {
	if !sample.ZScoreValid {
		return
	}

	var side models.Side
	switch {
	case sample.ZScore >= e.trading.EntryThreshold:
		side = models.SideShort
	case sample.ZScore <= -e.trading.EntryThreshold:
		side = models.SideLong
	default:
		return
	}
	e.enterPosition(ctx, side, sample)
}

// enterPosition places the two entry legs and records the trade. If
// either leg fails the attempt is aborted with no position and no trade
// record; an already-filled first leg is not reversed automatically and
// is flagged for monitoring.
func (e *Engine) enterPosition(ctx context.Context, side models.Side, sample models.MarketSample) {
	qty1, qty2 := sample.Qty1, sample.Qty2
	if qty1 <= 0 || qty2 <= 0 {
		e.logger.WithFields(logrus.Fields{
			"qty1": qty1,
			"qty2": qty2,
		}).Warn("Entry skipped: untradeable size after lot adjustment")
		return
	}

	now := time.Now().UTC()
	tradeID := models.NewTradeID(side, now)

	side1 := models.OrderSideSell
	if side == models.SideLong {
		side1 = models.OrderSideBuy
	}
	side2 := side1.Opposite()

	e.logger.WithFields(logrus.Fields{
		"trade_id": tradeID,
		"side":     side,
		"zscore":   sample.ZScore,
		"qty1":     qty1,
		"qty2":     qty2,
	}).Info("Entering position")

	fill1, ok := e.placeLeg(ctx, e.pair.Symbol1, side1, qty1)
	if !ok {
		e.logger.WithField("trade_id", tradeID).Error("Entry aborted: leg 1 failed")
		return
	}
	fill2, ok := e.placeLeg(ctx, e.pair.Symbol2, side2, qty2)
	if !ok {
		e.logger.WithField("trade_id", tradeID).Error(
			"Entry aborted: leg 2 failed; leg 1 fill is NOT reversed, manual intervention required")
		return
	}

	entry := models.EntryData{
		Price1: sample.Price1,
		Price2: sample.Price2,
		Qty1:   qty1,
		Qty2:   qty2,
		Spread: sample.Spread,
		ZScore: sample.ZScore,
	}
	marketAtEntry := models.MarketSnapshot{
		SpreadMean: sample.SpreadMean,
		SpreadStd:  sample.SpreadStd,
	}

	record := models.TradeRecord{
		TradeID:    tradeID,
		Timestamp:  now,
		Symbol1:    e.pair.Symbol1,
		Symbol2:    e.pair.Symbol2,
		Side:       side,
		EntryData:  entry,
		MarketData: marketAtEntry,
		Orders: []models.OrderLogEntry{
			orderLog(entryTag(1, side1), fill1),
			orderLog(entryTag(2, side2), fill2),
		},
	}
	if err := e.ledger.Create(record); err != nil {
		e.logger.WithError(err).WithField("trade_id", tradeID).Error("Failed to persist trade entry")
	}

	e.position = &Position{
		TradeID:       tradeID,
		Side:          side,
		OpenedAt:      now,
		EntryData:     entry,
		MarketAtEntry: marketAtEntry,
	}
	metrics.TradesOpenedTotal.WithLabelValues(string(side)).Inc()
	e.logger.WithField("trade_id", tradeID).Info("Position entered")
}

// evaluateExit runs the bar-level exit checks in priority order; only
// the first matching condition fires, and a full close always supersedes
// a partial exit.
func (e *Engine) evaluateExit(ctx context.Context, sample models.MarketSample) {
	if !sample.ZScoreValid {
		return
	}

	pos := e.position
	z := sample.ZScore
	estPnl := e.estimatedPnl(sample)
	metrics.EstimatedPnL.Set(estPnl)

	switch {
	case estPnl <= -e.trading.MaxLossTotal || e.stopLossBreached(z):
		e.logger.WithFields(logrus.Fields{
			"trade_id":      pos.TradeID,
			"zscore":        z,
			"estimated_pnl": estPnl,
		}).Warn("Stop loss triggered")
		e.closePosition(ctx, sample, models.ExitStopLoss)

	case estPnl >= e.trading.MaxLossTotal || e.takeProfitReached(z):
		e.logger.WithFields(logrus.Fields{
			"trade_id":      pos.TradeID,
			"zscore":        z,
			"estimated_pnl": estPnl,
		}).Info("Take profit triggered")
		e.closePosition(ctx, sample, models.ExitTakeProfit)

	case pos.HoldingBars >= e.trading.MaxHoldBars:
		e.logger.WithFields(logrus.Fields{
			"trade_id":     pos.TradeID,
			"holding_bars": pos.HoldingBars,
		}).Info("Max holding period reached")
		e.closePosition(ctx, sample, models.ExitMaxHoldingPeriod)

	case !pos.PartialExited && estPnl > 0 && math.Abs(z) <= e.trading.ExitThreshold:
		e.logger.WithFields(logrus.Fields{
			"trade_id":      pos.TradeID,
			"zscore":        z,
			"estimated_pnl": estPnl,
		}).Info("Partial exit near mean triggered")
		e.partialExit(ctx, sample)
	}
}

// estimatedPnl projects the open position's PnL from the spread move
// since entry across both legs' notional.
func (e *Engine) estimatedPnl(sample models.MarketSample) float64 {
	return e.position.Side.Sign() * (sample.Spread - e.position.EntryData.Spread) * e.trading.NotionalPerLeg * 2
}

// stopLossBreached reports an adverse z-score move past the stop-loss
// threshold for the open position's side.
func (e *Engine) stopLossBreached(z float64) bool {
	if e.position.Side == models.SideLong {
		return z >= e.trading.StopLossThreshold
	}
	return z <= -e.trading.StopLossThreshold
}

// takeProfitReached reports a favorable z-score reversion past the entry
// threshold.
func (e *Engine) takeProfitReached(z float64) bool {
	if e.position.Side == models.SideLong {
		return z >= e.trading.EntryThreshold
	}
	return z <= -e.trading.EntryThreshold
}

// partialExit unwinds a fraction of both legs, shrinking the retained
// quantities. The trade record is not finalized and the position stays
// open; holding bars are untouched.
func (e *Engine) partialExit(ctx context.Context, sample models.MarketSample) {
	pos := e.position
	pct := e.trading.PartialExitPct

	exitQty1 := lot.AdjustTo(pos.EntryData.Qty1*pct, e.pair.Rules1)
	exitQty2 := lot.AdjustTo(pos.EntryData.Qty2*pct, e.pair.Rules2)
	if exitQty1 <= 0 || exitQty2 <= 0 {
		e.logger.WithField("trade_id", pos.TradeID).Warn(
			"Partial exit skipped: unwind size below lot minimum")
		return
	}

	side1, side2 := unwindSides(pos.Side)

	fill1, ok := e.placeLeg(ctx, e.pair.Symbol1, side1, exitQty1)
	if !ok {
		e.logger.WithField("trade_id", pos.TradeID).Error("Partial exit aborted: leg 1 failed")
		return
	}
	fill2, ok := e.placeLeg(ctx, e.pair.Symbol2, side2, exitQty2)
	if !ok {
		e.logger.WithField("trade_id", pos.TradeID).Error(
			"Partial exit aborted: leg 2 failed; legs are unbalanced, manual intervention required")
		return
	}

	e.appendOrder(pos.TradeID, fmt.Sprintf("PARTIAL_EXIT_LEG1_%s", side1), fill1)
	e.appendOrder(pos.TradeID, fmt.Sprintf("PARTIAL_EXIT_LEG2_%s", side2), fill2)

	pos.EntryData.Qty1 *= 1 - pct
	pos.EntryData.Qty2 *= 1 - pct
	pos.PartialExited = true

	e.logger.WithFields(logrus.Fields{
		"trade_id": pos.TradeID,
		"qty1":     pos.EntryData.Qty1,
		"qty2":     pos.EntryData.Qty2,
	}).Info("Partial exit completed")
}

// closePosition unwinds the full remaining size, reconciles realized
// PnL, finalizes the trade record exactly once and clears the position.
// A failed leg aborts the attempt and leaves the position open for the
// next evaluation. Returns true when the position was cleared.
func (e *Engine) closePosition(ctx context.Context, sample models.MarketSample, reason models.ExitReason) bool {
	pos := e.position

	exitQty1 := lot.AdjustTo(pos.EntryData.Qty1, e.pair.Rules1)
	exitQty2 := lot.AdjustTo(pos.EntryData.Qty2, e.pair.Rules2)
	side1, side2 := unwindSides(pos.Side)

	e.logger.WithFields(logrus.Fields{
		"trade_id": pos.TradeID,
		"reason":   reason,
	}).Info("Exiting position")

	if exitQty1 > 0 {
		fill1, ok := e.placeLeg(ctx, e.pair.Symbol1, side1, exitQty1)
		if !ok {
			e.logger.WithField("trade_id", pos.TradeID).Error("Exit aborted: leg 1 failed")
			return false
		}
		e.appendOrder(pos.TradeID, fmt.Sprintf("EXIT_LEG1_%s", side1), fill1)
	}
	if exitQty2 > 0 {
		fill2, ok := e.placeLeg(ctx, e.pair.Symbol2, side2, exitQty2)
		if !ok {
			e.logger.WithField("trade_id", pos.TradeID).Error(
				"Exit aborted: leg 2 failed; legs are unbalanced, manual intervention required")
			return false
		}
		e.appendOrder(pos.TradeID, fmt.Sprintf("EXIT_LEG2_%s", side2), fill2)
	}

	pnl := e.recon.ComputePnL(ctx, pos.TradeID)

	exit := models.ExitData{
		Price1: sample.Price1,
		Price2: sample.Price2,
		Spread: sample.Spread,
		ZScore: sample.ZScore,
		Reason: reason,
	}
	if err := e.ledger.Finalize(pos.TradeID, exit, pnl); err != nil {
		e.logger.WithError(err).WithField("trade_id", pos.TradeID).Error("Failed to finalize trade record")
	}

	metrics.TradesClosedTotal.WithLabelValues(string(reason)).Inc()
	metrics.EstimatedPnL.Set(0)
	e.position = nil
	e.logger.WithFields(logrus.Fields{
		"trade_id":  pos.TradeID,
		"reason":    reason,
		"total_pnl": pnl.TotalPnL,
	}).Info("Position closed")
	return true
}

// shutdown is the terminal transition: one final market-data refresh and
// a best-effort full close of any open position, attempted once.
func (e *Engine) shutdown() {
	defer e.logger.Info("Engine stopped")

	if e.position == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	e.logger.WithField("trade_id", e.position.TradeID).Warn("Stopping with open position; forcing close")

	sample, err := e.refreshMarketData(ctx)
	if err != nil {
		e.logger.WithError(err).Error("Shutdown refresh failed; closing at last known sample")
		last, ok := e.computer.Latest()
		if !ok {
			e.logger.Error("No market data available; position left open")
			return
		}
		sample = last
	}

	if !e.closePosition(ctx, sample, models.ExitBotShutdown) {
		e.logger.WithField("trade_id", e.position.TradeID).Error(
			"Failed to close position during shutdown; position left open")
	}
	e.publish(sample)
}

// placeLeg submits one market order, counting and logging the outcome.
func (e *Engine) placeLeg(ctx context.Context, symbol string, side models.OrderSide, qty float64) (models.OrderFill, bool) {
	fill, err := e.client.PlaceMarketOrder(ctx, symbol, side, qty)
	if err != nil {
		metrics.OrderErrorsTotal.WithLabelValues(symbol, string(side)).Inc()
		e.logger.WithError(err).WithFields(logrus.Fields{
			"symbol": symbol,
			"side":   side,
			"qty":    qty,
		}).Error("Order placement failed")
		return models.OrderFill{}, false
	}
	metrics.OrdersTotal.WithLabelValues(symbol, string(side)).Inc()
	return fill, true
}

func (e *Engine) appendOrder(tradeID, tag string, fill models.OrderFill) {
	if err := e.ledger.AppendOrder(tradeID, orderLog(tag, fill)); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"trade_id": tradeID,
			"type":     tag,
		}).Error("Failed to persist order log entry")
	}
}

// publish refreshes the copies served by Status().
func (e *Engine) publish(sample models.MarketSample) {
	e.snapMu.Lock()
	s := sample
	e.lastSeen = &s
	e.posView = e.position.clone()
	e.snapMu.Unlock()
}

// unwindSides are the order sides that close the given position side:
// a long sells leg1 and buys back leg2, a short the inverse.
func unwindSides(side models.Side) (models.OrderSide, models.OrderSide) {
	if side == models.SideLong {
		return models.OrderSideSell, models.OrderSideBuy
	}
	return models.OrderSideBuy, models.OrderSideSell
}

// entryTag mirrors the audit log's historical role tags, e.g.
// ENTRY_LEG1_LONG for buying leg1 into a long spread.
func entryTag(leg int, orderSide models.OrderSide) string {
	direction := "LONG"
	if orderSide == models.OrderSideSell {
		direction = "SHORT"
	}
	return fmt.Sprintf("ENTRY_LEG%d_%s", leg, direction)
}

// orderLog wraps a fill into a ledger entry, preferring the verbatim
// exchange response body when the transport captured one.
func orderLog(tag string, fill models.OrderFill) models.OrderLogEntry {
	raw := fill.Raw
	if raw == nil {
		raw, _ = json.Marshal(fill)
	}
	return models.OrderLogEntry{
		Timestamp: time.Now().UTC(),
		Type:      tag,
		Response:  raw,
	}
}
