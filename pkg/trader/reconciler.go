package trader

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meanrev/pairsbot/pkg/binance"
	"github.com/meanrev/pairsbot/pkg/ledger"
	"github.com/meanrev/pairsbot/pkg/models"
)

// fillFetchLimit is how many recent fills are pulled per instrument when
// reconciling; the time-window filter below discards unrelated ones.
const fillFetchLimit = 100

// Reconciler maps exchange fill history back to a trade's time window
// and sums the realized PnL and commissions.
type Reconciler struct {
	client binance.Client
	ledger *ledger.Ledger
	window time.Duration
	logger *logrus.Logger
}

func NewReconciler(client binance.Client, l *ledger.Ledger, window time.Duration, logger *logrus.Logger) *Reconciler {
	if window <= 0 {
		window = time.Hour
	}
	return &Reconciler{client: client, ledger: l, window: window, logger: logger}
}

// ComputePnL reconciles one trade. Failures are reported inside the
// returned analysis, never as a fatal error, so the caller can always
// finalize the trade record instead of leaving it open.
func (r *Reconciler) ComputePnL(ctx context.Context, tradeID string) models.PnLAnalysis {
	record, err := r.ledger.Get(tradeID)
	if err != nil {
		r.logger.WithError(err).WithField("trade_id", tradeID).Error("Reconciliation failed: trade entry not found")
		return models.PnLAnalysis{Error: "trade entry not found"}
	}

	fills1, err := r.client.AccountTrades(ctx, record.Symbol1, fillFetchLimit)
	if err != nil {
		r.logger.WithError(err).WithField("trade_id", tradeID).Error("Reconciliation failed: fill history fetch")
		return models.PnLAnalysis{Error: err.Error()}
	}
	fills2, err := r.client.AccountTrades(ctx, record.Symbol2, fillFetchLimit)
	if err != nil {
		r.logger.WithError(err).WithField("trade_id", tradeID).Error("Reconciliation failed: fill history fetch")
		return models.PnLAnalysis{Error: err.Error()}
	}

	var analysis models.PnLAnalysis
	entryTime := record.Timestamp
	for _, fill := range append(fills1, fills2...) {
		delta := fill.Time.Sub(entryTime)
		if delta < 0 {
			delta = -delta
		}
		if delta < r.window {
			analysis.TotalPnL += fill.RealizedPnL
			analysis.TotalFees += fill.Commission
		}
	}
	return analysis
}
