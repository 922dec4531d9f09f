package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Side is the direction of a pairs position. Long means the spread was
// entered below its mean (buy leg1, sell leg2); Short is the inverse.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign is the multiplier applied to spread changes when estimating PnL:
// +1 for long, -1 for short.
func (s Side) Sign() float64 {
	if s == SideLong {
		return 1
	}
	return -1
}

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// TradeStatus is the lifecycle state of a TradeRecord.
type TradeStatus string

const (
	TradeStatusEntered   TradeStatus = "ENTERED"
	TradeStatusCompleted TradeStatus = "COMPLETED"
)

// ExitReason tags why a position was reduced or closed.
type ExitReason string

const (
	ExitStopLoss          ExitReason = "STOP_LOSS"
	ExitTakeProfit        ExitReason = "TAKE_PROFIT"
	ExitMaxHoldingPeriod  ExitReason = "MAX_HOLDING_PERIOD"
	ExitPartialNearMean   ExitReason = "PARTIAL_EXIT_NEAR_MEAN"
	ExitEmergencyStopLoss ExitReason = "EMERGENCY_STOP_LOSS"
	ExitBotShutdown       ExitReason = "BOT_SHUTDOWN"
)

// EntryData is the market state captured when a position is opened.
// Qty1/Qty2 are reduced in place on partial exit.
type EntryData struct {
	Price1 float64 `json:"price1"`
	Price2 float64 `json:"price2"`
	Qty1   float64 `json:"qty1"`
	Qty2   float64 `json:"qty2"`
	Spread float64 `json:"spread"`
	ZScore float64 `json:"zscore"`
}

// MarketSnapshot is the rolling spread statistics at entry time.
type MarketSnapshot struct {
	SpreadMean float64 `json:"spread_mean"`
	SpreadStd  float64 `json:"spread_std"`
}

// ExitData is the market state captured when a position is fully closed.
type ExitData struct {
	Price1 float64    `json:"price1"`
	Price2 float64    `json:"price2"`
	Spread float64    `json:"spread"`
	ZScore float64    `json:"zscore"`
	Reason ExitReason `json:"reason"`
}

// PnLAnalysis is the reconciled result of a completed trade. Error is set
// instead of the totals when reconciliation failed; the trade is still
// finalized so the record is never left open.
type PnLAnalysis struct {
	TotalPnL  float64 `json:"total_pnl"`
	TotalFees float64 `json:"total_fees"`
	Error     string  `json:"error,omitempty"`
}

// OrderLogEntry is one leg order appended to a trade record: when it was
// placed, its role tag (e.g. ENTRY_LEG1_LONG, PARTIAL_EXIT_LEG2_BUY) and
// the raw exchange fill response.
type OrderLogEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Response  json.RawMessage `json:"response"`
}

// TradeRecord is the durable audit record for one trade id. The orders
// list is append-only while status is ENTERED; the record is immutable
// once COMPLETED. The on-disk layout of this struct is stable and must
// stay compatible with existing audit files.
type TradeRecord struct {
	TradeID     string          `json:"trade_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Status      TradeStatus     `json:"status"`
	Symbol1     string          `json:"symbol1"`
	Symbol2     string          `json:"symbol2"`
	Side        Side            `json:"side"`
	EntryData   EntryData       `json:"entry_data"`
	MarketData  MarketSnapshot  `json:"market_data"`
	Orders      []OrderLogEntry `json:"orders"`
	ExitData    *ExitData       `json:"exit_data"`
	PnLAnalysis *PnLAnalysis    `json:"pnl_analysis"`
}

// NewTradeID derives a trade id from the side and creation time. Ids are
// never reused; at most one trade is opened per bar so second resolution
// is sufficient.
func NewTradeID(side Side, at time.Time) string {
	return fmt.Sprintf("%s_%d", side, at.Unix())
}
