package models

import (
	"time"
)

// Candle is one bar of market data for a single instrument. Series are
// ordered most-recent-last; the final candle may still be forming.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Close    float64   `json:"close"`
}

// MarketSample is a synchronized observation of both legs at one bar plus
// the derived dollar-neutral spread statistics. ZScoreValid is false until
// the rolling window is full and the spread has nonzero variance; callers
// must treat an invalid z-score as "no signal, take no action".
type MarketSample struct {
	Timestamp   time.Time `json:"timestamp"`
	Price1      float64   `json:"price1"`
	Price2      float64   `json:"price2"`
	Qty1        float64   `json:"qty1"`
	Qty2        float64   `json:"qty2"`
	Spread      float64   `json:"spread"`
	SpreadMean  float64   `json:"spread_mean"`
	SpreadStd   float64   `json:"spread_std"`
	ZScore      float64   `json:"zscore"`
	ZScoreValid bool      `json:"zscore_valid"`
}

// LotRules are the exchange-mandated size constraints for one instrument.
type LotRules struct {
	MinQty   float64 `json:"min_qty" mapstructure:"min_qty"`
	StepSize float64 `json:"step_size" mapstructure:"step_size"`
}

// InstrumentPair names the two legs of the traded pair and carries their
// lot rules. Immutable configuration.
type InstrumentPair struct {
	Symbol1 string   `json:"symbol1"`
	Symbol2 string   `json:"symbol2"`
	Rules1  LotRules `json:"rules1"`
	Rules2  LotRules `json:"rules2"`
}

// Fill is one realized trade from the exchange fill history.
type Fill struct {
	Symbol      string    `json:"symbol"`
	Time        time.Time `json:"time"`
	RealizedPnL float64   `json:"realized_pnl"`
	Commission  float64   `json:"commission"`
}

// PositionSnapshot mirrors the exchange's view of an open position.
// Display only; the state machine never reads these.
type PositionSnapshot struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"position_amt"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
}
