package trader

import (
	"time"

	"github.com/meanrev/pairsbot/pkg/models"
)

// Position is the single open pairs position. At most one exists
// process-wide, owned exclusively by the engine's run loop; everything
// outside the loop sees copies only.
//
// EntryData.Qty1/Qty2 shrink in place on partial exit. HoldingBars is
// incremented once per new bar observed while the position is open.
type Position struct {
	TradeID       string                `json:"trade_id"`
	Side          models.Side           `json:"side"`
	OpenedAt      time.Time             `json:"opened_at"`
	EntryData     models.EntryData      `json:"entry_data"`
	MarketAtEntry models.MarketSnapshot `json:"market_data"`
	PartialExited bool                  `json:"partial_exited"`
	HoldingBars   int                   `json:"holding_bars"`
}

func (p *Position) clone() *Position {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}
