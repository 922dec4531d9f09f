package models

import (
	"encoding/json"
	"time"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the unwind side for a filled leg.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderFill is the exchange's response to a market order. Raw carries the
// exchange's verbatim response body for the audit log.
type OrderFill struct {
	OrderID     int64           `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Status      string          `json:"status"`
	ExecutedQty float64         `json:"executed_qty"`
	AvgPrice    float64         `json:"avg_price"`
	UpdateTime  time.Time       `json:"update_time"`
	Raw         json.RawMessage `json:"-"`
}
