// Package signal computes the dollar-neutral spread between two legs and
// its rolling z-score over a bounded sample history.
package signal

import (
	"math"
	"time"

	"github.com/meanrev/pairsbot/pkg/lot"
	"github.com/meanrev/pairsbot/pkg/models"
)

// HistoryBuffer is how many samples are retained beyond the rolling
// window, so the window never starves while old bars are evicted.
const HistoryBuffer = 10

// Computer holds the bounded sample history for one instrument pair and
// derives spread statistics as new bars arrive. It is not safe for
// concurrent use; the engine is its only caller.
type Computer struct {
	pair     models.InstrumentPair
	notional float64
	window   int
	history  []models.MarketSample
}

func NewComputer(pair models.InstrumentPair, notionalPerLeg float64, window int) *Computer {
	return &Computer{
		pair:     pair,
		notional: notionalPerLeg,
		window:   window,
		history:  make([]models.MarketSample, 0, window+HistoryBuffer),
	}
}

// Append records a synchronized price observation and returns the derived
// sample. Appending the same timestamp as the latest sample replaces it,
// so the forming bar can be refreshed tick by tick; older timestamps are
// ignored. History is evicted FIFO past window+buffer.
func (c *Computer) Append(ts time.Time, price1, price2 float64) models.MarketSample {
	s := models.MarketSample{
		Timestamp: ts,
		Price1:    price1,
		Price2:    price2,
	}
	if price1 > 0 {
		s.Qty1 = lot.AdjustTo(c.notional/price1, c.pair.Rules1)
	}
	if price2 > 0 {
		s.Qty2 = lot.AdjustTo(c.notional/price2, c.pair.Rules2)
	}
	s.Spread = percentSpread(price1, s.Qty1, price2, s.Qty2)

	if n := len(c.history); n > 0 {
		last := c.history[n-1].Timestamp
		if ts.Before(last) {
			return c.history[n-1]
		}
		if ts.Equal(last) {
			c.history = c.history[:n-1]
		}
	}
	c.history = append(c.history, s)
	if len(c.history) > c.window+HistoryBuffer {
		c.history = c.history[1:]
	}

	c.fillStats(&c.history[len(c.history)-1])
	return c.history[len(c.history)-1]
}

// fillStats computes the trailing-window mean, sample standard deviation
// and z-score for the sample at the end of the history. The z-score stays
// undefined until the window is full and the deviation is nonzero.
func (c *Computer) fillStats(s *models.MarketSample) {
	n := len(c.history)
	if n < c.window || c.window < 2 {
		return
	}
	window := c.history[n-c.window:]

	var sum float64
	for _, w := range window {
		sum += w.Spread
	}
	mean := sum / float64(c.window)

	var sq float64
	for _, w := range window {
		d := w.Spread - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(c.window-1))

	s.SpreadMean = mean
	s.SpreadStd = std
	if std > 0 {
		s.ZScore = (s.Spread - mean) / std
		s.ZScoreValid = true
	}
}

// Latest returns the most recent sample, if any.
func (c *Computer) Latest() (models.MarketSample, bool) {
	if len(c.history) == 0 {
		return models.MarketSample{}, false
	}
	return c.history[len(c.history)-1], true
}

// Len reports how many samples are held.
func (c *Computer) Len() int {
	return len(c.history)
}

// percentSpread is the dollar-neutral relative value difference between
// the legs: (value1 - value2) / avg(value1, value2), zero when the
// average notional is zero.
func percentSpread(price1, qty1, price2, qty2 float64) float64 {
	value1 := price1 * qty1
	value2 := price2 * qty2
	avg := (value1 + value2) / 2
	if avg == 0 {
		return 0
	}
	return (value1 - value2) / avg
}
