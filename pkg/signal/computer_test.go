package signal

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meanrev/pairsbot/pkg/models"
)

var testPair = models.InstrumentPair{
	Symbol1: "ETHUSDT",
	Symbol2: "SOLUSDT",
	Rules1:  models.LotRules{MinQty: 0.001, StepSize: 0.001},
	Rules2:  models.LotRules{MinQty: 1, StepSize: 1},
}

func bar(i int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
}

func TestZScoreUndefinedBeforeWindowFull(t *testing.T) {
	c := NewComputer(testPair, 4000, 10)
	var s models.MarketSample
	for i := 0; i < 9; i++ {
		s = c.Append(bar(i), 2000+float64(i), 100)
		assert.False(t, s.ZScoreValid, "bar %d", i)
	}
	s = c.Append(bar(9), 2100, 100)
	assert.True(t, s.ZScoreValid)
}

func TestZScoreUndefinedOnZeroVariance(t *testing.T) {
	c := NewComputer(testPair, 4000, 10)
	var s models.MarketSample
	for i := 0; i < 10; i++ {
		s = c.Append(bar(i), 2000, 100)
	}
	assert.Zero(t, s.SpreadStd)
	assert.False(t, s.ZScoreValid)
}

func TestRollingStatistics(t *testing.T) {
	// Hold leg2 fixed and wiggle leg1 so spreads differ across the window.
	c := NewComputer(testPair, 4000, 5)
	prices := []float64{2000, 2010, 1990, 2020, 2000}
	var s models.MarketSample
	for i, p := range prices {
		s = c.Append(bar(i), p, 100)
	}
	require.True(t, s.ZScoreValid)

	// Recompute expectations directly from the recorded spreads.
	var spreads []float64
	for _, p := range prices {
		q1 := math.Floor(4000/p/0.001+1e-9) * 0.001
		q2 := math.Floor(4000.0/100.0+1e-9) * 1
		v1, v2 := p*q1, 100*q2
		spreads = append(spreads, (v1-v2)/((v1+v2)/2))
	}
	var sum float64
	for _, sp := range spreads {
		sum += sp
	}
	mean := sum / 5
	var sq float64
	for _, sp := range spreads {
		sq += (sp - mean) * (sp - mean)
	}
	std := math.Sqrt(sq / 4)

	assert.InDelta(t, mean, s.SpreadMean, 1e-12)
	assert.InDelta(t, std, s.SpreadStd, 1e-12)
	assert.InDelta(t, (s.Spread-mean)/std, s.ZScore, 1e-12)
}

func TestSpreadZeroWhenNotionalZero(t *testing.T) {
	c := NewComputer(testPair, 4000, 5)
	s := c.Append(bar(0), 0, 0)
	assert.Zero(t, s.Spread)
}

func TestFormingBarReplaced(t *testing.T) {
	c := NewComputer(testPair, 4000, 5)
	c.Append(bar(0), 2000, 100)
	c.Append(bar(0), 2050, 100)
	assert.Equal(t, 1, c.Len())
	latest, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, 2050.0, latest.Price1)
}

func TestStaleBarIgnored(t *testing.T) {
	c := NewComputer(testPair, 4000, 5)
	c.Append(bar(1), 2000, 100)
	c.Append(bar(0), 1234, 100)
	assert.Equal(t, 1, c.Len())
	latest, _ := c.Latest()
	assert.Equal(t, 2000.0, latest.Price1)
}

func TestHistoryEvictedFIFO(t *testing.T) {
	c := NewComputer(testPair, 4000, 5)
	for i := 0; i < 40; i++ {
		c.Append(bar(i), 2000+float64(i%7), 100)
	}
	assert.Equal(t, 5+HistoryBuffer, c.Len())
	latest, _ := c.Latest()
	assert.Equal(t, bar(39), latest.Timestamp)
}

func TestQuantitiesAreLotAdjusted(t *testing.T) {
	c := NewComputer(testPair, 4000, 5)
	s := c.Append(bar(0), 2000, 150)
	// 4000/2000 = 2.0 exactly; 4000/150 = 26.67 floored to 26.
	assert.InDelta(t, 2.0, s.Qty1, 1e-9)
	assert.InDelta(t, 26.0, s.Qty2, 1e-9)
}
