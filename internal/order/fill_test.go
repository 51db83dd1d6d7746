package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"paper-core/pkg/db"
	"paper-core/pkg/num"
)

// seqRand replays a fixed sequence of draws.
type seqRand struct {
	vals []float64
	i    int
}

func (s *seqRand) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func live(side, typ string, qty, limit, stop float64) db.Order {
	return db.Order{ID: "o1", Side: side, Type: typ, Quantity: num.Dec(qty), RemainingQuantity: num.Dec(qty),
		LimitPrice: limit, StopPrice: stop, Status: db.StatusPending, Version: 3}
}

func TestMarketSlippageAgainstTaker(t *testing.T) {
	cfg := DefaultSimConfig

	// First draw 0 → minimum slippage, second draw 0 → full fill.
	buy, ok := Decide(live(db.SideBuy, db.TypeMarket, 100, 0, 0), 150, &seqRand{vals: []float64{0, 0}}, cfg)
	assert.True(t, ok)
	assert.InDelta(t, 150.15, buy.Price, 1e-9)
	assert.Equal(t, "100", buy.Quantity.String())
	assert.EqualValues(t, 3, buy.OrderVersion)

	// Draw 1 → maximum slippage.
	sell, ok := Decide(live(db.SideSell, db.TypeMarket, 100, 0, 0), 150, &seqRand{vals: []float64{1, 0}}, cfg)
	assert.True(t, ok)
	assert.InDelta(t, 149.25, sell.Price, 1e-9)
}

func TestLimitWaitsForPrice(t *testing.T) {
	o := live(db.SideBuy, db.TypeLimit, 50, 10, 0)
	r := &seqRand{vals: []float64{0}}

	_, ok := Decide(o, 12, r, DefaultSimConfig)
	assert.False(t, ok)

	fill, ok := Decide(o, 9.5, r, DefaultSimConfig)
	assert.True(t, ok)
	assert.Equal(t, 10.0, fill.Price)

	sell := live(db.SideSell, db.TypeLimit, 5, 10, 0)
	_, ok = Decide(sell, 9.99, r, DefaultSimConfig)
	assert.False(t, ok)
	fill, ok = Decide(sell, 10, r, DefaultSimConfig)
	assert.True(t, ok)
	assert.Equal(t, 10.0, fill.Price)
}

func TestStopFillsAtMarket(t *testing.T) {
	r := &seqRand{vals: []float64{0}}

	buy := live(db.SideBuy, db.TypeStop, 1, 0, 105)
	_, ok := Decide(buy, 104, r, DefaultSimConfig)
	assert.False(t, ok)
	fill, ok := Decide(buy, 106, r, DefaultSimConfig)
	assert.True(t, ok)
	assert.Equal(t, 106.0, fill.Price)

	sell := live(db.SideSell, db.TypeStop, 1, 0, 95)
	fill, ok = Decide(sell, 94, r, DefaultSimConfig)
	assert.True(t, ok)
	assert.Equal(t, 94.0, fill.Price)
}

func TestStopLimitSellSequence(t *testing.T) {
	o := live(db.SideSell, db.TypeStopLimit, 10, 90, 95)
	r := &seqRand{vals: []float64{0}}

	_, ok := Decide(o, 100, r, DefaultSimConfig)
	assert.False(t, ok, "stop not crossed")

	fill, ok := Decide(o, 94, r, DefaultSimConfig)
	assert.True(t, ok, "stop crossed and price still above limit")
	assert.Equal(t, 90.0, fill.Price)

	_, ok = Decide(o, 89, r, DefaultSimConfig)
	assert.False(t, ok, "price below sell limit")
}

func TestStopLimitBuy(t *testing.T) {
	o := live(db.SideBuy, db.TypeStopLimit, 10, 110, 105)
	r := &seqRand{vals: []float64{0}}

	_, ok := Decide(o, 100, r, DefaultSimConfig)
	assert.False(t, ok)
	fill, ok := Decide(o, 107, r, DefaultSimConfig)
	assert.True(t, ok)
	assert.Equal(t, 110.0, fill.Price)
	_, ok = Decide(o, 111, r, DefaultSimConfig)
	assert.False(t, ok)
}

func TestFillQuantitySplit(t *testing.T) {
	cfg := DefaultSimConfig

	hundred := decimal.NewFromInt(100)
	assert.Equal(t, "100", FillQuantity(hundred, &seqRand{vals: []float64{0.79}}, cfg).String())

	// 0.8 misses the full-fill branch; 0 → PartialMin, 1 → PartialMax.
	assert.Equal(t, "30", FillQuantity(hundred, &seqRand{vals: []float64{0.8, 0}}, cfg).String())
	assert.Equal(t, "70", FillQuantity(hundred, &seqRand{vals: []float64{0.9, 1}}, cfg).String())
	assert.Equal(t, "50", FillQuantity(hundred, &seqRand{vals: []float64{0.95, 0.5}}, cfg).String())
}

func TestFillQuantityStaysWithinPlaces(t *testing.T) {
	cfg := DefaultSimConfig
	remaining := num.Dec(7.2)

	// 0.3 + 0.9*(0.7-0.3) is 0.6599999999999999 in floating point.
	qty := FillQuantity(remaining, &seqRand{vals: []float64{0.9, 0.9}}, cfg)
	assert.Equal(t, "4.752", qty.String())
	assert.True(t, qty.Add(remaining.Sub(qty)).Equal(remaining))

	// A partial that rounds up to everything left fills the rest.
	tiny := decimal.New(1, -num.Places)
	assert.True(t, FillQuantity(tiny, &seqRand{vals: []float64{0.9, 0.9}}, cfg).Equal(tiny))
}

func TestDecideSkipsTerminal(t *testing.T) {
	o := live(db.SideBuy, db.TypeMarket, 10, 0, 0)
	o.Status = db.StatusCancelled
	_, ok := Decide(o, 100, &seqRand{vals: []float64{0}}, DefaultSimConfig)
	assert.False(t, ok)
}
