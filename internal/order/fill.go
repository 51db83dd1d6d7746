package order

import (
	"github.com/shopspring/decimal"

	"paper-core/pkg/db"
	"paper-core/pkg/num"
)

// Rand is the processor's source of randomness.
type Rand interface {
	Float64() float64
}

// SimConfig holds the fill simulation parameters.
type SimConfig struct {
	FillProbability float64 // chance of filling the whole remainder
	PartialMin      float64 // partial fill bounds, as fractions of remainder
	PartialMax      float64
	SlippageMin     float64 // MARKET slippage bounds, as fractions of price
	SlippageMax     float64
}

// DefaultSimConfig is an 80/20 full/partial split with 30-70% partials and
// 0.1-0.5% MARKET slippage.
var DefaultSimConfig = SimConfig{
	FillProbability: 0.8,
	PartialMin:      0.3,
	PartialMax:      0.7,
	SlippageMin:     0.001,
	SlippageMax:     0.005,
}

// FillPrice reports whether o can execute at the current market price and at
// what price.
func FillPrice(o db.Order, market float64, r Rand, cfg SimConfig) (float64, bool) {
	buy := o.Side == db.SideBuy
	switch o.Type {
	case db.TypeMarket:
		slip := cfg.SlippageMin + r.Float64()*(cfg.SlippageMax-cfg.SlippageMin)
		if buy {
			return num.Round(market * (1 + slip)), true
		}
		return num.Round(market * (1 - slip)), true
	case db.TypeLimit:
		if limitReached(buy, market, o.LimitPrice) {
			return o.LimitPrice, true
		}
	case db.TypeStop:
		if stopTriggered(buy, market, o.StopPrice) {
			return market, true
		}
	case db.TypeStopLimit:
		if stopTriggered(buy, market, o.StopPrice) && limitReached(buy, market, o.LimitPrice) {
			return o.LimitPrice, true
		}
	}
	return 0, false
}

func limitReached(buy bool, market, limit float64) bool {
	if buy {
		return market <= limit
	}
	return market >= limit
}

func stopTriggered(buy bool, market, stop float64) bool {
	if buy {
		return market >= stop
	}
	return market <= stop
}

// FillQuantity picks how much of remaining executes: all of it with
// cfg.FillProbability, otherwise a uniform fraction in [PartialMin, PartialMax]
// rounded to num.Places.
func FillQuantity(remaining decimal.Decimal, r Rand, cfg SimConfig) decimal.Decimal {
	if r.Float64() < cfg.FillProbability {
		return remaining
	}
	frac := cfg.PartialMin + r.Float64()*(cfg.PartialMax-cfg.PartialMin)
	qty := remaining.Mul(num.Dec(frac)).Round(num.Places)
	if !qty.IsPositive() || qty.GreaterThanOrEqual(remaining) {
		return remaining
	}
	return qty
}

// Decide evaluates one live order against the market price. Randomness is
// drawn in a fixed order (slippage, then fill size) so a seeded source
// replays exactly.
func Decide(o db.Order, market float64, r Rand, cfg SimConfig) (FillEvent, bool) {
	if !o.IsLive() || !o.RemainingQuantity.IsPositive() || market <= 0 {
		return FillEvent{}, false
	}
	price, ok := FillPrice(o, market, r, cfg)
	if !ok {
		return FillEvent{}, false
	}
	return FillEvent{
		OrderID:      o.ID,
		Quantity:     FillQuantity(o.RemainingQuantity, r, cfg),
		Price:        price,
		OrderVersion: o.Version,
	}, true
}
