package market

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-core/internal/events"
	"paper-core/pkg/cache"
)

// ErrUnknownSymbol is returned for symbols the feed does not quote.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Rand is the randomness the feed and the order processor draw from.
// *rand.Rand satisfies it; tests inject fixed sequences.
type Rand interface {
	Float64() float64
}

// Tick is one price update published on the bus.
type Tick struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// PriceSource is the read side other workers depend on.
type PriceSource interface {
	GetPrice(symbol string) (float64, error)
}

// FeedConfig tunes the random walk.
type FeedConfig struct {
	Interval   time.Duration
	Volatility float64 // max fractional move per tick, e.g. 0.002
}

// Feed holds the latest synthetic price per symbol and random-walks them on
// every tick.
type Feed struct {
	prices  *cache.ShardedPriceCache
	symbols []string
	bus     *events.Bus
	cfg     FeedConfig
	logger  *zap.Logger

	rndMu sync.Mutex
	rnd   Rand

	now func() time.Time
}

// NewFeed seeds a feed. A nil rnd uses a time-seeded source.
func NewFeed(seeds []Seed, bus *events.Bus, cfg FeedConfig, logger *zap.Logger, rnd Rand) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.002
	}

	f := &Feed{
		prices: cache.NewShardedPriceCache(),
		bus:    bus,
		cfg:    cfg,
		logger: logger.Named("feed"),
		rnd:    rnd,
		now:    func() time.Time { return time.Now().UTC() },
	}
	at := f.now()
	for _, s := range seeds {
		f.prices.Set(s.Symbol, s.Price, at)
		f.symbols = append(f.symbols, s.Symbol)
	}
	sort.Strings(f.symbols)
	return f
}

// GetPrice returns the latest price for symbol.
func (f *Feed) GetPrice(symbol string) (float64, error) {
	p, ok := f.prices.Get(symbol)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return p, nil
}

// Has reports whether symbol is quoted.
func (f *Feed) Has(symbol string) bool {
	_, ok := f.prices.Get(symbol)
	return ok
}

// Symbols lists quoted symbols in sorted order.
func (f *Feed) Symbols() []string {
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Snapshot returns every quote.
func (f *Feed) Snapshot() map[string]cache.Quote {
	return f.prices.GetAll()
}

// Quote returns the cached quote for symbol.
func (f *Feed) Quote(symbol string) (cache.Quote, error) {
	q, ok := f.prices.Quote(symbol)
	if !ok {
		return cache.Quote{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return q, nil
}

// SetPrice overrides the price of a quoted symbol and publishes a tick.
func (f *Feed) SetPrice(symbol string, price float64) error {
	if !f.Has(symbol) {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if price <= 0 {
		return fmt.Errorf("price must be positive, got %v", price)
	}
	f.publish(symbol, price)
	return nil
}

// Step advances every symbol one random-walk step.
func (f *Feed) Step() {
	for _, sym := range f.symbols {
		cur, ok := f.prices.Get(sym)
		if !ok {
			continue
		}
		f.rndMu.Lock()
		r := f.rnd.Float64()
		f.rndMu.Unlock()

		move := decimal.NewFromFloat((r*2 - 1) * f.cfg.Volatility)
		next := decimal.NewFromFloat(cur).Mul(decimal.NewFromInt(1).Add(move)).Round(2)
		if next.LessThan(decimal.NewFromFloat(0.01)) {
			next = decimal.NewFromFloat(0.01)
		}
		p, _ := next.Float64()
		f.publish(sym, p)
	}
}

func (f *Feed) publish(symbol string, price float64) {
	at := f.now()
	f.prices.Set(symbol, price, at)
	if f.bus != nil {
		f.bus.Publish(events.EventPriceTick, Tick{Symbol: symbol, Price: price, Time: at})
	}
}

// Run ticks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Info("price feed started",
		zap.Strings("symbols", f.symbols),
		zap.Duration("interval", f.cfg.Interval))

	t := time.NewTicker(f.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("price feed stopped")
			return nil
		case <-t.C:
			f.Step()
		}
	}
}
