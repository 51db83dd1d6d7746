package market

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-core/internal/events"
)

type fixedRand struct{ v float64 }

func (f fixedRand) Float64() float64 { return f.v }

func TestFeedGetPrice(t *testing.T) {
	f := NewFeed([]Seed{{Symbol: "AAPL", Price: 150}}, nil, FeedConfig{}, nil, nil)

	p, err := f.GetPrice("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 150.0, p)

	_, err = f.GetPrice("NOPE")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	assert.False(t, f.Has("NOPE"))
}

func TestFeedStepPublishesTick(t *testing.T) {
	bus := events.NewBus()
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 4)
	defer unsub()

	// r = 1.0 moves the price up by the full volatility.
	f := NewFeed([]Seed{{Symbol: "AAPL", Price: 100}}, bus, FeedConfig{Volatility: 0.01}, nil, fixedRand{v: 1})
	f.Step()

	tick := (<-ticks).(Tick)
	assert.Equal(t, "AAPL", tick.Symbol)
	assert.Equal(t, 101.0, tick.Price)

	p, _ := f.GetPrice("AAPL")
	assert.Equal(t, 101.0, p)
}

func TestFeedSetPrice(t *testing.T) {
	f := NewFeed([]Seed{{Symbol: "AAPL", Price: 100}}, nil, FeedConfig{}, nil, nil)

	require.NoError(t, f.SetPrice("AAPL", 94))
	p, _ := f.GetPrice("AAPL")
	assert.Equal(t, 94.0, p)

	assert.ErrorIs(t, f.SetPrice("MSFT", 1), ErrUnknownSymbol)
	assert.Error(t, f.SetPrice("AAPL", 0))
}

func TestLoadSeeds(t *testing.T) {
	seeds, err := LoadSeeds("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSeeds, seeds)

	path := filepath.Join(t.TempDir(), "market.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symbols:\n  - symbol: aapl\n    price: 150\n  - symbol: MSFT\n    price: 380\n"), 0o600))

	seeds, err = LoadSeeds(path)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "AAPL", seeds[0].Symbol)

	require.NoError(t, os.WriteFile(path, []byte("symbols:\n  - symbol: X\n    price: -1\n"), 0o600))
	_, err = LoadSeeds(path)
	assert.Error(t, err)
}
