package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-core/internal/monitor"
	"paper-core/pkg/db"
	"paper-core/pkg/num"
)

type liveOrders []db.Order

func (l liveOrders) ListLive(context.Context) ([]db.Order, error) { return l, nil }

// flakySink fails or panics on one order and settles the rest.
type flakySink struct {
	bad   string
	panic bool

	mu      sync.Mutex
	settled map[string]bool
}

func (s *flakySink) Settle(_ context.Context, fill FillEvent) error {
	if fill.OrderID == s.bad {
		if s.panic {
			panic("settle blew up")
		}
		return errors.New("settle failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled[fill.OrderID] = true
	return nil
}

func marketOrders(n int) liveOrders {
	out := make(liveOrders, n)
	for i := range out {
		out[i] = db.Order{ID: fmt.Sprintf("o%d", i), Symbol: "AAPL", Side: db.SideBuy, Type: db.TypeMarket,
			Quantity: num.Dec(5), RemainingQuantity: num.Dec(5), Status: db.StatusPending, Version: 1}
	}
	return out
}

func TestSweepIsolatesFailingOrder(t *testing.T) {
	for _, tc := range []struct {
		name  string
		panic bool
	}{
		{"error", false},
		{"panic", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			orders := marketOrders(8)
			sink := &flakySink{bad: "o3", panic: tc.panic, settled: make(map[string]bool)}
			metrics := monitor.NewSystemMetrics()
			p := NewProcessor(orders, staticPrices{"AAPL": 150}, sink, ProcessorConfig{Workers: 3},
				&seqRand{vals: []float64{0}}, nil, metrics)

			res, err := p.Sweep(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 8, res.Evaluated)
			assert.Equal(t, 7, res.Filled)
			assert.Equal(t, 1, res.Failed)
			assert.EqualValues(t, 1, metrics.GetSnapshot().ErrorsCount)

			for _, o := range orders {
				assert.Equal(t, o.ID != "o3", sink.settled[o.ID], o.ID)
			}
		})
	}
}

func TestSweepSkipsStaleAndTerminalFills(t *testing.T) {
	orders := marketOrders(2)
	sink := staleSink{"o0": ErrStaleFill, "o1": ErrNotLive}
	p := NewProcessor(orders, staticPrices{"AAPL": 150}, sink, ProcessorConfig{Workers: 2},
		&seqRand{vals: []float64{0}}, nil, nil)

	res, err := p.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Filled)
	assert.Zero(t, res.Failed)
}

type staleSink map[string]error

func (s staleSink) Settle(_ context.Context, fill FillEvent) error { return s[fill.OrderID] }

func TestSweepCountsMissingPriceAsFailure(t *testing.T) {
	orders := marketOrders(2)
	orders[1].Symbol = "NOPE"
	sink := &flakySink{settled: make(map[string]bool)}
	p := NewProcessor(orders, staticPrices{"AAPL": 150}, sink, ProcessorConfig{}, &seqRand{vals: []float64{0}}, nil, nil)

	res, err := p.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filled)
	assert.Equal(t, 1, res.Failed)
}
