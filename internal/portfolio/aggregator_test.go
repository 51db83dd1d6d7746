package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-core/internal/apperr"
	"paper-core/internal/events"
	"paper-core/pkg/db"
)

func TestComputeTotals(t *testing.T) {
	pf := db.Portfolio{InitialCapital: 10000, CashBalance: 5000}
	positions := []db.Position{
		{Quantity: 20, AveragePrice: 100, CurrentPrice: 110, UnrealizedPnL: 200, Status: db.PositionOpen},
		{Quantity: -10, AveragePrice: 50, CurrentPrice: 40, UnrealizedPnL: 100, Status: db.PositionOpen},
		{Quantity: 0, AveragePrice: 10, RealizedPnL: -30, Status: db.PositionClosed},
	}
	s := Compute(pf, positions)

	assert.Equal(t, 5000.0+2200+400, s.TotalValue)
	assert.Equal(t, 2000.0+500, s.InvestedAmount)
	assert.Equal(t, 7600.0-10000, s.TotalReturn)
	assert.Equal(t, -24.0, s.TotalReturnPercent)
	assert.Equal(t, 300.0, s.UnrealizedPnL)
	assert.Equal(t, -30.0, s.RealizedPnL)
	assert.Len(t, s.Positions, 2)
}

func setup(t *testing.T, ttl time.Duration) (*Aggregator, *db.Database, *events.Hub) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	hub := events.NewHub()
	return NewAggregator(database, hub, Config{CacheTTL: ttl}, nil), database, hub
}

func TestCreateValidates(t *testing.T) {
	a, _, _ := setup(t, 0)
	ctx := context.Background()

	_, err := a.Create(ctx, "u1", "", 1000)
	assert.Error(t, err)
	_, err = a.Create(ctx, "u1", "main", 0)
	assert.Error(t, err)

	pf, err := a.Create(ctx, "u1", "main", 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, pf.CashBalance)
	assert.Equal(t, 1000.0, pf.TotalValue)

	_, err = a.Get(ctx, "u2", pf.ID)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindNotFound, ae.Kind)
}

func TestSettleTxMovesCash(t *testing.T) {
	a, database, _ := setup(t, 0)
	ctx := context.Background()

	pf, err := a.Create(ctx, "u1", "main", 10000)
	require.NoError(t, err)

	var after *db.Portfolio
	require.NoError(t, database.InTx(ctx, func(q *db.Queries) error {
		after, err = a.SettleTx(ctx, q, pf.ID, db.SideBuy, 10, 100, 0.1)
		return err
	}))
	assert.Equal(t, 10000.0-1000-0.1, after.CashBalance)

	require.NoError(t, database.InTx(ctx, func(q *db.Queries) error {
		after, err = a.SettleTx(ctx, q, pf.ID, db.SideSell, 5, 120, 0.06)
		return err
	}))
	assert.InDelta(t, 8999.9+600-0.06, after.CashBalance, 1e-9)
	assert.EqualValues(t, 3, after.Version)
}

func TestRecomputePublishesAndSummaryCaches(t *testing.T) {
	a, database, hub := setup(t, time.Minute)
	ctx := context.Background()

	pf, err := a.Create(ctx, "u1", "main", 10000)
	require.NoError(t, err)
	stream, unsub := hub.Subscribe("u1", 4)
	defer unsub()

	s1, err := a.Summary(ctx, "u1", pf.ID)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, s1.TotalValue)

	now := time.Now().UTC()
	require.NoError(t, database.Queries().InsertPosition(ctx, &db.Position{
		ID: "p1", UserID: "u1", PortfolioID: pf.ID, Symbol: "AAPL", Side: db.PositionLong,
		Quantity: 10, AveragePrice: 100, CurrentPrice: 120, UnrealizedPnL: 200,
		Status: db.PositionOpen, OpenedAt: now, UpdatedAt: now,
	}))

	cached, err := a.Summary(ctx, "u1", pf.ID)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, cached.TotalValue, "served from cache")

	got, err := a.Recompute(ctx, pf.ID)
	require.NoError(t, err)
	assert.Equal(t, 11200.0, got.TotalValue)
	assert.Equal(t, 1000.0, got.InvestedAmount)
	assert.Equal(t, events.PortfolioUpdate, (<-stream).Type)

	fresh, err := a.Summary(ctx, "u1", pf.ID)
	require.NoError(t, err)
	assert.Equal(t, 11200.0, fresh.TotalValue)
	assert.Equal(t, 12.0, fresh.TotalReturnPercent)
}
