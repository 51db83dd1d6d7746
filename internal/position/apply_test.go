package position

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-core/pkg/db"
	"paper-core/pkg/num"
)

func fill(side string, qty, price float64) Fill {
	return Fill{OrderID: "o", UserID: "u", PortfolioID: "pf", Symbol: "AAPL",
		Side: side, Quantity: qty, Price: price, Kind: db.TradeFill, At: time.Now().UTC()}
}

// step applies f and returns the lot that is open afterwards.
func step(t *testing.T, open *db.Position, f Fill) (*db.Position, Outcome) {
	t.Helper()
	out := Apply(open, f)
	switch {
	case out.Opened != nil:
		return out.Opened, out
	case out.Updated != nil && out.Updated.IsOpen():
		return out.Updated, out
	default:
		return nil, out
	}
}

func TestApplyOpensLot(t *testing.T) {
	p, out := step(t, nil, fill(db.SideBuy, 100, 150))
	require.NotNil(t, p)
	assert.Nil(t, out.Updated)
	assert.Equal(t, 100.0, p.Quantity)
	assert.Equal(t, db.PositionLong, p.Side)
	assert.Equal(t, 150.0, p.AveragePrice)
	assert.Equal(t, p.ID, out.Trade.PositionID)
	assert.Equal(t, 0.0, out.Trade.RealizedPnL)

	s, _ := step(t, nil, fill(db.SideSell, 10, 50))
	assert.Equal(t, -10.0, s.Quantity)
	assert.Equal(t, db.PositionShort, s.Side)
}

func TestApplySameDirectionAverages(t *testing.T) {
	p, _ := step(t, nil, fill(db.SideBuy, 100, 100))
	p, out := step(t, p, fill(db.SideBuy, 100, 110))

	assert.Equal(t, 200.0, p.Quantity)
	assert.Equal(t, 105.0, p.AveragePrice)
	assert.Equal(t, 0.0, p.RealizedPnL)
	assert.Nil(t, out.Opened)
}

func TestApplyReduceRealizes(t *testing.T) {
	p, _ := step(t, nil, fill(db.SideBuy, 100, 100))
	p, out := step(t, p, fill(db.SideSell, 40, 110))

	assert.Equal(t, 60.0, p.Quantity)
	assert.Equal(t, 100.0, p.AveragePrice)
	assert.Equal(t, 400.0, p.RealizedPnL)
	assert.Equal(t, 400.0, out.Trade.RealizedPnL)
	assert.Equal(t, 600.0, p.UnrealizedPnL)
}

func TestApplyCloseAtZero(t *testing.T) {
	p, _ := step(t, nil, fill(db.SideBuy, 100, 100))
	open, out := step(t, p, fill(db.SideSell, 100, 94))

	assert.Nil(t, open)
	require.NotNil(t, out.Updated)
	assert.Equal(t, db.PositionClosed, out.Updated.Status)
	assert.Equal(t, 0.0, out.Updated.Quantity)
	assert.NotNil(t, out.Updated.ClosedAt)
	assert.Equal(t, -600.0, out.Updated.RealizedPnL)
}

func TestApplyFlipOpensNewLotAtFillPrice(t *testing.T) {
	p, _ := step(t, nil, fill(db.SideBuy, 100, 100))
	oldID := p.ID
	open, out := step(t, p, fill(db.SideSell, 150, 90))

	require.NotNil(t, out.Updated)
	assert.Equal(t, oldID, out.Updated.ID)
	assert.Equal(t, db.PositionClosed, out.Updated.Status)
	assert.Equal(t, -1000.0, out.Updated.RealizedPnL)

	require.NotNil(t, open)
	assert.NotEqual(t, oldID, open.ID)
	assert.Equal(t, -50.0, open.Quantity)
	assert.Equal(t, db.PositionShort, open.Side)
	assert.Equal(t, 90.0, open.AveragePrice)
	assert.Equal(t, 0.0, open.RealizedPnL)
	assert.Equal(t, oldID, out.Trade.PositionID)
}

func TestApplyShortPnL(t *testing.T) {
	p, _ := step(t, nil, fill(db.SideSell, 10, 100))
	Reprice(p, 90, time.Now())
	assert.Equal(t, 100.0, p.UnrealizedPnL)

	p, _ = step(t, p, fill(db.SideBuy, 4, 80))
	assert.Equal(t, 80.0, p.RealizedPnL)
	assert.Equal(t, -6.0, p.Quantity)
}

// Across random fill sequences realized P&L only moves on reductions and
// the average price only moves on additions.
func TestApplyMonotonicityProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	var open *db.Position
	for i := 0; i < 500; i++ {
		side := db.SideBuy
		if r.Intn(2) == 0 {
			side = db.SideSell
		}
		qty := float64(r.Intn(50) + 1)
		price := num.Round(50 + r.Float64()*100)

		before := open
		next, out := step(t, open, fill(side, qty, price))

		if before != nil {
			adding := (before.Quantity > 0) == (side == db.SideBuy)
			require.NotNil(t, out.Updated)
			if adding {
				assert.Equal(t, before.RealizedPnL, out.Updated.RealizedPnL, "realized moved on an addition")
				assert.Less(t, num.Abs(before.Quantity), num.Abs(out.Updated.Quantity))
			} else {
				assert.Equal(t, before.AveragePrice, out.Updated.AveragePrice, "average moved on a reduction")
				assert.Less(t, num.Abs(out.Updated.Quantity), num.Abs(before.Quantity)+1e-9)
			}
		}
		if next != nil {
			assert.Equal(t, sideOf(next.Quantity), next.Side)
			assert.NotZero(t, next.Quantity)
		}
		open = next
	}
}
