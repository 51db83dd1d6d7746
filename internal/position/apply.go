package position

import (
	"time"

	"github.com/google/uuid"

	"paper-core/pkg/db"
	"paper-core/pkg/num"
)

// Fill is one execution to apply to a (user, portfolio, symbol) position.
type Fill struct {
	OrderID     string
	UserID      string
	PortfolioID string
	Symbol      string
	Side        string // BUY or SELL
	Quantity    float64
	Price       float64
	Commission  float64
	Kind        string // db.TradeFill, db.TradeRiskExit, db.TradeManualClose
	At          time.Time
}

func (f Fill) signed() float64 {
	if f.Side == db.SideSell {
		return -f.Quantity
	}
	return f.Quantity
}

// Outcome is the result of applying a fill: the rows to write and the trade.
// Updated is the existing open lot (nil when the fill opened the first lot);
// Opened is a newly created lot (on first fill or when a fill crosses zero).
type Outcome struct {
	Updated *db.Position
	Opened  *db.Position
	Trade   db.Trade
}

// Touched lists the positions the fill changed.
func (o Outcome) Touched() []db.Position {
	var out []db.Position
	if o.Updated != nil {
		out = append(out, *o.Updated)
	}
	if o.Opened != nil {
		out = append(out, *o.Opened)
	}
	return out
}

func sideOf(qty float64) string {
	if qty < 0 {
		return db.PositionShort
	}
	return db.PositionLong
}

func sign(qty float64) float64 {
	if qty < 0 {
		return -1
	}
	return 1
}

// unrealized is (current - avg) × |qty| × sign(side).
func unrealized(p *db.Position) float64 {
	if p.Quantity == 0 || p.CurrentPrice == 0 {
		return 0
	}
	return num.Mul(num.Mul(num.Sub(p.CurrentPrice, p.AveragePrice), num.Abs(p.Quantity)), sign(p.Quantity))
}

func newLot(f Fill, qty float64) *db.Position {
	return &db.Position{
		ID:           uuid.NewString(),
		UserID:       f.UserID,
		PortfolioID:  f.PortfolioID,
		Symbol:       f.Symbol,
		Side:         sideOf(qty),
		Quantity:     qty,
		AveragePrice: f.Price,
		CurrentPrice: f.Price,
		Status:       db.PositionOpen,
		OpenedAt:     f.At,
		UpdatedAt:    f.At,
	}
}

// Apply computes the effect of f on the current open lot (nil if none). It
// does not touch storage.
//
// Same-direction fills re-average the lot. Opposite fills realize
// min(fill, |open|) × (price - avg) × sign(open) and shrink the lot; a lot that
// reaches zero closes, and any excess opens a new lot on the other side at
// the fill price.
func Apply(open *db.Position, f Fill) Outcome {
	trade := db.Trade{
		ID:          uuid.NewString(),
		OrderID:     f.OrderID,
		UserID:      f.UserID,
		PortfolioID: f.PortfolioID,
		Symbol:      f.Symbol,
		Side:        f.Side,
		Quantity:    f.Quantity,
		Price:       f.Price,
		Commission:  f.Commission,
		Kind:        f.Kind,
		CreatedAt:   f.At,
	}
	delta := f.signed()

	if open == nil || !open.IsOpen() {
		lot := newLot(f, delta)
		trade.PositionID = lot.ID
		return Outcome{Opened: lot, Trade: trade}
	}

	p := *open
	p.CurrentPrice = f.Price
	p.UpdatedAt = f.At
	trade.PositionID = p.ID

	if sign(p.Quantity) == sign(delta) {
		p.AveragePrice = num.WeightedAvg(num.Abs(p.Quantity), p.AveragePrice, f.Quantity, f.Price)
		p.Quantity = num.Add(p.Quantity, delta)
		p.UnrealizedPnL = unrealized(&p)
		return Outcome{Updated: &p, Trade: trade}
	}

	closing := num.Min(f.Quantity, num.Abs(p.Quantity))
	realized := num.Mul(num.Mul(closing, num.Sub(f.Price, p.AveragePrice)), sign(p.Quantity))
	p.RealizedPnL = num.Add(p.RealizedPnL, realized)
	trade.RealizedPnL = realized

	remainder := num.Sub(f.Quantity, closing)
	p.Quantity = num.Add(p.Quantity, num.Mul(closing, sign(delta)))

	if num.IsZero(p.Quantity) {
		p.Quantity = 0
		p.Status = db.PositionClosed
		p.UnrealizedPnL = 0
		closedAt := f.At
		p.ClosedAt = &closedAt
	} else {
		p.UnrealizedPnL = unrealized(&p)
	}

	out := Outcome{Updated: &p, Trade: trade}
	if remainder > 0 {
		out.Opened = newLot(f, num.Mul(remainder, sign(delta)))
	}
	return out
}

// Reprice marks p to price.
func Reprice(p *db.Position, price float64, at time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPnL = unrealized(p)
	p.UpdatedAt = at
}
