package db

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order types.
const (
	TypeMarket    = "MARKET"
	TypeLimit     = "LIMIT"
	TypeStop      = "STOP"
	TypeStopLimit = "STOP_LIMIT"
)

// Order statuses.
const (
	StatusPending         = "PENDING"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCancelled       = "CANCELLED"
	StatusRejected        = "REJECTED"
)

// Order sources. Risk exits and manual closes synthesize their own orders so
// every trade references the order that produced it.
const (
	SourceUser        = "USER"
	SourceRiskExit    = "RISK_EXIT"
	SourceManualClose = "MANUAL_CLOSE"
)

// Position sides and statuses.
const (
	PositionLong   = "long"
	PositionShort  = "short"
	PositionOpen   = "open"
	PositionClosed = "closed"
)

// Trade kinds.
const (
	TradeFill        = "FILL"
	TradeRiskExit    = "RISK_EXIT"
	TradeManualClose = "MANUAL_CLOSE"
)

// Order is a user's instruction to trade a quantity of a symbol. Quantities
// are decimals stored as TEXT so filled + remaining == quantity holds exactly.
type Order struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	PortfolioID       string          `json:"portfolio_id"`
	Symbol            string          `json:"symbol"`
	Side              string          `json:"side"`
	Type              string          `json:"type"`
	Quantity          decimal.Decimal `json:"quantity"`
	LimitPrice        float64         `json:"limit_price,omitempty"`
	StopPrice         float64         `json:"stop_price,omitempty"`
	Status            string          `json:"status"`
	FilledQuantity    decimal.Decimal `json:"filled_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	AverageFillPrice  float64         `json:"average_fill_price"`
	Commission        float64         `json:"commission"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
	Source            string          `json:"source"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	FilledAt          *time.Time      `json:"filled_at,omitempty"`
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`
}

// IsLive reports whether the order can still fill, be cancelled or modified.
func (o *Order) IsLive() bool {
	return o.Status == StatusPending || o.Status == StatusPartiallyFilled
}

// Position is a user's net exposure to one symbol within one portfolio.
// Quantity is signed: positive for long, negative for short.
type Position struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	PortfolioID   string     `json:"portfolio_id"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Quantity      float64    `json:"quantity"`
	AveragePrice  float64    `json:"average_price"`
	CurrentPrice  float64    `json:"current_price"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	RealizedPnL   float64    `json:"realized_pnl"`
	StopLoss      float64    `json:"stop_loss,omitempty"`
	TakeProfit    float64    `json:"take_profit,omitempty"`
	Status        string     `json:"status"`
	Version       int64      `json:"version"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsOpen reports whether the position still carries exposure.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// Trade is an immutable record of one execution.
type Trade struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	PositionID  string    `json:"position_id"`
	UserID      string    `json:"user_id"`
	PortfolioID string    `json:"portfolio_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Commission  float64   `json:"commission"`
	RealizedPnL float64   `json:"realized_pnl"`
	Kind        string    `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
}

// Portfolio holds cash plus the derived totals recomputed from positions.
type Portfolio struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Name               string    `json:"name"`
	InitialCapital     float64   `json:"initial_capital"`
	CashBalance        float64   `json:"cash_balance"`
	InvestedAmount     float64   `json:"invested_amount"`
	TotalValue         float64   `json:"total_value"`
	TotalReturn        float64   `json:"total_return"`
	TotalReturnPercent float64   `json:"total_return_percent"`
	Version            int64     `json:"version"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderFilter narrows order listings. Zero values match everything.
type OrderFilter struct {
	UserID      string
	PortfolioID string
	Statuses    []string
	Symbol      string
	Side        string
	Limit       int
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
