package order

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// PlaceRequest is a new order as submitted by a user.
type PlaceRequest struct {
	PortfolioID string  `json:"portfolio_id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	Quantity    float64 `json:"quantity"`
	LimitPrice  float64 `json:"limit_price,omitempty"`
	StopPrice   float64 `json:"stop_price,omitempty"`
}

// Normalize upper-cases the enumerations and the symbol.
func (r PlaceRequest) Normalize() PlaceRequest {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	r.Side = strings.ToUpper(strings.TrimSpace(r.Side))
	r.Type = strings.ToUpper(strings.TrimSpace(r.Type))
	return r
}

// ModifyRequest patches a live order. Nil fields are left unchanged.
type ModifyRequest struct {
	Quantity   *float64 `json:"quantity,omitempty"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
	StopPrice  *float64 `json:"stop_price,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (m ModifyRequest) Empty() bool {
	return m.Quantity == nil && m.LimitPrice == nil && m.StopPrice == nil
}

// FillEvent is a decision to execute Quantity of an order at Price.
// OrderVersion pins the decision to the order state it was computed from;
// settlement drops it if the order has changed since.
type FillEvent struct {
	OrderID      string          `json:"order_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        float64         `json:"price"`
	OrderVersion int64           `json:"order_version"`
}

var (
	// ErrNotLive is returned when an order can no longer fill.
	ErrNotLive = errors.New("order is not live")
	// ErrStaleFill is returned when a fill was decided on an older order version.
	ErrStaleFill = errors.New("fill decided on stale order")
)
