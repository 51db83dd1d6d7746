package engine

import (
	"time"

	"paper-core/internal/apperr"
	"paper-core/internal/monitor"
	"paper-core/pkg/db"
)

// Result is the envelope every command and query returns.
type Result struct {
	Success bool            `json:"success"`
	Data    any             `json:"data,omitempty"`
	Errors  []*apperr.Error `json:"errors,omitempty"`
}

func ok(data any) Result { return Result{Success: true, Data: data} }

// fail carries data alongside the errors, e.g. a REJECTED order.
func fail(data any, errs ...*apperr.Error) Result {
	return Result{Success: false, Data: data, Errors: errs}
}

// FirstError returns the first error or nil.
func (r Result) FirstError() *apperr.Error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// OrderQuery filters GetOrders.
type OrderQuery struct {
	Statuses []string
	Symbol   string
	Side     string
	Limit    int
}

// CloseResult is what a manual close returns.
type CloseResult struct {
	Order     db.Order     `json:"order"`
	Position  db.Position  `json:"position"`
	Trade     db.Trade     `json:"trade"`
	Portfolio db.Portfolio `json:"portfolio"`
}

// PriceQuote is a symbol's last price.
type PriceQuote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	Version    string                   `json:"version"`
	Symbols    []string                 `json:"symbols"`
	StartedAt  time.Time                `json:"started_at"`
	ServerTime time.Time                `json:"server_time"`
	Metrics    *monitor.MetricsSnapshot `json:"metrics,omitempty"`
}
