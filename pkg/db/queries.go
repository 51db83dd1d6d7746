// Package db provides user-isolated, version-checked persistence for orders,
// positions, trades and portfolios.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
	// ErrConflict means an optimistic version check lost the race.
	ErrConflict = errors.New("version conflict")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Queries runs statements against either the pool or an open transaction.
type Queries struct {
	db querier
}

// ----------------------------------------
// Order Queries
// ----------------------------------------

const orderColumns = `id, user_id, portfolio_id, symbol, side, type, quantity, limit_price, stop_price,
	status, filled_qty, remaining_qty, avg_fill_price, commission, rejection_reason, source, version,
	created_at, updated_at, filled_at, cancelled_at`

func scanOrder(s scanner) (*Order, error) {
	var (
		o                   Order
		filledAt, cancelled sql.NullTime
	)
	if err := s.Scan(&o.ID, &o.UserID, &o.PortfolioID, &o.Symbol, &o.Side, &o.Type, &o.Quantity,
		&o.LimitPrice, &o.StopPrice, &o.Status, &o.FilledQuantity, &o.RemainingQuantity,
		&o.AverageFillPrice, &o.Commission, &o.RejectionReason, &o.Source, &o.Version,
		&o.CreatedAt, &o.UpdatedAt, &filledAt, &cancelled); err != nil {
		return nil, err
	}
	o.FilledAt = timePtr(filledAt)
	o.CancelledAt = timePtr(cancelled)
	return &o, nil
}

// InsertOrder stores a new order at version 1.
func (q *Queries) InsertOrder(ctx context.Context, o *Order) error {
	if o.UserID == "" {
		return ErrUserIDRequired
	}
	o.Version = 1
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.UserID, o.PortfolioID, o.Symbol, o.Side, o.Type, o.Quantity, o.LimitPrice, o.StopPrice,
		o.Status, o.FilledQuantity, o.RemainingQuantity, o.AverageFillPrice, o.Commission,
		o.RejectionReason, o.Source, o.Version, o.CreatedAt, o.UpdatedAt,
		nullTime(o.FilledAt), nullTime(o.CancelledAt))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder loads an order by id.
func (q *Queries) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(q.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

// UpdateOrder writes o if its version still matches the stored row and bumps
// o.Version on success.
func (q *Queries) UpdateOrder(ctx context.Context, o *Order) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE orders SET
			quantity = ?, limit_price = ?, stop_price = ?, status = ?, filled_qty = ?,
			remaining_qty = ?, avg_fill_price = ?, commission = ?, rejection_reason = ?,
			updated_at = ?, filled_at = ?, cancelled_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, o.Quantity, o.LimitPrice, o.StopPrice, o.Status, o.FilledQuantity, o.RemainingQuantity,
		o.AverageFillPrice, o.Commission, o.RejectionReason, o.UpdatedAt,
		nullTime(o.FilledAt), nullTime(o.CancelledAt), o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	o.Version++
	return nil
}

// ListOrders returns orders matching f, newest first.
func (q *Queries) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	if f.UserID == "" {
		return nil, ErrUserIDRequired
	}
	where := []string{"user_id = ?"}
	args := []any{f.UserID}
	if f.PortfolioID != "" {
		where = append(where, "portfolio_id = ?")
		args = append(args, f.PortfolioID)
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Side != "" {
		where = append(where, "side = ?")
		args = append(args, f.Side)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	return q.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+strings.Join(where, " AND ")+
		` ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
}

// ListLiveOrders returns every PENDING / PARTIALLY_FILLED order, oldest first.
func (q *Queries) ListLiveOrders(ctx context.Context) ([]Order, error) {
	return q.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status IN ('PENDING', 'PARTIALLY_FILLED')
		ORDER BY created_at ASC, id ASC`)
}

func (q *Queries) queryOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// ----------------------------------------
// Position Queries
// ----------------------------------------

const positionColumns = `id, user_id, portfolio_id, symbol, side, quantity, avg_price, current_price,
	unrealized_pnl, realized_pnl, stop_loss, take_profit, status, version, opened_at, closed_at, updated_at`

func scanPosition(s scanner) (*Position, error) {
	var (
		p        Position
		closedAt sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.UserID, &p.PortfolioID, &p.Symbol, &p.Side, &p.Quantity, &p.AveragePrice,
		&p.CurrentPrice, &p.UnrealizedPnL, &p.RealizedPnL, &p.StopLoss, &p.TakeProfit, &p.Status,
		&p.Version, &p.OpenedAt, &closedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ClosedAt = timePtr(closedAt)
	return &p, nil
}

// InsertPosition stores a new position at version 1.
func (q *Queries) InsertPosition(ctx context.Context, p *Position) error {
	if p.UserID == "" {
		return ErrUserIDRequired
	}
	p.Version = 1
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.PortfolioID, p.Symbol, p.Side, p.Quantity, p.AveragePrice, p.CurrentPrice,
		p.UnrealizedPnL, p.RealizedPnL, p.StopLoss, p.TakeProfit, p.Status, p.Version, p.OpenedAt,
		nullTime(p.ClosedAt), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// GetPosition loads a position by id.
func (q *Queries) GetPosition(ctx context.Context, id string) (*Position, error) {
	p, err := scanPosition(q.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query position: %w", err)
	}
	return p, nil
}

// GetOpenPosition returns the open position for a (user, portfolio, symbol) key.
func (q *Queries) GetOpenPosition(ctx context.Context, userID, portfolioID, symbol string) (*Position, error) {
	p, err := scanPosition(q.db.QueryRowContext(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE user_id = ? AND portfolio_id = ? AND symbol = ? AND status = 'open'
	`, userID, portfolioID, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query open position: %w", err)
	}
	return p, nil
}

// UpdatePosition writes p if its version still matches and bumps p.Version.
func (q *Queries) UpdatePosition(ctx context.Context, p *Position) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE positions SET
			side = ?, quantity = ?, avg_price = ?, current_price = ?, unrealized_pnl = ?,
			realized_pnl = ?, stop_loss = ?, take_profit = ?, status = ?, closed_at = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, p.Side, p.Quantity, p.AveragePrice, p.CurrentPrice, p.UnrealizedPnL, p.RealizedPnL,
		p.StopLoss, p.TakeProfit, p.Status, nullTime(p.ClosedAt), p.UpdatedAt, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	p.Version++
	return nil
}

// ListPositions returns a portfolio's positions; closed lots only when asked.
func (q *Queries) ListPositions(ctx context.Context, userID, portfolioID string, includeClosed bool) ([]Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = ? AND portfolio_id = ?`
	if !includeClosed {
		query += ` AND status = 'open'`
	}
	return q.queryPositions(ctx, query+` ORDER BY opened_at ASC, id ASC`, userID, portfolioID)
}

// ListOpenPositionsBySymbol returns every open position in a symbol across users.
func (q *Queries) ListOpenPositionsBySymbol(ctx context.Context, symbol string) ([]Position, error) {
	return q.queryPositions(ctx, `SELECT `+positionColumns+` FROM positions
		WHERE symbol = ? AND status = 'open' ORDER BY opened_at ASC, id ASC`, symbol)
}

// ListOpenPositionsByPortfolio returns open positions of one portfolio.
func (q *Queries) ListOpenPositionsByPortfolio(ctx context.Context, portfolioID string) ([]Position, error) {
	return q.queryPositions(ctx, `SELECT `+positionColumns+` FROM positions
		WHERE portfolio_id = ? AND status = 'open' ORDER BY opened_at ASC, id ASC`, portfolioID)
}

func (q *Queries) queryPositions(ctx context.Context, query string, args ...any) ([]Position, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// ----------------------------------------
// Trade Queries
// ----------------------------------------

// InsertTrade appends an execution record. Trades are never updated.
func (q *Queries) InsertTrade(ctx context.Context, t *Trade) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, position_id, user_id, portfolio_id, symbol, side, quantity,
			price, commission, realized_pnl, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.OrderID, t.PositionID, t.UserID, t.PortfolioID, t.Symbol, t.Side, t.Quantity,
		t.Price, t.Commission, t.RealizedPnL, t.Kind, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// ListTrades returns a portfolio's trades, newest first. An empty orderID
// matches every order.
func (q *Queries) ListTrades(ctx context.Context, userID, portfolioID, orderID string, limit int) ([]Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, order_id, position_id, user_id, portfolio_id, symbol, side, quantity, price,
		       COALESCE(commission, 0), COALESCE(realized_pnl, 0), kind, created_at
		FROM trades
		WHERE user_id = ? AND portfolio_id = ? AND (? = '' OR order_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, portfolioID, orderID, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.PositionID, &t.UserID, &t.PortfolioID, &t.Symbol,
			&t.Side, &t.Quantity, &t.Price, &t.Commission, &t.RealizedPnL, &t.Kind, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ----------------------------------------
// Portfolio Queries
// ----------------------------------------

const portfolioColumns = `id, user_id, name, initial_capital, cash_balance, invested_amount, total_value,
	total_return, total_return_pct, version, created_at, updated_at`

func scanPortfolio(s scanner) (*Portfolio, error) {
	var p Portfolio
	if err := s.Scan(&p.ID, &p.UserID, &p.Name, &p.InitialCapital, &p.CashBalance, &p.InvestedAmount,
		&p.TotalValue, &p.TotalReturn, &p.TotalReturnPercent, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertPortfolio stores a new portfolio at version 1.
func (q *Queries) InsertPortfolio(ctx context.Context, p *Portfolio) error {
	if p.UserID == "" {
		return ErrUserIDRequired
	}
	p.Version = 1
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO portfolios (`+portfolioColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.Name, p.InitialCapital, p.CashBalance, p.InvestedAmount, p.TotalValue,
		p.TotalReturn, p.TotalReturnPercent, p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert portfolio: %w", err)
	}
	return nil
}

// GetPortfolio loads a portfolio by id.
func (q *Queries) GetPortfolio(ctx context.Context, id string) (*Portfolio, error) {
	p, err := scanPortfolio(q.db.QueryRowContext(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query portfolio: %w", err)
	}
	return p, nil
}

// ListPortfolios returns a user's portfolios.
func (q *Queries) ListPortfolios(ctx context.Context, userID string) ([]Portfolio, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `SELECT `+portfolioColumns+` FROM portfolios
		WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query portfolios: %w", err)
	}
	defer rows.Close()

	var res []Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("scan portfolio: %w", err)
		}
		res = append(res, *p)
	}
	return res, rows.Err()
}

// UpdatePortfolio writes p if its version still matches and bumps p.Version.
func (q *Queries) UpdatePortfolio(ctx context.Context, p *Portfolio) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE portfolios SET
			cash_balance = ?, invested_amount = ?, total_value = ?, total_return = ?,
			total_return_pct = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, p.CashBalance, p.InvestedAmount, p.TotalValue, p.TotalReturn, p.TotalReturnPercent,
		p.UpdatedAt, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("update portfolio: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	p.Version++
	return nil
}

// ----------------------------------------
// User Queries
// ----------------------------------------

// CreateUser inserts a user row.
func (q *Queries) CreateUser(ctx context.Context, u User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail returns nil, nil when no user has that email.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := q.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
