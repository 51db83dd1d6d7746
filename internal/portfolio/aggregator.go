// Package portfolio rolls cash and positions into portfolio totals.
package portfolio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"paper-core/internal/apperr"
	"paper-core/internal/events"
	"paper-core/pkg/db"
	"paper-core/pkg/i18n"
	"paper-core/pkg/num"
)

// Summary is a portfolio with its derived totals and open positions.
type Summary struct {
	db.Portfolio
	UnrealizedPnL float64       `json:"unrealized_pnl"`
	RealizedPnL   float64       `json:"realized_pnl"`
	Positions     []db.Position `json:"positions"`
}

// Compute derives totals from cash and positions. Closed positions only
// contribute realized P&L.
//
//	totalValue   = cash + Σ |qty| × currentPrice
//	invested     = Σ |qty| × averagePrice
//	totalReturn  = totalValue - initialCapital
func Compute(pf db.Portfolio, positions []db.Position) Summary {
	s := Summary{Portfolio: pf, Positions: []db.Position{}}
	value := pf.CashBalance
	invested := 0.0
	for _, p := range positions {
		s.RealizedPnL = num.Add(s.RealizedPnL, p.RealizedPnL)
		if !p.IsOpen() {
			continue
		}
		qty := num.Abs(p.Quantity)
		mark := p.CurrentPrice
		if mark == 0 {
			mark = p.AveragePrice
		}
		value = num.Add(value, num.Mul(qty, mark))
		invested = num.Add(invested, num.Mul(qty, p.AveragePrice))
		s.UnrealizedPnL = num.Add(s.UnrealizedPnL, p.UnrealizedPnL)
		s.Positions = append(s.Positions, p)
	}

	s.TotalValue = value
	s.InvestedAmount = invested
	s.TotalReturn = num.Sub(value, pf.InitialCapital)
	if pf.InitialCapital > 0 {
		s.TotalReturnPercent = num.Round(s.TotalReturn / pf.InitialCapital * 100)
	} else {
		s.TotalReturnPercent = 0
	}
	return s
}

func applyDerived(pf *db.Portfolio, s Summary) {
	pf.TotalValue = s.TotalValue
	pf.InvestedAmount = s.InvestedAmount
	pf.TotalReturn = s.TotalReturn
	pf.TotalReturnPercent = s.TotalReturnPercent
}

// Config tunes the aggregator.
type Config struct {
	ConflictRetries int
	CacheTTL        time.Duration
}

// Aggregator owns portfolio cash and derived fields.
type Aggregator struct {
	db     *db.Database
	pub    events.Publisher
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSummary
}

type cachedSummary struct {
	at      time.Time
	summary Summary
}

// NewAggregator builds an aggregator.
func NewAggregator(database *db.Database, pub events.Publisher, cfg Config, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 5
	}
	return &Aggregator{
		db:     database,
		pub:    pub,
		cfg:    cfg,
		logger: logger.Named("portfolio"),
		now:    func() time.Time { return time.Now().UTC() },
		cache:  make(map[string]cachedSummary),
	}
}

// Create opens a portfolio funded with initialCapital in cash.
func (a *Aggregator) Create(ctx context.Context, userID, name string, initialCapital float64) (*db.Portfolio, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "name", "name is required")
	}
	if initialCapital <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "initial_capital", "initial capital must be positive")
	}
	now := a.now()
	pf := &db.Portfolio{
		ID:             uuid.NewString(),
		UserID:         userID,
		Name:           name,
		InitialCapital: initialCapital,
		CashBalance:    initialCapital,
		TotalValue:     initialCapital,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.db.Queries().InsertPortfolio(ctx, pf); err != nil {
		return nil, err
	}
	a.logger.Info("portfolio created", zap.String("portfolio_id", pf.ID), zap.String("user_id", userID))
	return pf, nil
}

// Get returns one of the user's portfolios.
func (a *Aggregator) Get(ctx context.Context, userID, id string) (*db.Portfolio, error) {
	pf, err := a.db.Queries().GetPortfolio(ctx, id)
	if errors.Is(err, db.ErrNotFound) || (err == nil && pf.UserID != userID) {
		return nil, apperr.NotFound(apperr.CodePortfolioNotFound, i18n.M().PortfolioNotFound)
	}
	return pf, err
}

// List returns the user's portfolios.
func (a *Aggregator) List(ctx context.Context, userID string) ([]db.Portfolio, error) {
	return a.db.Queries().ListPortfolios(ctx, userID)
}

// SettleTx moves cash for one execution and re-derives totals inside the
// caller's transaction. Buys pay notional plus commission; sells receive
// notional minus commission.
func (a *Aggregator) SettleTx(ctx context.Context, q *db.Queries, portfolioID, side string, qty, price, commission float64) (*db.Portfolio, error) {
	pf, err := q.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	notional := num.Mul(qty, price)
	if side == db.SideBuy {
		pf.CashBalance = num.Sub(pf.CashBalance, num.Add(notional, commission))
	} else {
		pf.CashBalance = num.Add(pf.CashBalance, num.Sub(notional, commission))
	}

	open, err := q.ListOpenPositionsByPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	applyDerived(pf, Compute(*pf, open))
	pf.UpdatedAt = a.now()
	if err := q.UpdatePortfolio(ctx, pf); err != nil {
		return nil, err
	}
	return pf, nil
}

// Recompute refreshes derived totals from the current positions.
func (a *Aggregator) Recompute(ctx context.Context, portfolioID string) (*db.Portfolio, error) {
	var out *db.Portfolio
	err := db.RetryOnConflict(ctx, a.cfg.ConflictRetries, func() error {
		q := a.db.Queries()
		pf, err := q.GetPortfolio(ctx, portfolioID)
		if err != nil {
			return err
		}
		open, err := q.ListOpenPositionsByPortfolio(ctx, portfolioID)
		if err != nil {
			return err
		}
		applyDerived(pf, Compute(*pf, open))
		pf.UpdatedAt = a.now()
		if err := q.UpdatePortfolio(ctx, pf); err != nil {
			return err
		}
		out = pf
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.Invalidate(portfolioID)
	if a.pub != nil {
		a.pub.Publish(out.UserID, events.PortfolioUpdate, *out)
	}
	return out, nil
}

// Summary returns the portfolio's totals, served from a short-lived cache.
func (a *Aggregator) Summary(ctx context.Context, userID, portfolioID string) (*Summary, error) {
	if a.cfg.CacheTTL > 0 {
		a.mu.Lock()
		c, ok := a.cache[portfolioID]
		a.mu.Unlock()
		if ok && c.summary.UserID == userID && a.now().Sub(c.at) < a.cfg.CacheTTL {
			s := c.summary
			return &s, nil
		}
	}

	pf, err := a.Get(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	all, err := a.db.Queries().ListPositions(ctx, userID, portfolioID, true)
	if err != nil {
		return nil, err
	}
	s := Compute(*pf, all)

	if a.cfg.CacheTTL > 0 {
		a.mu.Lock()
		a.cache[portfolioID] = cachedSummary{at: a.now(), summary: s}
		a.mu.Unlock()
	}
	return &s, nil
}

// Invalidate drops a cached summary.
func (a *Aggregator) Invalidate(portfolioID string) {
	a.mu.Lock()
	delete(a.cache, portfolioID)
	a.mu.Unlock()
}
