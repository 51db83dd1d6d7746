// Package position maintains per-symbol positions, their P&L and the
// stop-loss / take-profit exits that close them.
package position

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"paper-core/internal/apperr"
	"paper-core/internal/events"
	"paper-core/internal/market"
	"paper-core/internal/monitor"
	"paper-core/internal/risk"
	"paper-core/pkg/db"
	"paper-core/pkg/i18n"
	"paper-core/pkg/keylock"
)

// ErrPositionClosed is returned when closing a position that is already flat.
var ErrPositionClosed = errors.New("position already closed")

// ErrExitNotTriggered is returned by a Closer when a risk exit no longer
// fires against the stored position.
var ErrExitNotTriggered = errors.New("risk level no longer triggered")

// Closer fully closes a position at price through the settlement path.
type Closer interface {
	ClosePositionAt(ctx context.Context, positionID string, price float64, source, reason string) error
}

// Recomputer refreshes a portfolio's derived totals.
type Recomputer interface {
	Recompute(ctx context.Context, portfolioID string) (*db.Portfolio, error)
}

// LedgerConfig tunes the ledger.
type LedgerConfig struct {
	ConflictRetries int
	TickBuffer      int
}

// Ledger owns positions and trades.
type Ledger struct {
	db         *db.Database
	locks      *keylock.Locker
	bus        *events.Bus
	pub        events.Publisher
	closer     Closer
	recomputer Recomputer
	cfg        LedgerConfig
	logger     *zap.Logger
	metrics    *monitor.SystemMetrics
	now        func() time.Time
}

// NewLedger builds a ledger. Call SetCloser and SetRecomputer before Run.
func NewLedger(database *db.Database, bus *events.Bus, pub events.Publisher, cfg LedgerConfig,
	logger *zap.Logger, metrics *monitor.SystemMetrics) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 5
	}
	if cfg.TickBuffer <= 0 {
		cfg.TickBuffer = 1024
	}
	return &Ledger{
		db:      database,
		locks:   keylock.New(0),
		bus:     bus,
		pub:     pub,
		cfg:     cfg,
		logger:  logger.Named("ledger"),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) SetCloser(c Closer)         { l.closer = c }
func (l *Ledger) SetRecomputer(r Recomputer) { l.recomputer = r }

// Key identifies the position slot fills and re-pricing serialize on.
func Key(userID, portfolioID, symbol string) string {
	return userID + "|" + portfolioID + "|" + symbol
}

// Lock serializes writers of one (user, portfolio, symbol) slot.
func (l *Ledger) Lock(userID, portfolioID, symbol string) func() {
	return l.locks.Lock(Key(userID, portfolioID, symbol))
}

// ApplyFillTx applies f inside the caller's transaction and records the
// trade. The caller must hold Lock for the fill's slot.
func (l *Ledger) ApplyFillTx(ctx context.Context, q *db.Queries, f Fill) (Outcome, error) {
	open, err := q.GetOpenPosition(ctx, f.UserID, f.PortfolioID, f.Symbol)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return Outcome{}, err
	}
	if errors.Is(err, db.ErrNotFound) {
		open = nil
	}

	out := Apply(open, f)
	// The old lot is written first so a crossing fill frees the open slot
	// before the new lot is inserted.
	if out.Updated != nil {
		if err := q.UpdatePosition(ctx, out.Updated); err != nil {
			return Outcome{}, err
		}
	}
	if out.Opened != nil {
		if err := q.InsertPosition(ctx, out.Opened); err != nil {
			return Outcome{}, err
		}
	}
	if err := q.InsertTrade(ctx, &out.Trade); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// Get returns one of the user's positions.
func (l *Ledger) Get(ctx context.Context, userID, id string) (*db.Position, error) {
	p, err := l.db.Queries().GetPosition(ctx, id)
	if errors.Is(err, db.ErrNotFound) || (err == nil && p.UserID != userID) {
		return nil, apperr.NotFound(apperr.CodePositionNotFound, i18n.M().PositionNotFound)
	}
	return p, err
}

// List returns a portfolio's positions.
func (l *Ledger) List(ctx context.Context, userID, portfolioID string, includeClosed bool) ([]db.Position, error) {
	return l.db.Queries().ListPositions(ctx, userID, portfolioID, includeClosed)
}

// Trades returns a portfolio's executions, newest first. orderID narrows
// them to one order when set.
func (l *Ledger) Trades(ctx context.Context, userID, portfolioID, orderID string, limit int) ([]db.Trade, error) {
	return l.db.Queries().ListTrades(ctx, userID, portfolioID, orderID, limit)
}

// Reprice marks every open position in symbol to price and refreshes the
// affected portfolios. One position's failure does not stop the rest.
func (l *Ledger) Reprice(ctx context.Context, symbol string, price float64) ([]db.Position, error) {
	start := time.Now()
	open, err := l.db.Queries().ListOpenPositionsBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var repriced []db.Position
	portfolios := make(map[string]struct{})
	for _, p := range open {
		updated, err := l.repriceOne(ctx, p, price)
		if err != nil {
			l.incError()
			l.logger.Warn("reprice failed", zap.String("position_id", p.ID), zap.Error(err))
			continue
		}
		if updated == nil {
			continue
		}
		repriced = append(repriced, *updated)
		portfolios[updated.PortfolioID] = struct{}{}
		if l.pub != nil {
			l.pub.Publish(updated.UserID, events.PositionUpdate, *updated)
		}
	}

	if l.recomputer != nil {
		for pf := range portfolios {
			if _, err := l.recomputer.Recompute(ctx, pf); err != nil {
				l.incError()
				l.logger.Warn("portfolio recompute failed", zap.String("portfolio_id", pf), zap.Error(err))
			}
		}
	}
	if l.metrics != nil {
		l.metrics.RepriceLatency.RecordDuration(time.Since(start))
	}
	return repriced, nil
}

func (l *Ledger) repriceOne(ctx context.Context, p db.Position, price float64) (*db.Position, error) {
	unlock := l.Lock(p.UserID, p.PortfolioID, p.Symbol)
	defer unlock()

	var updated *db.Position
	err := db.RetryOnConflict(ctx, l.cfg.ConflictRetries, func() error {
		q := l.db.Queries()
		cur, err := q.GetPosition(ctx, p.ID)
		if err != nil {
			return err
		}
		if !cur.IsOpen() {
			updated = nil
			return nil
		}
		Reprice(cur, price, l.now())
		if err := q.UpdatePosition(ctx, cur); err != nil {
			return err
		}
		updated = cur
		return nil
	})
	return updated, err
}

// EvaluateRiskExits closes p through the Closer if its stop-loss or
// take-profit has been crossed. Closing an already-closed position is a
// no-op, so evaluating twice never produces a second closing trade.
func (l *Ledger) EvaluateRiskExits(ctx context.Context, p db.Position) (risk.Trigger, error) {
	trig := risk.Evaluate(p)
	if trig == risk.TriggerNone {
		return risk.TriggerNone, nil
	}
	if l.closer == nil {
		return risk.TriggerNone, errors.New("ledger has no closer")
	}

	err := l.closer.ClosePositionAt(ctx, p.ID, p.CurrentPrice, db.SourceRiskExit, string(trig))
	if errors.Is(err, ErrPositionClosed) || errors.Is(err, ErrExitNotTriggered) {
		return risk.TriggerNone, nil
	}
	if err != nil {
		return risk.TriggerNone, err
	}
	l.logger.Info("risk exit",
		zap.String("position_id", p.ID),
		zap.String("symbol", p.Symbol),
		zap.String("trigger", string(trig)),
		zap.Float64("price", p.CurrentPrice))
	return trig, nil
}

// OnTick re-prices the tick's symbol and evaluates exits on what moved.
func (l *Ledger) OnTick(ctx context.Context, t market.Tick) {
	if l.metrics != nil {
		l.metrics.TickProcessed()
	}
	repriced, err := l.Reprice(ctx, t.Symbol, t.Price)
	if err != nil {
		l.incError()
		l.logger.Warn("reprice sweep failed", zap.String("symbol", t.Symbol), zap.Error(err))
		return
	}
	for _, p := range repriced {
		if _, err := l.EvaluateRiskExits(ctx, p); err != nil {
			l.incError()
			l.logger.Warn("risk exit failed", zap.String("position_id", p.ID), zap.Error(err))
		}
	}
}

// Run consumes price ticks from the bus until ctx is cancelled.
func (l *Ledger) Run(ctx context.Context) error {
	if l.bus == nil {
		return errors.New("ledger has no bus")
	}
	ticks, unsub := l.bus.Subscribe(events.EventPriceTick, l.cfg.TickBuffer)
	defer unsub()
	l.logger.Info("position ledger started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("position ledger stopped",
				zap.Int64("ticks_dropped", l.bus.Dropped(events.EventPriceTick)))
			return nil
		case msg, ok := <-ticks:
			if !ok {
				return nil
			}
			if t, ok := msg.(market.Tick); ok {
				l.OnTick(ctx, t)
			}
		}
	}
}

// SetStopLoss sets or clears (level 0) a position's stop.
func (l *Ledger) SetStopLoss(ctx context.Context, userID, positionID string, level float64) (*db.Position, error) {
	return l.setLevel(ctx, userID, positionID, func(p *db.Position) error {
		if err := risk.ValidateStopLoss(p.Side, p.CurrentPrice, level); err != nil {
			return apperr.Business(apperr.CodeInvalidLevel, i18n.M().InvalidStopLoss)
		}
		p.StopLoss = level
		return nil
	})
}

// SetTakeProfit sets or clears (level 0) a position's target.
func (l *Ledger) SetTakeProfit(ctx context.Context, userID, positionID string, level float64) (*db.Position, error) {
	return l.setLevel(ctx, userID, positionID, func(p *db.Position) error {
		if err := risk.ValidateTakeProfit(p.Side, p.CurrentPrice, level); err != nil {
			return apperr.Business(apperr.CodeInvalidLevel, i18n.M().InvalidTakeProfit)
		}
		p.TakeProfit = level
		return nil
	})
}

func (l *Ledger) setLevel(ctx context.Context, userID, positionID string, apply func(*db.Position) error) (*db.Position, error) {
	p, err := l.Get(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}
	unlock := l.Lock(p.UserID, p.PortfolioID, p.Symbol)
	defer unlock()

	var out *db.Position
	err = db.RetryOnConflict(ctx, l.cfg.ConflictRetries, func() error {
		q := l.db.Queries()
		cur, err := q.GetPosition(ctx, positionID)
		if err != nil {
			return err
		}
		if !cur.IsOpen() {
			return apperr.Business(apperr.CodeInvalidState, i18n.M().PositionClosed)
		}
		if err := apply(cur); err != nil {
			return err
		}
		cur.UpdatedAt = l.now()
		if err := q.UpdatePosition(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	if l.pub != nil {
		l.pub.Publish(out.UserID, events.PositionUpdate, *out)
	}
	return out, nil
}

func (l *Ledger) incError() {
	if l.metrics != nil {
		l.metrics.Error()
	}
}
