package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-core/internal/apperr"
	"paper-core/internal/events"
	"paper-core/internal/monitor"
	"paper-core/internal/order"
	"paper-core/internal/portfolio"
	"paper-core/internal/position"
	"paper-core/internal/risk"
	"paper-core/pkg/db"
	"paper-core/pkg/i18n"
	"paper-core/pkg/keylock"
	"paper-core/pkg/num"
)

// Settler applies each execution as one transaction spanning the order, the
// position, the trade and the portfolio, then notifies the owner.
type Settler struct {
	db         *db.Database
	orderLocks *keylock.Locker
	ledger     *position.Ledger
	portfolios *portfolio.Aggregator
	pub        events.Publisher
	bus        *events.Bus
	rate       float64
	retries    int
	logger     *zap.Logger
	metrics    *monitor.SystemMetrics
	now        func() time.Time
}

// SettlerConfig holds settlement settings.
type SettlerConfig struct {
	CommissionRate  float64
	ConflictRetries int
}

// NewSettler builds a settler and registers it as the ledger's closer.
func NewSettler(database *db.Database, ledger *position.Ledger, portfolios *portfolio.Aggregator,
	pub events.Publisher, bus *events.Bus, cfg SettlerConfig, logger *zap.Logger, metrics *monitor.SystemMetrics) *Settler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 5
	}
	s := &Settler{
		db:         database,
		orderLocks: keylock.New(0),
		ledger:     ledger,
		portfolios: portfolios,
		pub:        pub,
		bus:        bus,
		rate:       cfg.CommissionRate,
		retries:    cfg.ConflictRetries,
		logger:     logger.Named("settle"),
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
	ledger.SetCloser(s)
	ledger.SetRecomputer(portfolios)
	return s
}

// settled is everything one committed execution touched.
type settled struct {
	Order     *db.Order
	Outcome   position.Outcome
	Portfolio *db.Portfolio
	Price     float64
	Reason    string
}

func (s *Settler) commission(qty, price float64) float64 {
	return num.Mul(num.Mul(qty, price), s.rate)
}

// Settle applies a fill decision. Fills for one order are serialized, and a
// fill decided on an older order version is dropped with order.ErrStaleFill.
func (s *Settler) Settle(ctx context.Context, fill order.FillEvent) error {
	start := time.Now()
	head, err := s.db.Queries().GetOrder(ctx, fill.OrderID)
	if err != nil {
		return err
	}

	unlockOrder := s.orderLocks.Lock(head.ID)
	defer unlockOrder()
	unlockPos := s.ledger.Lock(head.UserID, head.PortfolioID, head.Symbol)
	defer unlockPos()

	var res settled
	err = db.RetryOnConflict(ctx, s.retries, func() error {
		return s.db.InTx(ctx, func(q *db.Queries) error {
			o, err := q.GetOrder(ctx, fill.OrderID)
			if err != nil {
				return err
			}
			if fill.OrderVersion != 0 && o.Version != fill.OrderVersion {
				return order.ErrStaleFill
			}
			if !o.IsLive() {
				return order.ErrNotLive
			}

			qty := decimal.Min(fill.Quantity, o.RemainingQuantity)
			qf := qty.InexactFloat64()
			fee := s.commission(qf, fill.Price)
			now := s.now()
			if err := order.ApplyFillTx(ctx, q, o, qty, fill.Price, fee, now); err != nil {
				return err
			}
			out, err := s.ledger.ApplyFillTx(ctx, q, position.Fill{
				OrderID:     o.ID,
				UserID:      o.UserID,
				PortfolioID: o.PortfolioID,
				Symbol:      o.Symbol,
				Side:        o.Side,
				Quantity:    qf,
				Price:       fill.Price,
				Commission:  fee,
				Kind:        db.TradeFill,
				At:          now,
			})
			if err != nil {
				return err
			}
			pf, err := s.portfolios.SettleTx(ctx, q, o.PortfolioID, o.Side, qf, fill.Price, fee)
			if err != nil {
				return err
			}
			res = settled{Order: o, Outcome: out, Portfolio: pf, Price: fill.Price}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, db.ErrConflict) && s.metrics != nil {
			s.metrics.Conflict()
		}
		return err
	}

	s.publish(res)
	if s.metrics != nil {
		s.metrics.FillApplied()
		s.metrics.SettleLatency.RecordDuration(time.Since(start))
	}
	s.logger.Debug("fill settled",
		zap.String("order_id", res.Order.ID),
		zap.String("status", res.Order.Status),
		zap.Float64("quantity", res.Outcome.Trade.Quantity),
		zap.Float64("price", res.Outcome.Trade.Price))
	return nil
}

// ClosePositionAt fully closes a position at price with a synthesized
// FILLED MARKET order. It returns position.ErrPositionClosed if the position
// is already flat, which makes repeated risk exits no-ops.
//
// Risk exits are decided again under the position lock against the stored
// position. The close happens at its current price, and
// position.ErrExitNotTriggered is returned when no level fires any more.
func (s *Settler) ClosePositionAt(ctx context.Context, positionID string, price float64, source, reason string) error {
	_, err := s.closeAt(ctx, positionID, price, source, reason)
	return err
}

func (s *Settler) closeAt(ctx context.Context, positionID string, price float64, source, reason string) (settled, error) {
	head, err := s.db.Queries().GetPosition(ctx, positionID)
	if errors.Is(err, db.ErrNotFound) {
		return settled{}, apperr.NotFound(apperr.CodePositionNotFound, i18n.M().PositionNotFound)
	}
	if err != nil {
		return settled{}, err
	}
	if !head.IsOpen() {
		return settled{}, position.ErrPositionClosed
	}

	unlock := s.ledger.Lock(head.UserID, head.PortfolioID, head.Symbol)
	defer unlock()

	kind := db.TradeManualClose
	if source == db.SourceRiskExit {
		kind = db.TradeRiskExit
	}

	var res settled
	err = db.RetryOnConflict(ctx, s.retries, func() error {
		return s.db.InTx(ctx, func(q *db.Queries) error {
			p, err := q.GetPosition(ctx, positionID)
			if err != nil {
				return err
			}
			if !p.IsOpen() {
				return position.ErrPositionClosed
			}
			price, reason := price, reason
			if source == db.SourceRiskExit {
				trig := risk.Evaluate(*p)
				if trig == risk.TriggerNone {
					return position.ErrExitNotTriggered
				}
				price, reason = p.CurrentPrice, string(trig)
			}

			side := db.SideSell
			if p.Quantity < 0 {
				side = db.SideBuy
			}
			qty := num.Abs(p.Quantity)
			fee := s.commission(qty, price)
			now := s.now()

			o, err := order.RecordClosingOrderTx(ctx, q, order.ClosingOrder{
				UserID:      p.UserID,
				PortfolioID: p.PortfolioID,
				Symbol:      p.Symbol,
				Side:        side,
				Quantity:    qty,
				Price:       price,
				Commission:  fee,
				Source:      source,
			}, now)
			if err != nil {
				return err
			}
			out, err := s.ledger.ApplyFillTx(ctx, q, position.Fill{
				OrderID:     o.ID,
				UserID:      p.UserID,
				PortfolioID: p.PortfolioID,
				Symbol:      p.Symbol,
				Side:        side,
				Quantity:    qty,
				Price:       price,
				Commission:  fee,
				Kind:        kind,
				At:          now,
			})
			if err != nil {
				return err
			}
			pf, err := s.portfolios.SettleTx(ctx, q, p.PortfolioID, side, qty, price, fee)
			if err != nil {
				return err
			}
			res = settled{Order: o, Outcome: out, Portfolio: pf, Price: price, Reason: reason}
			return nil
		})
	})
	if err != nil {
		return settled{}, err
	}

	s.publish(res)
	if source == db.SourceRiskExit {
		s.announceRiskExit(res)
	}
	s.logger.Info("position closed",
		zap.String("position_id", positionID),
		zap.String("source", source),
		zap.String("reason", res.Reason),
		zap.Float64("price", res.Price),
		zap.Float64("realized_pnl", res.Outcome.Trade.RealizedPnL))
	return res, nil
}

// RiskExitEvent is the RISK_EXIT_TRIGGERED payload.
type RiskExitEvent struct {
	Trigger  string      `json:"trigger"`
	Price    float64     `json:"price"`
	Position db.Position `json:"position"`
	Trade    db.Trade    `json:"trade"`
}

func (s *Settler) announceRiskExit(res settled) {
	if res.Outcome.Updated == nil {
		return
	}
	p := *res.Outcome.Updated
	trigger, price := res.Reason, res.Price
	if s.pub != nil {
		s.pub.Publish(p.UserID, events.RiskExitTriggered, RiskExitEvent{
			Trigger:  trigger,
			Price:    price,
			Position: p,
			Trade:    res.Outcome.Trade,
		})
	}
	if s.bus != nil {
		s.bus.Publish(events.EventRiskExit, events.RiskExitNotice{
			UserID:      p.UserID,
			PortfolioID: p.PortfolioID,
			PositionID:  p.ID,
			Symbol:      p.Symbol,
			Trigger:     trigger,
			Price:       price,
			RealizedPnL: res.Outcome.Trade.RealizedPnL,
		})
	}
}

// publish runs after commit so subscribers never see rolled-back state.
func (s *Settler) publish(res settled) {
	s.portfolios.Invalidate(res.Portfolio.ID)
	if s.pub == nil {
		return
	}
	user := res.Order.UserID
	s.pub.Publish(user, events.OrderUpdate, *res.Order)
	for _, p := range res.Outcome.Touched() {
		s.pub.Publish(user, events.PositionUpdate, p)
	}
	s.pub.Publish(user, events.TradeUpdate, res.Outcome.Trade)
	s.pub.Publish(user, events.PortfolioUpdate, *res.Portfolio)
}
