package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-core/internal/apperr"
	"paper-core/pkg/db"
	"paper-core/pkg/i18n"
	"paper-core/pkg/num"
)

// Quoter is the slice of the price feed the store needs.
type Quoter interface {
	GetPrice(symbol string) (float64, error)
}

// StoreConfig holds order-store settings.
type StoreConfig struct {
	CommissionRate  float64
	ConflictRetries int
}

// Store owns order records and their lifecycle transitions.
type Store struct {
	db     *db.Database
	prices Quoter
	cfg    StoreConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewStore builds an order store.
func NewStore(database *db.Database, prices Quoter, cfg StoreConfig, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 5
	}
	return &Store{
		db:     database,
		prices: prices,
		cfg:    cfg,
		logger: logger.Named("orders"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) known(symbol string) bool {
	_, err := s.prices.GetPrice(symbol)
	return err == nil
}

// Place validates and persists a new order. A failed validation still
// persists the order as REJECTED and returns it alongside the error.
func (s *Store) Place(ctx context.Context, userID string, req PlaceRequest) (*db.Order, error) {
	req = req.Normalize()
	q := s.db.Queries()

	pf, err := q.GetPortfolio(ctx, req.PortfolioID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && pf.UserID != userID) {
		return nil, apperr.NotFound(apperr.CodePortfolioNotFound, i18n.M().PortfolioNotFound)
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	qty := num.Dec(req.Quantity)
	o := &db.Order{
		ID:                uuid.NewString(),
		UserID:            userID,
		PortfolioID:       req.PortfolioID,
		Symbol:            req.Symbol,
		Side:              req.Side,
		Type:              req.Type,
		Quantity:          qty,
		LimitPrice:        req.LimitPrice,
		StopPrice:         req.StopPrice,
		Status:            db.StatusPending,
		RemainingQuantity: qty,
		Source:            db.SourceUser,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	verr := Validate(req, s.known)
	if verr == nil && req.Side == db.SideBuy {
		verr, err = s.checkCash(req, req.Quantity, pf.CashBalance)
		if err != nil {
			return nil, err
		}
	}

	if verr != nil {
		o.Status = db.StatusRejected
		o.RejectionReason = verr.Message
		if err := q.InsertOrder(ctx, o); err != nil {
			return nil, err
		}
		s.logger.Info("order rejected",
			zap.String("order_id", o.ID),
			zap.String("user_id", userID),
			zap.String("code", verr.Code))
		return o, verr
	}

	if err := q.InsertOrder(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Debug("order accepted",
		zap.String("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("side", o.Side),
		zap.String("type", o.Type),
		zap.Stringer("quantity", o.Quantity))
	return o, nil
}

// checkCash rejects buys whose notional plus commission exceeds cash.
func (s *Store) checkCash(req PlaceRequest, qty, cash float64) (*apperr.Error, error) {
	var market float64
	if req.Type == db.TypeMarket {
		p, err := s.prices.GetPrice(req.Symbol)
		if err != nil {
			return nil, apperr.Transient(apperr.CodePriceUnavailable, i18n.M().PriceUnavailable, err)
		}
		market = p
	}
	need := num.Mul(num.Mul(qty, ReferencePrice(req, market)), 1+s.cfg.CommissionRate)
	if cash < need {
		return apperr.Business(apperr.CodeInsufficientFunds, i18n.M().InsufficientFunds), nil
	}
	return nil, nil
}

// owned loads an order and hides other users' orders as not found.
func owned(ctx context.Context, q *db.Queries, userID, id string) (*db.Order, error) {
	o, err := q.GetOrder(ctx, id)
	if errors.Is(err, db.ErrNotFound) || (err == nil && o.UserID != userID) {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, i18n.M().OrderNotFound)
	}
	return o, err
}

// Cancel moves a live order to CANCELLED. The write is version-checked, so a
// fill that lands first makes the cancel fail with INVALID_STATE.
func (s *Store) Cancel(ctx context.Context, userID, id string) (*db.Order, error) {
	var out *db.Order
	err := db.RetryOnConflict(ctx, s.cfg.ConflictRetries, func() error {
		q := s.db.Queries()
		o, err := owned(ctx, q, userID, id)
		if err != nil {
			return err
		}
		if !o.IsLive() {
			return apperr.Business(apperr.CodeInvalidState, i18n.M().OrderNotLive)
		}
		now := s.now()
		o.Status = db.StatusCancelled
		o.CancelledAt = &now
		o.UpdatedAt = now
		if err := q.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("order cancelled", zap.String("order_id", id))
	return out, nil
}

// Modify patches a live order's quantity or prices after re-running
// placement validation. A failed modification leaves the order untouched.
func (s *Store) Modify(ctx context.Context, userID, id string, patch ModifyRequest) (*db.Order, error) {
	if patch.Empty() {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "", i18n.M().NothingToModify)
	}

	var out *db.Order
	err := db.RetryOnConflict(ctx, s.cfg.ConflictRetries, func() error {
		q := s.db.Queries()
		o, err := owned(ctx, q, userID, id)
		if err != nil {
			return err
		}
		if !o.IsLive() {
			return apperr.Business(apperr.CodeInvalidState, i18n.M().OrderNotLive)
		}

		req := PlaceRequest{
			PortfolioID: o.PortfolioID,
			Symbol:      o.Symbol,
			Side:        o.Side,
			Type:        o.Type,
			Quantity:    o.Quantity.InexactFloat64(),
			LimitPrice:  o.LimitPrice,
			StopPrice:   o.StopPrice,
		}
		qty := o.Quantity
		if patch.Quantity != nil {
			qty = num.Dec(*patch.Quantity)
			if qty.LessThan(o.Quantity) {
				return apperr.Validation(apperr.CodeInvalidQuantity, "quantity", i18n.M().QuantityDecrease)
			}
			req.Quantity = *patch.Quantity
		}
		if patch.LimitPrice != nil {
			if o.Type != db.TypeLimit && o.Type != db.TypeStopLimit {
				return apperr.Validation(apperr.CodeInvalidInput, "limit_price", i18n.M().NoLimitPrice)
			}
			req.LimitPrice = *patch.LimitPrice
		}
		if patch.StopPrice != nil {
			if o.Type != db.TypeStop && o.Type != db.TypeStopLimit {
				return apperr.Validation(apperr.CodeInvalidInput, "stop_price", i18n.M().NoStopPrice)
			}
			req.StopPrice = *patch.StopPrice
		}
		if verr := Validate(req, s.known); verr != nil {
			return verr
		}

		remaining := qty.Sub(o.FilledQuantity)
		if req.Side == db.SideBuy {
			pf, err := q.GetPortfolio(ctx, o.PortfolioID)
			if err != nil {
				return err
			}
			verr, err := s.checkCash(req, remaining.InexactFloat64(), pf.CashBalance)
			if err != nil {
				return err
			}
			if verr != nil {
				return verr
			}
		}

		o.Quantity = qty
		o.RemainingQuantity = remaining
		o.LimitPrice = req.LimitPrice
		o.StopPrice = req.StopPrice
		o.UpdatedAt = s.now()
		if err := q.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one of the user's orders.
func (s *Store) Get(ctx context.Context, userID, id string) (*db.Order, error) {
	return owned(ctx, s.db.Queries(), userID, id)
}

// List returns the user's orders matching f.
func (s *Store) List(ctx context.Context, f db.OrderFilter) ([]db.Order, error) {
	return s.db.Queries().ListOrders(ctx, f)
}

// ListLive returns every order the processor should evaluate.
func (s *Store) ListLive(ctx context.Context) ([]db.Order, error) {
	return s.db.Queries().ListLiveOrders(ctx)
}

// ApplyFillTx records an execution of qty at price against o inside the
// caller's transaction. qty must not exceed o.RemainingQuantity.
func ApplyFillTx(ctx context.Context, q *db.Queries, o *db.Order, qty decimal.Decimal, price, commission float64, now time.Time) error {
	if !o.IsLive() {
		return ErrNotLive
	}
	if !qty.IsPositive() || qty.GreaterThan(o.RemainingQuantity) {
		return errors.New("fill quantity out of range")
	}

	prevFilled := o.FilledQuantity
	o.FilledQuantity = prevFilled.Add(qty)
	o.RemainingQuantity = o.Quantity.Sub(o.FilledQuantity)
	o.AverageFillPrice = num.WeightedAvg(prevFilled.InexactFloat64(), o.AverageFillPrice, qty.InexactFloat64(), price)
	o.Commission = num.Add(o.Commission, commission)
	o.UpdatedAt = now

	if o.RemainingQuantity.IsZero() {
		o.RemainingQuantity = decimal.Zero
		o.FilledQuantity = o.Quantity
		o.Status = db.StatusFilled
		o.FilledAt = &now
	} else {
		o.Status = db.StatusPartiallyFilled
	}
	return q.UpdateOrder(ctx, o)
}

// ClosingOrder describes a system-generated order that closes a position.
type ClosingOrder struct {
	UserID      string
	PortfolioID string
	Symbol      string
	Side        string
	Quantity    float64
	Price       float64
	Commission  float64
	Source      string
}

// RecordClosingOrderTx inserts an already-FILLED MARKET order for a risk exit
// or manual close so the resulting trade has an order to reference.
func RecordClosingOrderTx(ctx context.Context, q *db.Queries, c ClosingOrder, now time.Time) (*db.Order, error) {
	o := &db.Order{
		ID:               uuid.NewString(),
		UserID:           c.UserID,
		PortfolioID:      c.PortfolioID,
		Symbol:           c.Symbol,
		Side:             c.Side,
		Type:             db.TypeMarket,
		Quantity:         num.Dec(c.Quantity),
		Status:           db.StatusFilled,
		FilledQuantity:   num.Dec(c.Quantity),
		AverageFillPrice: c.Price,
		Commission:       c.Commission,
		Source:           c.Source,
		CreatedAt:        now,
		UpdatedAt:        now,
		FilledAt:         &now,
	}
	if err := q.InsertOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}
