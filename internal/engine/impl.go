package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"paper-core/internal/apperr"
	"paper-core/internal/events"
	"paper-core/internal/market"
	"paper-core/internal/monitor"
	"paper-core/internal/order"
	"paper-core/internal/portfolio"
	"paper-core/internal/position"
	"paper-core/pkg/cache"
	"paper-core/pkg/db"
	"paper-core/pkg/i18n"
)

// Market is the read side of the price feed the engine serves.
type Market interface {
	GetPrice(symbol string) (float64, error)
	Quote(symbol string) (cache.Quote, error)
	Snapshot() map[string]cache.Quote
	Symbols() []string
}

// Impl implements Service by composing the order store, the position ledger,
// the portfolio aggregator and the settler.
type Impl struct {
	orders     *order.Store
	ledger     *position.Ledger
	portfolios *portfolio.Aggregator
	settler    *Settler
	market     Market
	pub        events.Publisher
	metrics    *monitor.SystemMetrics
	logger     *zap.Logger

	defaultCapital float64
	meta           SystemStatus
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	Orders     *order.Store
	Ledger     *position.Ledger
	Portfolios *portfolio.Aggregator
	Settler    *Settler
	Market     Market
	Publisher  events.Publisher
	Metrics    *monitor.SystemMetrics
	Logger     *zap.Logger

	// DefaultInitialCapital funds portfolios created without an amount.
	DefaultInitialCapital float64
	Version               string
}

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Impl{
		orders:         cfg.Orders,
		ledger:         cfg.Ledger,
		portfolios:     cfg.Portfolios,
		settler:        cfg.Settler,
		market:         cfg.Market,
		pub:            cfg.Publisher,
		metrics:        cfg.Metrics,
		logger:         logger.Named("engine"),
		defaultCapital: cfg.DefaultInitialCapital,
		meta: SystemStatus{
			Version:   cfg.Version,
			StartedAt: time.Now().UTC(),
		},
	}
}

var _ Service = (*Impl)(nil)

// failure classifies err and records it.
func (e *Impl) failure(op string, data any, err error) Result {
	ae := apperr.From(err)
	switch ae.Kind {
	case apperr.KindConflict:
		if e.metrics != nil {
			e.metrics.Conflict()
		}
		e.logger.Warn("conflict retries exhausted", zap.String("op", op), zap.Error(err))
	case apperr.KindTransient:
		if e.metrics != nil {
			e.metrics.Error()
		}
		e.logger.Error("operation failed", zap.String("op", op), zap.Error(err))
	}
	return fail(data, ae)
}

func (e *Impl) publishOrder(o *db.Order) {
	if e.pub != nil && o != nil {
		e.pub.Publish(o.UserID, events.OrderUpdate, *o)
	}
}

// --- Commands ---

func (e *Impl) PlaceOrder(ctx context.Context, userID string, req order.PlaceRequest) Result {
	o, err := e.orders.Place(ctx, userID, req)
	if err != nil {
		if o != nil {
			// Rejected but persisted.
			if e.metrics != nil {
				e.metrics.OrderRejected()
			}
			e.publishOrder(o)
			return e.failure("place_order", *o, err)
		}
		return e.failure("place_order", nil, err)
	}
	if e.metrics != nil {
		e.metrics.OrderPlaced()
	}
	e.publishOrder(o)
	return ok(*o)
}

func (e *Impl) CancelOrder(ctx context.Context, userID, orderID string) Result {
	o, err := e.orders.Cancel(ctx, userID, orderID)
	if err != nil {
		return e.failure("cancel_order", nil, err)
	}
	e.publishOrder(o)
	return ok(*o)
}

func (e *Impl) ModifyOrder(ctx context.Context, userID, orderID string, patch order.ModifyRequest) Result {
	o, err := e.orders.Modify(ctx, userID, orderID, patch)
	if err != nil {
		return e.failure("modify_order", nil, err)
	}
	e.publishOrder(o)
	return ok(*o)
}

func (e *Impl) ClosePosition(ctx context.Context, userID, positionID string) Result {
	p, err := e.ledger.Get(ctx, userID, positionID)
	if err != nil {
		return e.failure("close_position", nil, err)
	}
	if !p.IsOpen() {
		return fail(nil, apperr.Business(apperr.CodeInvalidState, i18n.M().PositionClosed))
	}
	price, err := e.market.GetPrice(p.Symbol)
	if err != nil {
		return fail(nil, apperr.Transient(apperr.CodePriceUnavailable, i18n.M().PriceUnavailable, err))
	}

	res, err := e.settler.closeAt(ctx, positionID, price, db.SourceManualClose, "MANUAL")
	if errors.Is(err, position.ErrPositionClosed) {
		return fail(nil, apperr.Business(apperr.CodeInvalidState, i18n.M().PositionClosed))
	}
	if err != nil {
		return e.failure("close_position", nil, err)
	}
	out := CloseResult{
		Order:     *res.Order,
		Trade:     res.Outcome.Trade,
		Portfolio: *res.Portfolio,
	}
	if res.Outcome.Updated != nil {
		out.Position = *res.Outcome.Updated
	}
	return ok(out)
}

func (e *Impl) SetStopLoss(ctx context.Context, userID, positionID string, level float64) Result {
	p, err := e.ledger.SetStopLoss(ctx, userID, positionID, level)
	if err != nil {
		return e.failure("set_stop_loss", nil, err)
	}
	return ok(*p)
}

func (e *Impl) SetTakeProfit(ctx context.Context, userID, positionID string, level float64) Result {
	p, err := e.ledger.SetTakeProfit(ctx, userID, positionID, level)
	if err != nil {
		return e.failure("set_take_profit", nil, err)
	}
	return ok(*p)
}

func (e *Impl) CreatePortfolio(ctx context.Context, userID, name string, initialCapital float64) Result {
	if initialCapital == 0 {
		initialCapital = e.defaultCapital
	}
	pf, err := e.portfolios.Create(ctx, userID, name, initialCapital)
	if err != nil {
		return e.failure("create_portfolio", nil, err)
	}
	return ok(*pf)
}

// --- Queries ---

func (e *Impl) GetOrders(ctx context.Context, userID, portfolioID string, q OrderQuery) Result {
	if _, err := e.portfolios.Get(ctx, userID, portfolioID); err != nil {
		return e.failure("get_orders", nil, err)
	}
	orders, err := e.orders.List(ctx, db.OrderFilter{
		UserID:      userID,
		PortfolioID: portfolioID,
		Statuses:    q.Statuses,
		Symbol:      q.Symbol,
		Side:        q.Side,
		Limit:       q.Limit,
	})
	if err != nil {
		return e.failure("get_orders", nil, err)
	}
	if orders == nil {
		orders = []db.Order{}
	}
	return ok(orders)
}

func (e *Impl) GetPositions(ctx context.Context, userID, portfolioID string, includeClosed bool) Result {
	if _, err := e.portfolios.Get(ctx, userID, portfolioID); err != nil {
		return e.failure("get_positions", nil, err)
	}
	positions, err := e.ledger.List(ctx, userID, portfolioID, includeClosed)
	if err != nil {
		return e.failure("get_positions", nil, err)
	}
	if positions == nil {
		positions = []db.Position{}
	}
	return ok(positions)
}

func (e *Impl) GetTrades(ctx context.Context, userID, portfolioID, orderID string, limit int) Result {
	if _, err := e.portfolios.Get(ctx, userID, portfolioID); err != nil {
		return e.failure("get_trades", nil, err)
	}
	trades, err := e.ledger.Trades(ctx, userID, portfolioID, orderID, limit)
	if err != nil {
		return e.failure("get_trades", nil, err)
	}
	if trades == nil {
		trades = []db.Trade{}
	}
	return ok(trades)
}

func (e *Impl) GetPortfolioSummary(ctx context.Context, userID, portfolioID string) Result {
	s, err := e.portfolios.Summary(ctx, userID, portfolioID)
	if err != nil {
		return e.failure("get_portfolio_summary", nil, err)
	}
	return ok(*s)
}

func (e *Impl) ListPortfolios(ctx context.Context, userID string) Result {
	list, err := e.portfolios.List(ctx, userID)
	if err != nil {
		return e.failure("list_portfolios", nil, err)
	}
	if list == nil {
		list = []db.Portfolio{}
	}
	return ok(list)
}

// --- Market ---

func (e *Impl) GetPrices(ctx context.Context) Result {
	snap := e.market.Snapshot()
	out := make([]PriceQuote, 0, len(snap))
	for sym, q := range snap {
		out = append(out, PriceQuote{Symbol: sym, Price: q.Price, UpdatedAt: q.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return ok(out)
}

func (e *Impl) GetPrice(ctx context.Context, symbol string) Result {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	q, err := e.market.Quote(symbol)
	if errors.Is(err, market.ErrUnknownSymbol) {
		return fail(nil, apperr.NotFound(apperr.CodeUnknownSymbol, i18n.M().UnknownSymbol))
	}
	if err != nil {
		return fail(nil, apperr.Transient(apperr.CodePriceUnavailable, i18n.M().PriceUnavailable, err))
	}
	return ok(PriceQuote{Symbol: symbol, Price: q.Price, UpdatedAt: q.UpdatedAt})
}

// --- System ---

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	status := e.meta
	status.Symbols = e.market.Symbols()
	status.ServerTime = time.Now().UTC()
	if e.metrics != nil {
		snap := e.metrics.GetSnapshot()
		status.Metrics = &snap
	}
	return &status
}
