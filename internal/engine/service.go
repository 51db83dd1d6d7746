// Package engine is the command and query surface of the paper-trading core.
// The API layer talks to the engine only through Service.
package engine

import (
	"context"

	"paper-core/internal/order"
)

// Service defines the engine's command and query operations. Expected
// business failures come back in Result.Errors, never as Go errors.
type Service interface {
	// Commands
	PlaceOrder(ctx context.Context, userID string, req order.PlaceRequest) Result
	CancelOrder(ctx context.Context, userID, orderID string) Result
	ModifyOrder(ctx context.Context, userID, orderID string, patch order.ModifyRequest) Result
	ClosePosition(ctx context.Context, userID, positionID string) Result
	SetStopLoss(ctx context.Context, userID, positionID string, level float64) Result
	SetTakeProfit(ctx context.Context, userID, positionID string, level float64) Result
	CreatePortfolio(ctx context.Context, userID, name string, initialCapital float64) Result

	// Queries
	GetOrders(ctx context.Context, userID, portfolioID string, q OrderQuery) Result
	GetPositions(ctx context.Context, userID, portfolioID string, includeClosed bool) Result
	GetTrades(ctx context.Context, userID, portfolioID, orderID string, limit int) Result
	GetPortfolioSummary(ctx context.Context, userID, portfolioID string) Result
	ListPortfolios(ctx context.Context, userID string) Result

	// Market
	GetPrices(ctx context.Context) Result
	GetPrice(ctx context.Context, symbol string) Result

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
}
