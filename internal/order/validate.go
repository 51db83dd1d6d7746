package order

import (
	"paper-core/internal/apperr"
	"paper-core/pkg/db"
	"paper-core/pkg/i18n"
	"paper-core/pkg/num"
)

// Validate checks the shape of an order. known reports whether the feed
// quotes a symbol. The first failure wins.
func Validate(req PlaceRequest, known func(string) bool) *apperr.Error {
	if req.Quantity <= 0 {
		return apperr.Validation(apperr.CodeInvalidQuantity, "quantity", i18n.M().InvalidQuantity)
	}
	if !num.Fits(req.Quantity) {
		return apperr.Validation(apperr.CodeInvalidQuantity, "quantity", i18n.M().QuantityPrecision)
	}
	if req.Side != db.SideBuy && req.Side != db.SideSell {
		return apperr.Validation(apperr.CodeInvalidSide, "side", i18n.M().InvalidSide)
	}
	switch req.Type {
	case db.TypeMarket, db.TypeLimit, db.TypeStop, db.TypeStopLimit:
	default:
		return apperr.Validation(apperr.CodeInvalidType, "type", i18n.M().InvalidType)
	}
	if known != nil && !known(req.Symbol) {
		return apperr.Validation(apperr.CodeUnknownSymbol, "symbol", i18n.M().UnknownSymbol)
	}

	needsLimit := req.Type == db.TypeLimit || req.Type == db.TypeStopLimit
	needsStop := req.Type == db.TypeStop || req.Type == db.TypeStopLimit
	if needsLimit && req.LimitPrice <= 0 {
		return apperr.Validation(apperr.CodeMissingLimitPrice, "limit_price", i18n.M().MissingLimitPrice)
	}
	if needsStop && req.StopPrice <= 0 {
		return apperr.Validation(apperr.CodeMissingStopPrice, "stop_price", i18n.M().MissingStopPrice)
	}
	if req.Type == db.TypeStopLimit {
		// Buy: stop <= limit. Sell: stop >= limit.
		if (req.Side == db.SideBuy && req.StopPrice > req.LimitPrice) ||
			(req.Side == db.SideSell && req.StopPrice < req.LimitPrice) {
			return apperr.Validation(apperr.CodeInvalidStopLimit, "stop_price", i18n.M().InvalidStopLimit)
		}
	}
	return nil
}

// ReferencePrice is the price used for the buy-side cash check: the limit for
// LIMIT and STOP_LIMIT, the stop for STOP, the market price for MARKET.
func ReferencePrice(req PlaceRequest, market float64) float64 {
	switch req.Type {
	case db.TypeLimit, db.TypeStopLimit:
		return req.LimitPrice
	case db.TypeStop:
		return req.StopPrice
	default:
		return market
	}
}
