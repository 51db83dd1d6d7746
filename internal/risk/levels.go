// Package risk decides stop-loss and take-profit placement and triggers.
package risk

import (
	"errors"

	"paper-core/pkg/db"
)

// Trigger names the risk level that fired.
type Trigger string

const (
	TriggerNone       Trigger = ""
	TriggerStopLoss   Trigger = "STOP_LOSS"
	TriggerTakeProfit Trigger = "TAKE_PROFIT"
)

var (
	// ErrInvalidStopLoss means the stop is not a worse price than current.
	ErrInvalidStopLoss = errors.New("stop loss on wrong side of current price")
	// ErrInvalidTakeProfit means the target is not a better price than current.
	ErrInvalidTakeProfit = errors.New("take profit on wrong side of current price")
	ErrNegativeLevel     = errors.New("level must not be negative")
)

// ValidateStopLoss checks a stop for a position side at the current price.
// Zero clears the stop and is always valid.
func ValidateStopLoss(side string, current, level float64) error {
	switch {
	case level < 0:
		return ErrNegativeLevel
	case level == 0:
		return nil
	case side == db.PositionLong && level >= current:
		return ErrInvalidStopLoss
	case side == db.PositionShort && level <= current:
		return ErrInvalidStopLoss
	}
	return nil
}

// ValidateTakeProfit checks a target for a position side at the current price.
func ValidateTakeProfit(side string, current, level float64) error {
	switch {
	case level < 0:
		return ErrNegativeLevel
	case level == 0:
		return nil
	case side == db.PositionLong && level <= current:
		return ErrInvalidTakeProfit
	case side == db.PositionShort && level >= current:
		return ErrInvalidTakeProfit
	}
	return nil
}

// Evaluate returns the level the position's current price has crossed.
// Closed positions never trigger. Stop-loss wins when both have crossed.
func Evaluate(p db.Position) Trigger {
	if !p.IsOpen() || p.CurrentPrice <= 0 {
		return TriggerNone
	}
	price := p.CurrentPrice
	long := p.Quantity > 0

	if p.StopLoss > 0 {
		if (long && price <= p.StopLoss) || (!long && price >= p.StopLoss) {
			return TriggerStopLoss
		}
	}
	if p.TakeProfit > 0 {
		if (long && price >= p.TakeProfit) || (!long && price <= p.TakeProfit) {
			return TriggerTakeProfit
		}
	}
	return TriggerNone
}
