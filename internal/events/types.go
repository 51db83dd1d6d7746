package events

// Event enumerates internal topics carried on the Bus.
type Event string

const (
	EventPriceTick Event = "price_tick"
	EventRiskExit  Event = "risk_exit"
)

// MessageType enumerates the per-user stream messages.
type MessageType string

const (
	OrderUpdate       MessageType = "ORDER_UPDATE"
	PositionUpdate    MessageType = "POSITION_UPDATE"
	PortfolioUpdate   MessageType = "PORTFOLIO_UPDATE"
	TradeUpdate       MessageType = "TRADE_UPDATE"
	RiskExitTriggered MessageType = "RISK_EXIT_TRIGGERED"
)

// RiskExitNotice is published on EventRiskExit after a stop-loss or
// take-profit close commits.
type RiskExitNotice struct {
	UserID      string
	PortfolioID string
	PositionID  string
	Symbol      string
	Trigger     string
	Price       float64
	RealizedPnL float64
}
