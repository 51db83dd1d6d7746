package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"paper-core/internal/events"
	"paper-core/pkg/i18n"
)

// triggerKeys maps a risk trigger onto its localized headline.
var triggerKeys = map[string]string{
	"STOP_LOSS":   "StopLossTriggered",
	"TAKE_PROFIT": "TakeProfitHit",
}

// Monitor turns risk-exit notices on the bus into alerts and counters.
type Monitor struct {
	Bus     *events.Bus
	Sink    AlertSink
	Metrics *SystemMetrics
	Logger  *zap.Logger
}

// Run consumes notices until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if m.Bus == nil {
		logger.Warn("monitor: bus not set; skipping")
		return nil
	}
	stream, unsub := m.Bus.Subscribe(events.EventRiskExit, 64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-stream:
			if !ok {
				return nil
			}
			if m.Metrics != nil {
				m.Metrics.RiskExit()
			}
			if m.Sink == nil {
				continue
			}
			if err := m.Sink.Send(formatAlert(msg)); err != nil {
				logger.Error("alert delivery failed", zap.Error(err))
			}
		}
	}
}

func formatAlert(msg any) string {
	stamp := "[" + time.Now().UTC().Format(time.RFC3339) + "] "
	switch n := msg.(type) {
	case events.RiskExitNotice:
		headline := string(n.Trigger)
		if key, ok := triggerKeys[headline]; ok {
			headline = i18n.Get(key)
		}
		return stamp + fmt.Sprintf("%s: %s closed %s position %s @ %.4f (realized %.2f)",
			headline, n.Trigger, n.Symbol, n.PositionID, n.Price, n.RealizedPnL)
	case string:
		return stamp + n
	default:
		return stamp + "alert triggered"
	}
}
