package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"paper-core/internal/monitor"
	"paper-core/pkg/db"
)

// LiveLister lists orders awaiting execution.
type LiveLister interface {
	ListLive(ctx context.Context) ([]db.Order, error)
}

// FillSink applies a fill decision atomically.
type FillSink interface {
	Settle(ctx context.Context, fill FillEvent) error
}

// ProcessorConfig tunes the sweep.
type ProcessorConfig struct {
	Interval time.Duration
	Workers  int
	Sim      SimConfig
}

// Processor periodically sweeps live orders and hands fill decisions to a
// FillSink.
type Processor struct {
	orders  LiveLister
	prices  Quoter
	sink    FillSink
	cfg     ProcessorConfig
	logger  *zap.Logger
	metrics *monitor.SystemMetrics

	rndMu sync.Mutex
	rnd   Rand
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Evaluated int
	Filled    int
	Failed    int
}

// NewProcessor builds a processor. A nil rnd uses a time-seeded source.
func NewProcessor(orders LiveLister, prices Quoter, sink FillSink, cfg ProcessorConfig,
	rnd Rand, logger *zap.Logger, metrics *monitor.SystemMetrics) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Sim == (SimConfig{}) {
		cfg.Sim = DefaultSimConfig
	}
	return &Processor{
		orders:  orders,
		prices:  prices,
		sink:    sink,
		cfg:     cfg,
		rnd:     rnd,
		logger:  logger.Named("processor"),
		metrics: metrics,
	}
}

// Run sweeps on every interval until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("order processor started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("workers", p.cfg.Workers))

	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("order processor stopped")
			return nil
		case <-t.C:
			if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep evaluates every live order once on a bounded worker pool. One
// order's failure never stops the others.
func (p *Processor) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	live, err := p.orders.ListLive(ctx)
	if err != nil {
		p.incError()
		return SweepResult{}, fmt.Errorf("list live orders: %w", err)
	}

	var (
		filled, failed atomic.Int64
		wg             sync.WaitGroup
		workerPool     = make(chan struct{}, p.cfg.Workers)
	)
	for _, o := range live {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		workerPool <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-workerPool }()

			ok, err := p.evaluateSafe(ctx, o)
			switch {
			case err != nil:
				failed.Add(1)
				p.incError()
				p.logger.Warn("order evaluation failed",
					zap.String("order_id", o.ID),
					zap.String("symbol", o.Symbol),
					zap.Error(err))
			case ok:
				filled.Add(1)
			}
		}()
	}
	wg.Wait()

	res := SweepResult{Evaluated: len(live), Filled: int(filled.Load()), Failed: int(failed.Load())}
	if p.metrics != nil {
		p.metrics.SweepDone()
		p.metrics.SweepLatency.RecordDuration(time.Since(start))
	}
	if res.Filled > 0 || res.Failed > 0 {
		p.logger.Debug("sweep done",
			zap.Int("evaluated", res.Evaluated),
			zap.Int("filled", res.Filled),
			zap.Int("failed", res.Failed),
			zap.Duration("took", time.Since(start)))
	}
	return res, nil
}

func (p *Processor) evaluateSafe(ctx context.Context, o db.Order) (filled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Evaluate(ctx, o)
}

// Evaluate decides and settles a single order. Orders that changed since
// they were listed are skipped until the next sweep.
func (p *Processor) Evaluate(ctx context.Context, o db.Order) (bool, error) {
	price, err := p.prices.GetPrice(o.Symbol)
	if err != nil {
		return false, fmt.Errorf("price %s: %w", o.Symbol, err)
	}

	p.rndMu.Lock()
	fill, ok := Decide(o, price, p.rnd, p.cfg.Sim)
	p.rndMu.Unlock()
	if !ok {
		return false, nil
	}

	err = p.sink.Settle(ctx, fill)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotLive), errors.Is(err, ErrStaleFill):
		p.logger.Debug("fill skipped", zap.String("order_id", o.ID), zap.Error(err))
		return false, nil
	default:
		return false, err
	}
}

func (p *Processor) incError() {
	if p.metrics != nil {
		p.metrics.Error()
	}
}
