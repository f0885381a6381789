package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/config"
	"github.com/parentmap/venue-pipeline/internal/freshness"
)

// RunFunc performs one freshness run.
type RunFunc func(ctx context.Context) (freshness.Stats, error)

// Checker runs freshness checks on a fixed interval and alerts on the
// outcome.
type Checker struct {
	run       RunFunc
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu   sync.RWMutex
	last *LastRun
}

// LastRun is the outcome of the most recent scheduled run.
type LastRun struct {
	Stats freshness.Stats `json:"stats"`
	Error string          `json:"error,omitempty"`
}

// NewChecker creates a background freshness checker. collector may be nil.
func NewChecker(run RunFunc, collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		run:       run,
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop: one run immediately, then one per
// interval. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting freshness checker", zap.Duration("interval", interval))

	if ctx.Err() != nil {
		log.Info("freshness checker stopped")
		return
	}
	c.check(ctx, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("freshness checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	var alerts []Alert

	stats, err := c.run(ctx)
	last := &LastRun{Stats: stats}
	if err != nil {
		last.Error = err.Error()
	}
	c.mu.Lock()
	c.last = last
	c.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("monitoring: freshness run failed", zap.Error(err))
		alerts = append(alerts, c.alerter.RunFailed(err))
	} else {
		alerts = append(alerts, c.alerter.Evaluate(stats)...)
	}

	if c.collector != nil {
		snap, err := c.collector.Collect(ctx)
		if err != nil {
			log.Error("monitoring: failed to collect store metrics", zap.Error(err))
		} else {
			alerts = append(alerts, c.alerter.EvaluateSnapshot(snap)...)
		}
	}

	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}

// Last returns the most recent run, or nil before the first one finishes.
func (c *Checker) Last() *LastRun {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
