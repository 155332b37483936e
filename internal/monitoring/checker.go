package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/record-gate/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker periodically snapshots run history and sends any quality alerts
// the snapshot trips.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int

	mu   sync.RWMutex
	last *MetricsSnapshot
}

// NewChecker creates a background quality checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
	}
}

// Run checks once immediately, then on every interval until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: quality checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
			log.Error("monitoring: quality check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("monitoring: quality checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot, remembers it and sends the alerts it trips.
// It returns the number of alerts delivered.
func (c *Checker) Check(ctx context.Context) (int, error) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		zap.L().Debug("monitoring: run quality within thresholds",
			zap.Int("runs", snap.RunsTotal),
			zap.Float64("pass_rate", snap.PassRate),
		)
		return 0, nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	zap.L().Info("monitoring: quality alerts raised",
		zap.Int("runs", snap.RunsTotal),
		zap.Float64("pass_rate", snap.PassRate),
		zap.Float64("run_fail_rate", snap.RunFailRate),
		zap.Int("alerts", len(alerts)),
		zap.Int("sent", sent),
	)
	return sent, nil
}

// Last returns the most recent snapshot, or nil before the first check.
func (c *Checker) Last() *MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
