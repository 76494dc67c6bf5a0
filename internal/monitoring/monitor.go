package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/dbwarden/internal/registry"
	"github.com/charlesng35/dbwarden/pkg/logger"
	"github.com/charlesng35/dbwarden/pkg/metrics"
)

// DefaultInterval is the pause between two sweeps over the registry.
const DefaultInterval = 5 * time.Second

// StatusChecker is the registry surface the monitor drives.
type StatusChecker interface {
	IDs() []string
	CheckStatus(ctx context.Context, id string) registry.Status
}

// Monitor periodically probes every registered connection.
type Monitor struct {
	target   StatusChecker
	interval time.Duration
	log      *zap.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMonitor constructs a monitor over target.
func NewMonitor(target StatusChecker, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		target:   target,
		interval: DefaultInterval,
		log:      logger.WithModule("monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info("health monitor started", zap.Duration("interval", m.interval))
	for {
		m.RunOnce(ctx)

		// The pause is armed only once the sweep has finished.
		timer := time.NewTimer(m.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.log.Info("health monitor stopped")
			return
		case <-timer.C:
		}
	}
}

// RunOnce probes every id in the current snapshot once.
func (m *Monitor) RunOnce(ctx context.Context) {
	for _, id := range m.target.IDs() {
		if ctx.Err() != nil {
			return
		}
		m.probe(ctx, id)
	}
}

func (m *Monitor) probe(ctx context.Context, id string) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.StatusChecks.WithLabelValues("error").Inc()
			m.log.Error("status probe panicked", zap.String("resource", id), zap.String("panic", fmt.Sprint(rec)))
		}
	}()

	status := m.target.CheckStatus(ctx, id)
	if !status.Known() {
		return
	}
	if status.Up() {
		metrics.StatusChecks.WithLabelValues("up").Inc()
		metrics.ConnectionReachable.WithLabelValues(id).Set(1)
		return
	}
	metrics.StatusChecks.WithLabelValues("down").Inc()
	metrics.ConnectionReachable.WithLabelValues(id).Set(0)
}
