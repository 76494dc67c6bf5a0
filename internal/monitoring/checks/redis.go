package checks

import (
	"context"
	"time"

	"github.com/charlesng35/dbwarden/internal/monitoring"
)

// Pinger is satisfied by the redis status publisher.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Redis probes the status fan-out broker. A disabled broker reports up.
func Redis(client Pinger, enabled bool, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		if !enabled {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled"}
		}
		if client == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "redis unavailable"}
		}

		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultProbeTimeout))
		defer cancel()

		return monitoring.ResultFromError("redis", client.Ping(probeCtx), time.Since(start))
	})
}
