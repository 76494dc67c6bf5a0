package checks

import (
	"context"
	"fmt"

	"github.com/charlesng35/dbwarden/internal/monitoring"
)

// RealtimeObserver exposes the hub's client count.
type RealtimeObserver interface {
	ActiveConnections() int64
}

// Realtime reports how many push clients are attached.
func Realtime(observer RealtimeObserver) monitoring.Check {
	return monitoring.NewCheck("realtime", func(context.Context) monitoring.ProbeResult {
		if observer == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "realtime hub unavailable"}
		}
		return monitoring.ProbeResult{
			Status:  monitoring.StatusUp,
			Details: fmt.Sprintf("%d clients", observer.ActiveConnections()),
		}
	})
}
