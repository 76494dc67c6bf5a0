package checks

import (
	"context"
	"fmt"

	"github.com/charlesng35/dbwarden/internal/monitoring"
	"github.com/charlesng35/dbwarden/internal/registry"
)

// StatusSource lists registered connections and their last status.
type StatusSource interface {
	IDs() []string
	Status(id string) (registry.Status, bool)
}

// Connections summarises the registry. Unreachable external sources never fail readiness.
func Connections(source StatusSource) monitoring.Check {
	return monitoring.NewCheck("connections", func(context.Context) monitoring.ProbeResult {
		if source == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "registry unavailable"}
		}

		var up, down, unknown int
		for _, id := range source.IDs() {
			st, _ := source.Status(id)
			switch {
			case !st.Known():
				unknown++
			case st.Up():
				up++
			default:
				down++
			}
		}
		return monitoring.ProbeResult{
			Status:  monitoring.StatusUp,
			Details: fmt.Sprintf("%d reachable, %d unreachable, %d unknown", up, down, unknown),
		}
	})
}
