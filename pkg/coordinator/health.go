package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/pricefeed/pricefeed/pkg/health"
)

const (
	defaultStoreCheckName       = "coordination-store"
	defaultCoordinatorCheckName = "coordinator"

	defaultStoreCheckTimeout = 5 * time.Second
)

// StoreHealthChecker probes the coordination store. A store outage degrades
// the check instead of failing it: the cached catalog is still served during
// an outage, so readiness must keep reporting the instance as routable. A
// successful probe also clears the coordinator's degraded flag, so recovery
// is visible without waiting for the next stale cycle.
func (c *Coordinator) StoreHealthChecker(name string, timeout time.Duration) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultStoreCheckName
	}
	if timeout <= 0 {
		timeout = defaultStoreCheckTimeout
	}
	return health.NewCustomChecker(checkName, func(ctx context.Context) (health.Status, string, error) {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := c.store.HealthCheck(checkCtx); err != nil {
			return health.StatusDegraded, "coordination store unreachable, serving cached catalog", err
		}
		c.setDegraded(false)
		return health.StatusHealthy, "OK", nil
	})
}

// HealthChecker reports the coordinator's own state: degraded while the
// coordination store is unreachable, healthy otherwise. Task failures do not
// make the instance unhealthy; the previous catalog keeps being served.
func (c *Coordinator) HealthChecker(name string) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultCoordinatorCheckName
	}
	return health.NewCustomChecker(checkName, func(context.Context) (health.Status, string, error) {
		if c.Degraded() {
			return health.StatusDegraded, "coordination store unreachable, refreshing without exclusivity", nil
		}
		if attempt, ok := c.LastAttempt(); ok && attempt.Outcome == OutcomeTaskFailed {
			return health.StatusDegraded, "last refresh attempt failed, serving previous catalog", nil
		}
		return health.StatusHealthy, "", nil
	})
}
