package health

import (
	"context"
	"fmt"

	"github.com/vietddude/bridge/internal/realtime/subscriber"
	"github.com/vietddude/bridge/internal/relay/client"
)

// UpstreamCheck degrades when recent central API calls are failing. Queued
// operations keep the relay usable, so it is never critical.
func UpstreamCheck(c interface{ GetHealth() client.HealthStatus }) Check {
	return func(ctx context.Context) ComponentHealth {
		h := c.GetHealth()
		if !h.Available {
			return ComponentHealth{Status: StatusDegraded, Detail: fmt.Sprintf("error rate %.2f", h.ErrorRate)}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// QueueCheck degrades once the backlog reaches warnAt.
func QueueCheck(q interface{ Len() int }, warnAt int) Check {
	return func(ctx context.Context) ComponentHealth {
		n := q.Len()
		if warnAt > 0 && n >= warnAt {
			return ComponentHealth{Status: StatusDegraded, Detail: fmt.Sprintf("%d operations pending", n)}
		}
		return ComponentHealth{Status: StatusHealthy, Detail: fmt.Sprintf("%d operations pending", n)}
	}
}

// SubscriberCheck degrades while the notification channel is down. Waits
// still complete through the persisted-event fallback.
func SubscriberCheck(s interface{ State() subscriber.State }) Check {
	return func(ctx context.Context) ComponentHealth {
		switch st := s.State(); st {
		case subscriber.StateSubscribed, subscriber.StateDisabled:
			return ComponentHealth{Status: StatusHealthy, Detail: st.String()}
		default:
			return ComponentHealth{Status: StatusDegraded, Detail: st.String()}
		}
	}
}

// PingCheck is critical when ping fails.
func PingCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusCritical, Detail: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}
