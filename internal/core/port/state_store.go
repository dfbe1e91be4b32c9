package port

import (
	"context"

	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
)

// StateStore persists the per metric state. Implementations treat missing or
// unreadable records as absent.
type StateStore interface {
	Load(ctx context.Context, metricId string) (domain.MetricState, bool, error)
	LoadAll(ctx context.Context) (map[string]domain.MetricState, error)
	Save(ctx context.Context, metricId string, state domain.MetricState) error
	SaveAll(ctx context.Context, states map[string]domain.MetricState) error
	Close() error
}
