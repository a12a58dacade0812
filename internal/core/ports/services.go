package ports

import (
	"context"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishObservation(ctx context.Context, obs *domain.Observation) error
	PublishGridUpdated(ctx context.Context, update *domain.GridUpdate) error
	PublishCriticalAlert(ctx context.Context, alert *domain.CriticalAlert) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeObservations(ctx context.Context, handler func(ctx context.Context, obs *domain.Observation) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
