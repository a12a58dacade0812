package ports

import (
	"context"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

// ObservationRepository persists risk observations.
type ObservationRepository interface {
	Insert(ctx context.Context, obs *domain.Observation) error
	InsertBatch(ctx context.Context, obs []domain.Observation) error
	// List returns every observation whose timestamp falls in the range.
	List(ctx context.Context, r domain.DateRange) ([]domain.Observation, error)
	// ListPage returns one page ordered by timestamp, plus the total count.
	ListPage(ctx context.Context, r domain.DateRange, offset, limit int) ([]domain.Observation, int, error)
	// InBox returns observations inside a bounding box.
	InBox(ctx context.Context, box domain.Bounds, limit int) ([]domain.Observation, error)
	// Version identifies the current contents of the table; it changes
	// whenever observations are added.
	Version(ctx context.Context) (string, error)
}
