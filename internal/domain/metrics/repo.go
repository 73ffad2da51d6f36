package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository reads completed-case rollups. No method writes; the aggregator
// runs concurrently with case transitions and a point-in-time snapshot is
// acceptable.
type Repository interface {
	Window(ctx context.Context, doctorID uuid.UUID, since time.Time) (*Window, error)
}
