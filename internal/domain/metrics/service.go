package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Aggregator computes the earnings rollups. It sits entirely on the read
// side; case transitions never wait for it.
type Aggregator struct {
	repo Repository
	now  func() time.Time
}

func NewAggregator(repo Repository) *Aggregator {
	return &Aggregator{repo: repo, now: time.Now}
}

// Summarize rolls up the doctor's completed cases for today, the trailing
// week and the trailing month.
func (a *Aggregator) Summarize(ctx context.Context, doctorID uuid.UUID) (*EarningsSummary, error) {
	now := a.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	today, err := a.repo.Window(ctx, doctorID, midnight)
	if err != nil {
		return nil, err
	}
	week, err := a.repo.Window(ctx, doctorID, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	month, err := a.repo.Window(ctx, doctorID, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}
	return &EarningsSummary{Today: *today, Week: *week, Month: *month}, nil
}
