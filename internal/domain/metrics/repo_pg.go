package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heydoc/consult/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) Window(ctx context.Context, doctorID uuid.UUID, since time.Time) (*Window, error) {
	var w Window
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(payout_cents), 0), AVG(rating)
		FROM consultation_cases
		WHERE assigned_doctor_id = $1 AND status = 'completed' AND completed_at >= $2`,
		doctorID, since,
	).Scan(&w.CompletedCases, &w.PayoutCents, &w.AverageRating)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
