package cases

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
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

const caseCols = `id, patient_id, tier, status, chief_complaint, symptoms, attachments,
	amount_cents, fee_cents, payout_cents, payment_intent_id, payment_status,
	requested_doctor_id, assigned_doctor_id, priority_expires_at,
	assigned_at, started_at, completed_at, cancelled_at,
	rating, cancel_reason, version, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, c *ConsultationCase) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consultation_cases (
			id, patient_id, tier, status, chief_complaint, symptoms, attachments,
			amount_cents, payment_intent_id, payment_status,
			requested_doctor_id, priority_expires_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.PatientID, c.Tier, c.Status, c.ChiefComplaint, c.Symptoms, c.Attachments,
		c.AmountCents, c.PaymentIntentID, c.PaymentStatus,
		c.RequestedDoctorID, c.PriorityExpiresAt, c.Version,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ConsultationCase, error) {
	return scanCase(r.conn(ctx).QueryRow(ctx,
		`SELECT `+caseCols+` FROM consultation_cases WHERE id = $1`, id))
}

func (r *repoPG) UpdateConditional(ctx context.Context, c *ConsultationCase, expectedVersion int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultation_cases SET
			status=$3, fee_cents=$4, payout_cents=$5, payment_status=$6,
			assigned_doctor_id=$7, assigned_at=$8, started_at=$9,
			completed_at=$10, cancelled_at=$11, rating=$12, cancel_reason=$13,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		c.ID, expectedVersion,
		c.Status, c.FeeCents, c.PayoutCents, c.PaymentStatus,
		c.AssignedDoctorID, c.AssignedAt, c.StartedAt,
		c.CompletedAt, c.CancelledAt, c.Rating, c.CancelReason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, c.ID); err != nil {
			return err
		}
		return ErrStaleVersion
	}
	c.Version = expectedVersion + 1
	return nil
}

func (r *repoPG) ListPendingStandard(ctx context.Context, limit, offset int) ([]*ConsultationCase, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultation_cases WHERE tier = 'standard' AND status = 'pending'`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+caseCols+` FROM consultation_cases
		 WHERE tier = 'standard' AND status = 'pending'
		 ORDER BY created_at ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectCases(rows, total)
}

func (r *repoPG) ListPendingPriority(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*ConsultationCase, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultation_cases
		 WHERE tier = 'priority' AND status = 'pending' AND requested_doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+caseCols+` FROM consultation_cases
		 WHERE tier = 'priority' AND status = 'pending' AND requested_doctor_id = $1
		 ORDER BY priority_expires_at ASC LIMIT $2 OFFSET $3`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectCases(rows, total)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConsultationCase, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultation_cases WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+caseCols+` FROM consultation_cases WHERE patient_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectCases(rows, total)
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, status string, limit, offset int) ([]*ConsultationCase, int, error) {
	where := ` WHERE assigned_doctor_id = $1`
	args := []interface{}{doctorID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultation_cases`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + caseCols + ` FROM consultation_cases` + where + ` ORDER BY created_at DESC`
	if status != "" {
		query += ` LIMIT $3 OFFSET $4`
	} else {
		query += ` LIMIT $2 OFFSET $3`
	}
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectCases(rows, total)
}

func (r *repoPG) ListOverduePriority(ctx context.Context, now time.Time) ([]*ConsultationCase, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+caseCols+` FROM consultation_cases
		 WHERE tier = 'priority' AND status = 'pending' AND priority_expires_at <= $1
		 ORDER BY priority_expires_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cs, _, err := collectCases(rows, 0)
	return cs, err
}

func (r *repoPG) ListOpenPriority(ctx context.Context) ([]*ConsultationCase, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+caseCols+` FROM consultation_cases
		 WHERE tier = 'priority' AND status = 'pending'
		 ORDER BY priority_expires_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cs, _, err := collectCases(rows, 0)
	return cs, err
}

func (r *repoPG) ListUncapturedCompleted(ctx context.Context) ([]*ConsultationCase, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+caseCols+` FROM consultation_cases
		 WHERE status = 'completed' AND payment_status = 'authorized'
		 ORDER BY completed_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cs, _, err := collectCases(rows, 0)
	return cs, err
}

func scanCase(row pgx.Row) (*ConsultationCase, error) {
	var c ConsultationCase
	err := row.Scan(
		&c.ID, &c.PatientID, &c.Tier, &c.Status, &c.ChiefComplaint, &c.Symptoms, &c.Attachments,
		&c.AmountCents, &c.FeeCents, &c.PayoutCents, &c.PaymentIntentID, &c.PaymentStatus,
		&c.RequestedDoctorID, &c.AssignedDoctorID, &c.PriorityExpiresAt,
		&c.AssignedAt, &c.StartedAt, &c.CompletedAt, &c.CancelledAt,
		&c.Rating, &c.CancelReason, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCases(rows pgx.Rows, total int) ([]*ConsultationCase, int, error) {
	var cs []*ConsultationCase
	for rows.Next() {
		var c ConsultationCase
		err := rows.Scan(
			&c.ID, &c.PatientID, &c.Tier, &c.Status, &c.ChiefComplaint, &c.Symptoms, &c.Attachments,
			&c.AmountCents, &c.FeeCents, &c.PayoutCents, &c.PaymentIntentID, &c.PaymentStatus,
			&c.RequestedDoctorID, &c.AssignedDoctorID, &c.PriorityExpiresAt,
			&c.AssignedAt, &c.StartedAt, &c.CompletedAt, &c.CancelledAt,
			&c.Rating, &c.CancelReason, &c.Version, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		cs = append(cs, &c)
	}
	return cs, total, nil
}
