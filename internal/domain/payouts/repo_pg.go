package payouts

import (
	"context"
	"errors"

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

const payoutCols = `id, doctor_id, kind, status, amount_cents, fee_cents,
	case_ids, transfer_id, failure_reason, created_at, processed_at`

func (r *repoPG) Create(ctx context.Context, p *DoctorPayout) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_payouts (
			id, doctor_id, kind, status, amount_cents, fee_cents, case_ids
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.DoctorID, p.Kind, p.Status, p.AmountCents, p.FeeCents, p.CaseIDs,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*DoctorPayout, error) {
	return scanPayout(r.conn(ctx).QueryRow(ctx,
		`SELECT `+payoutCols+` FROM doctor_payouts WHERE id = $1`, id))
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*DoctorPayout, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM doctor_payouts WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+payoutCols+` FROM doctor_payouts WHERE doctor_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var ps []*DoctorPayout
	for rows.Next() {
		var p DoctorPayout
		if err := rows.Scan(
			&p.ID, &p.DoctorID, &p.Kind, &p.Status, &p.AmountCents, &p.FeeCents,
			&p.CaseIDs, &p.TransferID, &p.FailureReason, &p.CreatedAt, &p.ProcessedAt,
		); err != nil {
			return nil, 0, err
		}
		ps = append(ps, &p)
	}
	return ps, total, nil
}

func (r *repoPG) SetOutcome(ctx context.Context, id uuid.UUID, status string, transferID, failureReason *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor_payouts SET
			status = $2, transfer_id = $3, failure_reason = $4, processed_at = NOW()
		WHERE id = $1`, id, status, transferID, failureReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListPayable(ctx context.Context, minBalanceCents int64) ([]*Payee, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, pending_balance_cents, payout_account_id
		FROM doctors
		WHERE pending_balance_cents >= $1 AND payout_account_id IS NOT NULL
		ORDER BY pending_balance_cents DESC`, minBalanceCents)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payees []*Payee
	for rows.Next() {
		var p Payee
		if err := rows.Scan(&p.DoctorID, &p.BalanceCents, &p.PayoutAccountID); err != nil {
			return nil, err
		}
		payees = append(payees, &p)
	}
	return payees, nil
}

func (r *repoPG) UnsettledCaseIDs(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT case_id FROM payout_credits
		WHERE doctor_id = $1 AND payout_id IS NULL
		ORDER BY created_at ASC`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *repoPG) SettleCredits(ctx context.Context, doctorID, payoutID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE payout_credits SET payout_id = $2
		WHERE doctor_id = $1 AND payout_id IS NULL`, doctorID, payoutID)
	return err
}

func scanPayout(row pgx.Row) (*DoctorPayout, error) {
	var p DoctorPayout
	err := row.Scan(
		&p.ID, &p.DoctorID, &p.Kind, &p.Status, &p.AmountCents, &p.FeeCents,
		&p.CaseIDs, &p.TransferID, &p.FailureReason, &p.CreatedAt, &p.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
