package doctors

import (
	"context"
	"errors"
	"fmt"

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

const doctorCols = `id, display_name, email, specialty, approval_status, is_available,
	payout_account_id, pending_balance_cents, total_earnings_cents, total_cases,
	approved_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.ApprovalStatus == "" {
		d.ApprovalStatus = ApprovalPending
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctors (
			id, display_name, email, specialty, approval_status, is_available, payout_account_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.ID, d.DisplayName, d.Email, d.Specialty, d.ApprovalStatus, d.IsAvailable, d.PayoutAccountID,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE email = $1`, email))
}

func (r *repoPG) UpdateProfile(ctx context.Context, d *Doctor) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctors SET
			display_name=$2, specialty=$3, payout_account_id=$4, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.DisplayName, d.Specialty, d.PayoutAccountID,
	)
	return err
}

func (r *repoPG) SetApprovalStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctors SET
			approval_status = $2,
			approved_at = CASE WHEN $2 = 'approved' THEN NOW() ELSE approved_at END,
			updated_at = NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctors SET is_available = $2, updated_at = NOW() WHERE id = $1`, id, available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, approvalStatus string, limit, offset int) ([]*Doctor, int, error) {
	where := ``
	args := []interface{}{}
	if approvalStatus != "" {
		where = ` WHERE approval_status = $1`
		args = append(args, approvalStatus)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctors`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT `+doctorCols+` FROM doctors`+where+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectDoctors(rows, total)
}

func (r *repoPG) Credit(ctx context.Context, doctorID, caseID uuid.UUID, amountCents int64) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payout_credits (id, doctor_id, case_id, amount_cents)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (case_id) DO NOTHING`,
		uuid.New(), doctorID, caseID, amountCents,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE doctors SET
			pending_balance_cents = pending_balance_cents + $2,
			total_earnings_cents = total_earnings_cents + $2,
			total_cases = total_cases + 1,
			updated_at = NOW()
		WHERE id = $1`, doctorID, amountCents)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repoPG) Debit(ctx context.Context, doctorID uuid.UUID, amountCents int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctors SET
			pending_balance_cents = pending_balance_cents - $2,
			updated_at = NOW()
		WHERE id = $1 AND pending_balance_cents >= $2`,
		doctorID, amountCents)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, doctorID); err != nil {
			return err
		}
		return ErrBalanceTooLow
	}
	return nil
}

func (r *repoPG) RestoreBalance(ctx context.Context, doctorID uuid.UUID, amountCents int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctors SET
			pending_balance_cents = pending_balance_cents + $2,
			updated_at = NOW()
		WHERE id = $1`, doctorID, amountCents)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListCredits(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*PayoutCredit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM payout_credits WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, doctor_id, case_id, amount_cents, created_at
		FROM payout_credits WHERE doctor_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var credits []*PayoutCredit
	for rows.Next() {
		var c PayoutCredit
		if err := rows.Scan(&c.ID, &c.DoctorID, &c.CaseID, &c.AmountCents, &c.CreatedAt); err != nil {
			return nil, 0, err
		}
		credits = append(credits, &c)
	}
	return credits, total, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID, &d.DisplayName, &d.Email, &d.Specialty, &d.ApprovalStatus, &d.IsAvailable,
		&d.PayoutAccountID, &d.PendingBalanceCents, &d.TotalEarningsCents, &d.TotalCases,
		&d.ApprovedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDoctors(rows pgx.Rows, total int) ([]*Doctor, int, error) {
	var ds []*Doctor
	for rows.Next() {
		var d Doctor
		err := rows.Scan(
			&d.ID, &d.DisplayName, &d.Email, &d.Specialty, &d.ApprovalStatus, &d.IsAvailable,
			&d.PayoutAccountID, &d.PendingBalanceCents, &d.TotalEarningsCents, &d.TotalCases,
			&d.ApprovedAt, &d.CreatedAt, &d.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		ds = append(ds, &d)
	}
	return ds, total, nil
}
