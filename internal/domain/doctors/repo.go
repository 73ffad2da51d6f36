package doctors

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByEmail(ctx context.Context, email string) (*Doctor, error)
	UpdateProfile(ctx context.Context, d *Doctor) error
	SetApprovalStatus(ctx context.Context, id uuid.UUID, status string) error
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) error
	List(ctx context.Context, approvalStatus string, limit, offset int) ([]*Doctor, int, error)

	// Credit records earnings for a completed case. The credit is keyed on
	// caseID: a second call for the same case returns false with no balance
	// change.
	Credit(ctx context.Context, doctorID, caseID uuid.UUID, amountCents int64) (bool, error)

	// Debit decrements the pending balance, failing with ErrBalanceTooLow
	// when the balance cannot cover the amount.
	Debit(ctx context.Context, doctorID uuid.UUID, amountCents int64) error

	// RestoreBalance re-adds funds debited for a transfer that did not go
	// through.
	RestoreBalance(ctx context.Context, doctorID uuid.UUID, amountCents int64) error

	ListCredits(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*PayoutCredit, int, error)
}
