package payouts

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *DoctorPayout) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoctorPayout, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*DoctorPayout, int, error)

	// SetOutcome records the terminal result of the transfer attempt.
	SetOutcome(ctx context.Context, id uuid.UUID, status string, transferID, failureReason *string) error

	// ListPayable returns doctors whose pending balance reaches the minimum
	// and who have a payout account connected.
	ListPayable(ctx context.Context, minBalanceCents int64) ([]*Payee, error)

	// UnsettledCaseIDs returns cases credited to the doctor but not yet
	// covered by any payout.
	UnsettledCaseIDs(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error)

	// SettleCredits stamps the doctor's unsettled credits with the payout
	// covering them.
	SettleCredits(ctx context.Context, doctorID, payoutID uuid.UUID) error
}
