package payouts

import (
	"time"

	"github.com/google/uuid"
)

// Payout kinds. Weekly batches are created by the scheduled run, instant
// transfers on the doctor's request.
const (
	KindWeekly  = "weekly"
	KindInstant = "instant"
)

// Payout statuses. A failed payout keeps its row for the audit trail; the
// debited balance is restored so the funds show up in the next batch.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// DoctorPayout maps to the doctor_payouts table. The case set is frozen at
// creation; AmountCents is what the doctor receives, after FeeCents for
// instant transfers.
type DoctorPayout struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	DoctorID      uuid.UUID   `db:"doctor_id" json:"doctorId"`
	Kind          string      `db:"kind" json:"kind"`
	Status        string      `db:"status" json:"status"`
	AmountCents   int64       `db:"amount_cents" json:"amountCents"`
	FeeCents      int64       `db:"fee_cents" json:"feeCents"`
	CaseIDs       []uuid.UUID `db:"case_ids" json:"caseIds"`
	TransferID    *string     `db:"transfer_id" json:"transferId,omitempty"`
	FailureReason *string     `db:"failure_reason" json:"failureReason,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"createdAt"`
	ProcessedAt   *time.Time  `db:"processed_at" json:"processedAt,omitempty"`
}

// Payee is a doctor eligible for the weekly batch: positive balance and a
// connected payout account.
type Payee struct {
	DoctorID        uuid.UUID
	BalanceCents    int64
	PayoutAccountID string
}

// Config holds the payout policy knobs.
type Config struct {
	WeeklyMinCents  int64
	InstantMinCents int64
	InstantFeeCents int64
}

func DefaultConfig() Config {
	return Config{
		WeeklyMinCents:  100,
		InstantMinCents: 500,
		InstantFeeCents: 200,
	}
}
