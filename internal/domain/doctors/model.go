package doctors

import (
	"time"

	"github.com/google/uuid"
)

// Approval statuses. Only approved doctors can receive or claim cases.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Doctor maps to the doctors table. Balance fields are in cents and only
// ever change through atomic increments; reading then writing a balance is
// never correct under concurrent completions.
type Doctor struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	DisplayName         string     `db:"display_name" json:"displayName"`
	Email               string     `db:"email" json:"email"`
	Specialty           *string    `db:"specialty" json:"specialty,omitempty"`
	ApprovalStatus      string     `db:"approval_status" json:"approvalStatus"`
	IsAvailable         bool       `db:"is_available" json:"isAvailable"`
	PayoutAccountID     *string    `db:"payout_account_id" json:"payoutAccountId,omitempty"`
	PendingBalanceCents int64      `db:"pending_balance_cents" json:"pendingBalanceCents"`
	TotalEarningsCents  int64      `db:"total_earnings_cents" json:"totalEarningsCents"`
	TotalCases          int        `db:"total_cases" json:"totalCases"`
	ApprovedAt          *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updatedAt"`
}

// Eligible reports whether the doctor can be offered or claim cases.
func (d *Doctor) Eligible() bool {
	return d.ApprovalStatus == ApprovalApproved && d.IsAvailable
}

// PayoutCredit maps to the payout_credits table. One row per completed case;
// the unique case_id constraint is what makes crediting idempotent.
type PayoutCredit struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DoctorID    uuid.UUID `db:"doctor_id" json:"doctorId"`
	CaseID      uuid.UUID `db:"case_id" json:"caseId"`
	AmountCents int64     `db:"amount_cents" json:"amountCents"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}
