package cases

import (
	"time"

	"github.com/google/uuid"
)

// Service tiers. Standard cases sit in a shared pull queue; priority cases
// are pushed to one requested doctor under a time-boxed offer.
const (
	TierStandard = "standard"
	TierPriority = "priority"
)

// Case statuses. The status only moves forward: pending is the sole initial
// state, and completed, refunded and cancelled are terminal.
const (
	StatusPending   = "pending"
	StatusAssigned  = "assigned"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusDeclined  = "declined"
	StatusExpired   = "expired"
	StatusRefunded  = "refunded"
	StatusCancelled = "cancelled"
)

// Payment statuses. authorized moves to captured exactly once on completion,
// or to refunded exactly once when the case ends without service. The two
// failed states flag a case for manual reconciliation after retries exhaust.
const (
	PaymentAuthorized    = "authorized"
	PaymentCaptured      = "captured"
	PaymentRefunded      = "refunded"
	PaymentCaptureFailed = "capture_failed"
	PaymentRefundFailed  = "refund_failed"
)

// Pricing fixes the charge per tier in cents. The platform fee is 20% for
// both tiers, computed once at completion with half-up rounding.
type Pricing struct {
	AmountCents int64
	FeePercent  int64
}

var tierPricing = map[string]Pricing{
	TierStandard: {AmountCents: 2500, FeePercent: 20},
	TierPriority: {AmountCents: 4500, FeePercent: 20},
}

// PricingFor returns the pricing for a tier; ok is false for unknown tiers.
func PricingFor(tier string) (Pricing, bool) {
	p, ok := tierPricing[tier]
	return p, ok
}

// Fee computes the platform fee in cents, rounding half-up.
func (p Pricing) Fee() int64 {
	return (p.AmountCents*p.FeePercent + 50) / 100
}

// Intake is the clinical payload captured when a case is created: what the
// patient reports and any supporting uploads. It is persisted verbatim and
// never modified by later transitions.
type Intake struct {
	ChiefComplaint string   `json:"chiefComplaint"`
	Symptoms       []string `json:"symptoms"`
	Attachments    []string `json:"attachments"`
}

// ConsultationCase maps to the consultation_cases table. Version is the
// concurrency token: every mutating transition is a conditional write
// against the version it last read, and that discipline is the only
// synchronization on a case. Timestamp fields are each set by exactly one
// transition and never cleared.
type ConsultationCase struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patientId"`
	Tier              string     `db:"tier" json:"tier"`
	Status            string     `db:"status" json:"status"`
	ChiefComplaint    string     `db:"chief_complaint" json:"chiefComplaint"`
	Symptoms          []string   `db:"symptoms" json:"symptoms,omitempty"`
	Attachments       []string   `db:"attachments" json:"attachments,omitempty"`
	AmountCents       int64      `db:"amount_cents" json:"amountCents"`
	FeeCents          int64      `db:"fee_cents" json:"feeCents"`
	PayoutCents       int64      `db:"payout_cents" json:"payoutCents"`
	PaymentIntentID   string     `db:"payment_intent_id" json:"paymentIntentId"`
	PaymentStatus     string     `db:"payment_status" json:"paymentStatus"`
	RequestedDoctorID *uuid.UUID `db:"requested_doctor_id" json:"requestedDoctorId,omitempty"`
	AssignedDoctorID  *uuid.UUID `db:"assigned_doctor_id" json:"assignedDoctorId,omitempty"`
	PriorityExpiresAt *time.Time `db:"priority_expires_at" json:"priorityExpiresAt,omitempty"`
	AssignedAt        *time.Time `db:"assigned_at" json:"assignedAt,omitempty"`
	StartedAt         *time.Time `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt       *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CancelledAt       *time.Time `db:"cancelled_at" json:"cancelledAt,omitempty"`
	Rating            *int       `db:"rating" json:"rating,omitempty"`
	CancelReason      *string    `db:"cancel_reason" json:"cancelReason,omitempty"`
	Version           int        `db:"version" json:"version"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updatedAt"`
}

// GetVersion returns the concurrency token.
func (c *ConsultationCase) GetVersion() int { return c.Version }

// SetVersion sets the concurrency token.
func (c *ConsultationCase) SetVersion(v int) { c.Version = v }

// Terminal reports whether the case can no longer transition.
func (c *ConsultationCase) Terminal() bool {
	switch c.Status {
	case StatusCompleted, StatusRefunded, StatusCancelled, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// Cancellable reports whether cancelCase may still run. Completion and
// capture both close the door.
func (c *ConsultationCase) Cancellable() bool {
	switch c.Status {
	case StatusPending, StatusAssigned, StatusActive:
		return c.PaymentStatus != PaymentCaptured
	}
	return false
}
