// Package payments wraps the external payment processor. Money moves in two
// phases: an authorization placed when a case is created, then either a
// capture on completion or a refund/void when the case ends without service.
// Doctor earnings leave the platform as transfers.
package payments

import (
	"context"
	"errors"
)

// Sentinel errors surfaced to callers. ErrDeclined means the processor
// rejected the charge; it is a caller problem, not a system fault.
var (
	ErrDeclined    = errors.New("payment declined")
	ErrNotFound    = errors.New("payment not found")
	ErrUnavailable = errors.New("payment processor unavailable")
)

// AuthorizeRequest places a hold on the patient's payment method.
type AuthorizeRequest struct {
	AmountCents    int64  `json:"amountCents"`
	Currency       string `json:"currency"`
	PatientID      string `json:"patientId"`
	CaseID         string `json:"caseId"`
	IdempotencyKey string `json:"-"`
}

// Authorization is the processor's record of a successful hold.
type Authorization struct {
	PaymentIntentID string `json:"paymentIntentId"`
	AmountCents     int64  `json:"amountCents"`
	Status          string `json:"status"`
}

// TransferRequest moves funds from the platform balance to a doctor's
// connected account.
type TransferRequest struct {
	AmountCents    int64  `json:"amountCents"`
	Currency       string `json:"currency"`
	DoctorID       string `json:"doctorId"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"-"`
}

// Transfer is the processor's record of a completed transfer.
type Transfer struct {
	TransferID  string `json:"transferId"`
	AmountCents int64  `json:"amountCents"`
	Status      string `json:"status"`
}

// Gateway is the processor-facing interface. All operations take a context
// and are safe to retry when the caller supplies an idempotency key.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Refund(ctx context.Context, paymentIntentID string) error
	Void(ctx context.Context, paymentIntentID string) error
	Transfer(ctx context.Context, req TransferRequest) (*Transfer, error)
}
