package cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/heydoc/consult/internal/domain/doctors"
	"github.com/heydoc/consult/internal/platform/events"
	"github.com/heydoc/consult/internal/platform/payments"
	"github.com/heydoc/consult/internal/platform/ws"
)

// DoctorDirectory is the slice of the doctors service the engine needs:
// eligibility checks on accept/create and idempotent crediting on complete.
type DoctorDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*doctors.Doctor, error)
	CreditForCase(ctx context.Context, doctorID, caseID uuid.UUID, amountCents int64) error
}

// Engine drives the case state machine. All transitions on an existing case
// go through conditional writes on the version token; the engine holds no
// locks across payment gateway calls.
type Engine struct {
	repo        Repository
	docs        DoctorDirectory
	gateway     payments.Gateway
	timer       *OfferTimer
	bus         *events.Bus
	retry       payments.RetryPolicy
	offerWindow time.Duration
	logger      zerolog.Logger
}

func NewEngine(repo Repository, docs DoctorDirectory, gateway payments.Gateway, bus *events.Bus, offerWindow time.Duration, logger zerolog.Logger) *Engine {
	e := &Engine{
		repo:        repo,
		docs:        docs,
		gateway:     gateway,
		bus:         bus,
		retry:       payments.DefaultRetryPolicy(),
		offerWindow: offerWindow,
		logger:      logger,
	}
	e.timer = NewOfferTimer(e.OnOfferExpired, logger)
	return e
}

// SetRetryPolicy overrides the gateway retry policy, used by tests to avoid
// real backoff delays.
func (e *Engine) SetRetryPolicy(p payments.RetryPolicy) { e.retry = p }

// Timer exposes the offer timer for lifecycle management.
func (e *Engine) Timer() *OfferTimer { return e.timer }

// Create authorizes payment and persists a new pending case. The
// authorization happens first: no case row exists without a successful hold,
// and a hold is voided if the row cannot be written. The intake is stored
// as given and never touched again.
func (e *Engine) Create(ctx context.Context, patientID uuid.UUID, tier string, intake Intake, requestedDoctorID *uuid.UUID) (*ConsultationCase, error) {
	pricing, ok := PricingFor(tier)
	if !ok {
		return nil, fmt.Errorf("unknown tier %q", tier)
	}
	if intake.ChiefComplaint == "" {
		return nil, fmt.Errorf("%w: chief complaint is required", ErrInvalidIntake)
	}

	c := &ConsultationCase{
		ID:             uuid.New(),
		PatientID:      patientID,
		Tier:           tier,
		Status:         StatusPending,
		ChiefComplaint: intake.ChiefComplaint,
		Symptoms:       intake.Symptoms,
		Attachments:    intake.Attachments,
		AmountCents:    pricing.AmountCents,
		PaymentStatus:  PaymentAuthorized,
	}

	if tier == TierPriority {
		if requestedDoctorID == nil {
			return nil, fmt.Errorf("%w: priority cases require a requested doctor", ErrInvalidDoctor)
		}
		doc, err := e.docs.Get(ctx, *requestedDoctorID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDoctor, err)
		}
		if !doc.Eligible() {
			return nil, ErrInvalidDoctor
		}
		c.RequestedDoctorID = requestedDoctorID
		expires := time.Now().UTC().Add(e.offerWindow)
		c.PriorityExpiresAt = &expires
	}

	auth, err := e.gateway.Authorize(ctx, payments.AuthorizeRequest{
		AmountCents:    c.AmountCents,
		Currency:       "usd",
		PatientID:      patientID.String(),
		CaseID:         c.ID.String(),
		IdempotencyKey: "auth-" + c.ID.String(),
	})
	if err != nil {
		return nil, err
	}
	c.PaymentIntentID = auth.PaymentIntentID

	if err := e.repo.Create(ctx, c); err != nil {
		if voidErr := e.gateway.Void(ctx, c.PaymentIntentID); voidErr != nil {
			e.logger.Error().
				Err(voidErr).
				Str("case_id", c.ID.String()).
				Str("payment_intent_id", c.PaymentIntentID).
				Msg("failed to void authorization after persist failure")
		}
		return nil, err
	}

	if c.Tier == TierPriority {
		e.timer.Arm(c.ID, c.Version, *c.PriorityExpiresAt)
		e.publish(ctx, events.TypeCaseCreated, ws.TopicDoctor(c.RequestedDoctorID.String()), c)
	} else {
		e.publish(ctx, events.TypeCaseCreated, ws.TopicStandardQueue, c)
	}
	e.publish(ctx, events.TypeCaseCreated, ws.TopicPatient(c.PatientID.String()), c)

	e.logger.Info().
		Str("case_id", c.ID.String()).
		Str("tier", c.Tier).
		Int64("amount_cents", c.AmountCents).
		Msg("case created")
	return c, nil
}

// Accept claims a pending case for a doctor. expectedVersion of 0 means
// "the version I just read": the engine substitutes the fetched version, and
// the conditional write still guarantees a single winner.
func (e *Engine) Accept(ctx context.Context, caseID, doctorID uuid.UUID, expectedVersion int) (*ConsultationCase, error) {
	c, err := e.repo.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPending {
		return nil, ErrCaseTaken
	}
	if expectedVersion == 0 {
		expectedVersion = c.Version
	}

	doc, err := e.docs.Get(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDoctor, err)
	}
	if !doc.Eligible() {
		return nil, ErrInvalidDoctor
	}

	now := time.Now().UTC()
	if c.Tier == TierPriority {
		if c.RequestedDoctorID == nil || *c.RequestedDoctorID != doctorID {
			return nil, ErrNotAuthorized
		}
		if c.PriorityExpiresAt != nil && now.After(*c.PriorityExpiresAt) {
			return nil, ErrInvalidState
		}
	}

	c.Status = StatusActive
	c.AssignedDoctorID = &doctorID
	c.AssignedAt = &now
	c.StartedAt = &now

	if err := e.repo.UpdateConditional(ctx, c, expectedVersion); err != nil {
		if errors.Is(err, ErrStaleVersion) {
			return nil, ErrCaseTaken
		}
		return nil, err
	}

	e.timer.Cancel(c.ID)
	e.publish(ctx, events.TypeCaseAssigned, ws.TopicPatient(c.PatientID.String()), c)
	e.publish(ctx, events.TypeCaseAssigned, ws.TopicDoctor(doctorID.String()), c)
	if c.Tier == TierStandard {
		e.publish(ctx, events.TypeCaseAssigned, ws.TopicStandardQueue, c)
	}

	e.logger.Info().
		Str("case_id", c.ID.String()).
		Str("doctor_id", doctorID.String()).
		Msg("case accepted")
	return c, nil
}

// Decline lets the requested doctor turn down a priority offer. The patient
// is refunded in full; the case is not re-queued into the standard lane.
func (e *Engine) Decline(ctx context.Context, caseID, doctorID uuid.UUID, expectedVersion int) (*ConsultationCase, error) {
	c, err := e.repo.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Tier != TierPriority {
		return nil, ErrInvalidState
	}
	if c.RequestedDoctorID == nil || *c.RequestedDoctorID != doctorID {
		return nil, ErrNotAuthorized
	}
	if c.Status != StatusPending {
		return nil, ErrInvalidState
	}
	if expectedVersion == 0 {
		expectedVersion = c.Version
	}

	now := time.Now().UTC()
	c.Status = StatusDeclined
	c.CancelledAt = &now

	if err := e.repo.UpdateConditional(ctx, c, expectedVersion); err != nil {
		if errors.Is(err, ErrStaleVersion) {
			return nil, ErrInvalidState
		}
		return nil, err
	}

	e.timer.Cancel(c.ID)
	e.settleRefund(ctx, c)
	e.publish(ctx, events.TypeCaseDeclined, ws.TopicPatient(c.PatientID.String()), c)

	e.logger.Info().Str("case_id", c.ID.String()).Msg("priority offer declined")
	return c, nil
}

// OnOfferExpired is the timer callback. version is the token captured when
// the timer was armed, not the current one, so an accept that happened in
// between makes the conditional write fail and the firing a no-op.
func (e *Engine) OnOfferExpired(ctx context.Context, caseID uuid.UUID, version int) error {
	c, err := e.repo.GetByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if c.Status != StatusPending {
		return nil
	}

	now := time.Now().UTC()
	c.Status = StatusExpired
	c.CancelledAt = &now

	if err := e.repo.UpdateConditional(ctx, c, version); err != nil {
		if errors.Is(err, ErrStaleVersion) {
			return nil
		}
		return err
	}

	e.settleRefund(ctx, c)
	e.publish(ctx, events.TypeCaseExpired, ws.TopicPatient(c.PatientID.String()), c)
	if c.RequestedDoctorID != nil {
		e.publish(ctx, events.TypeCaseExpired, ws.TopicDoctor(c.RequestedDoctorID.String()), c)
	}

	e.logger.Info().Str("case_id", c.ID.String()).Msg("priority offer expired")
	return nil
}

// Complete captures payment, fixes the money split and credits the doctor.
// Fee and payout are computed here exactly once.
func (e *Engine) Complete(ctx context.Context, caseID, doctorID uuid.UUID, expectedVersion int, rating *int) (*ConsultationCase, error) {
	c, err := e.repo.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusActive {
		return nil, ErrInvalidState
	}
	if c.AssignedDoctorID == nil || *c.AssignedDoctorID != doctorID {
		return nil, ErrNotAuthorized
	}
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, fmt.Errorf("rating must be between 1 and 5")
	}
	if expectedVersion == 0 {
		expectedVersion = c.Version
	}

	pricing, _ := PricingFor(c.Tier)
	now := time.Now().UTC()
	c.Status = StatusCompleted
	c.CompletedAt = &now
	c.FeeCents = pricing.Fee()
	c.PayoutCents = c.AmountCents - c.FeeCents
	c.Rating = rating

	if err := e.repo.UpdateConditional(ctx, c, expectedVersion); err != nil {
		if errors.Is(err, ErrStaleVersion) {
			return nil, ErrInvalidState
		}
		return nil, err
	}

	if err := e.settleCapture(ctx, c); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("case_id", c.ID.String()).
		Int64("fee_cents", c.FeeCents).
		Int64("payout_cents", c.PayoutCents).
		Msg("case completed")
	return c, nil
}

// settleCapture captures the authorization for a completed case, credits the
// assigned doctor and publishes the completion. Exhausted retries flag the
// case capture_failed; the completed status is never rolled back.
func (e *Engine) settleCapture(ctx context.Context, c *ConsultationCase) error {
	captureErr := payments.Retry(ctx, e.retry, func(ctx context.Context) error {
		return e.gateway.Capture(ctx, c.PaymentIntentID)
	})
	if captureErr != nil {
		c.PaymentStatus = PaymentCaptureFailed
		if err := e.repo.UpdateConditional(ctx, c, c.Version); err != nil {
			e.logger.Error().Err(err).Str("case_id", c.ID.String()).Msg("failed to flag capture failure")
		}
		e.logger.Error().
			Err(captureErr).
			Str("case_id", c.ID.String()).
			Str("payment_intent_id", c.PaymentIntentID).
			Msg("payment capture failed, case flagged for reconciliation")
		return nil
	}

	c.PaymentStatus = PaymentCaptured
	if err := e.repo.UpdateConditional(ctx, c, c.Version); err != nil {
		return err
	}

	if c.AssignedDoctorID != nil {
		if err := e.docs.CreditForCase(ctx, *c.AssignedDoctorID, c.ID, c.PayoutCents); err != nil {
			e.logger.Error().
				Err(err).
				Str("case_id", c.ID.String()).
				Str("doctor_id", c.AssignedDoctorID.String()).
				Msg("failed to credit doctor for completed case")
		}
		e.publish(ctx, events.TypeCaseCompleted, ws.TopicDoctor(c.AssignedDoctorID.String()), c)
	}
	e.publish(ctx, events.TypeCaseCompleted, ws.TopicPatient(c.PatientID.String()), c)
	return nil
}

// ReconcileCaptures retries the capture for completed cases the gateway call
// never settled, picking up after a crash between the completion write and
// the capture. Runs at startup alongside timer recovery.
func (e *Engine) ReconcileCaptures(ctx context.Context) error {
	stuck, err := e.repo.ListUncapturedCompleted(ctx)
	if err != nil {
		return err
	}
	for _, c := range stuck {
		if err := e.settleCapture(ctx, c); err != nil {
			e.logger.Error().Err(err).Str("case_id", c.ID.String()).Msg("capture reconciliation failed")
		}
	}
	if len(stuck) > 0 {
		e.logger.Info().Int("cases", len(stuck)).Msg("reconciled uncaptured completions")
	}
	return nil
}

// Cancel ends a case on the patient's or an admin's request. Refund is full
// as long as payment has not been captured; after completion or capture the
// cancellation is rejected.
func (e *Engine) Cancel(ctx context.Context, caseID, actorID uuid.UUID, isAdmin bool, reason string) (*ConsultationCase, error) {
	c, err := e.repo.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && c.PatientID != actorID {
		return nil, ErrNotAuthorized
	}
	if !c.Cancellable() {
		return nil, ErrCannotCancel
	}

	now := time.Now().UTC()
	c.Status = StatusCancelled
	c.CancelledAt = &now
	if reason != "" {
		c.CancelReason = &reason
	}

	if err := e.repo.UpdateConditional(ctx, c, c.Version); err != nil {
		if errors.Is(err, ErrStaleVersion) {
			return nil, ErrCannotCancel
		}
		return nil, err
	}

	e.timer.Cancel(c.ID)
	e.settleRefund(ctx, c)
	e.publish(ctx, events.TypeCaseCancelled, ws.TopicPatient(c.PatientID.String()), c)
	if c.AssignedDoctorID != nil {
		e.publish(ctx, events.TypeCaseCancelled, ws.TopicDoctor(c.AssignedDoctorID.String()), c)
	}

	e.logger.Info().Str("case_id", c.ID.String()).Str("reason", reason).Msg("case cancelled")
	return c, nil
}

// settleRefund refunds the authorization for a case that ended without
// service and records the outcome. Retries happen here; if they exhaust the
// case keeps its terminal status with payment_status flagging the failure
// for manual reconciliation.
func (e *Engine) settleRefund(ctx context.Context, c *ConsultationCase) {
	refundErr := payments.Retry(ctx, e.retry, func(ctx context.Context) error {
		return e.gateway.Refund(ctx, c.PaymentIntentID)
	})
	if refundErr != nil {
		c.PaymentStatus = PaymentRefundFailed
		if err := e.repo.UpdateConditional(ctx, c, c.Version); err != nil {
			e.logger.Error().Err(err).Str("case_id", c.ID.String()).Msg("failed to flag refund failure")
		}
		e.logger.Error().
			Err(refundErr).
			Str("case_id", c.ID.String()).
			Str("payment_intent_id", c.PaymentIntentID).
			Msg("refund failed, case flagged for reconciliation")
		return
	}

	c.PaymentStatus = PaymentRefunded
	if c.Status == StatusDeclined || c.Status == StatusExpired || c.Status == StatusCancelled {
		c.Status = StatusRefunded
	}
	if err := e.repo.UpdateConditional(ctx, c, c.Version); err != nil {
		e.logger.Error().Err(err).Str("case_id", c.ID.String()).Msg("failed to record refund")
		return
	}
	e.publish(ctx, events.TypeCaseRefunded, ws.TopicPatient(c.PatientID.String()), c)
}

// RecoverTimers rebuilds offer timers after a restart: overdue offers are
// expired immediately, live ones re-armed at their original deadline.
func (e *Engine) RecoverTimers(ctx context.Context) error {
	open, err := e.repo.ListOpenPriority(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, c := range open {
		if c.PriorityExpiresAt == nil {
			continue
		}
		if c.PriorityExpiresAt.After(now) {
			e.timer.Arm(c.ID, c.Version, *c.PriorityExpiresAt)
		} else {
			if err := e.OnOfferExpired(ctx, c.ID, c.Version); err != nil {
				e.logger.Error().Err(err).Str("case_id", c.ID.String()).Msg("recovery expiry failed")
			}
		}
	}
	e.logger.Info().Int("open_offers", len(open)).Msg("offer timers recovered")
	return nil
}

// SweepOverdue expires priority offers whose deadline passed without the
// in-memory timer firing, covering missed deadlines from downtime.
func (e *Engine) SweepOverdue(ctx context.Context) error {
	overdue, err := e.repo.ListOverduePriority(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, c := range overdue {
		if err := e.OnOfferExpired(ctx, c.ID, c.Version); err != nil {
			e.logger.Error().Err(err).Str("case_id", c.ID.String()).Msg("sweep expiry failed")
		}
	}
	return nil
}

// RunSweeper periodically runs SweepOverdue until the context ends.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.SweepOverdue(ctx); err != nil {
				e.logger.Error().Err(err).Msg("overdue sweep failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// -- queries --

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*ConsultationCase, error) {
	return e.repo.GetByID(ctx, id)
}

func (e *Engine) ListPendingStandard(ctx context.Context, limit, offset int) ([]*ConsultationCase, int, error) {
	return e.repo.ListPendingStandard(ctx, limit, offset)
}

func (e *Engine) ListPendingPriority(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*ConsultationCase, int, error) {
	return e.repo.ListPendingPriority(ctx, doctorID, limit, offset)
}

func (e *Engine) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConsultationCase, int, error) {
	return e.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (e *Engine) ListByDoctor(ctx context.Context, doctorID uuid.UUID, status string, limit, offset int) ([]*ConsultationCase, int, error) {
	return e.repo.ListByDoctor(ctx, doctorID, status, limit, offset)
}

func (e *Engine) publish(ctx context.Context, eventType, topic string, c *ConsultationCase) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	evt := events.NewEvent(eventType, topic)
	evt.CaseID = c.ID.String()
	evt.PatientID = c.PatientID.String()
	if c.AssignedDoctorID != nil {
		evt.DoctorID = c.AssignedDoctorID.String()
	}
	evt.Data = data
	e.bus.Publish(ctx, evt)
}
