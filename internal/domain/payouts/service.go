package payouts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/heydoc/consult/internal/domain/doctors"
	"github.com/heydoc/consult/internal/platform/events"
	"github.com/heydoc/consult/internal/platform/payments"
	"github.com/heydoc/consult/internal/platform/ws"
)

// DoctorLedger is the slice of the doctors service the coordinator needs.
// The debit happens before the transfer so two concurrent payout requests
// cannot both drain the same balance; a failed transfer restores it.
type DoctorLedger interface {
	Get(ctx context.Context, id uuid.UUID) (*doctors.Doctor, error)
	DebitBalance(ctx context.Context, doctorID uuid.UUID, amountCents int64) error
	RestoreBalance(ctx context.Context, doctorID uuid.UUID, amountCents int64) error
}

// settleAttempts bounds retries of the credit-stamping write.
const settleAttempts = 3

// Coordinator moves accumulated earnings off the platform, as a weekly
// batch over all payable doctors or as a fee-carrying instant transfer for
// one.
type Coordinator struct {
	repo    Repository
	ledger  DoctorLedger
	gateway payments.Gateway
	bus     *events.Bus
	retry   payments.RetryPolicy
	cfg     Config
	logger  zerolog.Logger
}

func NewCoordinator(repo Repository, ledger DoctorLedger, gateway payments.Gateway, bus *events.Bus, cfg Config, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		repo:    repo,
		ledger:  ledger,
		gateway: gateway,
		bus:     bus,
		retry:   payments.DefaultRetryPolicy(),
		cfg:     cfg,
		logger:  logger,
	}
}

// SetRetryPolicy overrides the gateway retry policy, used by tests to avoid
// real backoff delays.
func (c *Coordinator) SetRetryPolicy(p payments.RetryPolicy) { c.retry = p }

// RunWeekly pays out every doctor whose balance reaches the weekly minimum.
// Each doctor is settled independently; one failed transfer does not stop
// the batch. Returns the number of completed payouts.
func (c *Coordinator) RunWeekly(ctx context.Context) (int, error) {
	payees, err := c.repo.ListPayable(ctx, c.cfg.WeeklyMinCents)
	if err != nil {
		return 0, err
	}

	var completed int
	for _, payee := range payees {
		p, err := c.payOut(ctx, payee.DoctorID, KindWeekly, payee.BalanceCents, 0)
		if err != nil {
			c.logger.Error().
				Err(err).
				Str("doctor_id", payee.DoctorID.String()).
				Msg("weekly payout failed")
			continue
		}
		if p.Status == StatusCompleted {
			completed++
		}
	}
	c.logger.Info().
		Int("payable", len(payees)).
		Int("completed", completed).
		Msg("weekly payout run finished")
	return completed, nil
}

// RequestInstant transfers the doctor's full balance on demand, minus the
// flat instant fee. The balance must reach the instant minimum.
func (c *Coordinator) RequestInstant(ctx context.Context, doctorID uuid.UUID) (*DoctorPayout, error) {
	d, err := c.ledger.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if d.PendingBalanceCents < c.cfg.InstantMinCents {
		return nil, fmt.Errorf("%w: balance %d below instant minimum %d",
			doctors.ErrBalanceTooLow, d.PendingBalanceCents, c.cfg.InstantMinCents)
	}
	if d.PayoutAccountID == nil {
		return nil, ErrNoPayoutAccount
	}
	return c.payOut(ctx, doctorID, KindInstant, d.PendingBalanceCents, c.cfg.InstantFeeCents)
}

// payOut runs one debit-transfer-settle cycle. grossCents is the balance
// being drained; the transfer carries grossCents minus feeCents.
func (c *Coordinator) payOut(ctx context.Context, doctorID uuid.UUID, kind string, grossCents, feeCents int64) (*DoctorPayout, error) {
	caseIDs, err := c.repo.UnsettledCaseIDs(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	status := StatusPending
	if kind == KindInstant {
		status = StatusProcessing
	}
	p := &DoctorPayout{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		Kind:        kind,
		Status:      status,
		AmountCents: grossCents - feeCents,
		FeeCents:    feeCents,
		CaseIDs:     caseIDs,
	}
	if err := c.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	if err := c.ledger.DebitBalance(ctx, doctorID, grossCents); err != nil {
		reason := err.Error()
		if outErr := c.repo.SetOutcome(ctx, p.ID, StatusFailed, nil, &reason); outErr != nil {
			c.logger.Error().Err(outErr).Str("payout_id", p.ID.String()).Msg("failed to record payout outcome")
		}
		return nil, err
	}
	// The credits must be stamped before money moves; otherwise they would
	// reappear in the next payout's frozen case set. If stamping keeps
	// failing the payout is abandoned and the balance put back.
	settleErr := c.repo.SettleCredits(ctx, doctorID, p.ID)
	for attempt := 1; settleErr != nil && attempt < settleAttempts; attempt++ {
		settleErr = c.repo.SettleCredits(ctx, doctorID, p.ID)
	}
	if settleErr != nil {
		reason := settleErr.Error()
		if err := c.repo.SetOutcome(ctx, p.ID, StatusFailed, nil, &reason); err != nil {
			c.logger.Error().Err(err).Str("payout_id", p.ID.String()).Msg("failed to record payout outcome")
		}
		if err := c.ledger.RestoreBalance(ctx, doctorID, grossCents); err != nil {
			c.logger.Error().
				Err(err).
				Str("doctor_id", doctorID.String()).
				Int64("amount_cents", grossCents).
				Msg("failed to restore balance after settle failure")
		}
		return nil, fmt.Errorf("settle credits: %w", settleErr)
	}
	c.publish(ctx, events.TypePayoutCreated, p)

	transfer, transferErr := c.transferWithRetry(ctx, p)
	if transferErr != nil {
		reason := transferErr.Error()
		p.Status = StatusFailed
		p.FailureReason = &reason
		if err := c.repo.SetOutcome(ctx, p.ID, StatusFailed, nil, &reason); err != nil {
			c.logger.Error().Err(err).Str("payout_id", p.ID.String()).Msg("failed to record payout outcome")
		}
		if err := c.ledger.RestoreBalance(ctx, doctorID, grossCents); err != nil {
			c.logger.Error().
				Err(err).
				Str("doctor_id", doctorID.String()).
				Int64("amount_cents", grossCents).
				Msg("failed to restore balance after transfer failure")
		}
		c.publish(ctx, events.TypePayoutFailed, p)
		c.logger.Error().
			Err(transferErr).
			Str("payout_id", p.ID.String()).
			Str("doctor_id", doctorID.String()).
			Msg("payout transfer failed")
		return p, nil
	}

	p.Status = StatusCompleted
	p.TransferID = &transfer.TransferID
	if err := c.repo.SetOutcome(ctx, p.ID, StatusCompleted, &transfer.TransferID, nil); err != nil {
		return nil, err
	}
	c.publish(ctx, events.TypePayoutCompleted, p)

	c.logger.Info().
		Str("payout_id", p.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("kind", kind).
		Int64("amount_cents", p.AmountCents).
		Msg("payout completed")
	return p, nil
}

func (c *Coordinator) transferWithRetry(ctx context.Context, p *DoctorPayout) (*payments.Transfer, error) {
	var transfer *payments.Transfer
	err := payments.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		transfer, err = c.gateway.Transfer(ctx, payments.TransferRequest{
			AmountCents:    p.AmountCents,
			Currency:       "usd",
			DoctorID:       p.DoctorID.String(),
			Description:    fmt.Sprintf("%s payout covering %d cases", p.Kind, len(p.CaseIDs)),
			IdempotencyKey: "payout-" + p.ID.String(),
		})
		return err
	})
	return transfer, err
}

// History returns the doctor's payouts, newest first.
func (c *Coordinator) History(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*DoctorPayout, int, error) {
	return c.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

func (c *Coordinator) publish(ctx context.Context, eventType string, p *DoctorPayout) {
	if c.bus == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	evt := events.NewEvent(eventType, ws.TopicDoctor(p.DoctorID.String()))
	evt.DoctorID = p.DoctorID.String()
	evt.Data = data
	c.bus.Publish(ctx, evt)
}
