package doctors

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Register creates a doctor in pending approval state. Doctors cannot see
// or claim cases until a platform admin approves them.
func (s *Service) Register(ctx context.Context, d *Doctor) error {
	if d.DisplayName == "" {
		return fmt.Errorf("display_name is required")
	}
	if d.Email == "" {
		return fmt.Errorf("email is required")
	}
	d.ApprovalStatus = ApprovalPending
	d.IsAvailable = false
	if err := s.repo.Create(ctx, d); err != nil {
		return err
	}
	s.logger.Info().Str("doctor_id", d.ID.String()).Msg("doctor registered")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, approvalStatus string, limit, offset int) ([]*Doctor, int, error) {
	return s.repo.List(ctx, approvalStatus, limit, offset)
}

func (s *Service) UpdateProfile(ctx context.Context, d *Doctor) error {
	if _, err := s.repo.GetByID(ctx, d.ID); err != nil {
		return err
	}
	return s.repo.UpdateProfile(ctx, d)
}

// SetApprovalStatus transitions the doctor's approval state. Admin only;
// the handler enforces the role.
func (s *Service) SetApprovalStatus(ctx context.Context, id uuid.UUID, status string) error {
	switch status {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	if err := s.repo.SetApprovalStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.Info().Str("doctor_id", id.String()).Str("status", status).Msg("doctor approval updated")
	return nil
}

// SetAvailability toggles whether the doctor is receiving priority offers.
// Only approved doctors can go available.
func (s *Service) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	if available {
		d, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if d.ApprovalStatus != ApprovalApproved {
			return ErrNotApproved
		}
	}
	return s.repo.SetAvailability(ctx, id, available)
}

// CreditForCase records earnings for a completed case. Crediting is
// idempotent on case ID: retried completions never double-pay.
func (s *Service) CreditForCase(ctx context.Context, doctorID, caseID uuid.UUID, amountCents int64) error {
	credited, err := s.repo.Credit(ctx, doctorID, caseID, amountCents)
	if err != nil {
		return err
	}
	if !credited {
		s.logger.Debug().
			Str("doctor_id", doctorID.String()).
			Str("case_id", caseID.String()).
			Msg("case already credited, skipping")
		return nil
	}
	s.logger.Info().
		Str("doctor_id", doctorID.String()).
		Str("case_id", caseID.String()).
		Int64("amount_cents", amountCents).
		Msg("doctor credited for case")
	return nil
}

// DebitBalance reduces the pending balance when funds leave via payout.
func (s *Service) DebitBalance(ctx context.Context, doctorID uuid.UUID, amountCents int64) error {
	return s.repo.Debit(ctx, doctorID, amountCents)
}

// RestoreBalance puts debited funds back after a transfer fails.
func (s *Service) RestoreBalance(ctx context.Context, doctorID uuid.UUID, amountCents int64) error {
	return s.repo.RestoreBalance(ctx, doctorID, amountCents)
}

func (s *Service) ListCredits(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*PayoutCredit, int, error) {
	return s.repo.ListCredits(ctx, doctorID, limit, offset)
}
