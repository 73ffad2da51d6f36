package doctors

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

type mockRepo struct {
	mu      sync.Mutex
	doctors map[uuid.UUID]*Doctor
	credits map[uuid.UUID]*PayoutCredit // keyed by case ID
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		doctors: make(map[uuid.UUID]*Doctor),
		credits: make(map[uuid.UUID]*PayoutCredit),
	}
}

func (m *mockRepo) Create(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	d.UpdatedAt = time.Now()
	m.doctors[d.ID] = d
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockRepo) GetByEmail(_ context.Context, email string) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.doctors {
		if d.Email == email {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) UpdateProfile(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.doctors[d.ID]
	if !ok {
		return ErrNotFound
	}
	cur.DisplayName = d.DisplayName
	cur.Specialty = d.Specialty
	cur.PayoutAccountID = d.PayoutAccountID
	return nil
}

func (m *mockRepo) SetApprovalStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return ErrNotFound
	}
	d.ApprovalStatus = status
	return nil
}

func (m *mockRepo) SetAvailability(_ context.Context, id uuid.UUID, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return ErrNotFound
	}
	d.IsAvailable = available
	return nil
}

func (m *mockRepo) List(_ context.Context, approvalStatus string, limit, offset int) ([]*Doctor, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Doctor
	for _, d := range m.doctors {
		if approvalStatus == "" || d.ApprovalStatus == approvalStatus {
			result = append(result, d)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) Credit(_ context.Context, doctorID, caseID uuid.UUID, amountCents int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.credits[caseID]; dup {
		return false, nil
	}
	d, ok := m.doctors[doctorID]
	if !ok {
		return false, ErrNotFound
	}
	m.credits[caseID] = &PayoutCredit{
		ID: uuid.New(), DoctorID: doctorID, CaseID: caseID,
		AmountCents: amountCents, CreatedAt: time.Now(),
	}
	d.PendingBalanceCents += amountCents
	d.TotalEarningsCents += amountCents
	d.TotalCases++
	return true, nil
}

func (m *mockRepo) Debit(_ context.Context, doctorID uuid.UUID, amountCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[doctorID]
	if !ok {
		return ErrNotFound
	}
	if d.PendingBalanceCents < amountCents {
		return ErrBalanceTooLow
	}
	d.PendingBalanceCents -= amountCents
	return nil
}

func (m *mockRepo) RestoreBalance(_ context.Context, doctorID uuid.UUID, amountCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[doctorID]
	if !ok {
		return ErrNotFound
	}
	d.PendingBalanceCents += amountCents
	return nil
}

func (m *mockRepo) ListCredits(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*PayoutCredit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*PayoutCredit
	for _, c := range m.credits {
		if c.DoctorID == doctorID {
			result = append(result, c)
		}
	}
	return result, len(result), nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, zerolog.Nop()), repo
}

func approvedDoctor(t *testing.T, svc *Service) *Doctor {
	t.Helper()
	d := &Doctor{DisplayName: "Dr. Chen", Email: "chen@example.com"}
	if err := svc.Register(context.Background(), d); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := svc.SetApprovalStatus(context.Background(), d.ID, ApprovalApproved); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	return d
}

// -- Tests --

func TestRegister_StartsPendingUnavailable(t *testing.T) {
	svc, repo := newTestService()

	d := &Doctor{DisplayName: "Dr. Osei", Email: "osei@example.com", ApprovalStatus: ApprovalApproved, IsAvailable: true}
	if err := svc.Register(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := repo.doctors[d.ID]
	if stored.ApprovalStatus != ApprovalPending {
		t.Errorf("expected pending approval, got %q", stored.ApprovalStatus)
	}
	if stored.IsAvailable {
		t.Error("expected new doctor to start unavailable")
	}
}

func TestRegister_RequiresFields(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.Register(context.Background(), &Doctor{Email: "x@example.com"}); err == nil {
		t.Error("expected error for missing display name")
	}
	if err := svc.Register(context.Background(), &Doctor{DisplayName: "Dr. X"}); err == nil {
		t.Error("expected error for missing email")
	}
}

func TestSetApprovalStatus_RejectsUnknownStatus(t *testing.T) {
	svc, _ := newTestService()
	d := approvedDoctor(t, svc)

	err := svc.SetApprovalStatus(context.Background(), d.ID, "verified")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestSetAvailability_RequiresApproval(t *testing.T) {
	svc, _ := newTestService()

	d := &Doctor{DisplayName: "Dr. Patel", Email: "patel@example.com"}
	if err := svc.Register(context.Background(), d); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	err := svc.SetAvailability(context.Background(), d.ID, true)
	if !errors.Is(err, ErrNotApproved) {
		t.Errorf("expected ErrNotApproved, got %v", err)
	}

	// Going unavailable is always allowed.
	if err := svc.SetAvailability(context.Background(), d.ID, false); err != nil {
		t.Errorf("unexpected error going unavailable: %v", err)
	}
}

func TestSetAvailability_ApprovedDoctor(t *testing.T) {
	svc, repo := newTestService()
	d := approvedDoctor(t, svc)

	if err := svc.SetAvailability(context.Background(), d.ID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.doctors[d.ID].Eligible() {
		t.Error("expected doctor to be eligible after approval + availability")
	}
}

func TestCreditForCase_Idempotent(t *testing.T) {
	svc, repo := newTestService()
	d := approvedDoctor(t, svc)
	caseID := uuid.New()

	for i := 0; i < 3; i++ {
		if err := svc.CreditForCase(context.Background(), d.ID, caseID, 2000); err != nil {
			t.Fatalf("credit %d failed: %v", i, err)
		}
	}

	stored := repo.doctors[d.ID]
	if stored.PendingBalanceCents != 2000 {
		t.Errorf("expected balance 2000 after duplicate credits, got %d", stored.PendingBalanceCents)
	}
	if stored.TotalEarningsCents != 2000 {
		t.Errorf("expected earnings 2000, got %d", stored.TotalEarningsCents)
	}
	if stored.TotalCases != 1 {
		t.Errorf("expected 1 case, got %d", stored.TotalCases)
	}
}

func TestCreditForCase_ConcurrentDuplicates(t *testing.T) {
	svc, repo := newTestService()
	d := approvedDoctor(t, svc)
	caseID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.CreditForCase(context.Background(), d.ID, caseID, 3600)
		}()
	}
	wg.Wait()

	if got := repo.doctors[d.ID].PendingBalanceCents; got != 3600 {
		t.Errorf("expected balance 3600 after concurrent duplicate credits, got %d", got)
	}
}

func TestDebitBalance_InsufficientFunds(t *testing.T) {
	svc, _ := newTestService()
	d := approvedDoctor(t, svc)

	if err := svc.CreditForCase(context.Background(), d.ID, uuid.New(), 400); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	err := svc.DebitBalance(context.Background(), d.ID, 500)
	if !errors.Is(err, ErrBalanceTooLow) {
		t.Errorf("expected ErrBalanceTooLow, got %v", err)
	}

	if err := svc.DebitBalance(context.Background(), d.ID, 400); err != nil {
		t.Errorf("unexpected error debiting full balance: %v", err)
	}
}

func TestListCredits(t *testing.T) {
	svc, _ := newTestService()
	d := approvedDoctor(t, svc)

	svc.CreditForCase(context.Background(), d.ID, uuid.New(), 2000)
	svc.CreditForCase(context.Background(), d.ID, uuid.New(), 3600)

	credits, total, err := svc.ListCredits(context.Background(), d.ID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(credits) != 2 {
		t.Errorf("expected 2 credits, got total=%d len=%d", total, len(credits))
	}
}
