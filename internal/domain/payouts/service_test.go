package payouts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/heydoc/consult/internal/domain/doctors"
	"github.com/heydoc/consult/internal/platform/payments"
)

type mockRepo struct {
	mu        sync.Mutex
	payouts   map[uuid.UUID]*DoctorPayout
	payees    []*Payee
	unsettled map[uuid.UUID][]uuid.UUID // by doctor ID

	failSettle bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		payouts:   make(map[uuid.UUID]*DoctorPayout),
		unsettled: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *mockRepo) Create(_ context.Context, p *DoctorPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	cp := *p
	m.payouts[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*DoctorPayout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*DoctorPayout, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*DoctorPayout
	for _, p := range m.payouts {
		if p.DoctorID == doctorID {
			cp := *p
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) SetOutcome(_ context.Context, id uuid.UUID, status string, transferID, failureReason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	p.Status = status
	p.TransferID = transferID
	p.FailureReason = failureReason
	p.ProcessedAt = &now
	return nil
}

func (m *mockRepo) ListPayable(_ context.Context, minBalanceCents int64) ([]*Payee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Payee
	for _, p := range m.payees {
		if p.BalanceCents >= minBalanceCents {
			cp := *p
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockRepo) UnsettledCaseIDs(_ context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.unsettled[doctorID]...), nil
}

func (m *mockRepo) SettleCredits(_ context.Context, doctorID, _ uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSettle {
		return errors.New("simulated settle failure")
	}
	delete(m.unsettled, doctorID)
	return nil
}

type fakeLedger struct {
	mu      sync.Mutex
	doctors map[uuid.UUID]*doctors.Doctor
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{doctors: make(map[uuid.UUID]*doctors.Doctor)}
}

func (f *fakeLedger) add(balanceCents int64, account bool) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	d := &doctors.Doctor{ID: id, PendingBalanceCents: balanceCents}
	if account {
		acct := "acct_" + id.String()[:8]
		d.PayoutAccountID = &acct
	}
	f.doctors[id] = d
	return id
}

func (f *fakeLedger) Get(_ context.Context, id uuid.UUID) (*doctors.Doctor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.doctors[id]
	if !ok {
		return nil, doctors.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeLedger) DebitBalance(_ context.Context, doctorID uuid.UUID, amountCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.doctors[doctorID]
	if !ok {
		return doctors.ErrNotFound
	}
	if d.PendingBalanceCents < amountCents {
		return doctors.ErrBalanceTooLow
	}
	d.PendingBalanceCents -= amountCents
	return nil
}

func (f *fakeLedger) RestoreBalance(_ context.Context, doctorID uuid.UUID, amountCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.doctors[doctorID]
	if !ok {
		return doctors.ErrNotFound
	}
	d.PendingBalanceCents += amountCents
	return nil
}

func (f *fakeLedger) balance(id uuid.UUID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doctors[id].PendingBalanceCents
}

type fakeGateway struct {
	mu        sync.Mutex
	fail      bool
	transfers []payments.TransferRequest
}

func (g *fakeGateway) Authorize(context.Context, payments.AuthorizeRequest) (*payments.Authorization, error) {
	return nil, errors.New("not used")
}
func (g *fakeGateway) Capture(context.Context, string) error { return errors.New("not used") }
func (g *fakeGateway) Refund(context.Context, string) error  { return errors.New("not used") }
func (g *fakeGateway) Void(context.Context, string) error    { return errors.New("not used") }

func (g *fakeGateway) Transfer(_ context.Context, req payments.TransferRequest) (*payments.Transfer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return nil, payments.ErrUnavailable
	}
	g.transfers = append(g.transfers, req)
	return &payments.Transfer{TransferID: "tr_" + req.IdempotencyKey, AmountCents: req.AmountCents, Status: "paid"}, nil
}

type fixture struct {
	coordinator *Coordinator
	repo        *mockRepo
	ledger      *fakeLedger
	gateway     *fakeGateway
}

func newFixture() *fixture {
	repo := newMockRepo()
	ledger := newFakeLedger()
	gateway := &fakeGateway{}
	coordinator := NewCoordinator(repo, ledger, gateway, nil, DefaultConfig(), zerolog.Nop())
	coordinator.SetRetryPolicy(payments.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond})
	return &fixture{coordinator: coordinator, repo: repo, ledger: ledger, gateway: gateway}
}

func TestRunWeekly_PaysAllEligible(t *testing.T) {
	f := newFixture()
	a := f.ledger.add(2000, true)
	b := f.ledger.add(3600, true)
	f.repo.payees = []*Payee{
		{DoctorID: a, BalanceCents: 2000, PayoutAccountID: "acct_a"},
		{DoctorID: b, BalanceCents: 3600, PayoutAccountID: "acct_b"},
	}
	f.repo.unsettled[a] = []uuid.UUID{uuid.New()}
	f.repo.unsettled[b] = []uuid.UUID{uuid.New(), uuid.New()}

	completed, err := f.coordinator.RunWeekly(context.Background())
	if err != nil {
		t.Fatalf("weekly run failed: %v", err)
	}
	if completed != 2 {
		t.Errorf("expected 2 completed payouts, got %d", completed)
	}
	if f.ledger.balance(a) != 0 || f.ledger.balance(b) != 0 {
		t.Errorf("balances must be zeroed, got %d and %d", f.ledger.balance(a), f.ledger.balance(b))
	}
	if len(f.gateway.transfers) != 2 {
		t.Errorf("expected 2 transfers, got %d", len(f.gateway.transfers))
	}

	ps, _, _ := f.repo.ListByDoctor(context.Background(), b, 20, 0)
	if len(ps) != 1 {
		t.Fatalf("expected 1 payout for doctor b, got %d", len(ps))
	}
	p := ps[0]
	if p.Kind != KindWeekly || p.Status != StatusCompleted {
		t.Errorf("unexpected payout state: %s/%s", p.Kind, p.Status)
	}
	if p.AmountCents != 3600 || p.FeeCents != 0 {
		t.Errorf("weekly payout carries no fee, got amount %d fee %d", p.AmountCents, p.FeeCents)
	}
	if len(p.CaseIDs) != 2 {
		t.Errorf("expected 2 cases covered, got %d", len(p.CaseIDs))
	}
	if p.TransferID == nil {
		t.Error("completed payout must record the transfer ID")
	}
}

func TestRunWeekly_SkipsBelowMinimum(t *testing.T) {
	f := newFixture()
	a := f.ledger.add(50, true)
	f.repo.payees = []*Payee{{DoctorID: a, BalanceCents: 50, PayoutAccountID: "acct_a"}}

	completed, err := f.coordinator.RunWeekly(context.Background())
	if err != nil {
		t.Fatalf("weekly run failed: %v", err)
	}
	if completed != 0 {
		t.Errorf("balance below minimum must not pay out, got %d", completed)
	}
	if f.ledger.balance(a) != 50 {
		t.Errorf("balance must be untouched, got %d", f.ledger.balance(a))
	}
}

func TestRunWeekly_TransferFailureRestoresBalance(t *testing.T) {
	f := newFixture()
	f.gateway.fail = true
	a := f.ledger.add(2000, true)
	f.repo.payees = []*Payee{{DoctorID: a, BalanceCents: 2000, PayoutAccountID: "acct_a"}}

	completed, err := f.coordinator.RunWeekly(context.Background())
	if err != nil {
		t.Fatalf("weekly run failed: %v", err)
	}
	if completed != 0 {
		t.Errorf("failed transfer must not count as completed, got %d", completed)
	}
	if f.ledger.balance(a) != 2000 {
		t.Errorf("balance must be restored after transfer failure, got %d", f.ledger.balance(a))
	}

	ps, _, _ := f.repo.ListByDoctor(context.Background(), a, 20, 0)
	if len(ps) != 1 || ps[0].Status != StatusFailed {
		t.Fatalf("expected a failed payout row, got %+v", ps)
	}
	if ps[0].FailureReason == nil {
		t.Error("failed payout must record the reason")
	}
}

func TestRequestInstant_SubtractsFee(t *testing.T) {
	f := newFixture()
	a := f.ledger.add(2000, true)

	p, err := f.coordinator.RequestInstant(context.Background(), a)
	if err != nil {
		t.Fatalf("instant payout failed: %v", err)
	}
	if p.Kind != KindInstant {
		t.Errorf("expected instant kind, got %q", p.Kind)
	}
	if p.Status != StatusCompleted {
		t.Errorf("expected completed, got %q", p.Status)
	}
	if p.AmountCents != 1800 || p.FeeCents != 200 {
		t.Errorf("expected 1800 after 200 fee, got amount %d fee %d", p.AmountCents, p.FeeCents)
	}
	if f.ledger.balance(a) != 0 {
		t.Errorf("full balance must be drained, got %d", f.ledger.balance(a))
	}
	if len(f.gateway.transfers) != 1 || f.gateway.transfers[0].AmountCents != 1800 {
		t.Errorf("transfer must carry the net amount: %+v", f.gateway.transfers)
	}
}

func TestRequestInstant_BalanceTooLow(t *testing.T) {
	f := newFixture()
	a := f.ledger.add(400, true) // below the 500 instant minimum

	if _, err := f.coordinator.RequestInstant(context.Background(), a); !errors.Is(err, doctors.ErrBalanceTooLow) {
		t.Errorf("expected ErrBalanceTooLow, got %v", err)
	}
	if f.ledger.balance(a) != 400 {
		t.Errorf("balance must be untouched, got %d", f.ledger.balance(a))
	}
	if len(f.repo.payouts) != 0 {
		t.Error("no payout row may be created for a rejected request")
	}
}

func TestRequestInstant_RequiresPayoutAccount(t *testing.T) {
	f := newFixture()
	a := f.ledger.add(2000, false)

	if _, err := f.coordinator.RequestInstant(context.Background(), a); !errors.Is(err, ErrNoPayoutAccount) {
		t.Errorf("expected ErrNoPayoutAccount, got %v", err)
	}
}

func TestRequestInstant_TransferFailure(t *testing.T) {
	f := newFixture()
	f.gateway.fail = true
	a := f.ledger.add(2000, true)

	p, err := f.coordinator.RequestInstant(context.Background(), a)
	if err != nil {
		t.Fatalf("failure must be recorded on the payout, not returned: %v", err)
	}
	if p.Status != StatusFailed {
		t.Errorf("expected failed, got %q", p.Status)
	}
	if p.FailureReason == nil {
		t.Error("failure reason missing")
	}
	if f.ledger.balance(a) != 2000 {
		t.Errorf("balance must be restored, got %d", f.ledger.balance(a))
	}
}

func TestRequestInstant_SettleFailureAborts(t *testing.T) {
	f := newFixture()
	f.repo.failSettle = true
	a := f.ledger.add(2000, true)
	f.repo.unsettled[a] = []uuid.UUID{uuid.New()}

	if _, err := f.coordinator.RequestInstant(context.Background(), a); err == nil {
		t.Fatal("expected error when credits cannot be stamped")
	}
	if f.ledger.balance(a) != 2000 {
		t.Errorf("balance must be restored after settle failure, got %d", f.ledger.balance(a))
	}
	if len(f.gateway.transfers) != 0 {
		t.Errorf("no money may move when credits stay unsettled, got %d transfers", len(f.gateway.transfers))
	}

	ps, _, _ := f.repo.ListByDoctor(context.Background(), a, 20, 0)
	if len(ps) != 1 || ps[0].Status != StatusFailed {
		t.Fatalf("expected a failed payout row, got %+v", ps)
	}
	if ps[0].FailureReason == nil {
		t.Error("failed payout must record the reason")
	}
}

func TestRequestInstant_ConcurrentDrainsOnce(t *testing.T) {
	f := newFixture()
	a := f.ledger.add(600, true)

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.coordinator.RequestInstant(context.Background(), a)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range results {
		if err == nil {
			ok++
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one successful drain, got %d", ok)
	}
	if f.ledger.balance(a) != 0 {
		t.Errorf("expected zero balance, got %d", f.ledger.balance(a))
	}
}
