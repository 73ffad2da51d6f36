package cases

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExpireFunc receives the case ID and the version token captured at arm
// time. The callee decides through its conditional write whether the firing
// still applies.
type ExpireFunc func(ctx context.Context, caseID uuid.UUID, version int) error

// OfferTimer schedules one expiry callback per priority offer. The in-memory
// timers are an optimization for prompt firing; durability comes from the
// case table itself, which the engine's recovery and sweep paths re-scan.
type OfferTimer struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
	fire   ExpireFunc
	logger zerolog.Logger
}

func NewOfferTimer(fire ExpireFunc, logger zerolog.Logger) *OfferTimer {
	return &OfferTimer{
		timers: make(map[uuid.UUID]*time.Timer),
		fire:   fire,
		logger: logger,
	}
}

// Arm schedules a firing at the given deadline. Re-arming an already armed
// case replaces the previous timer.
func (t *OfferTimer) Arm(caseID uuid.UUID, version int, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[caseID]; ok {
		existing.Stop()
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	t.timers[caseID] = time.AfterFunc(delay, func() {
		t.mu.Lock()
		delete(t.timers, caseID)
		t.mu.Unlock()

		if err := t.fire(context.Background(), caseID, version); err != nil {
			t.logger.Error().
				Err(err).
				Str("case_id", caseID.String()).
				Msg("offer expiry callback failed")
		}
	})
}

// Cancel removes a pending timer. Cancelling after the timer fired, or a
// case that was never armed, is a no-op.
func (t *OfferTimer) Cancel(caseID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[caseID]; ok {
		timer.Stop()
		delete(t.timers, caseID)
	}
}

// Armed returns the number of scheduled timers.
func (t *OfferTimer) Armed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Stop cancels every scheduled timer, used on shutdown.
func (t *OfferTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
