package cases

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *ConsultationCase) error
	GetByID(ctx context.Context, id uuid.UUID) (*ConsultationCase, error)

	// UpdateConditional persists c only if the stored version still equals
	// expectedVersion, bumping the version on success. Returns
	// ErrStaleVersion when another writer got there first. This is the only
	// mutation path for an existing case.
	UpdateConditional(ctx context.Context, c *ConsultationCase, expectedVersion int) error

	// ListPendingStandard is the pull queue, oldest first.
	ListPendingStandard(ctx context.Context, limit, offset int) ([]*ConsultationCase, int, error)

	// ListPendingPriority returns open offers targeting one doctor.
	ListPendingPriority(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*ConsultationCase, int, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConsultationCase, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, status string, limit, offset int) ([]*ConsultationCase, int, error)

	// ListOverduePriority finds priority cases still pending past their
	// offer deadline. The recovery sweep expires them.
	ListOverduePriority(ctx context.Context, now time.Time) ([]*ConsultationCase, error)

	// ListOpenPriority returns all pending priority cases, used to re-arm
	// offer timers after a restart.
	ListOpenPriority(ctx context.Context) ([]*ConsultationCase, error)

	// ListUncapturedCompleted finds completed cases whose payment is still
	// authorized, left behind by a crash between the completion write and
	// the capture call. The startup reconciliation retries them.
	ListUncapturedCompleted(ctx context.Context) ([]*ConsultationCase, error)
}
