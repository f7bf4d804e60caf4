package records

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	// Decide persists r as terminal. It fails with AlreadyDecided when r is
	// stale or the record was already decided.
	Decide(ctx context.Context, r *Record) error
	// ListByPatient returns the patient's records in creation order.
	ListByPatient(ctx context.Context, patient string) ([]*Record, error)
}
