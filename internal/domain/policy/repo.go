package policy

import (
	"context"

	"github.com/google/uuid"
)

type BindingRepository interface {
	Create(ctx context.Context, b *Binding) error
	ListByPatient(ctx context.Context, patient string) ([]*Binding, error)
}

type RequestRepository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	// Decide persists r as terminal, failing with AlreadyDecided when r is
	// stale or already decided.
	Decide(ctx context.Context, r *Request) error
	ListByPatient(ctx context.Context, patient string) ([]*Request, error)
	ListByInsurer(ctx context.Context, insurer string) ([]*Request, error)
}
