package claims

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	// Decide commits the outcome. A claim already decided yields
	// apperr.ErrAlreadyDecided.
	Decide(ctx context.Context, c *Claim) error
	ListByInsurer(ctx context.Context, insurer string) ([]*Claim, error)
	ListByPatient(ctx context.Context, patient string) ([]*Claim, error)
}
