package identity

import "context"

// CredentialRepository stores one credential per address across all roles.
type CredentialRepository interface {
	// Create fails with DuplicateRequest if the address already holds a
	// credential of any role.
	Create(ctx context.Context, c *Credential) error
	Get(ctx context.Context, address string) (*Credential, error)
	// Approve persists c as terminal. It fails with AlreadyApproved if c is
	// stale or already sealed.
	Approve(ctx context.Context, c *Credential) error
	ListByRole(ctx context.Context, role Role) ([]*Credential, error)
}
