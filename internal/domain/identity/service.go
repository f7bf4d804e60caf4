package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/ehr/ehrledger/internal/platform/apperr"
)

// Registry resolves addresses to roles. It holds no state besides the admin
// address; credentials are read from the repository on every call.
type Registry struct {
	admin string
	creds CredentialRepository
}

func NewRegistry(adminAddress string, creds CredentialRepository) *Registry {
	return &Registry{admin: strings.TrimSpace(adminAddress), creds: creds}
}

func (r *Registry) Credentials() CredentialRepository {
	return r.creds
}

// ResolveRole applies, in order: the admin address, a practitioner or
// insurer credential, and finally the patient default.
func (r *Registry) ResolveRole(ctx context.Context, address string) (*Identity, error) {
	if address == "" {
		return nil, apperr.InvalidInput("address is required")
	}
	if address == r.admin {
		return &Identity{Address: address, Role: RoleAdmin, Status: StatusApproved}, nil
	}
	c, err := r.creds.Get(ctx, address)
	if errors.Is(err, apperr.ErrNotFound) {
		return &Identity{Address: address, Role: RolePatient, Status: StatusApproved}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Identity{Address: address, Role: c.Role, Status: c.Status}, nil
}

// Require resolves address and fails with Unauthorized unless it holds role
// with an approved status.
func (r *Registry) Require(ctx context.Context, address string, role Role) (*Identity, error) {
	if address == "" {
		return nil, apperr.Unauthorized("caller identity required")
	}
	id, err := r.ResolveRole(ctx, address)
	if err != nil {
		return nil, err
	}
	if !id.Is(role) {
		return nil, apperr.Unauthorized("%s is not an approved %s", address, role)
	}
	return id, nil
}

func (r *Registry) Practitioner(ctx context.Context, address string) (*Practitioner, error) {
	c, err := r.creds.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if c.Role != RolePractitioner {
		return nil, apperr.NotFound("no practitioner credential for %s", address)
	}
	return c.AsPractitioner(), nil
}

func (r *Registry) Insurer(ctx context.Context, address string) (*Insurer, error) {
	c, err := r.creds.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if c.Role != RoleInsurer {
		return nil, apperr.NotFound("no insurer credential for %s", address)
	}
	return c.AsInsurer(), nil
}

// CredentialStatus reports approved, pending or not_registered for address
// under role.
func (r *Registry) CredentialStatus(ctx context.Context, role Role, address string) (Status, error) {
	c, err := r.creds.Get(ctx, address)
	if errors.Is(err, apperr.ErrNotFound) {
		return StatusNotRegistered, nil
	}
	if err != nil {
		return "", err
	}
	if c.Role != role {
		return StatusNotRegistered, nil
	}
	return c.Status, nil
}

// Login confirms that address may act as role. Patients always succeed.
func (r *Registry) Login(ctx context.Context, address string, role Role) (*Identity, error) {
	if address == "" {
		return nil, apperr.Unauthorized("caller identity required")
	}
	switch role {
	case RolePatient:
		return &Identity{Address: address, Role: RolePatient, Status: StatusApproved}, nil
	case RoleAdmin, RolePractitioner, RoleInsurer:
		return r.Require(ctx, address, role)
	}
	return nil, apperr.InvalidInput("unknown role %q", role)
}
