// Package credentialing runs the practitioner and insurer approval
// workflow. A credential moves from pending to approved exactly once and
// only the admin may approve it.
package credentialing

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrledger/internal/domain/identity"
	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/events"
	"github.com/ehr/ehrledger/internal/platform/metrics"
)

// Resolver resolves a caller address to its role.
type Resolver interface {
	ResolveRole(ctx context.Context, address string) (*identity.Identity, error)
}

// Profile carries the registration fields. Practitioners need Name,
// Hospital and Specialization; insurers need Name and LicenseNumber.
type Profile struct {
	Name           string `json:"name"`
	Hospital       string `json:"hospital"`
	Specialization string `json:"specialization"`
	LicenseNumber  string `json:"license_number"`
}

type Service struct {
	resolver Resolver
	creds    identity.CredentialRepository
	logger   zerolog.Logger
	events   events.Publisher
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(resolver Resolver, creds identity.CredentialRepository) *Service {
	return &Service{
		resolver: resolver,
		creds:    creds,
		logger:   zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l.With().Str("component", "credentialing").Logger() }
func (s *Service) SetEvents(p events.Publisher) { s.events = p }
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// RequestCredential registers address as a pending practitioner or insurer.
func (s *Service) RequestCredential(ctx context.Context, role identity.Role, address string, p Profile) (c *identity.Credential, err error) {
	defer func() { s.metrics.Observe("request_credential", err) }()

	c = &identity.Credential{
		Address:     strings.TrimSpace(address),
		Role:        role,
		Name:        strings.TrimSpace(p.Name),
		Status:      identity.StatusPending,
		RequestedAt: s.now(),
	}
	switch role {
	case identity.RolePractitioner:
		c.Hospital = strings.TrimSpace(p.Hospital)
		c.Specialization = strings.TrimSpace(p.Specialization)
	case identity.RoleInsurer:
		c.LicenseNumber = strings.TrimSpace(p.LicenseNumber)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if err := s.creds.Create(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info().Str("address", c.Address).Str("role", string(role)).Msg("credential requested")
	events.Emit(ctx, s.events, s.logger, events.Event{
		Type:       events.CredentialRequested,
		Subject:    c.Address,
		Actor:      c.Address,
		Attributes: map[string]string{"role": string(role)},
	})
	return c, nil
}

// ApproveCredential moves the credential of address to approved. Only the
// admin may call it.
func (s *Service) ApproveCredential(ctx context.Context, caller string, role identity.Role, address string) (c *identity.Credential, err error) {
	defer func() { s.metrics.Observe("approve_credential", err) }()

	if role != identity.RolePractitioner && role != identity.RoleInsurer {
		return nil, apperr.InvalidInput("unsupported credential role %q", role)
	}
	who, err := s.resolver.ResolveRole(ctx, caller)
	if err != nil {
		return nil, err
	}
	if who.Role != identity.RoleAdmin {
		return nil, apperr.Unauthorized("only the admin may approve credentials")
	}

	c, err = s.creds.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if c.Role != role {
		return nil, apperr.NotFound("no %s credential for %s", role, address)
	}
	if c.Status == identity.StatusApproved {
		return nil, apperr.AlreadyApproved("credential for %s is already approved", address)
	}

	now := s.now()
	c.Status = identity.StatusApproved
	c.ApprovedAt = &now
	if err := s.creds.Approve(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info().Str("address", address).Str("role", string(role)).Msg("credential approved")
	events.Emit(ctx, s.events, s.logger, events.Event{
		Type:       events.CredentialApproved,
		Subject:    address,
		Actor:      caller,
		Attributes: map[string]string{"role": string(role)},
	})
	return c, nil
}

// ListPending returns pending credentials of role in request order.
func (s *Service) ListPending(ctx context.Context, role identity.Role) ([]*identity.Credential, error) {
	if role != identity.RolePractitioner && role != identity.RoleInsurer {
		return nil, apperr.InvalidInput("unsupported credential role %q", role)
	}
	all, err := s.creds.ListByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	pending := make([]*identity.Credential, 0, len(all))
	for _, c := range all {
		if c.Status == identity.StatusPending {
			pending = append(pending, c)
		}
	}
	return pending, nil
}
