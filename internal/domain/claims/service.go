// Package claims handles claims raised by patients against insurers.
package claims

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/blobstore"
	"github.com/ehr/ehrledger/internal/platform/events"
	"github.com/ehr/ehrledger/internal/platform/metrics"
)

type Service struct {
	repo    Repository
	blobs   blobstore.Store
	logger  zerolog.Logger
	events  events.Publisher
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(repo Repository, blobs blobstore.Store) *Service {
	return &Service{
		repo:   repo,
		blobs:  blobs,
		logger: zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l.With().Str("component", "claims").Logger() }
func (s *Service) SetEvents(p events.Publisher) { s.events = p }
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// RaiseClaimRequest describes a claim. Bill is optional.
type RaiseClaimRequest struct {
	InsurerAddress string
	PolicyNumber   string
	Reason         string
	BillUpload     blobstore.Upload
	Bill           io.Reader
}

// RaiseClaim files a pending claim from patient. When a bill is attached it
// is stored first and the claim is not written if that fails.
func (s *Service) RaiseClaim(ctx context.Context, patient string, req RaiseClaimRequest) (c *Claim, err error) {
	defer func() { s.metrics.Observe("raise_claim", err) }()

	patient = strings.TrimSpace(patient)
	insurer := strings.TrimSpace(req.InsurerAddress)
	policyNumber := strings.TrimSpace(req.PolicyNumber)
	reason := strings.TrimSpace(req.Reason)
	if patient == "" || insurer == "" || policyNumber == "" || reason == "" {
		return nil, apperr.InvalidInput("patient, insurer_address, policy_number and reason are required")
	}

	var bill blobstore.Ref
	if req.Bill != nil {
		meta, err := s.blobs.Put(ctx, req.BillUpload, req.Bill)
		if err != nil {
			if blobstore.IsInvalidUpload(err) {
				return nil, apperr.InvalidInput("bill: %v", err)
			}
			return nil, apperr.AttachmentFailed(err)
		}
		bill = meta.Ref
	}

	c = &Claim{
		ID:                uuid.New(),
		PatientAddress:    patient,
		InsurerAddress:    insurer,
		PolicyNumber:      policyNumber,
		Reason:            reason,
		BillAttachmentRef: bill,
		CreatedAt:         s.now(),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("claim_id", c.ID.String()).
		Str("insurer", insurer).
		Bool("has_bill", bill != "").
		Msg("claim raised")
	events.Emit(ctx, s.events, s.logger, events.Event{
		Type:    events.ClaimRaised,
		Subject: c.ID.String(),
		Actor:   patient,
		Attributes: map[string]string{
			"insurer":       insurer,
			"policy_number": policyNumber,
		},
	})
	return c, nil
}

// DecideClaim commits the insurer's outcome. Only the claim's insurer may
// decide, and only once.
func (s *Service) DecideClaim(ctx context.Context, caller string, id uuid.UUID, outcome Outcome) (c *Claim, err error) {
	defer func() { s.metrics.Observe("decide_claim", err) }()

	if outcome != OutcomeApproved && outcome != OutcomeDeclined {
		return nil, apperr.InvalidInput("claim outcome must be approved or declined, got %q", outcome)
	}
	c, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller == "" || caller != c.InsurerAddress {
		return nil, apperr.Unauthorized("only the claim's insurer may decide it")
	}
	if c.Decided {
		return nil, apperr.AlreadyDecided("claim %s is already %s", id, c.Status)
	}

	now := s.now()
	c.Decided = true
	c.Approved = outcome == OutcomeApproved
	c.DecidedAt = &now
	if err := s.repo.Decide(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info().Str("claim_id", id.String()).Str("outcome", string(outcome)).Msg("claim decided")
	events.Emit(ctx, s.events, s.logger, events.Event{
		Type:       events.ClaimDecided,
		Subject:    id.String(),
		Actor:      caller,
		Attributes: map[string]string{"outcome": string(outcome)},
	})
	return c, nil
}

// ListClaims returns every claim targeting insurer with its status label.
func (s *Service) ListClaims(ctx context.Context, insurer string) ([]*Claim, error) {
	return s.repo.ListByInsurer(ctx, insurer)
}

func (s *Service) ListClaimsByPatient(ctx context.Context, patient string) ([]*Claim, error) {
	return s.repo.ListByPatient(ctx, patient)
}

func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.repo.GetByID(ctx, id)
}
