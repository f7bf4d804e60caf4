// Package policy covers insurance attached to patients: direct bindings by
// practitioners and patient requests decided by the targeted insurer.
package policy

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ehrledger/internal/domain/identity"
	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/events"
	"github.com/ehr/ehrledger/internal/platform/metrics"
)

type Identities interface {
	Require(ctx context.Context, address string, role identity.Role) (*identity.Identity, error)
}

type Service struct {
	ids      Identities
	bindings BindingRepository
	requests RequestRepository
	logger   zerolog.Logger
	events   events.Publisher
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(ids Identities, bindings BindingRepository, requests RequestRepository) *Service {
	return &Service{
		ids:      ids,
		bindings: bindings,
		requests: requests,
		logger:   zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l.With().Str("component", "policy").Logger() }
func (s *Service) SetEvents(p events.Publisher) { s.events = p }
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Terms are the policy fields shared by bindings and requests.
type Terms struct {
	CompanyName     string `json:"company_name"`
	PolicyNumber    string `json:"policy_number"`
	CoverageDetails string `json:"coverage_details"`
}

func (t Terms) trimmed() Terms {
	return Terms{
		CompanyName:     strings.TrimSpace(t.CompanyName),
		PolicyNumber:    strings.TrimSpace(t.PolicyNumber),
		CoverageDetails: strings.TrimSpace(t.CoverageDetails),
	}
}

// BindInsuranceDirect attaches an active policy to patient without any
// insurer involvement. The caller must be an approved practitioner.
func (s *Service) BindInsuranceDirect(ctx context.Context, practitioner, patient string, terms Terms) (b *Binding, err error) {
	defer func() { s.metrics.Observe("bind_insurance", err) }()

	patient = strings.TrimSpace(patient)
	terms = terms.trimmed()
	if patient == "" || terms.CompanyName == "" || terms.PolicyNumber == "" {
		return nil, apperr.InvalidInput("patient, company_name and policy_number are required")
	}
	if _, err := s.ids.Require(ctx, practitioner, identity.RolePractitioner); err != nil {
		return nil, err
	}

	b = &Binding{
		ID:                  uuid.New(),
		PatientAddress:      patient,
		PractitionerAddress: practitioner,
		CompanyName:         terms.CompanyName,
		PolicyNumber:        terms.PolicyNumber,
		CoverageDetails:     terms.CoverageDetails,
		Active:              true,
		CreatedAt:           s.now(),
	}
	if err := s.bindings.Create(ctx, b); err != nil {
		return nil, err
	}

	s.logger.Info().Str("binding_id", b.ID.String()).Str("patient", patient).Msg("insurance bound")
	events.Emit(ctx, s.events, s.logger, events.Event{
		Type:    events.InsuranceBound,
		Subject: b.ID.String(),
		Actor:   practitioner,
		Attributes: map[string]string{
			"patient":       patient,
			"policy_number": b.PolicyNumber,
		},
	})
	return b, nil
}

// RequestPolicy files an undecided request from patient to insurer. The
// insurer's registration status is not checked.
func (s *Service) RequestPolicy(ctx context.Context, patient, insurer string, terms Terms) (r *Request, err error) {
	defer func() { s.metrics.Observe("request_policy", err) }()

	patient = strings.TrimSpace(patient)
	insurer = strings.TrimSpace(insurer)
	if patient == "" || insurer == "" {
		return nil, apperr.InvalidInput("patient and insurer addresses are required")
	}
	terms = terms.trimmed()

	r = &Request{
		ID:              uuid.New(),
		PatientAddress:  patient,
		InsurerAddress:  insurer,
		CompanyName:     terms.CompanyName,
		PolicyNumber:    terms.PolicyNumber,
		CoverageDetails: terms.CoverageDetails,
		CreatedAt:       s.now(),
	}
	if err := s.requests.Create(ctx, r); err != nil {
		return nil, err
	}

	s.logger.Info().Str("request_id", r.ID.String()).Str("insurer", insurer).Msg("policy requested")
	events.Emit(ctx, s.events, s.logger, events.Event{
		Type:       events.PolicyRequested,
		Subject:    r.ID.String(),
		Actor:      patient,
		Attributes: map[string]string{"insurer": insurer},
	})
	return r, nil
}

// DecidePolicyRequest lets the targeted insurer approve or reject a request
// once.
func (s *Service) DecidePolicyRequest(ctx context.Context, caller string, id uuid.UUID, d Decision) (r *Request, err error) {
	defer func() { s.metrics.Observe("decide_policy_request", err) }()

	if d != DecisionApproved && d != DecisionRejected {
		return nil, apperr.InvalidInput("policy decision must be approved or rejected, got %q", d)
	}
	r, err = s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller == "" || caller != r.InsurerAddress {
		return nil, apperr.Unauthorized("only the targeted insurer may decide this request")
	}
	if r.Decided {
		return nil, apperr.AlreadyDecided("policy request %s is already %s", id, r.Status)
	}

	now := s.now()
	r.Decided = true
	r.Approved = d == DecisionApproved
	r.DecidedAt = &now
	if err := s.requests.Decide(ctx, r); err != nil {
		return nil, err
	}

	s.logger.Info().Str("request_id", id.String()).Str("decision", string(d)).Msg("policy request decided")
	events.Emit(ctx, s.events, s.logger, events.Event{
		Type:       events.PolicyDecided,
		Subject:    id.String(),
		Actor:      caller,
		Attributes: map[string]string{"decision": string(d)},
	})
	return r, nil
}

func (s *Service) ListBindings(ctx context.Context, patient string) ([]*Binding, error) {
	return s.bindings.ListByPatient(ctx, patient)
}

func (s *Service) ListRequestsByPatient(ctx context.Context, patient string) ([]*Request, error) {
	return s.requests.ListByPatient(ctx, patient)
}

// ListPendingForInsurer returns undecided requests targeting insurer.
func (s *Service) ListPendingForInsurer(ctx context.Context, insurer string) ([]*Request, error) {
	all, err := s.requests.ListByInsurer(ctx, insurer)
	if err != nil {
		return nil, err
	}
	pending := make([]*Request, 0, len(all))
	for _, r := range all {
		if !r.Decided {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// ListCoverage merges active bindings and approved requests, in creation
// order.
func (s *Service) ListCoverage(ctx context.Context, patient string) ([]*Coverage, error) {
	bindings, err := s.bindings.ListByPatient(ctx, patient)
	if err != nil {
		return nil, err
	}
	requests, err := s.requests.ListByPatient(ctx, patient)
	if err != nil {
		return nil, err
	}

	out := make([]*Coverage, 0, len(bindings)+len(requests))
	for _, b := range bindings {
		if !b.Active {
			continue
		}
		out = append(out, &Coverage{
			Source:              SourceBinding,
			ID:                  b.ID,
			Seq:                 b.Seq,
			CompanyName:         b.CompanyName,
			PolicyNumber:        b.PolicyNumber,
			CoverageDetails:     b.CoverageDetails,
			PractitionerAddress: b.PractitionerAddress,
			Since:               b.CreatedAt,
		})
	}
	for _, r := range requests {
		if !r.Decided || !r.Approved {
			continue
		}
		since := r.CreatedAt
		if r.DecidedAt != nil {
			since = *r.DecidedAt
		}
		out = append(out, &Coverage{
			Source:          SourceRequest,
			ID:              r.ID,
			Seq:             r.Seq,
			CompanyName:     r.CompanyName,
			PolicyNumber:    r.PolicyNumber,
			CoverageDetails: r.CoverageDetails,
			InsurerAddress:  r.InsurerAddress,
			Since:           since,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
