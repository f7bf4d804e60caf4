// Package records manages medical records: creation by approved
// practitioners and a single approve or decline decision by the patient.
package records

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/ehrledger/internal/domain/identity"
	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/blobstore"
	"github.com/ehr/ehrledger/internal/platform/events"
	"github.com/ehr/ehrledger/internal/platform/metrics"
)

// enrichConcurrency bounds concurrent practitioner lookups in ListRecords.
const enrichConcurrency = 8

type Identities interface {
	Require(ctx context.Context, address string, role identity.Role) (*identity.Identity, error)
	Practitioner(ctx context.Context, address string) (*identity.Practitioner, error)
}

type Service struct {
	ids     Identities
	repo    Repository
	blobs   blobstore.Store
	logger  zerolog.Logger
	events  events.Publisher
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(ids Identities, repo Repository, blobs blobstore.Store) *Service {
	return &Service{
		ids:    ids,
		repo:   repo,
		blobs:  blobs,
		logger: zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l.With().Str("component", "records").Logger() }
func (s *Service) SetEvents(p events.Publisher) { s.events = p }
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// CreateRecordRequest describes a new record. Attachment is mandatory;
// FileName defaults to the uploaded file name.
type CreateRecordRequest struct {
	PatientAddress string
	FileName       string
	Category       string
	Upload         blobstore.Upload
	Attachment     io.Reader
}

// CreateRecord uploads the attachment and then appends a pending record.
// Nothing is written to the ledger if the upload fails.
func (s *Service) CreateRecord(ctx context.Context, practitioner string, req CreateRecordRequest) (rec *Record, err error) {
	defer func() { s.metrics.Observe("create_record", err) }()

	patient := strings.TrimSpace(req.PatientAddress)
	if patient == "" {
		return nil, apperr.InvalidInput("patient address is required")
	}
	if req.Attachment == nil {
		return nil, apperr.InvalidInput("attachment is required")
	}
	if _, err := s.ids.Require(ctx, practitioner, identity.RolePractitioner); err != nil {
		return nil, err
	}

	meta, err := s.blobs.Put(ctx, req.Upload, req.Attachment)
	if err != nil {
		if blobstore.IsInvalidUpload(err) {
			return nil, apperr.InvalidInput("attachment: %v", err)
		}
		return nil, apperr.AttachmentFailed(err)
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = req.Upload.FileName
	}
	rec = &Record{
		ID:                  uuid.New(),
		PatientAddress:      patient,
		PractitionerAddress: practitioner,
		AttachmentRef:       meta.Ref,
		FileName:            fileName,
		Category:            strings.TrimSpace(req.Category),
		CreatedAt:           s.now(),
		Verification:        VerificationPending,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("patient", patient).
		Str("attachment_ref", string(meta.Ref)).
		Msg("record created")
	events.Emit(ctx, s.events, s.logger, events.Event{
		Type:    events.RecordCreated,
		Subject: rec.ID.String(),
		Actor:   practitioner,
		Attributes: map[string]string{
			"patient":  patient,
			"category": rec.Category,
		},
	})
	return rec, nil
}

// DecideRecord records the patient's approve or decline decision. A record
// is decided at most once.
func (s *Service) DecideRecord(ctx context.Context, caller string, id uuid.UUID, outcome Verification) (rec *Record, err error) {
	defer func() { s.metrics.Observe("decide_record", err) }()

	if outcome != VerificationApproved && outcome != VerificationDeclined {
		return nil, apperr.InvalidInput("record outcome must be approved or declined, got %q", outcome)
	}
	rec, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller == "" || caller != rec.PatientAddress {
		return nil, apperr.Unauthorized("only the record's patient may decide it")
	}
	if rec.Decided() {
		return nil, apperr.AlreadyDecided("record %s is already %s", id, rec.Verification)
	}

	now := s.now()
	rec.Verification = outcome
	rec.DecidedAt = &now
	if err := s.repo.Decide(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info().Str("record_id", id.String()).Str("verification", string(outcome)).Msg("record decided")
	events.Emit(ctx, s.events, s.logger, events.Event{
		Type:       events.RecordDecided,
		Subject:    id.String(),
		Actor:      caller,
		Attributes: map[string]string{"verification": string(outcome)},
	})
	return rec, nil
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.repo.GetByID(ctx, id)
}

// ListRecords returns the patient's records in creation order, each joined
// with its practitioner's profile. An empty category matches all records.
func (s *Service) ListRecords(ctx context.Context, patient, category string) ([]*RecordView, error) {
	if strings.TrimSpace(patient) == "" {
		return nil, apperr.InvalidInput("patient address is required")
	}
	all, err := s.repo.ListByPatient(ctx, patient)
	if err != nil {
		return nil, err
	}

	views := make([]*RecordView, 0, len(all))
	for _, r := range all {
		if category != "" && r.Category != category {
			continue
		}
		views = append(views, &RecordView{Record: r})
	}

	profiles, err := s.practitionerProfiles(ctx, views)
	if err != nil {
		return nil, err
	}
	for _, v := range views {
		if p, ok := profiles[v.PractitionerAddress]; ok {
			v.PractitionerName = p.Name
			v.Hospital = p.Hospital
			v.Specialization = p.Specialization
		}
	}
	return views, nil
}

// practitionerProfiles looks up each distinct practitioner once,
// concurrently. Missing practitioners are skipped; other failures abort.
func (s *Service) practitionerProfiles(ctx context.Context, views []*RecordView) (map[string]*identity.Practitioner, error) {
	var (
		mu       sync.Mutex
		profiles = make(map[string]*identity.Practitioner)
		seen     = make(map[string]bool)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for _, v := range views {
		addr := v.PractitionerAddress
		if seen[addr] {
			continue
		}
		seen[addr] = true
		g.Go(func() error {
			p, err := s.ids.Practitioner(gctx, addr)
			if errors.Is(err, apperr.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			profiles[addr] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return profiles, nil
}
