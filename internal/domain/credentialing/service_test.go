package credentialing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ehr/ehrledger/internal/domain/identity"
	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/events"
	"github.com/ehr/ehrledger/internal/platform/ledger"
	"github.com/ehr/ehrledger/internal/platform/metrics"
)

const admin = "0xadmin"

var doctorProfile = Profile{Name: "Dr. Rao", Hospital: "City General", Specialization: "Cardiology"}
var insurerProfile = Profile{Name: "Acme Health", LicenseNumber: "LIC-9"}

func newTestService() (*Service, *events.Recorder) {
	creds := identity.NewCredentialRepoLedger(ledger.NewMemory())
	svc := NewService(identity.NewRegistry(admin, creds), creds)
	rec := events.NewRecorder()
	svc.SetEvents(rec)
	return svc, rec
}

func TestRequestCredential(t *testing.T) {
	svc, rec := newTestService()
	c, err := svc.RequestCredential(context.Background(), identity.RolePractitioner, "0xdoc", doctorProfile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != identity.StatusPending {
		t.Errorf("expected pending, got %s", c.Status)
	}
	if c.RequestedAt.IsZero() {
		t.Error("expected RequestedAt to be set")
	}
	if types := rec.Types(); len(types) != 1 || types[0] != events.CredentialRequested {
		t.Errorf("expected credential.requested event, got %v", types)
	}
}

func TestRequestCredential_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name    string
		role    identity.Role
		address string
		profile Profile
	}{
		{"patient role", identity.RolePatient, "0xp", doctorProfile},
		{"admin role", identity.RoleAdmin, "0xp", doctorProfile},
		{"missing address", identity.RolePractitioner, "", doctorProfile},
		{"practitioner without specialization", identity.RolePractitioner, "0xd", Profile{Name: "N", Hospital: "H"}},
		{"insurer without license", identity.RoleInsurer, "0xi", Profile{Name: "Acme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.RequestCredential(ctx, tt.role, tt.address, tt.profile); !errors.Is(err, apperr.ErrInvalidInput) {
				t.Errorf("expected InvalidInput, got %v", err)
			}
		})
	}
}

func TestRequestCredential_Duplicate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.RequestCredential(ctx, identity.RolePractitioner, "0xdoc", doctorProfile); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.RequestCredential(ctx, identity.RolePractitioner, "0xdoc", doctorProfile); !errors.Is(err, apperr.ErrDuplicateRequest) {
		t.Errorf("same role: expected DuplicateRequest, got %v", err)
	}
	if _, err := svc.RequestCredential(ctx, identity.RoleInsurer, "0xdoc", insurerProfile); !errors.Is(err, apperr.ErrDuplicateRequest) {
		t.Errorf("other role: expected DuplicateRequest, got %v", err)
	}
}

func TestApproveCredential(t *testing.T) {
	svc, rec := newTestService()
	ctx := context.Background()
	svc.RequestCredential(ctx, identity.RoleInsurer, "0xins", insurerProfile)

	c, err := svc.ApproveCredential(ctx, admin, identity.RoleInsurer, "0xins")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != identity.StatusApproved || c.ApprovedAt == nil {
		t.Errorf("expected approved with timestamp, got %+v", c)
	}

	// Write-once: the second approval is rejected, not ignored.
	if _, err := svc.ApproveCredential(ctx, admin, identity.RoleInsurer, "0xins"); !errors.Is(err, apperr.ErrAlreadyApproved) {
		t.Errorf("expected AlreadyApproved, got %v", err)
	}

	types := rec.Types()
	if len(types) != 2 || types[1] != events.CredentialApproved {
		t.Errorf("expected requested then approved events, got %v", types)
	}
}

func TestApproveCredential_NonAdmin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	svc.RequestCredential(ctx, identity.RolePractitioner, "0xdoc", doctorProfile)

	for _, caller := range []string{"0xdoc", "0xstranger"} {
		if _, err := svc.ApproveCredential(ctx, caller, identity.RolePractitioner, "0xdoc"); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("caller %s: expected Unauthorized, got %v", caller, err)
		}
	}
}

func TestApproveCredential_NotFound(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	svc.RequestCredential(ctx, identity.RolePractitioner, "0xdoc", doctorProfile)

	if _, err := svc.ApproveCredential(ctx, admin, identity.RolePractitioner, "0xghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown address: expected NotFound, got %v", err)
	}
	if _, err := svc.ApproveCredential(ctx, admin, identity.RoleInsurer, "0xdoc"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("wrong role: expected NotFound, got %v", err)
	}
}

func TestApproveCredential_ConcurrentAdmins(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	svc.RequestCredential(ctx, identity.RolePractitioner, "0xdoc", doctorProfile)

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, already int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApproveCredential(ctx, admin, identity.RolePractitioner, "0xdoc")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrAlreadyApproved):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || already != n-1 {
		t.Errorf("expected 1 success and %d AlreadyApproved, got %d and %d", n-1, ok, already)
	}
}

func TestListPending(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	svc.RequestCredential(ctx, identity.RolePractitioner, "0xd1", doctorProfile)
	svc.RequestCredential(ctx, identity.RolePractitioner, "0xd2", doctorProfile)
	svc.RequestCredential(ctx, identity.RoleInsurer, "0xi1", insurerProfile)
	svc.ApproveCredential(ctx, admin, identity.RolePractitioner, "0xd1")

	pending, err := svc.ListPending(ctx, identity.RolePractitioner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 1 || pending[0].Address != "0xd2" {
		t.Errorf("expected only 0xd2 pending, got %+v", pending)
	}

	if _, err := svc.ListPending(ctx, identity.RolePatient); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("expected InvalidInput for patient role, got %v", err)
	}
}

func TestService_Metrics(t *testing.T) {
	svc, _ := newTestService()
	m := metrics.New(prometheus.NewRegistry())
	svc.SetMetrics(m)
	ctx := context.Background()

	svc.RequestCredential(ctx, identity.RoleInsurer, "0xi", insurerProfile)
	svc.RequestCredential(ctx, identity.RoleInsurer, "0xi", insurerProfile)

	if got := testutil.ToFloat64(m.Operations.WithLabelValues("request_credential", "ok")); got != 1 {
		t.Errorf("expected 1 ok, got %v", got)
	}
	if got := testutil.ToFloat64(m.Operations.WithLabelValues("request_credential", "duplicate_request")); got != 1 {
		t.Errorf("expected 1 duplicate_request, got %v", got)
	}
}
