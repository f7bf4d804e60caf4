package policy

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ehrledger/internal/platform/apperr"
)

// Binding is insurance attached to a patient directly by a practitioner.
type Binding struct {
	ID                  uuid.UUID `json:"id"`
	Seq                 int64     `json:"seq"`
	PatientAddress      string    `json:"patient_address"`
	PractitionerAddress string    `json:"practitioner_address"`
	CompanyName         string    `json:"company_name"`
	PolicyNumber        string    `json:"policy_number"`
	CoverageDetails     string    `json:"coverage_details"`
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"created_at"`
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

const statusPending = "pending"

// Request is a patient-initiated policy request awaiting the insurer.
type Request struct {
	ID              uuid.UUID  `json:"id"`
	Seq             int64      `json:"seq"`
	PatientAddress  string     `json:"patient_address"`
	InsurerAddress  string     `json:"insurer_address"`
	CompanyName     string     `json:"company_name"`
	PolicyNumber    string     `json:"policy_number"`
	CoverageDetails string     `json:"coverage_details"`
	Decided         bool       `json:"decided"`
	Approved        bool       `json:"approved"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`

	Version int64 `json:"-"`
}

// status derives the display label from Decided and Approved.
func (r *Request) status() string {
	switch {
	case !r.Decided:
		return statusPending
	case r.Approved:
		return string(DecisionApproved)
	default:
		return string(DecisionRejected)
	}
}

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionApproved, DecisionRejected:
		return d, nil
	}
	return "", apperr.InvalidInput("policy decision must be approved or rejected, got %q", s)
}

type CoverageSource string

const (
	SourceBinding CoverageSource = "binding"
	SourceRequest CoverageSource = "policy_request"
)

// Coverage is the read-time union of active bindings and approved
// requests for a patient.
type Coverage struct {
	Source              CoverageSource `json:"source"`
	ID                  uuid.UUID      `json:"id"`
	Seq                 int64          `json:"seq"`
	CompanyName         string         `json:"company_name"`
	PolicyNumber        string         `json:"policy_number"`
	CoverageDetails     string         `json:"coverage_details"`
	InsurerAddress      string         `json:"insurer_address,omitempty"`
	PractitionerAddress string         `json:"practitioner_address,omitempty"`
	Since               time.Time      `json:"since"`
}
