package claims

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/blobstore"
)

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDeclined Outcome = "declined"
)

const StatusPending = "pending"

// Claim is raised by a patient against an insurer and decided once by that
// insurer. BillAttachmentRef is empty when no bill was supplied.
type Claim struct {
	ID                uuid.UUID     `json:"id"`
	Seq               int64         `json:"seq"`
	PatientAddress    string        `json:"patient_address"`
	InsurerAddress    string        `json:"insurer_address"`
	PolicyNumber      string        `json:"policy_number"`
	Reason            string        `json:"reason"`
	BillAttachmentRef blobstore.Ref `json:"bill_attachment_ref,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	Decided           bool          `json:"decided"`
	Approved          bool          `json:"approved"`
	Status            string        `json:"status"`
	DecidedAt         *time.Time    `json:"decided_at,omitempty"`

	Version int64 `json:"-"`
}

func (c *Claim) status() string {
	switch {
	case !c.Decided:
		return StatusPending
	case c.Approved:
		return string(OutcomeApproved)
	default:
		return string(OutcomeDeclined)
	}
}

func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeApproved, OutcomeDeclined:
		return o, nil
	}
	return "", apperr.InvalidInput("claim outcome must be approved or declined, got %q", s)
}
