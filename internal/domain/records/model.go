package records

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/blobstore"
)

type Verification string

const (
	VerificationPending  Verification = "pending"
	VerificationApproved Verification = "approved"
	VerificationDeclined Verification = "declined"
)

// ParseOutcome accepts the two terminal verifications.
func ParseOutcome(s string) (Verification, error) {
	switch v := Verification(s); v {
	case VerificationApproved, VerificationDeclined:
		return v, nil
	}
	return "", apperr.InvalidInput("record outcome must be approved or declined, got %q", s)
}

type Record struct {
	ID                  uuid.UUID     `json:"id"`
	Seq                 int64         `json:"seq"`
	PatientAddress      string        `json:"patient_address"`
	PractitionerAddress string        `json:"practitioner_address"`
	AttachmentRef       blobstore.Ref `json:"attachment_ref"`
	FileName            string        `json:"file_name"`
	Category            string        `json:"category"`
	CreatedAt           time.Time     `json:"created_at"`
	Verification        Verification  `json:"verification"`
	DecidedAt           *time.Time    `json:"decided_at,omitempty"`

	Version int64 `json:"-"`
}

func (r *Record) Decided() bool {
	return r.Verification != VerificationPending
}

// RecordView is a record joined with its practitioner's profile. The
// profile fields are empty when the practitioner cannot be found.
type RecordView struct {
	*Record
	PractitionerName string `json:"practitioner_name"`
	Hospital         string `json:"hospital"`
	Specialization   string `json:"specialization"`
}
