package identity

import (
	"strings"
	"time"

	"github.com/ehr/ehrledger/internal/platform/apperr"
)

type Role string

const (
	RoleAdmin        Role = "admin"
	RolePractitioner Role = "practitioner"
	RoleInsurer      Role = "insurer"
	RolePatient      Role = "patient"
)

// ParseCredentialRole accepts the roles that hold credentials, in singular
// or plural form as used in routes.
func ParseCredentialRole(s string) (Role, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case string(RolePractitioner):
		return RolePractitioner, nil
	case string(RoleInsurer):
		return RoleInsurer, nil
	}
	return "", apperr.InvalidInput("unsupported credential role %q", s)
}

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RolePractitioner, RoleInsurer, RolePatient:
		return r, nil
	}
	return "", apperr.InvalidInput("unknown role %q", s)
}

type Status string

const (
	StatusPending       Status = "pending"
	StatusApproved      Status = "approved"
	StatusNotRegistered Status = "not_registered"
)

// Identity is the resolved role of an address.
type Identity struct {
	Address string `json:"address"`
	Role    Role   `json:"role"`
	Status  Status `json:"status"`
}

// Is reports whether the identity holds role with an approved status.
func (i *Identity) Is(role Role) bool {
	return i != nil && i.Role == role && i.Status == StatusApproved
}

// Credential is the stored registration of a practitioner or insurer.
type Credential struct {
	Address        string     `json:"address"`
	Role           Role       `json:"role"`
	Name           string     `json:"name"`
	Hospital       string     `json:"hospital,omitempty"`
	Specialization string     `json:"specialization,omitempty"`
	LicenseNumber  string     `json:"license_number,omitempty"`
	Status         Status     `json:"status"`
	RequestedAt    time.Time  `json:"requested_at"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`

	Version int64 `json:"-"`
}

// Validate checks the profile fields required for the credential's role.
func (c *Credential) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return apperr.InvalidInput("address is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return apperr.InvalidInput("name is required")
	}
	switch c.Role {
	case RolePractitioner:
		if strings.TrimSpace(c.Hospital) == "" || strings.TrimSpace(c.Specialization) == "" {
			return apperr.InvalidInput("hospital and specialization are required")
		}
	case RoleInsurer:
		if strings.TrimSpace(c.LicenseNumber) == "" {
			return apperr.InvalidInput("license_number is required")
		}
	default:
		return apperr.InvalidInput("unsupported credential role %q", c.Role)
	}
	return nil
}

type Practitioner struct {
	Address        string     `json:"address"`
	Name           string     `json:"name"`
	Hospital       string     `json:"hospital"`
	Specialization string     `json:"specialization"`
	Status         Status     `json:"status"`
	RequestedAt    time.Time  `json:"requested_at"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
}

type Insurer struct {
	Address       string     `json:"address"`
	Name          string     `json:"name"`
	LicenseNumber string     `json:"license_number"`
	Status        Status     `json:"status"`
	RequestedAt   time.Time  `json:"requested_at"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
}

func (c *Credential) AsPractitioner() *Practitioner {
	return &Practitioner{
		Address:        c.Address,
		Name:           c.Name,
		Hospital:       c.Hospital,
		Specialization: c.Specialization,
		Status:         c.Status,
		RequestedAt:    c.RequestedAt,
		ApprovedAt:     c.ApprovedAt,
	}
}

func (c *Credential) AsInsurer() *Insurer {
	return &Insurer{
		Address:       c.Address,
		Name:          c.Name,
		LicenseNumber: c.LicenseNumber,
		Status:        c.Status,
		RequestedAt:   c.RequestedAt,
		ApprovedAt:    c.ApprovedAt,
	}
}
