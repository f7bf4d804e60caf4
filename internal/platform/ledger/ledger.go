// Package ledger is the authoritative store for workflow entities. Every
// mutation is a single atomic Write guarded by an expected version, and an
// entry can be sealed so that no later write is ever accepted.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("ledger: entry not found")
	ErrConflict = errors.New("ledger: version conflict")
	ErrSealed   = errors.New("ledger: entry is sealed")
)

// Kind namespaces entries of one entity type.
type Kind string

const (
	// KindCredential entries are keyed by address with the role as
	// Subject, so an address holds at most one credential of any role.
	KindCredential    Kind = "credential"
	KindRecord        Kind = "record"
	KindBinding       Kind = "binding"
	KindPolicyRequest Kind = "policy_request"
	KindClaim         Kind = "claim"
)

// Entry is one stored entity. Subject and Target are indexed addresses
// (for example patient and insurer); Data is the JSON-encoded entity.
type Entry struct {
	Kind      Kind      `json:"kind"`
	Key       string    `json:"key"`
	Subject   string    `json:"subject,omitempty"`
	Target    string    `json:"target,omitempty"`
	Seq       int64     `json:"seq"`
	Version   int64     `json:"version"`
	Sealed    bool      `json:"sealed"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Query selects entries of one Kind. Empty fields are not filtered on.
type Query struct {
	Kind    Kind
	Key     string
	Subject string
	Target  string
}

func (q Query) matches(e *Entry) bool {
	if e.Kind != q.Kind {
		return false
	}
	if q.Key != "" && e.Key != q.Key {
		return false
	}
	if q.Subject != "" && e.Subject != q.Subject {
		return false
	}
	if q.Target != "" && e.Target != q.Target {
		return false
	}
	return true
}

// Transition describes one write. Expect is the version the caller read;
// zero means the entry must not exist yet. Subject and Target are only
// applied on create.
type Transition struct {
	Expect  int64
	Subject string
	Target  string
	Data    []byte
	Seal    bool
}

// Ledger is implemented by every backend.
type Ledger interface {
	// Read returns matching entries ordered by creation sequence.
	Read(ctx context.Context, q Query) ([]*Entry, error)
	// Write applies t atomically or fails with ErrConflict, ErrSealed or
	// ErrNotFound without changing anything.
	Write(ctx context.Context, kind Kind, key string, t Transition) (*Entry, error)
}

// Get reads the single entry with the given key.
func Get(ctx context.Context, l Ledger, kind Kind, key string) (*Entry, error) {
	entries, err := l.Read(ctx, Query{Kind: kind, Key: key})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0], nil
}

// IsRejected reports whether err is a refused transition rather than a
// storage failure.
func IsRejected(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrSealed)
}
