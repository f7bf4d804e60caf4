package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/ledger"
)

type credentialRepoLedger struct{ l ledger.Ledger }

func NewCredentialRepoLedger(l ledger.Ledger) CredentialRepository {
	return &credentialRepoLedger{l: l}
}

func (r *credentialRepoLedger) Create(ctx context.Context, c *Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	e, err := r.l.Write(ctx, ledger.KindCredential, c.Address, ledger.Transition{
		Subject: string(c.Role),
		Data:    data,
	})
	if ledger.IsRejected(err) {
		return apperr.DuplicateRequest("address %s already has a credential request", c.Address)
	}
	if err != nil {
		return apperr.Ledger("create credential", err)
	}
	c.Version = e.Version
	return nil
}

func (r *credentialRepoLedger) Get(ctx context.Context, address string) (*Credential, error) {
	e, err := ledger.Get(ctx, r.l, ledger.KindCredential, address)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, apperr.NotFound("no credential for %s", address)
	}
	if err != nil {
		return nil, apperr.Ledger("get credential", err)
	}
	return decodeCredential(e)
}

func (r *credentialRepoLedger) Approve(ctx context.Context, c *Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	e, err := r.l.Write(ctx, ledger.KindCredential, c.Address, ledger.Transition{
		Expect: c.Version,
		Data:   data,
		Seal:   true,
	})
	switch {
	case ledger.IsRejected(err):
		return apperr.AlreadyApproved("credential for %s is already approved", c.Address)
	case errors.Is(err, ledger.ErrNotFound):
		return apperr.NotFound("no credential for %s", c.Address)
	case err != nil:
		return apperr.Ledger("approve credential", err)
	}
	c.Version = e.Version
	return nil
}

func (r *credentialRepoLedger) ListByRole(ctx context.Context, role Role) ([]*Credential, error) {
	entries, err := r.l.Read(ctx, ledger.Query{Kind: ledger.KindCredential, Subject: string(role)})
	if err != nil {
		return nil, apperr.Ledger("list credentials", err)
	}
	out := make([]*Credential, 0, len(entries))
	for _, e := range entries {
		c, err := decodeCredential(e)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeCredential(e *ledger.Entry) (*Credential, error) {
	var c Credential
	if err := json.Unmarshal(e.Data, &c); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", e.Key, err)
	}
	c.Version = e.Version
	return &c, nil
}
