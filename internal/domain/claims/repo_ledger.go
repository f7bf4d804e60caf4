package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/ledger"
)

type claimRepoLedger struct{ l ledger.Ledger }

func NewClaimRepoLedger(l ledger.Ledger) Repository {
	return &claimRepoLedger{l: l}
}

func (r *claimRepoLedger) Create(ctx context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = c.status()
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode claim: %w", err)
	}
	e, err := r.l.Write(ctx, ledger.KindClaim, c.ID.String(), ledger.Transition{
		Subject: c.PatientAddress,
		Target:  c.InsurerAddress,
		Data:    data,
	})
	if err != nil {
		return apperr.Ledger("create claim", err)
	}
	c.Seq = e.Seq
	c.Version = e.Version
	return nil
}

func (r *claimRepoLedger) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	e, err := ledger.Get(ctx, r.l, ledger.KindClaim, id.String())
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, apperr.NotFound("claim %s not found", id)
	}
	if err != nil {
		return nil, apperr.Ledger("get claim", err)
	}
	return decodeClaim(e)
}

func (r *claimRepoLedger) Decide(ctx context.Context, c *Claim) error {
	c.Status = c.status()
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode claim: %w", err)
	}
	e, err := r.l.Write(ctx, ledger.KindClaim, c.ID.String(), ledger.Transition{
		Expect: c.Version,
		Data:   data,
		Seal:   true,
	})
	switch {
	case ledger.IsRejected(err):
		return apperr.AlreadyDecided("claim %s is already decided", c.ID)
	case errors.Is(err, ledger.ErrNotFound):
		return apperr.NotFound("claim %s not found", c.ID)
	case err != nil:
		return apperr.Ledger("decide claim", err)
	}
	c.Version = e.Version
	return nil
}

func (r *claimRepoLedger) ListByInsurer(ctx context.Context, insurer string) ([]*Claim, error) {
	return r.list(ctx, ledger.Query{Kind: ledger.KindClaim, Target: insurer})
}

func (r *claimRepoLedger) ListByPatient(ctx context.Context, patient string) ([]*Claim, error) {
	return r.list(ctx, ledger.Query{Kind: ledger.KindClaim, Subject: patient})
}

func (r *claimRepoLedger) list(ctx context.Context, q ledger.Query) ([]*Claim, error) {
	entries, err := r.l.Read(ctx, q)
	if err != nil {
		return nil, apperr.Ledger("list claims", err)
	}
	out := make([]*Claim, 0, len(entries))
	for _, e := range entries {
		c, err := decodeClaim(e)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeClaim(e *ledger.Entry) (*Claim, error) {
	var c Claim
	if err := json.Unmarshal(e.Data, &c); err != nil {
		return nil, fmt.Errorf("decode claim %s: %w", e.Key, err)
	}
	c.Seq = e.Seq
	c.Version = e.Version
	c.Status = c.status()
	return &c, nil
}
