package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/ledger"
)

// =========== Binding Repository ===========

type bindingRepoLedger struct{ l ledger.Ledger }

func NewBindingRepoLedger(l ledger.Ledger) BindingRepository {
	return &bindingRepoLedger{l: l}
}

func (r *bindingRepoLedger) Create(ctx context.Context, b *Binding) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode binding: %w", err)
	}
	e, err := r.l.Write(ctx, ledger.KindBinding, b.ID.String(), ledger.Transition{
		Subject: b.PatientAddress,
		Target:  b.PractitionerAddress,
		Data:    data,
		// Bindings are never modified after creation.
		Seal: true,
	})
	if err != nil {
		return apperr.Ledger("create binding", err)
	}
	b.Seq = e.Seq
	return nil
}

func (r *bindingRepoLedger) ListByPatient(ctx context.Context, patient string) ([]*Binding, error) {
	entries, err := r.l.Read(ctx, ledger.Query{Kind: ledger.KindBinding, Subject: patient})
	if err != nil {
		return nil, apperr.Ledger("list bindings", err)
	}
	out := make([]*Binding, 0, len(entries))
	for _, e := range entries {
		var b Binding
		if err := json.Unmarshal(e.Data, &b); err != nil {
			return nil, fmt.Errorf("decode binding %s: %w", e.Key, err)
		}
		b.Seq = e.Seq
		out = append(out, &b)
	}
	return out, nil
}

// =========== Request Repository ===========

type requestRepoLedger struct{ l ledger.Ledger }

func NewRequestRepoLedger(l ledger.Ledger) RequestRepository {
	return &requestRepoLedger{l: l}
}

func (r *requestRepoLedger) Create(ctx context.Context, req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode policy request: %w", err)
	}
	e, err := r.l.Write(ctx, ledger.KindPolicyRequest, req.ID.String(), ledger.Transition{
		Subject: req.PatientAddress,
		Target:  req.InsurerAddress,
		Data:    data,
	})
	if err != nil {
		return apperr.Ledger("create policy request", err)
	}
	req.Seq = e.Seq
	req.Version = e.Version
	req.Status = req.status()
	return nil
}

func (r *requestRepoLedger) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	e, err := ledger.Get(ctx, r.l, ledger.KindPolicyRequest, id.String())
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, apperr.NotFound("policy request %s not found", id)
	}
	if err != nil {
		return nil, apperr.Ledger("get policy request", err)
	}
	return decodeRequest(e)
}

func (r *requestRepoLedger) Decide(ctx context.Context, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode policy request: %w", err)
	}
	e, err := r.l.Write(ctx, ledger.KindPolicyRequest, req.ID.String(), ledger.Transition{
		Expect: req.Version,
		Data:   data,
		Seal:   true,
	})
	switch {
	case ledger.IsRejected(err):
		return apperr.AlreadyDecided("policy request %s is already decided", req.ID)
	case errors.Is(err, ledger.ErrNotFound):
		return apperr.NotFound("policy request %s not found", req.ID)
	case err != nil:
		return apperr.Ledger("decide policy request", err)
	}
	req.Version = e.Version
	req.Status = req.status()
	return nil
}

func (r *requestRepoLedger) ListByPatient(ctx context.Context, patient string) ([]*Request, error) {
	return r.list(ctx, ledger.Query{Kind: ledger.KindPolicyRequest, Subject: patient})
}

func (r *requestRepoLedger) ListByInsurer(ctx context.Context, insurer string) ([]*Request, error) {
	return r.list(ctx, ledger.Query{Kind: ledger.KindPolicyRequest, Target: insurer})
}

func (r *requestRepoLedger) list(ctx context.Context, q ledger.Query) ([]*Request, error) {
	entries, err := r.l.Read(ctx, q)
	if err != nil {
		return nil, apperr.Ledger("list policy requests", err)
	}
	out := make([]*Request, 0, len(entries))
	for _, e := range entries {
		req, err := decodeRequest(e)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func decodeRequest(e *ledger.Entry) (*Request, error) {
	var req Request
	if err := json.Unmarshal(e.Data, &req); err != nil {
		return nil, fmt.Errorf("decode policy request %s: %w", e.Key, err)
	}
	req.Seq = e.Seq
	req.Version = e.Version
	req.Status = req.status()
	return &req, nil
}
