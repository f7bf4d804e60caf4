package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/ledger"
)

type recordRepoLedger struct{ l ledger.Ledger }

func NewRecordRepoLedger(l ledger.Ledger) Repository {
	return &recordRepoLedger{l: l}
}

func (r *recordRepoLedger) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	e, err := r.l.Write(ctx, ledger.KindRecord, rec.ID.String(), ledger.Transition{
		Subject: rec.PatientAddress,
		Target:  rec.PractitionerAddress,
		Data:    data,
	})
	if err != nil {
		return apperr.Ledger("create record", err)
	}
	rec.Seq = e.Seq
	rec.Version = e.Version
	return nil
}

func (r *recordRepoLedger) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	e, err := ledger.Get(ctx, r.l, ledger.KindRecord, id.String())
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, apperr.NotFound("record %s not found", id)
	}
	if err != nil {
		return nil, apperr.Ledger("get record", err)
	}
	return decodeRecord(e)
}

func (r *recordRepoLedger) Decide(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	e, err := r.l.Write(ctx, ledger.KindRecord, rec.ID.String(), ledger.Transition{
		Expect: rec.Version,
		Data:   data,
		Seal:   true,
	})
	switch {
	case ledger.IsRejected(err):
		return apperr.AlreadyDecided("record %s is already decided", rec.ID)
	case errors.Is(err, ledger.ErrNotFound):
		return apperr.NotFound("record %s not found", rec.ID)
	case err != nil:
		return apperr.Ledger("decide record", err)
	}
	rec.Version = e.Version
	return nil
}

func (r *recordRepoLedger) ListByPatient(ctx context.Context, patient string) ([]*Record, error) {
	entries, err := r.l.Read(ctx, ledger.Query{Kind: ledger.KindRecord, Subject: patient})
	if err != nil {
		return nil, apperr.Ledger("list records", err)
	}
	out := make([]*Record, 0, len(entries))
	for _, e := range entries {
		rec, err := decodeRecord(e)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeRecord(e *ledger.Entry) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(e.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", e.Key, err)
	}
	rec.Seq = e.Seq
	rec.Version = e.Version
	return &rec, nil
}
