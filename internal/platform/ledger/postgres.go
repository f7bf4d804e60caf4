package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ehrledger/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Postgres stores entries in the ledger_entry table (see migrations/).
// Version checks are pushed into the UPDATE predicate so concurrent writers
// across processes are serialized by the database.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return p.pool
}

const entryCols = `kind, key, subject, target, seq, version, sealed, data, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var kind string
	err := row.Scan(&kind, &e.Key, &e.Subject, &e.Target, &e.Seq, &e.Version,
		&e.Sealed, &e.Data, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Kind = Kind(kind)
	return &e, nil
}

// buildReadQuery renders the SELECT for q with positional arguments.
func buildReadQuery(q Query) (string, []interface{}) {
	where := []string{"kind = $1"}
	args := []interface{}{string(q.Kind)}
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("key", q.Key)
	add("subject", q.Subject)
	add("target", q.Target)
	sql := "SELECT " + entryCols + " FROM ledger_entry WHERE " +
		strings.Join(where, " AND ") + " ORDER BY seq"
	return sql, args
}

func (p *Postgres) Read(ctx context.Context, q Query) ([]*Entry, error) {
	sql, args := buildReadQuery(q)
	rows, err := p.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) Write(ctx context.Context, kind Kind, key string, t Transition) (*Entry, error) {
	if t.Expect == 0 {
		return p.create(ctx, kind, key, t)
	}
	return p.update(ctx, kind, key, t)
}

func (p *Postgres) create(ctx context.Context, kind Kind, key string, t Transition) (*Entry, error) {
	row := p.conn(ctx).QueryRow(ctx, `
		INSERT INTO ledger_entry (kind, key, subject, target, version, sealed, data)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT (kind, key) DO NOTHING
		RETURNING `+entryCols,
		string(kind), key, t.Subject, t.Target, t.Seal, t.Data)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("insert %s/%s: %w", kind, key, err)
	}
	return e, nil
}

func (p *Postgres) update(ctx context.Context, kind Kind, key string, t Transition) (*Entry, error) {
	row := p.conn(ctx).QueryRow(ctx, `
		UPDATE ledger_entry
		SET version = version + 1, sealed = $4, data = $5, updated_at = now()
		WHERE kind = $1 AND key = $2 AND version = $3 AND NOT sealed
		RETURNING `+entryCols,
		string(kind), key, t.Expect, t.Seal, t.Data)
	e, err := scanEntry(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update %s/%s: %w", kind, key, err)
	}

	// Nothing matched: report why.
	var sealed bool
	err = p.conn(ctx).QueryRow(ctx,
		`SELECT sealed FROM ledger_entry WHERE kind = $1 AND key = $2`,
		string(kind), key).Scan(&sealed)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("inspect %s/%s: %w", kind, key, err)
	case sealed:
		return nil, ErrSealed
	default:
		return nil, ErrConflict
	}
}
