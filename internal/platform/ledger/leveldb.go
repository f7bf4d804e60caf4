package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	e/<kind>/<key>         entry JSON
//	s/<kind>/<seq:020d>    entry key, for creation-ordered scans
//	meta/seq               last assigned sequence
const metaSeqKey = "meta/seq"

// LevelDB is an embedded single-node Ledger. Writes are serialized by a
// process-local mutex and committed as one batch.
type LevelDB struct {
	mu  sync.Mutex
	db  *leveldb.DB
	now func() time.Time
}

// OpenLevelDB opens (or creates) the database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db, now: time.Now}, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

func entryKeyBytes(kind Kind, key string) []byte {
	return []byte("e/" + string(kind) + "/" + key)
}

func seqPrefix(kind Kind) []byte {
	return []byte("s/" + string(kind) + "/")
}

func seqKeyBytes(kind Kind, seq int64) []byte {
	return []byte(fmt.Sprintf("s/%s/%020d", kind, seq))
}

func (l *LevelDB) get(kind Kind, key string) (*Entry, error) {
	raw, err := l.db.Get(entryKeyBytes(kind, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", kind, key, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", kind, key, err)
	}
	return &e, nil
}

func (l *LevelDB) Read(ctx context.Context, q Query) ([]*Entry, error) {
	if q.Key != "" {
		e, err := l.get(q.Kind, q.Key)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !q.matches(e) {
			return nil, nil
		}
		return []*Entry{e}, nil
	}

	iter := l.db.NewIterator(util.BytesPrefix(seqPrefix(q.Kind)), nil)
	defer iter.Release()

	var out []*Entry
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := l.get(q.Kind, string(iter.Value()))
		if err != nil {
			return nil, err
		}
		if q.matches(e) {
			out = append(out, e)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", q.Kind, err)
	}
	return out, nil
}

func (l *LevelDB) Write(_ context.Context, kind Kind, key string, t Transition) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	cur, err := l.get(kind, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	exists := err == nil

	batch := new(leveldb.Batch)
	var next *Entry

	if t.Expect == 0 {
		if exists {
			return nil, ErrConflict
		}
		seq, err := l.lastSeq()
		if err != nil {
			return nil, err
		}
		seq++
		next = &Entry{
			Kind:      kind,
			Key:       key,
			Subject:   t.Subject,
			Target:    t.Target,
			Seq:       seq,
			Version:   1,
			Sealed:    t.Seal,
			Data:      t.Data,
			CreatedAt: now,
			UpdatedAt: now,
		}
		batch.Put([]byte(metaSeqKey), []byte(strconv.FormatInt(seq, 10)))
		batch.Put(seqKeyBytes(kind, seq), []byte(key))
	} else {
		if !exists {
			return nil, ErrNotFound
		}
		if cur.Sealed {
			return nil, ErrSealed
		}
		if cur.Version != t.Expect {
			return nil, ErrConflict
		}
		next = cur
		next.Version++
		next.Sealed = t.Seal
		next.Data = t.Data
		next.UpdatedAt = now
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", kind, key, err)
	}
	batch.Put(entryKeyBytes(kind, key), raw)
	if err := l.db.Write(batch, nil); err != nil {
		return nil, fmt.Errorf("write %s/%s: %w", kind, key, err)
	}
	return next, nil
}

func (l *LevelDB) lastSeq() (int64, error) {
	v, err := l.db.Get([]byte(metaSeqKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}
	return strconv.ParseInt(string(v), 10, 64)
}
