package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

var keyPrefix = []byte("idem/")

type pebbleRecord struct {
	Status    string    `json:"status"`
	Response  *Response `json:"response,omitempty"`
	ClaimedAt time.Time `json:"claimed_at"`
	CreatedAt time.Time `json:"created_at"`
}

// PebbleStore keeps keys in a local Pebble database. It suits single-node
// deployments; claims are serialized by a mutex around read-then-write.
type PebbleStore struct {
	db  *pebble.DB
	mu  sync.Mutex
	now func() time.Time
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	return NewPebbleStoreWithOptions(dir, &pebble.Options{})
}

// NewPebbleStoreWithOptions lets tests pass an in-memory vfs.
func NewPebbleStoreWithOptions(dir string, opts *pebble.Options) (*PebbleStore, error) {
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d, now: time.Now}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func pebbleKey(k Key) []byte {
	return append(append([]byte(nil), keyPrefix...), k.String()...)
}

func (p *PebbleStore) get(key []byte) (pebbleRecord, bool, error) {
	v, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return pebbleRecord{}, false, nil
	}
	if err != nil {
		return pebbleRecord{}, false, err
	}
	defer closer.Close()
	var rec pebbleRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return pebbleRecord{}, false, fmt.Errorf("decode record: %w", err)
	}
	return rec, true, nil
}

func (p *PebbleStore) put(key []byte, rec pebbleRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.db.Set(key, b, pebble.Sync)
}

func (p *PebbleStore) Claim(ctx context.Context, k Key, staleBefore time.Time) (bool, Record, error) {
	if err := ctx.Err(); err != nil {
		return false, Record{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key := pebbleKey(k)
	rec, found, err := p.get(key)
	if err != nil {
		return false, Record{}, err
	}
	now := p.now()
	if found && !(rec.Status == StatusPending && rec.ClaimedAt.Before(staleBefore)) {
		return false, Record{Status: rec.Status, Response: rec.Response, ClaimedAt: rec.ClaimedAt}, nil
	}
	if !found {
		rec.CreatedAt = now
	}
	rec.Status = StatusPending
	rec.ClaimedAt = now
	if err := p.put(key, rec); err != nil {
		return false, Record{}, err
	}
	return true, Record{}, nil
}

func (p *PebbleStore) Complete(ctx context.Context, k Key, resp Response) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := pebbleKey(k)
	rec, found, err := p.get(key)
	if err != nil {
		return err
	}
	if !found || rec.Status != StatusPending {
		return ErrNotPending
	}
	rec.Status = StatusDone
	rec.Response = &resp
	return p.put(key, rec)
}

func (p *PebbleStore) Release(ctx context.Context, k Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := pebbleKey(k)
	rec, found, err := p.get(key)
	if err != nil {
		return err
	}
	if !found || rec.Status != StatusPending {
		return ErrNotPending
	}
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	upper := append(append([]byte(nil), keyPrefix[:len(keyPrefix)-1]...), keyPrefix[len(keyPrefix)-1]+1)
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: keyPrefix, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	var toDelete [][]byte
	for it.First(); it.Valid(); it.Next() {
		var rec pebbleRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			continue
		}
		if rec.CreatedAt.Before(before) {
			toDelete = append(toDelete, append([]byte(nil), it.Key()...))
		}
	}
	if err := it.Close(); err != nil {
		return 0, err
	}

	if len(toDelete) == 0 {
		return 0, nil
	}
	b := p.db.NewBatch()
	for _, k := range toDelete {
		if err := b.Delete(k, nil); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return int64(len(toDelete)), nil
}
