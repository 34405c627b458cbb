package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tableorder/api/internal/database"
)

// PostgresQueries is the subset of *database.Queries the store runs.
type PostgresQueries interface {
	ClaimIdempotencyKey(ctx context.Context, arg database.ClaimIdempotencyKeyParams) (database.IdempotencyKey, error)
	GetIdempotencyKey(ctx context.Context, arg database.GetIdempotencyKeyParams) (database.IdempotencyKey, error)
	CompleteIdempotencyKey(ctx context.Context, arg database.CompleteIdempotencyKeyParams) (int64, error)
	DeleteIdempotencyKey(ctx context.Context, arg database.DeleteIdempotencyKeyParams) error
	PurgeIdempotencyKeys(ctx context.Context, before time.Time) (int64, error)
}

// PostgresStore keeps keys in the idempotency_keys table next to the orders
// they protect.
type PostgresStore struct {
	q PostgresQueries
}

func NewPostgresStore(q PostgresQueries) *PostgresStore {
	return &PostgresStore{q: q}
}

func (s *PostgresStore) Claim(ctx context.Context, k Key, staleBefore time.Time) (bool, Record, error) {
	// A second pass covers a row purged between the failed insert and the read.
	for attempt := 0; attempt < 2; attempt++ {
		_, err := s.q.ClaimIdempotencyKey(ctx, database.ClaimIdempotencyKeyParams{
			VenueID:    k.VenueID,
			Key:        k.Key,
			Operation:  k.Operation,
			StaleAfter: staleBefore,
		})
		if err == nil {
			return true, Record{}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, Record{}, fmt.Errorf("claim: %w", err)
		}

		row, err := s.q.GetIdempotencyKey(ctx, database.GetIdempotencyKeyParams{
			VenueID:   k.VenueID,
			Key:       k.Key,
			Operation: k.Operation,
		})
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return false, Record{}, fmt.Errorf("get: %w", err)
		}
		rec := Record{Status: row.Status, ClaimedAt: row.ClaimedAt}
		if row.Status == StatusDone && len(row.Response) > 0 {
			var resp Response
			if err := json.Unmarshal(row.Response, &resp); err != nil {
				return false, Record{}, fmt.Errorf("decode response: %w", err)
			}
			rec.Response = &resp
		}
		return false, rec, nil
	}
	return false, Record{}, fmt.Errorf("claim: key %s vanished during claim", k)
}

func (s *PostgresStore) Complete(ctx context.Context, k Key, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	n, err := s.q.CompleteIdempotencyKey(ctx, database.CompleteIdempotencyKeyParams{
		VenueID:   k.VenueID,
		Key:       k.Key,
		Operation: k.Operation,
		Response:  b,
	})
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, k Key) error {
	return s.q.DeleteIdempotencyKey(ctx, database.DeleteIdempotencyKeyParams{
		VenueID:   k.VenueID,
		Key:       k.Key,
		Operation: k.Operation,
	})
}

func (s *PostgresStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.q.PurgeIdempotencyKeys(ctx, before)
}
