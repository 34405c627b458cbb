package database

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const idempotencyColumns = `venue_id, key, operation, status, response, claimed_at, completed_at, created_at`

func scanIdempotencyKey(row rowScanner) (IdempotencyKey, error) {
	var i IdempotencyKey
	err := row.Scan(
		&i.VenueID,
		&i.Key,
		&i.Operation,
		&i.Status,
		&i.Response,
		&i.ClaimedAt,
		&i.CompletedAt,
		&i.CreatedAt,
	)
	return i, err
}

const claimIdempotencyKey = `-- name: ClaimIdempotencyKey :one
INSERT INTO idempotency_keys (venue_id, key, operation)
VALUES ($1, $2, $3)
ON CONFLICT (venue_id, key, operation) DO UPDATE
SET claimed_at = now()
WHERE idempotency_keys.status = 'PENDING'
  AND idempotency_keys.claimed_at < $4
RETURNING ` + idempotencyColumns

type ClaimIdempotencyKeyParams struct {
	VenueID    uuid.UUID
	Key        string
	Operation  string
	StaleAfter time.Time
}

// ClaimIdempotencyKey inserts a PENDING record, or takes over a PENDING record
// claimed before StaleAfter. It returns pgx.ErrNoRows when another caller
// holds the key or the key is already DONE.
func (q *Queries) ClaimIdempotencyKey(ctx context.Context, arg ClaimIdempotencyKeyParams) (IdempotencyKey, error) {
	row := q.db.QueryRow(ctx, claimIdempotencyKey, arg.VenueID, arg.Key, arg.Operation, arg.StaleAfter)
	return scanIdempotencyKey(row)
}

const getIdempotencyKey = `-- name: GetIdempotencyKey :one
SELECT ` + idempotencyColumns + `
FROM idempotency_keys
WHERE venue_id = $1 AND key = $2 AND operation = $3
`

type GetIdempotencyKeyParams struct {
	VenueID   uuid.UUID
	Key       string
	Operation string
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, arg GetIdempotencyKeyParams) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, getIdempotencyKey, arg.VenueID, arg.Key, arg.Operation))
}

const completeIdempotencyKey = `-- name: CompleteIdempotencyKey :execrows
UPDATE idempotency_keys
SET status       = 'DONE',
    response     = $4,
    completed_at = now()
WHERE venue_id = $1 AND key = $2 AND operation = $3 AND status = 'PENDING'
`

type CompleteIdempotencyKeyParams struct {
	VenueID   uuid.UUID
	Key       string
	Operation string
	Response  []byte
}

func (q *Queries) CompleteIdempotencyKey(ctx context.Context, arg CompleteIdempotencyKeyParams) (int64, error) {
	result, err := q.db.Exec(ctx, completeIdempotencyKey, arg.VenueID, arg.Key, arg.Operation, arg.Response)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteIdempotencyKey = `-- name: DeleteIdempotencyKey :exec
DELETE FROM idempotency_keys
WHERE venue_id = $1 AND key = $2 AND operation = $3 AND status = 'PENDING'
`

type DeleteIdempotencyKeyParams struct {
	VenueID   uuid.UUID
	Key       string
	Operation string
}

func (q *Queries) DeleteIdempotencyKey(ctx context.Context, arg DeleteIdempotencyKeyParams) error {
	_, err := q.db.Exec(ctx, deleteIdempotencyKey, arg.VenueID, arg.Key, arg.Operation)
	return err
}

const purgeIdempotencyKeys = `-- name: PurgeIdempotencyKeys :execrows
DELETE FROM idempotency_keys
WHERE created_at < $1
`

func (q *Queries) PurgeIdempotencyKeys(ctx context.Context, before time.Time) (int64, error) {
	result, err := q.db.Exec(ctx, purgeIdempotencyKeys, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
