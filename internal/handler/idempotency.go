package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/idempotency"
)

const (
	IdempotencyKeyHeader     = "Idempotency-Key"
	IdempotentReplayedHeader = "Idempotent-Replayed"
	maxIdempotencyKeyLength  = 255
)

// operation is a mutating call whose successful answer is recorded under the
// request's idempotency key.
type operation func(ctx context.Context) (status int, body interface{}, err error)

// runIdempotent runs op once per (venue, resource, Idempotency-Key, name). A
// retry with the same key gets the recorded answer and the
// Idempotent-Replayed header. Failed operations are not recorded, so a retry
// runs them again. resource is the order, ticket or ingredient the call acts
// on, or uuid.Nil for calls that create one.
func runIdempotent(w http.ResponseWriter, r *http.Request, guard *idempotency.Guard, logger *zap.Logger, venueID, resource uuid.UUID, name string, op operation) {
	clientKey := r.Header.Get(IdempotencyKeyHeader)
	if len(clientKey) > maxIdempotencyKeyLength {
		badRequest(w, "idempotency key too long")
		return
	}
	key := idempotency.Key{
		VenueID:   venueID,
		Key:       scopedKey(resource, clientKey),
		Operation: name,
	}

	run := func(ctx context.Context) (idempotency.Response, error) {
		status, body, err := op(ctx)
		if err != nil {
			return idempotency.Response{}, err
		}
		b, err := json.Marshal(body)
		if err != nil {
			return idempotency.Response{}, fmt.Errorf("marshal response: %w", err)
		}
		return idempotency.Response{StatusCode: status, Body: b}, nil
	}

	var (
		resp     idempotency.Response
		replayed bool
		err      error
	)
	if guard == nil {
		resp, err = run(r.Context())
	} else {
		resp, replayed, err = guard.Do(r.Context(), key, run)
	}
	if err != nil {
		writeError(w, logger, name, err)
		return
	}
	if replayed {
		w.Header().Set(IdempotentReplayedHeader, "true")
	}
	writeRaw(w, resp.StatusCode, resp.Body)
}

// scopedKey binds a client key to the resource it was sent for, so reusing a
// key on another order runs that order's operation instead of replaying.
func scopedKey(resource uuid.UUID, clientKey string) string {
	if clientKey == "" || resource == uuid.Nil {
		return clientKey
	}
	return resource.String() + "/" + clientKey
}
