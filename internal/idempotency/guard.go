// Package idempotency records the outcome of mutating requests per
// (venue, key, operation) so a retried request replays the first answer
// instead of running again.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInProgress means another request holds the key and has not finished.
	// Callers answer 409 and the client retries later.
	ErrInProgress = errors.New("a request with this idempotency key is still in progress")

	// ErrStoreUnavailable is returned in fail-closed mode when the store
	// cannot be reached. Callers answer 503.
	ErrStoreUnavailable = errors.New("idempotency store unavailable")

	// ErrNotPending is returned by stores when completing or releasing a key
	// that is not held.
	ErrNotPending = errors.New("idempotency key is not pending")
)

const (
	StatusPending = "PENDING"
	StatusDone    = "DONE"
)

type Key struct {
	VenueID   uuid.UUID
	Key       string
	Operation string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.VenueID, k.Operation, k.Key)
}

// Response is the recorded outcome replayed to retries.
type Response struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

// Record is a stored key as returned by a losing claim.
type Record struct {
	Status    string
	Response  *Response
	ClaimedAt time.Time
}

// Store persists claims. Claim must be atomic: exactly one concurrent caller
// gets claimed=true for a fresh key or for a PENDING key claimed before
// staleBefore.
type Store interface {
	Claim(ctx context.Context, k Key, staleBefore time.Time) (claimed bool, existing Record, err error)
	Complete(ctx context.Context, k Key, resp Response) error
	Release(ctx context.Context, k Key) error
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Claim is the result of Guard.Claim.
type Claim struct {
	// FirstTime means the caller must run the operation.
	FirstTime bool
	// Recorded holds the stored outcome when FirstTime is false.
	Recorded *Response
	// Bypassed means no key was held: the request carried no key, or the
	// store was down and the guard is failing open.
	Bypassed bool
}

// guardMetrics is satisfied by *metrics.Registry.
type guardMetrics interface {
	Replayed(operation string)
	FailedOpen()
	IdempotencyError(step string)
}

type Options struct {
	PendingTTL time.Duration
	FailOpen   bool
	// Reclaimable lists operations whose stale PENDING keys may be taken over.
	// Only operations that are safe to run twice belong here, such as status
	// transitions guarded by a compare-and-swap. Keys of any other operation
	// stay PENDING until purged.
	Reclaimable []string
	Logger      *zap.Logger
	Metrics     guardMetrics
}

type Guard struct {
	store       Store
	pendingTTL  time.Duration
	failOpen    bool
	reclaimable map[string]bool
	logger      *zap.Logger
	metrics     guardMetrics
	now         func() time.Time
	backoff     time.Duration
}

const completeAttempts = 3

func NewGuard(store Store, opts Options) *Guard {
	g := &Guard{
		store:       store,
		pendingTTL:  opts.PendingTTL,
		failOpen:    opts.FailOpen,
		reclaimable: make(map[string]bool, len(opts.Reclaimable)),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         time.Now,
		backoff:     50 * time.Millisecond,
	}
	for _, op := range opts.Reclaimable {
		g.reclaimable[op] = true
	}
	if g.pendingTTL <= 0 {
		g.pendingTTL = 30 * time.Second
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

func (g *Guard) Claim(ctx context.Context, k Key) (Claim, error) {
	if k.Key == "" {
		return Claim{FirstTime: true, Bypassed: true}, nil
	}

	// The zero time never marks a claim stale.
	var staleBefore time.Time
	if g.reclaimable[k.Operation] {
		staleBefore = g.now().Add(-g.pendingTTL)
	}
	claimed, rec, err := g.store.Claim(ctx, k, staleBefore)
	if err != nil {
		return g.unavailable(k, err)
	}
	if claimed {
		return Claim{FirstTime: true}, nil
	}
	if rec.Status == StatusDone && rec.Response != nil {
		if g.metrics != nil {
			g.metrics.Replayed(k.Operation)
		}
		return Claim{Recorded: rec.Response}, nil
	}
	return Claim{}, ErrInProgress
}

func (g *Guard) unavailable(k Key, err error) (Claim, error) {
	if g.failOpen {
		g.logger.Warn("idempotency store unavailable, proceeding without key",
			zap.String("operation", k.Operation),
			zap.String("venue_id", k.VenueID.String()),
			zap.Error(err))
		if g.metrics != nil {
			g.metrics.FailedOpen()
		}
		return Claim{FirstTime: true, Bypassed: true}, nil
	}
	if g.metrics != nil {
		g.metrics.IdempotencyError("claim")
	}
	return Claim{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Complete records the outcome, retrying transient store errors. When every
// attempt fails the PENDING record stays in place, so retries get
// ErrInProgress rather than running the operation again.
func (g *Guard) Complete(ctx context.Context, k Key, resp Response) error {
	if k.Key == "" {
		return nil
	}
	var err error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		err = g.store.Complete(ctx, k, resp)
		if err == nil || errors.Is(err, ErrNotPending) {
			break
		}
		if attempt < completeAttempts {
			time.Sleep(time.Duration(attempt) * g.backoff)
		}
	}
	if err != nil {
		g.logger.Error("record idempotent result",
			zap.String("key", k.String()),
			zap.Error(err))
		if g.metrics != nil {
			g.metrics.IdempotencyError("complete")
		}
		return err
	}
	return nil
}

// Release drops a PENDING claim after an operation failed without side
// effects, so a retry can run it.
func (g *Guard) Release(ctx context.Context, k Key) {
	if k.Key == "" {
		return
	}
	if err := g.store.Release(ctx, k); err != nil && !errors.Is(err, ErrNotPending) {
		g.logger.Warn("release idempotency key", zap.String("key", k.String()), zap.Error(err))
		if g.metrics != nil {
			g.metrics.IdempotencyError("release")
		}
	}
}

// Do claims k, runs fn when the claim is first-time and records its response.
// replayed reports that the response came from the store and fn did not run.
// An error from fn releases the claim.
func (g *Guard) Do(ctx context.Context, k Key, fn func(ctx context.Context) (Response, error)) (resp Response, replayed bool, err error) {
	c, err := g.Claim(ctx, k)
	if err != nil {
		return Response{}, false, err
	}
	if c.Recorded != nil {
		return *c.Recorded, true, nil
	}

	resp, err = fn(ctx)
	if err != nil {
		if !c.Bypassed {
			g.Release(context.WithoutCancel(ctx), k)
		}
		return Response{}, false, err
	}
	if !c.Bypassed {
		_ = g.Complete(context.WithoutCancel(ctx), k, resp)
	}
	return resp, false, nil
}

// Purge deletes records created more than olderThan ago.
func (g *Guard) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	return g.store.Purge(ctx, g.now().Add(-olderThan))
}

// RunPurger calls Purge every interval until ctx is done.
func (g *Guard) RunPurger(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.Purge(ctx, retention)
			if err != nil {
				g.logger.Warn("purge idempotency keys", zap.Error(err))
				continue
			}
			if n > 0 {
				g.logger.Info("purged idempotency keys", zap.Int64("count", n))
			}
		}
	}
}
