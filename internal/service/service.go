package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
	"github.com/tableorder/api/internal/events"
	"github.com/tableorder/api/internal/metrics"
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB is a pool: it runs plain reads and starts transactions.
// Satisfied by *pgxpool.Pool.
type DB interface {
	database.DBTX
	TxBeginner
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

// GatewayActor is the payment gateway acting through the signed webhook.
func GatewayActor() Actor {
	return Actor{Role: enum.RoleGateway}
}

func (a Actor) id() pgtype.UUID {
	if a.UserID == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: a.UserID, Valid: true}
}

func (a Actor) hasRole(roles ...string) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// Deps are the cross-cutting collaborators shared by the services.
type Deps struct {
	Publisher events.Publisher
	Metrics   *metrics.Registry
	Logger    *zap.Logger

	// RequireKDSRouting rejects orders for venues with no active station.
	RequireKDSRouting bool
}

func (d Deps) withDefaults() Deps {
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// publish sends committed changes out. Failures never reach the caller.
func (d Deps) publish(ctx context.Context, evs []events.Event) {
	for _, e := range evs {
		if err := d.Publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
			d.Logger.Warn("publish event",
				zap.String("event_type", e.Type),
				zap.String("order_id", e.OrderID.String()),
				zap.Error(err))
		}
	}
}

func (d Deps) event(eventType string, venueID, orderID uuid.UUID, payload interface{}) (events.Event, bool) {
	e, err := events.New(eventType, venueID, orderID, payload)
	if err != nil {
		d.Logger.Error("build event", zap.String("event_type", eventType), zap.Error(err))
		return events.Event{}, false
	}
	return e, true
}

func (d Deps) observe(start time.Time) {
	d.Metrics.ObserveLatency(time.Since(start).Seconds())
}

// --- Helpers ---

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// decimalToNumeric keeps up to three places, the widest scale in the schema.
func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.Round(3).String())
	return n
}
