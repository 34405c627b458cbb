// Package events carries domain events out of the service after the owning
// transaction commits. Delivery is best effort: sinks may fail and callers
// only log it.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	VenueID    uuid.UUID       `json:"venue_id"`
	OrderID    uuid.UUID       `json:"order_id"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// New marshals payload into an event. orderID may be uuid.Nil for events that
// are not about a single order.
func New(eventType string, venueID, orderID uuid.UUID, payload interface{}) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		VenueID:    venueID,
		OrderID:    orderID,
		Payload:    b,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// PartitionKey keeps all events of one order on one partition.
func (e Event) PartitionKey() string {
	if e.OrderID != uuid.Nil {
		return e.OrderID.String()
	}
	return e.VenueID.String()
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// failureCounter is satisfied by *metrics.Registry.
type failureCounter interface {
	PublishFailed(sink string)
}

type sink struct {
	name string
	pub  Publisher
}

// MultiPublisher fans an event out to every sink. A failing sink is logged and
// counted; it never stops delivery to the others.
type MultiPublisher struct {
	sinks   []sink
	logger  *zap.Logger
	metrics failureCounter
}

func NewMultiPublisher(logger *zap.Logger, metrics failureCounter) *MultiPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiPublisher{logger: logger, metrics: metrics}
}

// Add registers a named sink. Nil publishers are ignored.
func (m *MultiPublisher) Add(name string, p Publisher) {
	if p == nil {
		return
	}
	m.sinks = append(m.sinks, sink{name: name, pub: p})
}

func (m *MultiPublisher) Len() int { return len(m.sinks) }

// Publish returns the joined sink errors after logging them.
func (m *MultiPublisher) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.pub.Publish(ctx, e); err != nil {
			m.logger.Warn("event publish failed",
				zap.String("sink", s.name),
				zap.String("event_type", e.Type),
				zap.String("order_id", e.OrderID.String()),
				zap.Error(err))
			if m.metrics != nil {
				m.metrics.PublishFailed(s.name)
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
