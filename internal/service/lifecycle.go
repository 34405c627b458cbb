package service

import (
	"fmt"

	"github.com/tableorder/api/internal/database"
)

// Event is a lifecycle trigger.
type Event string

const (
	EventKitchenStarted Event = "kitchen_started"
	EventKitchenDone    Event = "kitchen_done"
	EventServe          Event = "serve"
	EventComplete       Event = "complete"
	EventCancel         Event = "cancel"
)

// transitions is the whole order state machine. Guards (payment, kitchen
// completion) are checked by the operations before they fire an event.
var transitions = map[database.OrderStatus]map[Event]database.OrderStatus{
	database.OrderStatusPLACED: {
		EventKitchenStarted: database.OrderStatusINPREP,
		EventCancel:         database.OrderStatusCANCELLED,
	},
	database.OrderStatusINPREP: {
		EventKitchenDone: database.OrderStatusREADY,
		EventCancel:      database.OrderStatusCANCELLED,
	},
	database.OrderStatusREADY: {
		EventServe:  database.OrderStatusSERVED,
		EventCancel: database.OrderStatusCANCELLED,
	},
	database.OrderStatusSERVED: {
		EventComplete: database.OrderStatusCOMPLETED,
	},
}

// NextStatus returns the status reached from `from` on ev.
func NextStatus(from database.OrderStatus, ev Event) (database.OrderStatus, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, from)
}

func IsTerminal(s database.OrderStatus) bool {
	return s == database.OrderStatusCOMPLETED || s == database.OrderStatusCANCELLED
}

// serveChain lists the events that take an order from its current status to
// SERVED, one table step at a time.
func serveChain(from database.OrderStatus) []Event {
	switch from {
	case database.OrderStatusPLACED:
		return []Event{EventKitchenStarted, EventKitchenDone, EventServe}
	case database.OrderStatusINPREP:
		return []Event{EventKitchenDone, EventServe}
	case database.OrderStatusREADY:
		return []Event{EventServe}
	}
	return nil
}
