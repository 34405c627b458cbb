package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
)

// StationRouting resolves a menu category to the station that prepares it.
// It is rebuilt from the venue's rows on every placement.
type StationRouting struct {
	routes   map[string]uuid.UUID
	fallback uuid.UUID
	ok       bool
}

// NewStationRouting builds the lookup. Stations are expected in sort order;
// inactive stations never receive tickets, even when a route points at them.
func NewStationRouting(stations []database.Station, routes []database.StationRoute) StationRouting {
	active := make(map[uuid.UUID]bool, len(stations))
	var r StationRouting
	defaultSeen := false
	for _, st := range stations {
		if !st.IsActive {
			continue
		}
		active[st.ID] = true
		// The first default station wins over sort order.
		if !r.ok || (st.IsDefault && !defaultSeen) {
			r.fallback = st.ID
			r.ok = true
		}
		if st.IsDefault {
			defaultSeen = true
		}
	}

	r.routes = make(map[string]uuid.UUID, len(routes))
	for _, rt := range routes {
		if active[rt.StationID] {
			r.routes[rt.Category] = rt.StationID
		}
	}
	return r
}

// Configured reports whether any active station exists.
func (r StationRouting) Configured() bool { return r.ok }

// Resolve returns the station for a category.
func (r StationRouting) Resolve(category string) (uuid.UUID, bool) {
	if id, ok := r.routes[category]; ok {
		return id, true
	}
	return r.fallback, r.ok
}

func loadRouting(ctx context.Context, store OrderStore, venueID uuid.UUID) (StationRouting, error) {
	stations, err := store.ListStationsByVenue(ctx, venueID)
	if err != nil {
		return StationRouting{}, fmt.Errorf("list stations: %w", err)
	}
	routes, err := store.ListStationRoutes(ctx, venueID)
	if err != nil {
		return StationRouting{}, fmt.Errorf("list station routes: %w", err)
	}
	return NewStationRouting(stations, routes), nil
}

// TicketGroup is the set of order lines one station receives.
type TicketGroup struct {
	StationID uuid.UUID
	Items     []database.OrderItem
}

// FanOut groups items by station in first-appearance order. Without any
// active station it returns nil.
func FanOut(routing StationRouting, items []database.OrderItem) []TicketGroup {
	if !routing.Configured() {
		return nil
	}
	var groups []TicketGroup
	index := make(map[uuid.UUID]int)
	for _, item := range items {
		stationID, _ := routing.Resolve(item.Category)
		i, seen := index[stationID]
		if !seen {
			i = len(groups)
			index[stationID] = i
			groups = append(groups, TicketGroup{StationID: stationID})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}

func createTickets(ctx context.Context, store OrderStore, order database.Order, groups []TicketGroup) ([]database.KitchenTicket, error) {
	tickets := make([]database.KitchenTicket, 0, len(groups))
	for _, g := range groups {
		ticket, err := store.CreateKitchenTicket(ctx, database.CreateKitchenTicketParams{
			OrderID:   order.ID,
			VenueID:   order.VenueID,
			StationID: g.StationID,
		})
		if err != nil {
			return nil, fmt.Errorf("create kitchen ticket: %w", err)
		}
		for _, item := range g.Items {
			if err := store.CreateKitchenTicketItem(ctx, database.CreateKitchenTicketItemParams{
				TicketID:    ticket.ID,
				OrderItemID: item.ID,
			}); err != nil {
				return nil, fmt.Errorf("create kitchen ticket item: %w", err)
			}
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

// AllBumped reports whether no ticket is still open. An order without
// tickets has nothing pending in the kitchen.
func AllBumped(tickets []database.KitchenTicket) bool {
	for _, t := range tickets {
		if t.Status != database.TicketStatusBumped {
			return false
		}
	}
	return true
}

var ticketNext = map[database.TicketStatus]database.TicketStatus{
	database.TicketStatusNew:        database.TicketStatusInProgress,
	database.TicketStatusInProgress: database.TicketStatusReady,
	database.TicketStatusReady:      database.TicketStatusBumped,
}

// ValidateTicketTransition allows one forward step. Asking for the current
// status is a no-op.
func ValidateTicketTransition(from, to database.TicketStatus) (noop bool, err error) {
	switch to {
	case database.TicketStatusNew, database.TicketStatusInProgress, database.TicketStatusReady, database.TicketStatusBumped:
	default:
		return false, ErrInvalidTicketStatus
	}
	if from == to {
		return true, nil
	}
	if ticketNext[from] != to {
		return false, fmt.Errorf("%w: %s to %s", ErrInvalidTicketTransition, from, to)
	}
	return false, nil
}

// TicketResult is a ticket after AdvanceTicket, with its order.
type TicketResult struct {
	Ticket  database.KitchenTicket
	Order   database.Order
	Changed bool
}

// AdvanceTicket moves a kitchen ticket one step and carries the order along:
// the first ticket started moves a PLACED order to IN_PREP, the last ticket
// bumped moves an IN_PREP order to READY.
func (s *OrderService) AdvanceTicket(ctx context.Context, venueID, ticketID uuid.UUID, status string, actor Actor) (*TicketResult, error) {
	defer s.deps.observe(time.Now())
	if !actor.hasRole(enum.KitchenRoles...) {
		return nil, s.reject("ticket_status", ErrRoleNotAllowed)
	}
	to := database.TicketStatus(status)
	if _, err := ValidateTicketTransition(database.TicketStatusNew, to); errors.Is(err, ErrInvalidTicketStatus) {
		return nil, s.reject("ticket_status", err)
	}

	var result TicketResult
	scope, err := s.inTx(ctx, venueID, func(scope *txScope) error {
		store := scope.store
		ticket, err := store.GetKitchenTicket(ctx, database.GetKitchenTicketParams{ID: ticketID, VenueID: venueID})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTicketNotFound
			}
			return fmt.Errorf("get kitchen ticket: %w", err)
		}

		// Order row lock serializes every ticket of the order.
		order, err := lockOrder(ctx, store, venueID, ticket.OrderID)
		if err != nil {
			return err
		}
		if order.Status == database.OrderStatusCANCELLED {
			return ErrOrderCancelled
		}

		noop, err := ValidateTicketTransition(ticket.Status, to)
		if err != nil {
			return err
		}
		if noop {
			result = TicketResult{Ticket: ticket, Order: order}
			return nil
		}

		updated, err := store.UpdateKitchenTicketStatus(ctx, database.UpdateKitchenTicketStatusParams{
			ID:       ticket.ID,
			Status:   to,
			Status_2: ticket.Status,
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTicketChanged
			}
			return fmt.Errorf("update kitchen ticket: %w", err)
		}
		scope.tickets = append(scope.tickets, to)
		s.addEvent(scope, enum.EventTicketStatusChanged, order.ID, map[string]interface{}{
			"ticket_id":  updated.ID,
			"station_id": updated.StationID,
			"from":       ticket.Status,
			"to":         to,
		})

		// --- Fan-in ---
		if to == database.TicketStatusInProgress && order.Status == database.OrderStatusPLACED {
			if order, err = s.fire(ctx, scope, order, EventKitchenStarted, actor, ""); err != nil {
				return err
			}
		}
		if to == database.TicketStatusBumped && order.Status == database.OrderStatusINPREP {
			tickets, err := store.ListKitchenTicketsByOrder(ctx, order.ID)
			if err != nil {
				return fmt.Errorf("list tickets: %w", err)
			}
			if AllBumped(tickets) {
				if order, err = s.fire(ctx, scope, order, EventKitchenDone, actor, ""); err != nil {
					return err
				}
			}
		}

		result = TicketResult{Ticket: updated, Order: order, Changed: true}
		return nil
	})
	if err != nil {
		return nil, s.reject("ticket_status", err)
	}
	s.afterCommit(ctx, scope)
	return &result, nil
}

// BoardTicket is an open ticket with the lines it carries.
type BoardTicket struct {
	database.KitchenTicket
	Items []database.OrderItem `json:"items"`
}

// KitchenBoard lists the venue's open tickets, optionally for one station.
func (s *OrderService) KitchenBoard(ctx context.Context, venueID uuid.UUID, stationID *uuid.UUID) ([]BoardTicket, error) {
	store := s.newStore(s.pool)
	station := pgtype.UUID{}
	if stationID != nil {
		station = pgtype.UUID{Bytes: *stationID, Valid: true}
	}
	tickets, err := store.ListOpenKitchenTickets(ctx, database.ListOpenKitchenTicketsParams{
		VenueID:   venueID,
		StationID: station,
	})
	if err != nil {
		return nil, fmt.Errorf("list open tickets: %w", err)
	}
	board := make([]BoardTicket, 0, len(tickets))
	for _, t := range tickets {
		items, err := store.ListKitchenTicketItems(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("list ticket items: %w", err)
		}
		board = append(board, BoardTicket{KitchenTicket: t, Items: items})
	}
	return board, nil
}
