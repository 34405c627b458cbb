package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const stationColumns = `id, venue_id, name, is_default, is_active, sort_order, created_at`

func scanStation(row rowScanner) (Station, error) {
	var i Station
	err := row.Scan(
		&i.ID,
		&i.VenueID,
		&i.Name,
		&i.IsDefault,
		&i.IsActive,
		&i.SortOrder,
		&i.CreatedAt,
	)
	return i, err
}

const listStationsByVenue = `-- name: ListStationsByVenue :many
SELECT ` + stationColumns + `
FROM stations
WHERE venue_id = $1
ORDER BY sort_order, name
`

func (q *Queries) ListStationsByVenue(ctx context.Context, venueID uuid.UUID) ([]Station, error) {
	rows, err := q.db.Query(ctx, listStationsByVenue, venueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Station{}
	for rows.Next() {
		i, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getStation = `-- name: GetStation :one
SELECT ` + stationColumns + `
FROM stations
WHERE id = $1 AND venue_id = $2
`

type GetStationParams struct {
	ID      uuid.UUID
	VenueID uuid.UUID
}

func (q *Queries) GetStation(ctx context.Context, arg GetStationParams) (Station, error) {
	return scanStation(q.db.QueryRow(ctx, getStation, arg.ID, arg.VenueID))
}

const createStation = `-- name: CreateStation :one
INSERT INTO stations (venue_id, name, is_default, sort_order)
VALUES ($1, $2, $3, $4)
RETURNING ` + stationColumns

type CreateStationParams struct {
	VenueID   uuid.UUID
	Name      string
	IsDefault bool
	SortOrder int32
}

func (q *Queries) CreateStation(ctx context.Context, arg CreateStationParams) (Station, error) {
	row := q.db.QueryRow(ctx, createStation, arg.VenueID, arg.Name, arg.IsDefault, arg.SortOrder)
	return scanStation(row)
}

const listStationRoutes = `-- name: ListStationRoutes :many
SELECT venue_id, category, station_id, updated_at
FROM station_routes
WHERE venue_id = $1
ORDER BY category
`

func (q *Queries) ListStationRoutes(ctx context.Context, venueID uuid.UUID) ([]StationRoute, error) {
	rows, err := q.db.Query(ctx, listStationRoutes, venueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []StationRoute{}
	for rows.Next() {
		var i StationRoute
		if err := rows.Scan(&i.VenueID, &i.Category, &i.StationID, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertStationRoute = `-- name: UpsertStationRoute :one
INSERT INTO station_routes (venue_id, category, station_id)
VALUES ($1, $2, $3)
ON CONFLICT (venue_id, category) DO UPDATE
SET station_id = EXCLUDED.station_id,
    updated_at = now()
RETURNING venue_id, category, station_id, updated_at
`

type UpsertStationRouteParams struct {
	VenueID   uuid.UUID
	Category  string
	StationID uuid.UUID
}

func (q *Queries) UpsertStationRoute(ctx context.Context, arg UpsertStationRouteParams) (StationRoute, error) {
	row := q.db.QueryRow(ctx, upsertStationRoute, arg.VenueID, arg.Category, arg.StationID)
	var i StationRoute
	err := row.Scan(&i.VenueID, &i.Category, &i.StationID, &i.UpdatedAt)
	return i, err
}

const ticketColumns = `id, order_id, venue_id, station_id, status, created_at, started_at, ready_at, bumped_at, updated_at`

func scanKitchenTicket(row rowScanner) (KitchenTicket, error) {
	var i KitchenTicket
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.VenueID,
		&i.StationID,
		&i.Status,
		&i.CreatedAt,
		&i.StartedAt,
		&i.ReadyAt,
		&i.BumpedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanKitchenTickets(rows interface {
	rowScanner
	Next() bool
	Err() error
	Close()
}) ([]KitchenTicket, error) {
	defer rows.Close()
	items := []KitchenTicket{}
	for rows.Next() {
		i, err := scanKitchenTicket(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createKitchenTicket = `-- name: CreateKitchenTicket :one
INSERT INTO kitchen_tickets (order_id, venue_id, station_id)
VALUES ($1, $2, $3)
RETURNING ` + ticketColumns

type CreateKitchenTicketParams struct {
	OrderID   uuid.UUID
	VenueID   uuid.UUID
	StationID uuid.UUID
}

func (q *Queries) CreateKitchenTicket(ctx context.Context, arg CreateKitchenTicketParams) (KitchenTicket, error) {
	row := q.db.QueryRow(ctx, createKitchenTicket, arg.OrderID, arg.VenueID, arg.StationID)
	return scanKitchenTicket(row)
}

const createKitchenTicketItem = `-- name: CreateKitchenTicketItem :exec
INSERT INTO kitchen_ticket_items (ticket_id, order_item_id)
VALUES ($1, $2)
`

type CreateKitchenTicketItemParams struct {
	TicketID    uuid.UUID
	OrderItemID uuid.UUID
}

func (q *Queries) CreateKitchenTicketItem(ctx context.Context, arg CreateKitchenTicketItemParams) error {
	_, err := q.db.Exec(ctx, createKitchenTicketItem, arg.TicketID, arg.OrderItemID)
	return err
}

const getKitchenTicket = `-- name: GetKitchenTicket :one
SELECT ` + ticketColumns + `
FROM kitchen_tickets
WHERE id = $1 AND venue_id = $2
`

type GetKitchenTicketParams struct {
	ID      uuid.UUID
	VenueID uuid.UUID
}

func (q *Queries) GetKitchenTicket(ctx context.Context, arg GetKitchenTicketParams) (KitchenTicket, error) {
	return scanKitchenTicket(q.db.QueryRow(ctx, getKitchenTicket, arg.ID, arg.VenueID))
}

const listKitchenTicketsByOrder = `-- name: ListKitchenTicketsByOrder :many
SELECT ` + ticketColumns + `
FROM kitchen_tickets
WHERE order_id = $1
ORDER BY created_at, id
`

func (q *Queries) ListKitchenTicketsByOrder(ctx context.Context, orderID uuid.UUID) ([]KitchenTicket, error) {
	rows, err := q.db.Query(ctx, listKitchenTicketsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	return scanKitchenTickets(rows)
}

const listOpenKitchenTickets = `-- name: ListOpenKitchenTickets :many
SELECT t.id, t.order_id, t.venue_id, t.station_id, t.status, t.created_at,
       t.started_at, t.ready_at, t.bumped_at, t.updated_at
FROM kitchen_tickets t
JOIN orders o ON o.id = t.order_id
WHERE t.venue_id = $1
  AND t.status <> 'bumped'
  AND o.status <> 'CANCELLED'
  AND ($2::uuid IS NULL OR t.station_id = $2::uuid)
ORDER BY t.created_at, t.id
`

type ListOpenKitchenTicketsParams struct {
	VenueID   uuid.UUID
	StationID pgtype.UUID
}

// ListOpenKitchenTickets feeds the kitchen board: unbumped tickets of live orders.
func (q *Queries) ListOpenKitchenTickets(ctx context.Context, arg ListOpenKitchenTicketsParams) ([]KitchenTicket, error) {
	rows, err := q.db.Query(ctx, listOpenKitchenTickets, arg.VenueID, arg.StationID)
	if err != nil {
		return nil, err
	}
	return scanKitchenTickets(rows)
}

const listKitchenTicketItems = `-- name: ListKitchenTicketItems :many
SELECT oi.id, oi.order_id, oi.position, oi.menu_item_id, oi.item_name, oi.category, oi.quantity, oi.unit_price
FROM kitchen_ticket_items kti
JOIN order_items oi ON oi.id = kti.order_item_id
WHERE kti.ticket_id = $1
ORDER BY oi.position
`

func (q *Queries) ListKitchenTicketItems(ctx context.Context, ticketID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listKitchenTicketItems, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		var i OrderItem
		if err := rows.Scan(
			&i.ID,
			&i.OrderID,
			&i.Position,
			&i.MenuItemID,
			&i.ItemName,
			&i.Category,
			&i.Quantity,
			&i.UnitPrice,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateKitchenTicketStatus = `-- name: UpdateKitchenTicketStatus :one
UPDATE kitchen_tickets
SET status     = $2::text,
    started_at = CASE WHEN $2::text = 'in_progress' THEN now() ELSE started_at END,
    ready_at   = CASE WHEN $2::text = 'ready' THEN now() ELSE ready_at END,
    bumped_at  = CASE WHEN $2::text = 'bumped' THEN now() ELSE bumped_at END,
    updated_at = now()
WHERE id = $1 AND status = $3::text
RETURNING ` + ticketColumns

type UpdateKitchenTicketStatusParams struct {
	ID       uuid.UUID
	Status   TicketStatus
	Status_2 TicketStatus
}

// UpdateKitchenTicketStatus is a compare-and-swap on the ticket status.
func (q *Queries) UpdateKitchenTicketStatus(ctx context.Context, arg UpdateKitchenTicketStatusParams) (KitchenTicket, error) {
	row := q.db.QueryRow(ctx, updateKitchenTicketStatus, arg.ID, arg.Status, arg.Status_2)
	return scanKitchenTicket(row)
}
