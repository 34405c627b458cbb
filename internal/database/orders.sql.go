package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, venue_id, order_number, table_label, status, payment_status, payment_method,
	created_by, served_at, paid_at, completed_at, cancelled_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.VenueID,
		&i.OrderNumber,
		&i.TableLabel,
		&i.Status,
		&i.PaymentStatus,
		&i.PaymentMethod,
		&i.CreatedBy,
		&i.ServedAt,
		&i.PaidAt,
		&i.CompletedAt,
		&i.CancelledAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getNextOrderNumber = `-- name: GetNextOrderNumber :one
SELECT (COUNT(*) + 1)::int FROM orders WHERE venue_id = $1
`

func (q *Queries) GetNextOrderNumber(ctx context.Context, venueID uuid.UUID) (int32, error) {
	row := q.db.QueryRow(ctx, getNextOrderNumber, venueID)
	var next int32
	err := row.Scan(&next)
	return next, err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (venue_id, order_number, table_label, payment_method, created_by)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	VenueID       uuid.UUID
	OrderNumber   string
	TableLabel    pgtype.Text
	PaymentMethod NullPaymentMethod
	CreatedBy     pgtype.UUID
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.VenueID,
		arg.OrderNumber,
		arg.TableLabel,
		arg.PaymentMethod,
		arg.CreatedBy,
	)
	return scanOrder(row)
}

const createOrderItem = `-- name: CreateOrderItem :one
INSERT INTO order_items (order_id, position, menu_item_id, item_name, category, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, order_id, position, menu_item_id, item_name, category, quantity, unit_price
`

type CreateOrderItemParams struct {
	OrderID    uuid.UUID
	Position   int32
	MenuItemID uuid.UUID
	ItemName   string
	Category   string
	Quantity   int32
	UnitPrice  pgtype.Numeric
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID,
		arg.Position,
		arg.MenuItemID,
		arg.ItemName,
		arg.Category,
		arg.Quantity,
		arg.UnitPrice,
	)
	var i OrderItem
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.Position,
		&i.MenuItemID,
		&i.ItemName,
		&i.Category,
		&i.Quantity,
		&i.UnitPrice,
	)
	return i, err
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1 AND venue_id = $2
`

type GetOrderParams struct {
	ID      uuid.UUID
	VenueID uuid.UUID
}

func (q *Queries) GetOrder(ctx context.Context, arg GetOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, arg.ID, arg.VenueID))
}

const getOrderForUpdate = `-- name: GetOrderForUpdate :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1 AND venue_id = $2
FOR NO KEY UPDATE
`

type GetOrderForUpdateParams struct {
	ID      uuid.UUID
	VenueID uuid.UUID
}

// GetOrderForUpdate locks the order row until the surrounding transaction ends.
func (q *Queries) GetOrderForUpdate(ctx context.Context, arg GetOrderForUpdateParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, arg.ID, arg.VenueID))
}

const listOrders = `-- name: ListOrders :many
SELECT ` + orderColumns + `,
	(SELECT COALESCE(SUM(oi.quantity * oi.unit_price), 0)::numeric FROM order_items oi WHERE oi.order_id = orders.id) AS total
FROM orders
WHERE venue_id = $1
  AND ($2::text IS NULL OR status = $2::text)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4
`

type ListOrdersParams struct {
	VenueID uuid.UUID
	Status  NullOrderStatus
	Limit   int32
	Offset  int32
}

type ListOrdersRow struct {
	Order
	Total pgtype.Numeric
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]ListOrdersRow, error) {
	rows, err := q.db.Query(ctx, listOrders, arg.VenueID, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ListOrdersRow{}
	for rows.Next() {
		var i ListOrdersRow
		if err := rows.Scan(
			&i.ID,
			&i.VenueID,
			&i.OrderNumber,
			&i.TableLabel,
			&i.Status,
			&i.PaymentStatus,
			&i.PaymentMethod,
			&i.CreatedBy,
			&i.ServedAt,
			&i.PaidAt,
			&i.CompletedAt,
			&i.CancelledAt,
			&i.CreatedAt,
			&i.UpdatedAt,
			&i.Total,
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

const listOrderItemsByOrder = `-- name: ListOrderItemsByOrder :many
SELECT id, order_id, position, menu_item_id, item_name, category, quantity, unit_price
FROM order_items
WHERE order_id = $1
ORDER BY position
`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
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

const updateOrderStatus = `-- name: UpdateOrderStatus :one
UPDATE orders
SET status       = $3::text,
    served_at    = CASE WHEN $3::text = 'SERVED' THEN now() ELSE served_at END,
    completed_at = CASE WHEN $3::text = 'COMPLETED' THEN now() ELSE completed_at END,
    cancelled_at = CASE WHEN $3::text = 'CANCELLED' THEN now() ELSE cancelled_at END,
    updated_at   = now()
WHERE id = $1
  AND venue_id = $2
  AND status = $4::text
  AND ($3::text <> 'COMPLETED' OR payment_status = 'PAID')
RETURNING ` + orderColumns

type UpdateOrderStatusParams struct {
	ID       uuid.UUID
	VenueID  uuid.UUID
	Status   OrderStatus
	Status_2 OrderStatus
}

// UpdateOrderStatus is a compare-and-swap: it returns pgx.ErrNoRows when the
// stored status no longer equals Status_2.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderStatus, arg.ID, arg.VenueID, arg.Status, arg.Status_2)
	return scanOrder(row)
}

const updateOrderPayment = `-- name: UpdateOrderPayment :one
UPDATE orders
SET payment_status = $3::text,
    payment_method = $4::text,
    paid_at        = CASE WHEN $3::text = 'PAID' THEN now() ELSE paid_at END,
    updated_at     = now()
WHERE id = $1
  AND venue_id = $2
  AND payment_status = $5::text
  AND payment_method IS NOT DISTINCT FROM $6::text
RETURNING ` + orderColumns

type UpdateOrderPaymentParams struct {
	ID                    uuid.UUID
	VenueID               uuid.UUID
	PaymentStatus         PaymentStatus
	PaymentMethod         NullPaymentMethod
	ExpectedPaymentStatus PaymentStatus
	ExpectedPaymentMethod NullPaymentMethod
}

// UpdateOrderPayment is a compare-and-swap over the (status, method) pair.
func (q *Queries) UpdateOrderPayment(ctx context.Context, arg UpdateOrderPaymentParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderPayment,
		arg.ID,
		arg.VenueID,
		arg.PaymentStatus,
		arg.PaymentMethod,
		arg.ExpectedPaymentStatus,
		arg.ExpectedPaymentMethod,
	)
	return scanOrder(row)
}

const createOrderStatusEvent = `-- name: CreateOrderStatusEvent :exec
INSERT INTO order_status_events (order_id, from_status, to_status, actor_id, actor_role, reason)
VALUES ($1, $2, $3, $4, $5, $6)
`

type CreateOrderStatusEventParams struct {
	OrderID    uuid.UUID
	FromStatus OrderStatus
	ToStatus   OrderStatus
	ActorID    pgtype.UUID
	ActorRole  string
	Reason     pgtype.Text
}

func (q *Queries) CreateOrderStatusEvent(ctx context.Context, arg CreateOrderStatusEventParams) error {
	_, err := q.db.Exec(ctx, createOrderStatusEvent,
		arg.OrderID,
		arg.FromStatus,
		arg.ToStatus,
		arg.ActorID,
		arg.ActorRole,
		arg.Reason,
	)
	return err
}

const listOrderStatusEvents = `-- name: ListOrderStatusEvents :many
SELECT id, order_id, from_status, to_status, actor_id, actor_role, reason, created_at
FROM order_status_events
WHERE order_id = $1
ORDER BY id
`

func (q *Queries) ListOrderStatusEvents(ctx context.Context, orderID uuid.UUID) ([]OrderStatusEvent, error) {
	rows, err := q.db.Query(ctx, listOrderStatusEvents, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderStatusEvent{}
	for rows.Next() {
		var i OrderStatusEvent
		if err := rows.Scan(
			&i.ID,
			&i.OrderID,
			&i.FromStatus,
			&i.ToStatus,
			&i.ActorID,
			&i.ActorRole,
			&i.Reason,
			&i.CreatedAt,
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
