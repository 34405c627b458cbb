package database

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type OrderStatus string

const (
	OrderStatusPLACED    OrderStatus = "PLACED"
	OrderStatusINPREP    OrderStatus = "IN_PREP"
	OrderStatusREADY     OrderStatus = "READY"
	OrderStatusSERVED    OrderStatus = "SERVED"
	OrderStatusCOMPLETED OrderStatus = "COMPLETED"
	OrderStatusCANCELLED OrderStatus = "CANCELLED"
)

func (e *OrderStatus) Scan(src interface{}) error {
	switch s := src.(type) {
	case []byte:
		*e = OrderStatus(s)
	case string:
		*e = OrderStatus(s)
	default:
		return fmt.Errorf("unsupported scan type for OrderStatus: %T", src)
	}
	return nil
}

type NullOrderStatus struct {
	OrderStatus OrderStatus
	Valid       bool
}

func (ns *NullOrderStatus) Scan(value interface{}) error {
	if value == nil {
		ns.OrderStatus, ns.Valid = "", false
		return nil
	}
	ns.Valid = true
	return ns.OrderStatus.Scan(value)
}

func (ns NullOrderStatus) Value() (driver.Value, error) {
	if !ns.Valid {
		return nil, nil
	}
	return string(ns.OrderStatus), nil
}

type PaymentStatus string

const (
	PaymentStatusUNPAID PaymentStatus = "UNPAID"
	PaymentStatusPAID   PaymentStatus = "PAID"
)

func (e *PaymentStatus) Scan(src interface{}) error {
	switch s := src.(type) {
	case []byte:
		*e = PaymentStatus(s)
	case string:
		*e = PaymentStatus(s)
	default:
		return fmt.Errorf("unsupported scan type for PaymentStatus: %T", src)
	}
	return nil
}

type PaymentMethod string

const (
	PaymentMethodPAYNOW    PaymentMethod = "PAY_NOW"
	PaymentMethodPAYLATER  PaymentMethod = "PAY_LATER"
	PaymentMethodPAYATTILL PaymentMethod = "PAY_AT_TILL"
)

func (e *PaymentMethod) Scan(src interface{}) error {
	switch s := src.(type) {
	case []byte:
		*e = PaymentMethod(s)
	case string:
		*e = PaymentMethod(s)
	default:
		return fmt.Errorf("unsupported scan type for PaymentMethod: %T", src)
	}
	return nil
}

// NullPaymentMethod is unset until the guest or staff picks a method.
type NullPaymentMethod struct {
	PaymentMethod PaymentMethod
	Valid         bool
}

func (ns *NullPaymentMethod) Scan(value interface{}) error {
	if value == nil {
		ns.PaymentMethod, ns.Valid = "", false
		return nil
	}
	ns.Valid = true
	return ns.PaymentMethod.Scan(value)
}

func (ns NullPaymentMethod) Value() (driver.Value, error) {
	if !ns.Valid {
		return nil, nil
	}
	return string(ns.PaymentMethod), nil
}

type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "new"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusReady      TicketStatus = "ready"
	TicketStatusBumped     TicketStatus = "bumped"
)

func (e *TicketStatus) Scan(src interface{}) error {
	switch s := src.(type) {
	case []byte:
		*e = TicketStatus(s)
	case string:
		*e = TicketStatus(s)
	default:
		return fmt.Errorf("unsupported scan type for TicketStatus: %T", src)
	}
	return nil
}

type Order struct {
	ID            uuid.UUID          `json:"id"`
	VenueID       uuid.UUID          `json:"venue_id"`
	OrderNumber   string             `json:"order_number"`
	TableLabel    pgtype.Text        `json:"table_label"`
	Status        OrderStatus        `json:"status"`
	PaymentStatus PaymentStatus      `json:"payment_status"`
	PaymentMethod NullPaymentMethod  `json:"payment_method"`
	CreatedBy     pgtype.UUID        `json:"created_by"`
	ServedAt      pgtype.Timestamptz `json:"served_at"`
	PaidAt        pgtype.Timestamptz `json:"paid_at"`
	CompletedAt   pgtype.Timestamptz `json:"completed_at"`
	CancelledAt   pgtype.Timestamptz `json:"cancelled_at"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type OrderItem struct {
	ID         uuid.UUID      `json:"id"`
	OrderID    uuid.UUID      `json:"order_id"`
	Position   int32          `json:"position"`
	MenuItemID uuid.UUID      `json:"menu_item_id"`
	ItemName   string         `json:"item_name"`
	Category   string         `json:"category"`
	Quantity   int32          `json:"quantity"`
	UnitPrice  pgtype.Numeric `json:"unit_price"`
}

type OrderStatusEvent struct {
	ID         int64       `json:"id"`
	OrderID    uuid.UUID   `json:"order_id"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	ActorID    pgtype.UUID `json:"actor_id"`
	ActorRole  string      `json:"actor_role"`
	Reason     pgtype.Text `json:"reason"`
	CreatedAt  time.Time   `json:"created_at"`
}

type Station struct {
	ID        uuid.UUID `json:"id"`
	VenueID   uuid.UUID `json:"venue_id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	IsActive  bool      `json:"is_active"`
	SortOrder int32     `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

type StationRoute struct {
	VenueID   uuid.UUID `json:"venue_id"`
	Category  string    `json:"category"`
	StationID uuid.UUID `json:"station_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type KitchenTicket struct {
	ID        uuid.UUID          `json:"id"`
	OrderID   uuid.UUID          `json:"order_id"`
	VenueID   uuid.UUID          `json:"venue_id"`
	StationID uuid.UUID          `json:"station_id"`
	Status    TicketStatus       `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	StartedAt pgtype.Timestamptz `json:"started_at"`
	ReadyAt   pgtype.Timestamptz `json:"ready_at"`
	BumpedAt  pgtype.Timestamptz `json:"bumped_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type MenuItem struct {
	ID          uuid.UUID      `json:"id"`
	VenueID     uuid.UUID      `json:"venue_id"`
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	Price       pgtype.Numeric `json:"price"`
	IsAvailable bool           `json:"is_available"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type Ingredient struct {
	ID        uuid.UUID `json:"id"`
	VenueID   uuid.UUID `json:"venue_id"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	CreatedAt time.Time `json:"created_at"`
}

type RecipeLine struct {
	MenuItemID      uuid.UUID      `json:"menu_item_id"`
	IngredientID    uuid.UUID      `json:"ingredient_id"`
	QuantityPerItem pgtype.Numeric `json:"quantity_per_item"`
}

type StockLedgerEntry struct {
	ID           int64          `json:"id"`
	VenueID      uuid.UUID      `json:"venue_id"`
	IngredientID uuid.UUID      `json:"ingredient_id"`
	Delta        pgtype.Numeric `json:"delta"`
	Reason       string         `json:"reason"`
	OrderID      pgtype.UUID    `json:"order_id"`
	CreatedBy    pgtype.UUID    `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
}

type IdempotencyKey struct {
	VenueID     uuid.UUID          `json:"venue_id"`
	Key         string             `json:"key"`
	Operation   string             `json:"operation"`
	Status      string             `json:"status"`
	Response    []byte             `json:"response"`
	ClaimedAt   time.Time          `json:"claimed_at"`
	CompletedAt pgtype.Timestamptz `json:"completed_at"`
	CreatedAt   time.Time          `json:"created_at"`
}
