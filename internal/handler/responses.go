package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/service"
)

// --- Response types ---

type orderResponse struct {
	ID            uuid.UUID           `json:"id"`
	VenueID       uuid.UUID           `json:"venue_id"`
	OrderNumber   string              `json:"order_number"`
	TableLabel    *string             `json:"table_label"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"payment_status"`
	PaymentMethod *string             `json:"payment_method"`
	CreatedBy     *uuid.UUID          `json:"created_by"`
	ServedAt      *time.Time          `json:"served_at"`
	PaidAt        *time.Time          `json:"paid_at"`
	CompletedAt   *time.Time          `json:"completed_at"`
	CancelledAt   *time.Time          `json:"cancelled_at"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Total         string              `json:"total,omitempty"`
	Items         []orderItemResponse `json:"items,omitempty"`
	Tickets       []ticketResponse    `json:"tickets,omitempty"`
	Outcome       string              `json:"outcome,omitempty"`
}

type orderItemResponse struct {
	ID         uuid.UUID `json:"id"`
	Position   int32     `json:"position"`
	MenuItemID uuid.UUID `json:"menu_item_id"`
	ItemName   string    `json:"item_name"`
	Category   string    `json:"category"`
	Quantity   int32     `json:"quantity"`
	UnitPrice  string    `json:"unit_price"`
	Subtotal   string    `json:"subtotal"`
}

type ticketResponse struct {
	ID        uuid.UUID           `json:"id"`
	OrderID   uuid.UUID           `json:"order_id"`
	StationID uuid.UUID           `json:"station_id"`
	Status    string              `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	StartedAt *time.Time          `json:"started_at"`
	ReadyAt   *time.Time          `json:"ready_at"`
	BumpedAt  *time.Time          `json:"bumped_at"`
	Items     []orderItemResponse `json:"items,omitempty"`
}

type statusEventResponse struct {
	FromStatus string     `json:"from_status"`
	ToStatus   string     `json:"to_status"`
	ActorID    *uuid.UUID `json:"actor_id"`
	ActorRole  string     `json:"actor_role"`
	Reason     *string    `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
}

// --- Conversions ---

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

// numericToString formats money with two places.
func numericToString(n pgtype.Numeric) string {
	return numericToDecimal(n).StringFixed(2)
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func uuidPtr(u pgtype.UUID) *uuid.UUID {
	if !u.Valid {
		return nil
	}
	id := uuid.UUID(u.Bytes)
	return &id
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func toOrderResponse(o database.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		VenueID:       o.VenueID,
		OrderNumber:   o.OrderNumber,
		TableLabel:    textPtr(o.TableLabel),
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		CreatedBy:     uuidPtr(o.CreatedBy),
		ServedAt:      timePtr(o.ServedAt),
		PaidAt:        timePtr(o.PaidAt),
		CompletedAt:   timePtr(o.CompletedAt),
		CancelledAt:   timePtr(o.CancelledAt),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.PaymentMethod.Valid {
		m := string(o.PaymentMethod.PaymentMethod)
		resp.PaymentMethod = &m
	}
	return resp
}

func toOrderItemResponse(i database.OrderItem) orderItemResponse {
	price := numericToDecimal(i.UnitPrice)
	return orderItemResponse{
		ID:         i.ID,
		Position:   i.Position,
		MenuItemID: i.MenuItemID,
		ItemName:   i.ItemName,
		Category:   i.Category,
		Quantity:   i.Quantity,
		UnitPrice:  price.StringFixed(2),
		Subtotal:   price.Mul(decimal.NewFromInt32(i.Quantity)).StringFixed(2),
	}
}

func toTicketResponse(t database.KitchenTicket, items []database.OrderItem) ticketResponse {
	resp := ticketResponse{
		ID:        t.ID,
		OrderID:   t.OrderID,
		StationID: t.StationID,
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt,
		StartedAt: timePtr(t.StartedAt),
		ReadyAt:   timePtr(t.ReadyAt),
		BumpedAt:  timePtr(t.BumpedAt),
	}
	for _, i := range items {
		resp.Items = append(resp.Items, toOrderItemResponse(i))
	}
	return resp
}

func toOrderDetailResponse(d *service.OrderDetail) orderResponse {
	resp := toOrderResponse(d.Order)
	resp.Total = d.Total.StringFixed(2)
	resp.Items = make([]orderItemResponse, len(d.Items))
	for i, item := range d.Items {
		resp.Items[i] = toOrderItemResponse(item)
	}
	for _, t := range d.Tickets {
		resp.Tickets = append(resp.Tickets, toTicketResponse(t, nil))
	}
	return resp
}

func toTransitionResponse(res *service.TransitionResult) orderResponse {
	resp := toOrderResponse(res.Order)
	resp.Outcome = res.Outcome
	return resp
}

func toStatusEventResponse(e database.OrderStatusEvent) statusEventResponse {
	return statusEventResponse{
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		ActorID:    uuidPtr(e.ActorID),
		ActorRole:  e.ActorRole,
		Reason:     textPtr(e.Reason),
		CreatedAt:  e.CreatedAt,
	}
}
