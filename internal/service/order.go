package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
	"github.com/tableorder/api/internal/events"
)

const maxOrderNumberRetries = 3

// OrderStore defines the DB methods the order, payment and kitchen
// operations run. Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetNextOrderNumber(ctx context.Context, venueID uuid.UUID) (int32, error)
	GetMenuItem(ctx context.Context, arg database.GetMenuItemParams) (database.MenuItem, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.ListOrdersRow, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	UpdateOrderPayment(ctx context.Context, arg database.UpdateOrderPaymentParams) (database.Order, error)
	CreateOrderStatusEvent(ctx context.Context, arg database.CreateOrderStatusEventParams) error
	ListOrderStatusEvents(ctx context.Context, orderID uuid.UUID) ([]database.OrderStatusEvent, error)

	ListStationsByVenue(ctx context.Context, venueID uuid.UUID) ([]database.Station, error)
	ListStationRoutes(ctx context.Context, venueID uuid.UUID) ([]database.StationRoute, error)
	CreateKitchenTicket(ctx context.Context, arg database.CreateKitchenTicketParams) (database.KitchenTicket, error)
	CreateKitchenTicketItem(ctx context.Context, arg database.CreateKitchenTicketItemParams) error
	GetKitchenTicket(ctx context.Context, arg database.GetKitchenTicketParams) (database.KitchenTicket, error)
	ListKitchenTicketsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.KitchenTicket, error)
	ListOpenKitchenTickets(ctx context.Context, arg database.ListOpenKitchenTicketsParams) ([]database.KitchenTicket, error)
	ListKitchenTicketItems(ctx context.Context, ticketID uuid.UUID) ([]database.OrderItem, error)
	UpdateKitchenTicketStatus(ctx context.Context, arg database.UpdateKitchenTicketStatusParams) (database.KitchenTicket, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// Deductor applies the inventory side effect of a completed order.
type Deductor interface {
	DeductForOrder(ctx context.Context, venueID, orderID uuid.UUID) error
}

// PlaceOrderRequest is the input for placing an order.
type PlaceOrderRequest struct {
	VenueID       uuid.UUID
	Actor         Actor
	TableLabel    string
	PaymentMethod string
	Items         []PlaceOrderItemRequest
}

type PlaceOrderItemRequest struct {
	MenuItemID string
	ItemName   string
	Quantity   int32
	// UnitPrice is a decimal string; empty takes the menu price.
	UnitPrice string
}

// OrderDetail is an order with its lines and kitchen tickets.
type OrderDetail struct {
	Order   database.Order
	Items   []database.OrderItem
	Tickets []database.KitchenTicket
	Total   decimal.Decimal
}

// Outcomes reported by lifecycle and payment operations.
const (
	OutcomeServed           = "served"
	OutcomeAlreadyServed    = "already_served"
	OutcomeCompleted        = "completed"
	OutcomeAlreadyCompleted = "already_completed"
	OutcomeCancelled        = "cancelled"
	OutcomeAlreadyCancelled = "already_cancelled"
	OutcomePaid             = "paid"
	OutcomeAlreadyPaid      = "already_paid"
	OutcomePayLater         = "pay_later"
	OutcomeAlreadyPayLater  = "already_pay_later"
)

// TransitionResult is the order after an operation. Changed is false when the
// call was an idempotent no-op.
type TransitionResult struct {
	Order   database.Order
	Outcome string
	Changed bool
}

// OrderService owns placement and the order lifecycle.
type OrderService struct {
	pool      DB
	newStore  NewOrderStore
	inventory Deductor
	deps      Deps
}

func NewOrderService(pool DB, newStore NewOrderStore, inventory Deductor, deps Deps) *OrderService {
	return &OrderService{pool: pool, newStore: newStore, inventory: inventory, deps: deps.withDefaults()}
}

// txScope collects what a transaction changed so it can be published after
// commit.
type txScope struct {
	store   OrderStore
	venueID uuid.UUID
	events  []events.Event
	changes [][2]database.OrderStatus
	tickets []database.TicketStatus
}

func (s *OrderService) inTx(ctx context.Context, venueID uuid.UUID, fn func(tx *txScope) error) (*txScope, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	scope := &txScope{store: s.newStore(tx), venueID: venueID}
	if err := fn(scope); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return scope, nil
}

// afterCommit records metrics and publishes the scope's events.
func (s *OrderService) afterCommit(ctx context.Context, scope *txScope) {
	for _, c := range scope.changes {
		s.deps.Metrics.Transition(string(c[0]), string(c[1]))
	}
	for _, t := range scope.tickets {
		s.deps.Metrics.TicketTransition(string(t))
	}
	s.deps.publish(ctx, scope.events)
}

func (s *OrderService) addEvent(scope *txScope, eventType string, orderID uuid.UUID, payload interface{}) {
	if e, ok := s.deps.event(eventType, scope.venueID, orderID, payload); ok {
		scope.events = append(scope.events, e)
	}
}

func (s *OrderService) reject(operation string, err error) error {
	class := "internal"
	switch {
	case errors.Is(err, ErrValidation):
		class = "validation"
	case errors.Is(err, ErrForbidden):
		class = "forbidden"
	case errors.Is(err, ErrNotFound):
		class = "not_found"
	case errors.Is(err, ErrNotEligible):
		class = "not_eligible"
	case errors.Is(err, ErrConflict):
		class = "conflict"
	}
	s.deps.Metrics.Rejected(operation, class)
	return err
}

// lockOrder loads the order row FOR NO KEY UPDATE.
func lockOrder(ctx context.Context, store OrderStore, venueID, orderID uuid.UUID) (database.Order, error) {
	order, err := store.GetOrderForUpdate(ctx, database.GetOrderForUpdateParams{ID: orderID, VenueID: venueID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("lock order: %w", err)
	}
	return order, nil
}

// fire applies one table transition under the held row lock: a compare-and-swap
// on the status column plus a history row.
func (s *OrderService) fire(ctx context.Context, scope *txScope, order database.Order, ev Event, actor Actor, reason string) (database.Order, error) {
	to, err := NextStatus(order.Status, ev)
	if err != nil {
		return database.Order{}, err
	}

	updated, err := scope.store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:       order.ID,
		VenueID:  order.VenueID,
		Status:   to,
		Status_2: order.Status,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrStatusChanged
		}
		return database.Order{}, fmt.Errorf("update order status: %w", err)
	}

	r := pgtype.Text{}
	if reason != "" {
		r = pgtype.Text{String: reason, Valid: true}
	}
	if err := scope.store.CreateOrderStatusEvent(ctx, database.CreateOrderStatusEventParams{
		OrderID:    order.ID,
		FromStatus: order.Status,
		ToStatus:   to,
		ActorID:    actor.id(),
		ActorRole:  actor.Role,
		Reason:     r,
	}); err != nil {
		return database.Order{}, fmt.Errorf("record status event: %w", err)
	}

	scope.changes = append(scope.changes, [2]database.OrderStatus{order.Status, to})
	s.addEvent(scope, enum.EventOrderStatusChanged, order.ID, map[string]interface{}{
		"order_number": updated.OrderNumber,
		"from":         order.Status,
		"to":           to,
		"actor_role":   actor.Role,
	})
	return updated, nil
}

// PlaceOrder validates the request, creates the order with its lines and fans
// the lines out to kitchen tickets, all in one transaction. Retries up to
// maxOrderNumberRetries times on order_number unique violations.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderDetail, error) {
	defer s.deps.observe(time.Now())

	method, err := parsePaymentMethod(req.PaymentMethod, true)
	if err != nil {
		return nil, s.reject("place_order", err)
	}
	if len(req.Items) == 0 {
		return nil, s.reject("place_order", ErrEmptyItems)
	}
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, s.reject("place_order", fmt.Errorf("item[%d]: %w", i, ErrInvalidQuantity))
		}
		if _, err := uuid.Parse(item.MenuItemID); err != nil {
			return nil, s.reject("place_order", fmt.Errorf("item[%d]: %w", i, ErrInvalidMenuItemID))
		}
		if _, err := parseUnitPrice(item.UnitPrice); err != nil {
			return nil, s.reject("place_order", fmt.Errorf("item[%d]: %w", i, err))
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		detail, scope, err := s.placeOrderTx(ctx, req, method)
		if err == nil {
			s.deps.Metrics.OrderPlaced()
			s.afterCommit(ctx, scope)
			return detail, nil
		}
		if isOrderNumberConflict(err) {
			lastErr = err
			continue
		}
		return nil, s.reject("place_order", err)
	}
	return nil, lastErr
}

// maxUnitPrice is the first value order_items.unit_price NUMERIC(12,2) cannot hold.
var maxUnitPrice = decimal.New(1, 10)

// parseUnitPrice accepts a non-negative decimal with at most two places that
// fits the unit_price column.
func parseUnitPrice(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, ErrInvalidUnitPrice
	}
	p, err := decimal.NewFromString(s)
	if err != nil || p.IsNegative() || !p.LessThan(maxUnitPrice) {
		return decimal.Decimal{}, ErrInvalidUnitPrice
	}
	if !p.Equal(p.Truncate(2)) {
		return decimal.Decimal{}, ErrInvalidUnitPrice
	}
	return p, nil
}

// isOrderNumberConflict checks if the error is a unique constraint violation
// on the order number (pgconn error code 23505).
func isOrderNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_venue_id_order_number_key"
	}
	return false
}

func (s *OrderService) placeOrderTx(ctx context.Context, req PlaceOrderRequest, method database.NullPaymentMethod) (*OrderDetail, *txScope, error) {
	var detail *OrderDetail
	scope, err := s.inTx(ctx, req.VenueID, func(scope *txScope) error {
		store := scope.store

		// --- Resolve menu items ---
		params := make([]database.CreateOrderItemParams, 0, len(req.Items))
		for i, item := range req.Items {
			menuItemID := uuid.MustParse(item.MenuItemID)
			menuItem, err := store.GetMenuItem(ctx, database.GetMenuItemParams{ID: menuItemID, VenueID: req.VenueID})
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("item[%d]: %w", i, ErrMenuItemNotFound)
				}
				return fmt.Errorf("item[%d]: get menu item: %w", i, err)
			}
			if !menuItem.IsAvailable {
				return fmt.Errorf("item[%d]: %w", i, ErrMenuItemUnavailable)
			}

			name := item.ItemName
			if name == "" {
				name = menuItem.Name
			}
			unitPrice, _ := parseUnitPrice(item.UnitPrice)
			params = append(params, database.CreateOrderItemParams{
				Position:   int32(i + 1),
				MenuItemID: menuItemID,
				ItemName:   name,
				Category:   menuItem.Category,
				Quantity:   item.Quantity,
				UnitPrice:  decimalToNumeric(unitPrice),
			})
		}

		// --- Kitchen routing ---
		routing, err := loadRouting(ctx, store, req.VenueID)
		if err != nil {
			return err
		}
		if !routing.Configured() && s.deps.RequireKDSRouting {
			return ErrKDSNotConfigured
		}

		// --- Order ---
		nextNum, err := store.GetNextOrderNumber(ctx, req.VenueID)
		if err != nil {
			return fmt.Errorf("get next order number: %w", err)
		}
		tableLabel := pgtype.Text{}
		if req.TableLabel != "" {
			tableLabel = pgtype.Text{String: req.TableLabel, Valid: true}
		}
		order, err := store.CreateOrder(ctx, database.CreateOrderParams{
			VenueID:       req.VenueID,
			OrderNumber:   fmt.Sprintf("T-%03d", nextNum),
			TableLabel:    tableLabel,
			PaymentMethod: method,
			CreatedBy:     req.Actor.id(),
		})
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		items := make([]database.OrderItem, 0, len(params))
		total := decimal.Zero
		for _, p := range params {
			p.OrderID = order.ID
			item, err := store.CreateOrderItem(ctx, p)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
			items = append(items, item)
			total = total.Add(numericToDecimal(item.UnitPrice).Mul(decimal.NewFromInt32(item.Quantity)))
		}

		// --- Tickets ---
		tickets, err := createTickets(ctx, store, order, FanOut(routing, items))
		if err != nil {
			return err
		}

		detail = &OrderDetail{Order: order, Items: items, Tickets: tickets, Total: total}
		s.addEvent(scope, enum.EventOrderPlaced, order.ID, map[string]interface{}{
			"order_number":   order.OrderNumber,
			"table_label":    req.TableLabel,
			"payment_method": method.PaymentMethod,
			"item_count":     len(items),
			"ticket_count":   len(tickets),
			"total":          total.StringFixed(2),
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return detail, scope, nil
}

// GetOrder returns the order with its lines and tickets.
func (s *OrderService) GetOrder(ctx context.Context, venueID, orderID uuid.UUID) (*OrderDetail, error) {
	store := s.newStore(s.pool)
	order, err := store.GetOrder(ctx, database.GetOrderParams{ID: orderID, VenueID: venueID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	items, err := store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	tickets, err := store.ListKitchenTicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(numericToDecimal(it.UnitPrice).Mul(decimal.NewFromInt32(it.Quantity)))
	}
	return &OrderDetail{Order: order, Items: items, Tickets: tickets, Total: total}, nil
}

// OrderHistory returns the status history of an order, oldest first.
func (s *OrderService) OrderHistory(ctx context.Context, venueID, orderID uuid.UUID) ([]database.OrderStatusEvent, error) {
	store := s.newStore(s.pool)
	if _, err := store.GetOrder(ctx, database.GetOrderParams{ID: orderID, VenueID: venueID}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return store.ListOrderStatusEvents(ctx, orderID)
}

type ListOrdersRequest struct {
	VenueID uuid.UUID
	Status  string
	Limit   int32
	Offset  int32
}

func (s *OrderService) ListOrders(ctx context.Context, req ListOrdersRequest) ([]database.ListOrdersRow, error) {
	status := database.NullOrderStatus{}
	if req.Status != "" {
		st := database.OrderStatus(req.Status)
		if _, known := transitions[st]; !known && !IsTerminal(st) {
			return nil, newError(ErrValidation, "invalid status filter")
		}
		status = database.NullOrderStatus{OrderStatus: st, Valid: true}
	}
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	return s.newStore(s.pool).ListOrders(ctx, database.ListOrdersParams{
		VenueID: req.VenueID,
		Status:  status,
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
}

// MarkServed moves an order to SERVED. From PLACED or IN_PREP it is accepted
// only when the kitchen is done, and walks every intermediate step.
func (s *OrderService) MarkServed(ctx context.Context, venueID, orderID uuid.UUID, actor Actor) (*TransitionResult, error) {
	defer s.deps.observe(time.Now())
	if !actor.hasRole(enum.StaffRoles...) {
		return nil, s.reject("serve", ErrRoleNotAllowed)
	}

	var result TransitionResult
	scope, err := s.inTx(ctx, venueID, func(scope *txScope) error {
		order, err := lockOrder(ctx, scope.store, venueID, orderID)
		if err != nil {
			return err
		}

		switch order.Status {
		case database.OrderStatusSERVED, database.OrderStatusCOMPLETED:
			result = TransitionResult{Order: order, Outcome: OutcomeAlreadyServed}
			return nil
		case database.OrderStatusCANCELLED:
			return ErrOrderCancelled
		case database.OrderStatusPLACED, database.OrderStatusINPREP:
			tickets, err := scope.store.ListKitchenTicketsByOrder(ctx, order.ID)
			if err != nil {
				return fmt.Errorf("list tickets: %w", err)
			}
			if !AllBumped(tickets) {
				return ErrKitchenNotDone
			}
		}

		for _, ev := range serveChain(order.Status) {
			order, err = s.fire(ctx, scope, order, ev, actor, "")
			if err != nil {
				return err
			}
		}
		result = TransitionResult{Order: order, Outcome: OutcomeServed, Changed: true}
		return nil
	})
	if err != nil {
		return nil, s.reject("serve", err)
	}
	s.afterCommit(ctx, scope)
	return &result, nil
}

// CompleteOrder closes a served, paid order and then deducts inventory.
// Payment is checked first: an unpaid order is never completable.
func (s *OrderService) CompleteOrder(ctx context.Context, venueID, orderID uuid.UUID, actor Actor) (*TransitionResult, error) {
	defer s.deps.observe(time.Now())
	if !actor.hasRole(enum.StaffRoles...) {
		return nil, s.reject("complete", ErrRoleNotAllowed)
	}

	var result TransitionResult
	scope, err := s.inTx(ctx, venueID, func(scope *txScope) error {
		order, err := lockOrder(ctx, scope.store, venueID, orderID)
		if err != nil {
			return err
		}

		if !IsPayable(order) {
			return ErrNotCompletable
		}
		switch order.Status {
		case database.OrderStatusCOMPLETED:
			result = TransitionResult{Order: order, Outcome: OutcomeAlreadyCompleted}
			return nil
		case database.OrderStatusCANCELLED:
			return ErrOrderCancelled
		case database.OrderStatusSERVED:
		default:
			return ErrNotServed
		}

		order, err = s.fire(ctx, scope, order, EventComplete, actor, "")
		if err != nil {
			return err
		}
		result = TransitionResult{Order: order, Outcome: OutcomeCompleted, Changed: true}
		return nil
	})
	if err != nil {
		return nil, s.reject("complete", err)
	}
	s.afterCommit(ctx, scope)

	if result.Changed && s.inventory != nil {
		if err := s.inventory.DeductForOrder(context.WithoutCancel(ctx), venueID, orderID); err != nil {
			s.deps.Metrics.InventoryFailed()
			s.deps.Logger.Error("inventory deduction failed",
				zap.String("venue_id", venueID.String()),
				zap.String("order_id", orderID.String()),
				zap.Error(err))
		}
	}
	return &result, nil
}

// CancelOrder cancels an order that has not been served.
func (s *OrderService) CancelOrder(ctx context.Context, venueID, orderID uuid.UUID, reason string, actor Actor) (*TransitionResult, error) {
	defer s.deps.observe(time.Now())
	if !actor.hasRole(enum.StaffRoles...) {
		return nil, s.reject("cancel", ErrRoleNotAllowed)
	}

	var result TransitionResult
	scope, err := s.inTx(ctx, venueID, func(scope *txScope) error {
		order, err := lockOrder(ctx, scope.store, venueID, orderID)
		if err != nil {
			return err
		}

		switch order.Status {
		case database.OrderStatusCANCELLED:
			result = TransitionResult{Order: order, Outcome: OutcomeAlreadyCancelled}
			return nil
		case database.OrderStatusSERVED, database.OrderStatusCOMPLETED:
			return ErrNotCancellable
		}

		order, err = s.fire(ctx, scope, order, EventCancel, actor, reason)
		if err != nil {
			return err
		}
		result = TransitionResult{Order: order, Outcome: OutcomeCancelled, Changed: true}
		return nil
	})
	if err != nil {
		return nil, s.reject("cancel", err)
	}
	s.afterCommit(ctx, scope)
	return &result, nil
}
