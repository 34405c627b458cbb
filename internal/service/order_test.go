package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
	"github.com/tableorder/api/internal/metrics"
)

// --- Test fixture ---

// fixture is one venue with three stations (Grill, Bar, and Expo as the
// default), a small menu and two stocked ingredients.
type fixture struct {
	db      *fakeDB
	pool    *fakePool
	pub     *recordingPublisher
	reg     *metrics.Registry
	orders  *OrderService
	inv     *InventoryService
	venueID uuid.UUID

	grill, bar, expo    uuid.UUID
	burger, fries, cola uuid.UUID
	beef, potato        uuid.UUID

	staff, manager, kitchen, guest Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, false)
}

func newFixtureWith(t *testing.T, requireKDS bool) *fixture {
	t.Helper()
	db := newFakeDB()
	fx := &fixture{
		db:      db,
		pool:    &fakePool{db: db},
		pub:     &recordingPublisher{},
		reg:     metrics.NewRegistry(),
		venueID: uuid.New(),
		grill:   uuid.New(),
		bar:     uuid.New(),
		expo:    uuid.New(),
		burger:  uuid.New(),
		fries:   uuid.New(),
		cola:    uuid.New(),
		beef:    uuid.New(),
		potato:  uuid.New(),
		staff:   Actor{UserID: uuid.New(), Role: enum.RoleStaff},
		manager: Actor{UserID: uuid.New(), Role: enum.RoleManager},
		kitchen: Actor{UserID: uuid.New(), Role: enum.RoleKitchen},
		guest:   Actor{Role: enum.RoleGuest},
	}

	db.st.stations = []database.Station{
		{ID: fx.grill, VenueID: fx.venueID, Name: "Grill", IsActive: true, SortOrder: 1},
		{ID: fx.bar, VenueID: fx.venueID, Name: "Bar", IsActive: true, SortOrder: 2},
		{ID: fx.expo, VenueID: fx.venueID, Name: "Expo", IsActive: true, IsDefault: true, SortOrder: 3},
	}
	db.st.routes = []database.StationRoute{
		{VenueID: fx.venueID, Category: "MAINS", StationID: fx.grill},
		{VenueID: fx.venueID, Category: "DRINKS", StationID: fx.bar},
	}
	db.st.menu[fx.burger] = database.MenuItem{ID: fx.burger, VenueID: fx.venueID, Name: "Burger", Category: "MAINS", Price: makeNumeric("12.50"), IsAvailable: true}
	db.st.menu[fx.fries] = database.MenuItem{ID: fx.fries, VenueID: fx.venueID, Name: "Fries", Category: "SIDES", Price: makeNumeric("4.00"), IsAvailable: true}
	db.st.menu[fx.cola] = database.MenuItem{ID: fx.cola, VenueID: fx.venueID, Name: "Cola", Category: "DRINKS", Price: makeNumeric("2.50"), IsAvailable: true}

	db.st.ingredients[fx.beef] = database.Ingredient{ID: fx.beef, VenueID: fx.venueID, Name: "beef", Unit: "kg"}
	db.st.ingredients[fx.potato] = database.Ingredient{ID: fx.potato, VenueID: fx.venueID, Name: "potato", Unit: "kg"}
	db.st.recipes = []database.RecipeLine{
		{MenuItemID: fx.burger, IngredientID: fx.beef, QuantityPerItem: makeNumeric("0.150")},
		{MenuItemID: fx.fries, IngredientID: fx.potato, QuantityPerItem: makeNumeric("0.200")},
	}
	db.st.ledger = []database.StockLedgerEntry{
		{ID: 1, VenueID: fx.venueID, IngredientID: fx.beef, Delta: makeNumeric("10"), Reason: enum.StockReasonRestock},
		{ID: 2, VenueID: fx.venueID, IngredientID: fx.potato, Delta: makeNumeric("5"), Reason: enum.StockReasonRestock},
	}

	deps := Deps{Publisher: fx.pub, Metrics: fx.reg, RequireKDSRouting: requireKDS}
	newOrderStore := func(database.DBTX) OrderStore { return db }
	newInventoryStore := func(database.DBTX) InventoryStore { return db }
	fx.inv = NewInventoryService(fx.pool, newInventoryStore, deps)
	fx.orders = NewOrderService(fx.pool, newOrderStore, fx.inv, deps)
	return fx
}

// withoutStations removes the venue's kitchen setup.
func (fx *fixture) withoutStations() *fixture {
	fx.db.st.stations = nil
	fx.db.st.routes = nil
	return fx
}

// item orders qty of a menu item at its listed price.
func (fx *fixture) item(menuItemID uuid.UUID, qty int32) PlaceOrderItemRequest {
	price := "1.00"
	if m, ok := fx.db.st.menu[menuItemID]; ok {
		price = numericToDecimal(m.Price).StringFixed(2)
	}
	return PlaceOrderItemRequest{MenuItemID: menuItemID.String(), Quantity: qty, UnitPrice: price}
}

func (fx *fixture) place(t *testing.T, method string, items ...PlaceOrderItemRequest) *OrderDetail {
	t.Helper()
	detail, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderRequest{
		VenueID:       fx.venueID,
		Actor:         fx.guest,
		TableLabel:    "12",
		PaymentMethod: method,
		Items:         items,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	return detail
}

// bumpAll walks every ticket of the order to bumped.
func (fx *fixture) bumpAll(t *testing.T, orderID uuid.UUID) {
	t.Helper()
	tickets, _ := fx.db.ListKitchenTicketsByOrder(context.Background(), orderID)
	for _, tk := range tickets {
		for _, st := range []string{"in_progress", "ready", "bumped"} {
			if _, err := fx.orders.AdvanceTicket(context.Background(), fx.venueID, tk.ID, st, fx.kitchen); err != nil {
				t.Fatalf("advance ticket to %s: %v", st, err)
			}
		}
	}
}

func (fx *fixture) order(orderID uuid.UUID) database.Order {
	fx.db.mu.Lock()
	defer fx.db.mu.Unlock()
	return fx.db.st.orders[orderID]
}

func (fx *fixture) ledgerFor(orderID uuid.UUID) []database.StockLedgerEntry {
	fx.db.mu.Lock()
	defer fx.db.mu.Unlock()
	var out []database.StockLedgerEntry
	for _, e := range fx.db.st.ledger {
		if e.OrderID.Valid && uuid.UUID(e.OrderID.Bytes) == orderID {
			out = append(out, e)
		}
	}
	return out
}

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func numericEquals(n pgtype.Numeric, expected string) bool {
	d := numericToDecimal(n)
	exp, _ := decimal.NewFromString(expected)
	return d.Equal(exp)
}

// =====================
// Validation
// =====================

func TestPlaceOrder_ValidationFailsBeforeAnyWrite(t *testing.T) {
	fx := newFixture(t)
	cases := []struct {
		name string
		req  PlaceOrderRequest
		want error
	}{
		{"empty items", PlaceOrderRequest{}, ErrEmptyItems},
		{"zero quantity", PlaceOrderRequest{Items: []PlaceOrderItemRequest{fx.item(fx.burger, 0)}}, ErrInvalidQuantity},
		{"bad menu item id", PlaceOrderRequest{Items: []PlaceOrderItemRequest{{MenuItemID: "x", Quantity: 1}}}, ErrInvalidMenuItemID},
		{"negative price", PlaceOrderRequest{Items: []PlaceOrderItemRequest{{MenuItemID: fx.burger.String(), Quantity: 1, UnitPrice: "-1"}}}, ErrInvalidUnitPrice},
		{"non-decimal price", PlaceOrderRequest{Items: []PlaceOrderItemRequest{{MenuItemID: fx.burger.String(), Quantity: 1, UnitPrice: "ten"}}}, ErrInvalidUnitPrice},
		{"missing price", PlaceOrderRequest{Items: []PlaceOrderItemRequest{{MenuItemID: fx.burger.String(), Quantity: 2}}}, ErrInvalidUnitPrice},
		{"price with three places", PlaceOrderRequest{Items: []PlaceOrderItemRequest{{MenuItemID: fx.burger.String(), Quantity: 1, UnitPrice: "12.505"}}}, ErrInvalidUnitPrice},
		{"price out of range", PlaceOrderRequest{Items: []PlaceOrderItemRequest{{MenuItemID: fx.burger.String(), Quantity: 1, UnitPrice: "10000000000"}}}, ErrInvalidUnitPrice},
		{"bad method", PlaceOrderRequest{PaymentMethod: "CARD", Items: []PlaceOrderItemRequest{fx.item(fx.burger, 1)}}, ErrInvalidPaymentMethod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.VenueID = fx.venueID
			_, err := fx.orders.PlaceOrder(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got: %v", tc.want, err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation class, got: %v", err)
			}
		})
	}
	if fx.pool.begun != 0 {
		t.Errorf("validation must not open a transaction, got %d", fx.pool.begun)
	}
}

func TestPlaceOrder_MenuItemNotFound(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderRequest{
		VenueID: fx.venueID,
		Items:   []PlaceOrderItemRequest{fx.item(uuid.New(), 1)},
	})
	if !errors.Is(err, ErrMenuItemNotFound) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrMenuItemNotFound, got: %v", err)
	}
}

func TestPlaceOrder_MenuItemFromOtherVenue(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderRequest{
		VenueID: uuid.New(),
		Items:   []PlaceOrderItemRequest{fx.item(fx.burger, 1)},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}
}

func TestPlaceOrder_MenuItemUnavailable(t *testing.T) {
	fx := newFixture(t)
	m := fx.db.st.menu[fx.cola]
	m.IsAvailable = false
	fx.db.st.menu[fx.cola] = m

	_, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderRequest{
		VenueID: fx.venueID,
		Items:   []PlaceOrderItemRequest{fx.item(fx.burger, 1), fx.item(fx.cola, 1)},
	})
	if !errors.Is(err, ErrMenuItemUnavailable) || !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrMenuItemUnavailable, got: %v", err)
	}
	if err.Error() != "item[1]: menu item unavailable" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if len(fx.db.st.orders) != 0 {
		t.Errorf("expected no order, got %d", len(fx.db.st.orders))
	}
}

// =====================
// Placement
// =====================

func TestPlaceOrder_Basic(t *testing.T) {
	fx := newFixture(t)
	detail := fx.place(t, "PAY_LATER", fx.item(fx.burger, 2))

	o := detail.Order
	if o.Status != database.OrderStatusPLACED {
		t.Errorf("status: got %s, want PLACED", o.Status)
	}
	if o.PaymentStatus != database.PaymentStatusUNPAID {
		t.Errorf("payment status: got %s, want UNPAID", o.PaymentStatus)
	}
	if !o.PaymentMethod.Valid || o.PaymentMethod.PaymentMethod != database.PaymentMethodPAYLATER {
		t.Errorf("payment method: got %+v", o.PaymentMethod)
	}
	if o.OrderNumber != "T-001" {
		t.Errorf("order number: got %s, want T-001", o.OrderNumber)
	}
	if o.TableLabel.String != "12" {
		t.Errorf("table label: got %q", o.TableLabel.String)
	}
	if len(detail.Items) != 1 {
		t.Fatalf("items: got %d, want 1", len(detail.Items))
	}
	it := detail.Items[0]
	if it.ItemName != "Burger" {
		t.Errorf("item name defaults to menu name, got %q", it.ItemName)
	}
	if !numericEquals(it.UnitPrice, "12.50") {
		t.Errorf("unit price: got %v, want 12.50", numericToDecimal(it.UnitPrice))
	}
	if !detail.Total.Equal(decimal.RequireFromString("25")) {
		t.Errorf("total: got %s, want 25", detail.Total)
	}
	if fx.pub.count(enum.EventOrderPlaced) != 1 {
		t.Errorf("expected one order.placed event, got %v", fx.pub.types())
	}
}

func TestParseUnitPrice(t *testing.T) {
	for _, in := range []string{"0", "12.5", "12.50", "9999999999.99"} {
		if _, err := parseUnitPrice(in); err != nil {
			t.Errorf("%q: unexpected error %v", in, err)
		}
	}
	for _, in := range []string{"", "-0.01", "1.001", "10000000000", "1e3x"} {
		if _, err := parseUnitPrice(in); !errors.Is(err, ErrInvalidUnitPrice) {
			t.Errorf("%q: got %v, want ErrInvalidUnitPrice", in, err)
		}
	}
}

func TestPlaceOrder_UnsetPaymentMethod(t *testing.T) {
	fx := newFixture(t)
	detail := fx.place(t, "", fx.item(fx.cola, 1))
	if detail.Order.PaymentMethod.Valid {
		t.Errorf("expected unset method, got %+v", detail.Order.PaymentMethod)
	}
}

func TestPlaceOrder_ExplicitNameAndPrice(t *testing.T) {
	fx := newFixture(t)
	detail := fx.place(t, "", PlaceOrderItemRequest{
		MenuItemID: fx.burger.String(),
		ItemName:   "Burger (no onion)",
		Quantity:   3,
		UnitPrice:  "10",
	})
	it := detail.Items[0]
	if it.ItemName != "Burger (no onion)" {
		t.Errorf("item name: got %q", it.ItemName)
	}
	if !numericEquals(it.UnitPrice, "10") {
		t.Errorf("unit price: got %v", numericToDecimal(it.UnitPrice))
	}
	if !detail.Total.Equal(decimal.NewFromInt(30)) {
		t.Errorf("total: got %s, want 30", detail.Total)
	}
}

func TestPlaceOrder_SequentialNumbers(t *testing.T) {
	fx := newFixture(t)
	first := fx.place(t, "", fx.item(fx.cola, 1))
	second := fx.place(t, "", fx.item(fx.cola, 1))
	if first.Order.OrderNumber != "T-001" || second.Order.OrderNumber != "T-002" {
		t.Errorf("got %s, %s", first.Order.OrderNumber, second.Order.OrderNumber)
	}
}

func TestPlaceOrder_RetryOnUniqueViolation(t *testing.T) {
	fx := newFixture(t)

	createCallCount := 0
	fx.db.createOrderFn = func(arg database.CreateOrderParams) error {
		createCallCount++
		if createCallCount == 1 {
			return &pgconn.PgError{Code: "23505", ConstraintName: "orders_venue_id_order_number_key"}
		}
		return nil
	}

	detail := fx.place(t, "", fx.item(fx.burger, 1))
	if detail == nil {
		t.Fatal("expected result, got nil")
	}
	if createCallCount != 2 {
		t.Errorf("expected 2 CreateOrder calls (1 fail + 1 success), got %d", createCallCount)
	}
	if fx.db.calls["GetNextOrderNumber"] != 2 {
		t.Errorf("expected 2 GetNextOrderNumber calls, got %d", fx.db.calls["GetNextOrderNumber"])
	}
	if len(fx.db.st.orders) != 1 {
		t.Errorf("expected 1 order, got %d", len(fx.db.st.orders))
	}
}

func TestPlaceOrder_RetryExhausted(t *testing.T) {
	fx := newFixture(t)
	fx.db.createOrderFn = func(arg database.CreateOrderParams) error {
		return &pgconn.PgError{Code: "23505", ConstraintName: "orders_venue_id_order_number_key"}
	}

	_, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderRequest{
		VenueID: fx.venueID,
		Items:   []PlaceOrderItemRequest{fx.item(fx.burger, 1)},
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries, got nil")
	}
	if !strings.Contains(err.Error(), "create order") {
		t.Errorf("expected 'create order' in error message, got: %v", err)
	}
	if fx.db.calls["CreateOrder"] != maxOrderNumberRetries {
		t.Errorf("expected %d attempts, got %d", maxOrderNumberRetries, fx.db.calls["CreateOrder"])
	}
}

func TestPlaceOrder_NonUniqueErrorNotRetried(t *testing.T) {
	fx := newFixture(t)
	fx.db.errs["CreateOrder"] = errors.New("some other DB error")

	_, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderRequest{
		VenueID: fx.venueID,
		Items:   []PlaceOrderItemRequest{fx.item(fx.burger, 1)},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if fx.db.calls["CreateOrder"] != 1 {
		t.Errorf("non-unique errors should not retry: expected 1 call, got %d", fx.db.calls["CreateOrder"])
	}
}

func TestIsOrderNumberConflict(t *testing.T) {
	if !isOrderNumberConflict(&pgconn.PgError{Code: "23505", ConstraintName: "orders_venue_id_order_number_key"}) {
		t.Error("expected conflict")
	}
	if isOrderNumberConflict(&pgconn.PgError{Code: "23505", ConstraintName: "other_key"}) {
		t.Error("other constraints are not order number conflicts")
	}
	if isOrderNumberConflict(errors.New("boom")) {
		t.Error("plain errors are not conflicts")
	}
}

// =====================
// Reads
// =====================

func TestGetOrder(t *testing.T) {
	fx := newFixture(t)
	placed := fx.place(t, "", fx.item(fx.burger, 1), fx.item(fx.cola, 2))

	got, err := fx.orders.GetOrder(context.Background(), fx.venueID, placed.Order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(got.Items) != 2 || len(got.Tickets) != 2 {
		t.Errorf("got %d items, %d tickets", len(got.Items), len(got.Tickets))
	}
	if !got.Total.Equal(decimal.RequireFromString("17.5")) {
		t.Errorf("total: got %s, want 17.5", got.Total)
	}

	if _, err := fx.orders.GetOrder(context.Background(), uuid.New(), placed.Order.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("other venue: expected ErrOrderNotFound, got %v", err)
	}
}

func TestListOrders_StatusFilter(t *testing.T) {
	fx := newFixture(t).withoutStations()
	a := fx.place(t, "", fx.item(fx.cola, 1))
	fx.place(t, "", fx.item(fx.cola, 1))
	if _, err := fx.orders.CancelOrder(context.Background(), fx.venueID, a.Order.ID, "", fx.staff); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	rows, err := fx.orders.ListOrders(context.Background(), ListOrdersRequest{VenueID: fx.venueID, Status: "CANCELLED"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != a.Order.ID {
		t.Errorf("expected only the cancelled order, got %d rows", len(rows))
	}

	if _, err := fx.orders.ListOrders(context.Background(), ListOrdersRequest{VenueID: fx.venueID, Status: "LOST"}); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown status: expected validation error, got %v", err)
	}
}
