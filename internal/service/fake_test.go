package service

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/events"
)

// --- In-memory database ---

// fakeState is everything a transaction can change. fakeTx snapshots it at
// Begin and restores it on Rollback.
type fakeState struct {
	menu        map[uuid.UUID]database.MenuItem
	stations    []database.Station
	routes      []database.StationRoute
	orders      map[uuid.UUID]database.Order
	items       []database.OrderItem
	history     []database.OrderStatusEvent
	tickets     []database.KitchenTicket
	ticketItems map[uuid.UUID][]uuid.UUID
	ingredients map[uuid.UUID]database.Ingredient
	recipes     []database.RecipeLine
	ledger      []database.StockLedgerEntry
	deductions  map[uuid.UUID]bool
}

func (s fakeState) clone() fakeState {
	c := fakeState{
		menu:        make(map[uuid.UUID]database.MenuItem, len(s.menu)),
		stations:    append([]database.Station(nil), s.stations...),
		routes:      append([]database.StationRoute(nil), s.routes...),
		orders:      make(map[uuid.UUID]database.Order, len(s.orders)),
		items:       append([]database.OrderItem(nil), s.items...),
		history:     append([]database.OrderStatusEvent(nil), s.history...),
		tickets:     append([]database.KitchenTicket(nil), s.tickets...),
		ticketItems: make(map[uuid.UUID][]uuid.UUID, len(s.ticketItems)),
		ingredients: make(map[uuid.UUID]database.Ingredient, len(s.ingredients)),
		recipes:     append([]database.RecipeLine(nil), s.recipes...),
		ledger:      append([]database.StockLedgerEntry(nil), s.ledger...),
		deductions:  make(map[uuid.UUID]bool, len(s.deductions)),
	}
	for k, v := range s.menu {
		c.menu[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.ticketItems {
		c.ticketItems[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range s.ingredients {
		c.ingredients[k] = v
	}
	for k, v := range s.deductions {
		c.deductions[k] = v
	}
	return c
}

// fakeDB implements OrderStore and InventoryStore over fakeState. errs
// injects a failure into the named method.
type fakeDB struct {
	mu    sync.Mutex
	st    fakeState
	errs  map[string]error
	calls map[string]int

	// createOrderFn, when set, runs before CreateOrder and may fail it.
	createOrderFn func(arg database.CreateOrderParams) error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		st: fakeState{
			menu:        map[uuid.UUID]database.MenuItem{},
			orders:      map[uuid.UUID]database.Order{},
			ticketItems: map[uuid.UUID][]uuid.UUID{},
			ingredients: map[uuid.UUID]database.Ingredient{},
			deductions:  map[uuid.UUID]bool{},
		},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeDB) hit(method string) error {
	f.calls[method]++
	return f.errs[method]
}

func (f *fakeDB) GetNextOrderNumber(ctx context.Context, venueID uuid.UUID) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("GetNextOrderNumber"); err != nil {
		return 0, err
	}
	var n int32
	for _, o := range f.st.orders {
		if o.VenueID == venueID {
			n++
		}
	}
	return n + 1, nil
}

func (f *fakeDB) GetMenuItem(ctx context.Context, arg database.GetMenuItemParams) (database.MenuItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("GetMenuItem"); err != nil {
		return database.MenuItem{}, err
	}
	m, ok := f.st.menu[arg.ID]
	if !ok || m.VenueID != arg.VenueID {
		return database.MenuItem{}, pgx.ErrNoRows
	}
	return m, nil
}

func (f *fakeDB) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("CreateOrder"); err != nil {
		return database.Order{}, err
	}
	if f.createOrderFn != nil {
		if err := f.createOrderFn(arg); err != nil {
			return database.Order{}, err
		}
	}
	for _, o := range f.st.orders {
		if o.VenueID == arg.VenueID && o.OrderNumber == arg.OrderNumber {
			return database.Order{}, &pgconn.PgError{Code: "23505", ConstraintName: "orders_venue_id_order_number_key"}
		}
	}
	o := database.Order{
		ID:            uuid.New(),
		VenueID:       arg.VenueID,
		OrderNumber:   arg.OrderNumber,
		TableLabel:    arg.TableLabel,
		Status:        database.OrderStatusPLACED,
		PaymentStatus: database.PaymentStatusUNPAID,
		PaymentMethod: arg.PaymentMethod,
		CreatedBy:     arg.CreatedBy,
	}
	f.st.orders[o.ID] = o
	return o, nil
}

func (f *fakeDB) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("CreateOrderItem"); err != nil {
		return database.OrderItem{}, err
	}
	it := database.OrderItem{
		ID:         uuid.New(),
		OrderID:    arg.OrderID,
		Position:   arg.Position,
		MenuItemID: arg.MenuItemID,
		ItemName:   arg.ItemName,
		Category:   arg.Category,
		Quantity:   arg.Quantity,
		UnitPrice:  arg.UnitPrice,
	}
	f.st.items = append(f.st.items, it)
	return it, nil
}

func (f *fakeDB) GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("GetOrder"); err != nil {
		return database.Order{}, err
	}
	o, ok := f.st.orders[arg.ID]
	if !ok || o.VenueID != arg.VenueID {
		return database.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (f *fakeDB) GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
	return f.GetOrder(ctx, database.GetOrderParams{ID: arg.ID, VenueID: arg.VenueID})
}

func (f *fakeDB) ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.ListOrdersRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []database.ListOrdersRow
	for _, o := range f.st.orders {
		if o.VenueID != arg.VenueID {
			continue
		}
		if arg.Status.Valid && o.Status != arg.Status.OrderStatus {
			continue
		}
		total := decimal.Zero
		for _, it := range f.st.items {
			if it.OrderID == o.ID {
				total = total.Add(numericToDecimal(it.UnitPrice).Mul(decimal.NewFromInt32(it.Quantity)))
			}
		}
		rows = append(rows, database.ListOrdersRow{Order: o, Total: decimalToNumeric(total)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].OrderNumber < rows[j].OrderNumber })
	return rows, nil
}

func (f *fakeDB) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("ListOrderItemsByOrder"); err != nil {
		return nil, err
	}
	var out []database.OrderItem
	for _, it := range f.st.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("UpdateOrderStatus"); err != nil {
		return database.Order{}, err
	}
	o, ok := f.st.orders[arg.ID]
	if !ok || o.VenueID != arg.VenueID || o.Status != arg.Status_2 {
		return database.Order{}, pgx.ErrNoRows
	}
	if arg.Status == database.OrderStatusCOMPLETED && o.PaymentStatus != database.PaymentStatusPAID {
		return database.Order{}, pgx.ErrNoRows
	}
	o.Status = arg.Status
	f.st.orders[o.ID] = o
	return o, nil
}

func (f *fakeDB) UpdateOrderPayment(ctx context.Context, arg database.UpdateOrderPaymentParams) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("UpdateOrderPayment"); err != nil {
		return database.Order{}, err
	}
	o, ok := f.st.orders[arg.ID]
	if !ok || o.VenueID != arg.VenueID || o.PaymentStatus != arg.ExpectedPaymentStatus || o.PaymentMethod != arg.ExpectedPaymentMethod {
		return database.Order{}, pgx.ErrNoRows
	}
	o.PaymentStatus = arg.PaymentStatus
	o.PaymentMethod = arg.PaymentMethod
	f.st.orders[o.ID] = o
	return o, nil
}

func (f *fakeDB) CreateOrderStatusEvent(ctx context.Context, arg database.CreateOrderStatusEventParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("CreateOrderStatusEvent"); err != nil {
		return err
	}
	f.st.history = append(f.st.history, database.OrderStatusEvent{
		ID:         int64(len(f.st.history) + 1),
		OrderID:    arg.OrderID,
		FromStatus: arg.FromStatus,
		ToStatus:   arg.ToStatus,
		ActorID:    arg.ActorID,
		ActorRole:  arg.ActorRole,
		Reason:     arg.Reason,
	})
	return nil
}

func (f *fakeDB) ListOrderStatusEvents(ctx context.Context, orderID uuid.UUID) ([]database.OrderStatusEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.OrderStatusEvent
	for _, e := range f.st.history {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeDB) ListStationsByVenue(ctx context.Context, venueID uuid.UUID) ([]database.Station, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("ListStationsByVenue"); err != nil {
		return nil, err
	}
	var out []database.Station
	for _, s := range f.st.stations {
		if s.VenueID == venueID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (f *fakeDB) ListStationRoutes(ctx context.Context, venueID uuid.UUID) ([]database.StationRoute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.StationRoute
	for _, r := range f.st.routes {
		if r.VenueID == venueID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeDB) CreateKitchenTicket(ctx context.Context, arg database.CreateKitchenTicketParams) (database.KitchenTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("CreateKitchenTicket"); err != nil {
		return database.KitchenTicket{}, err
	}
	t := database.KitchenTicket{
		ID:        uuid.New(),
		OrderID:   arg.OrderID,
		VenueID:   arg.VenueID,
		StationID: arg.StationID,
		Status:    database.TicketStatusNew,
	}
	f.st.tickets = append(f.st.tickets, t)
	return t, nil
}

func (f *fakeDB) CreateKitchenTicketItem(ctx context.Context, arg database.CreateKitchenTicketItemParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("CreateKitchenTicketItem"); err != nil {
		return err
	}
	f.st.ticketItems[arg.TicketID] = append(f.st.ticketItems[arg.TicketID], arg.OrderItemID)
	return nil
}

func (f *fakeDB) GetKitchenTicket(ctx context.Context, arg database.GetKitchenTicketParams) (database.KitchenTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.st.tickets {
		if t.ID == arg.ID && t.VenueID == arg.VenueID {
			return t, nil
		}
	}
	return database.KitchenTicket{}, pgx.ErrNoRows
}

func (f *fakeDB) ListKitchenTicketsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.KitchenTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.KitchenTicket
	for _, t := range f.st.tickets {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeDB) ListOpenKitchenTickets(ctx context.Context, arg database.ListOpenKitchenTicketsParams) ([]database.KitchenTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.KitchenTicket
	for _, t := range f.st.tickets {
		if t.VenueID != arg.VenueID || t.Status == database.TicketStatusBumped {
			continue
		}
		if f.st.orders[t.OrderID].Status == database.OrderStatusCANCELLED {
			continue
		}
		if arg.StationID.Valid && uuid.UUID(arg.StationID.Bytes) != t.StationID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeDB) ListKitchenTicketItems(ctx context.Context, ticketID uuid.UUID) ([]database.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.OrderItem
	for _, id := range f.st.ticketItems[ticketID] {
		for _, it := range f.st.items {
			if it.ID == id {
				out = append(out, it)
			}
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateKitchenTicketStatus(ctx context.Context, arg database.UpdateKitchenTicketStatusParams) (database.KitchenTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("UpdateKitchenTicketStatus"); err != nil {
		return database.KitchenTicket{}, err
	}
	for i, t := range f.st.tickets {
		if t.ID == arg.ID {
			if t.Status != arg.Status_2 {
				return database.KitchenTicket{}, pgx.ErrNoRows
			}
			t.Status = arg.Status
			f.st.tickets[i] = t
			return t, nil
		}
	}
	return database.KitchenTicket{}, pgx.ErrNoRows
}

func (f *fakeDB) CreateInventoryDeduction(ctx context.Context, orderID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("CreateInventoryDeduction"); err != nil {
		return 0, err
	}
	if f.st.deductions[orderID] {
		return 0, nil
	}
	f.st.deductions[orderID] = true
	return 1, nil
}

func (f *fakeDB) ListRecipeLinesByMenuItems(ctx context.Context, menuItemIDs []uuid.UUID) ([]database.RecipeLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(menuItemIDs))
	for _, id := range menuItemIDs {
		want[id] = true
	}
	var out []database.RecipeLine
	for _, r := range f.st.recipes {
		if want[r.MenuItemID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeDB) CreateStockLedgerEntry(ctx context.Context, arg database.CreateStockLedgerEntryParams) (database.StockLedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("CreateStockLedgerEntry"); err != nil {
		return database.StockLedgerEntry{}, err
	}
	e := database.StockLedgerEntry{
		ID:           int64(len(f.st.ledger) + 1),
		VenueID:      arg.VenueID,
		IngredientID: arg.IngredientID,
		Delta:        arg.Delta,
		Reason:       arg.Reason,
		OrderID:      arg.OrderID,
		CreatedBy:    arg.CreatedBy,
	}
	f.st.ledger = append(f.st.ledger, e)
	return e, nil
}

func (f *fakeDB) onHandLocked(ingredientID uuid.UUID) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range f.st.ledger {
		if e.IngredientID == ingredientID {
			sum = sum.Add(numericToDecimal(e.Delta))
		}
	}
	return sum
}

func (f *fakeDB) GetIngredientOnHand(ctx context.Context, ingredientID uuid.UUID) (pgtype.Numeric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return decimalToNumeric(f.onHandLocked(ingredientID)), nil
}

func (f *fakeDB) DisableMenuItemsByIngredient(ctx context.Context, ingredientID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for _, r := range f.st.recipes {
		if r.IngredientID != ingredientID {
			continue
		}
		m := f.st.menu[r.MenuItemID]
		if m.IsAvailable {
			m.IsAvailable = false
			f.st.menu[m.ID] = m
			out = append(out, m.ID)
		}
	}
	return out, nil
}

func (f *fakeDB) GetIngredient(ctx context.Context, arg database.GetIngredientParams) (database.Ingredient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.st.ingredients[arg.ID]
	if !ok || i.VenueID != arg.VenueID {
		return database.Ingredient{}, pgx.ErrNoRows
	}
	return i, nil
}

func (f *fakeDB) ListIngredientsWithStock(ctx context.Context, venueID uuid.UUID) ([]database.ListIngredientsWithStockRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.ListIngredientsWithStockRow
	for _, i := range f.st.ingredients {
		if i.VenueID == venueID {
			out = append(out, database.ListIngredientsWithStockRow{Ingredient: i, OnHand: decimalToNumeric(f.onHandLocked(i.ID))})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// --- Transactions ---

// fakeTx implements pgx.Tx. Rollback after Commit is a no-op, as in pgx.
// The unused methods panic so we catch accidental calls.
type fakeTx struct {
	db        *fakeDB
	snapshot  fakeState
	done      bool
	commitErr error
}

func (m *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *fakeTx) Commit(ctx context.Context) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.done = true
	return nil
}
func (m *fakeTx) Rollback(ctx context.Context) error {
	if m.done {
		return pgx.ErrTxClosed
	}
	m.done = true
	m.db.mu.Lock()
	m.db.st = m.snapshot
	m.db.mu.Unlock()
	return nil
}
func (m *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *fakeTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *fakeTx) Conn() *pgx.Conn { panic("not implemented") }

// fakePool implements DB. Reads go through the store factory, so the DBTX
// methods are never called.
type fakePool struct {
	db        *fakeDB
	beginErr  error
	commitErr error
	begun     int
}

func (p *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	p.begun++
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	return &fakeTx{db: p.db, snapshot: p.db.st.clone(), commitErr: p.commitErr}, nil
}
func (p *fakePool) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (p *fakePool) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	panic("not implemented")
}
func (p *fakePool) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	panic("not implemented")
}

// --- Events ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recordingPublisher) count(eventType string) int {
	n := 0
	for _, t := range r.types() {
		if t == eventType {
			n++
		}
	}
	return n
}
