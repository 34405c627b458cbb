package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
	"github.com/tableorder/api/internal/events"
)

// InventoryStore defines the DB methods needed by InventoryService.
type InventoryStore interface {
	CreateInventoryDeduction(ctx context.Context, orderID uuid.UUID) (int64, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	ListRecipeLinesByMenuItems(ctx context.Context, menuItemIDs []uuid.UUID) ([]database.RecipeLine, error)
	CreateStockLedgerEntry(ctx context.Context, arg database.CreateStockLedgerEntryParams) (database.StockLedgerEntry, error)
	GetIngredientOnHand(ctx context.Context, ingredientID uuid.UUID) (pgtype.Numeric, error)
	DisableMenuItemsByIngredient(ctx context.Context, ingredientID uuid.UUID) ([]uuid.UUID, error)
	GetIngredient(ctx context.Context, arg database.GetIngredientParams) (database.Ingredient, error)
	ListIngredientsWithStock(ctx context.Context, venueID uuid.UUID) ([]database.ListIngredientsWithStockRow, error)
}

// NewInventoryStore creates an InventoryStore from a DBTX (pool or tx).
type NewInventoryStore func(db database.DBTX) InventoryStore

// InventoryService keeps the stock ledger.
type InventoryService struct {
	pool     DB
	newStore NewInventoryStore
	deps     Deps
}

func NewInventoryService(pool DB, newStore NewInventoryStore, deps Deps) *InventoryService {
	return &InventoryService{pool: pool, newStore: newStore, deps: deps.withDefaults()}
}

// DeductForOrder writes one ORDER_COMPLETED ledger row per ingredient used by
// the order. A marker row makes it run at most once per order. Ingredients
// that drop to zero or below take their menu items off sale.
func (s *InventoryService) DeductForOrder(ctx context.Context, venueID, orderID uuid.UUID) error {
	evs, applied, err := s.deductTx(ctx, venueID, orderID)
	if err != nil {
		return fmt.Errorf("%w: inventory deduction: %w", ErrDownstreamDegraded, err)
	}
	if applied {
		s.deps.Metrics.InventoryDeducted()
	}
	s.deps.publish(ctx, evs)
	return nil
}

func (s *InventoryService) deductTx(ctx context.Context, venueID, orderID uuid.UUID) ([]events.Event, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	n, err := store.CreateInventoryDeduction(ctx, orderID)
	if err != nil {
		return nil, false, fmt.Errorf("claim deduction: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}

	items, err := store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, false, fmt.Errorf("list order items: %w", err)
	}
	qtyByMenuItem := make(map[uuid.UUID]int64)
	menuItemIDs := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		if _, seen := qtyByMenuItem[it.MenuItemID]; !seen {
			menuItemIDs = append(menuItemIDs, it.MenuItemID)
		}
		qtyByMenuItem[it.MenuItemID] += int64(it.Quantity)
	}

	var lines []database.RecipeLine
	if len(menuItemIDs) > 0 {
		lines, err = store.ListRecipeLinesByMenuItems(ctx, menuItemIDs)
		if err != nil {
			return nil, false, fmt.Errorf("list recipe lines: %w", err)
		}
	}

	// Aggregate per ingredient in first-use order.
	var ingredients []uuid.UUID
	usage := make(map[uuid.UUID]decimal.Decimal)
	for _, l := range lines {
		q := numericToDecimal(l.QuantityPerItem).Mul(decimal.NewFromInt(qtyByMenuItem[l.MenuItemID]))
		if _, seen := usage[l.IngredientID]; !seen {
			ingredients = append(ingredients, l.IngredientID)
			usage[l.IngredientID] = decimal.Zero
		}
		usage[l.IngredientID] = usage[l.IngredientID].Add(q)
	}

	var evs []events.Event
	for _, ingredientID := range ingredients {
		if _, err := store.CreateStockLedgerEntry(ctx, database.CreateStockLedgerEntryParams{
			VenueID:      venueID,
			IngredientID: ingredientID,
			Delta:        decimalToNumeric(usage[ingredientID].Neg()),
			Reason:       enum.StockReasonOrderCompleted,
			OrderID:      pgtype.UUID{Bytes: orderID, Valid: true},
		}); err != nil {
			return nil, false, fmt.Errorf("create ledger entry: %w", err)
		}
		disabled, err := s.disableIfDepleted(ctx, store, venueID, orderID, ingredientID)
		if err != nil {
			return nil, false, err
		}
		evs = append(evs, disabled...)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}
	return evs, true, nil
}

// disableIfDepleted takes every menu item using the ingredient off sale once
// its on-hand quantity is zero or below.
func (s *InventoryService) disableIfDepleted(ctx context.Context, store InventoryStore, venueID, orderID, ingredientID uuid.UUID) ([]events.Event, error) {
	onHand, err := store.GetIngredientOnHand(ctx, ingredientID)
	if err != nil {
		return nil, fmt.Errorf("get on hand: %w", err)
	}
	if numericToDecimal(onHand).IsPositive() {
		return nil, nil
	}
	ids, err := store.DisableMenuItemsByIngredient(ctx, ingredientID)
	if err != nil {
		return nil, fmt.Errorf("disable menu items: %w", err)
	}

	var evs []events.Event
	for _, id := range ids {
		s.deps.Logger.Info("menu item out of stock",
			zap.String("venue_id", venueID.String()),
			zap.String("menu_item_id", id.String()),
			zap.String("ingredient_id", ingredientID.String()))
		if e, ok := s.deps.event(enum.EventMenuItemUnavailable, venueID, orderID, map[string]interface{}{
			"menu_item_id":  id,
			"ingredient_id": ingredientID,
			"on_hand":       numericToDecimal(onHand).String(),
		}); ok {
			evs = append(evs, e)
		}
	}
	return evs, nil
}

// AdjustStockRequest is a manual ledger entry.
type AdjustStockRequest struct {
	VenueID      uuid.UUID
	IngredientID uuid.UUID
	Delta        string
	Reason       string
	Actor        Actor
}

// AdjustStock records a restock, waste or count correction.
func (s *InventoryService) AdjustStock(ctx context.Context, req AdjustStockRequest) (*database.StockLedgerEntry, error) {
	if !req.Actor.hasRole(enum.ManagerRoles...) {
		return nil, ErrRoleNotAllowed
	}
	switch req.Reason {
	case enum.StockReasonRestock, enum.StockReasonWaste, enum.StockReasonCount:
	default:
		return nil, ErrInvalidStockReason
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil || delta.IsZero() {
		return nil, ErrInvalidStockDelta
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	if _, err := store.GetIngredient(ctx, database.GetIngredientParams{ID: req.IngredientID, VenueID: req.VenueID}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIngredientNotFound
		}
		return nil, fmt.Errorf("get ingredient: %w", err)
	}

	entry, err := store.CreateStockLedgerEntry(ctx, database.CreateStockLedgerEntryParams{
		VenueID:      req.VenueID,
		IngredientID: req.IngredientID,
		Delta:        decimalToNumeric(delta),
		Reason:       req.Reason,
		CreatedBy:    req.Actor.id(),
	})
	if err != nil {
		return nil, fmt.Errorf("create ledger entry: %w", err)
	}

	var evs []events.Event
	if delta.IsNegative() {
		if evs, err = s.disableIfDepleted(ctx, store, req.VenueID, uuid.Nil, req.IngredientID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	s.deps.publish(ctx, evs)
	return &entry, nil
}

// StockLevel is an ingredient with its ledger balance.
type StockLevel struct {
	database.Ingredient
	OnHand decimal.Decimal `json:"on_hand"`
}

func (s *InventoryService) ListStock(ctx context.Context, venueID uuid.UUID) ([]StockLevel, error) {
	rows, err := s.newStore(s.pool).ListIngredientsWithStock(ctx, venueID)
	if err != nil {
		return nil, fmt.Errorf("list ingredients: %w", err)
	}
	levels := make([]StockLevel, 0, len(rows))
	for _, r := range rows {
		levels = append(levels, StockLevel{Ingredient: r.Ingredient, OnHand: numericToDecimal(r.OnHand)})
	}
	return levels, nil
}
