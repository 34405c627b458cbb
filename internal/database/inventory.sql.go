package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const createInventoryDeduction = `-- name: CreateInventoryDeduction :execrows
INSERT INTO inventory_deductions (order_id)
VALUES ($1)
ON CONFLICT (order_id) DO NOTHING
`

// CreateInventoryDeduction claims the one-time deduction marker for an order.
// Zero rows affected means the order was already deducted.
func (q *Queries) CreateInventoryDeduction(ctx context.Context, orderID uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, createInventoryDeduction, orderID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listRecipeLinesByMenuItems = `-- name: ListRecipeLinesByMenuItems :many
SELECT menu_item_id, ingredient_id, quantity_per_item
FROM recipe_lines
WHERE menu_item_id = ANY($1::uuid[])
ORDER BY menu_item_id, ingredient_id
`

func (q *Queries) ListRecipeLinesByMenuItems(ctx context.Context, menuItemIDs []uuid.UUID) ([]RecipeLine, error) {
	rows, err := q.db.Query(ctx, listRecipeLinesByMenuItems, menuItemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []RecipeLine{}
	for rows.Next() {
		var i RecipeLine
		if err := rows.Scan(&i.MenuItemID, &i.IngredientID, &i.QuantityPerItem); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createStockLedgerEntry = `-- name: CreateStockLedgerEntry :one
INSERT INTO stock_ledger (venue_id, ingredient_id, delta, reason, order_id, created_by)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, venue_id, ingredient_id, delta, reason, order_id, created_by, created_at
`

type CreateStockLedgerEntryParams struct {
	VenueID      uuid.UUID
	IngredientID uuid.UUID
	Delta        pgtype.Numeric
	Reason       string
	OrderID      pgtype.UUID
	CreatedBy    pgtype.UUID
}

func (q *Queries) CreateStockLedgerEntry(ctx context.Context, arg CreateStockLedgerEntryParams) (StockLedgerEntry, error) {
	row := q.db.QueryRow(ctx, createStockLedgerEntry,
		arg.VenueID,
		arg.IngredientID,
		arg.Delta,
		arg.Reason,
		arg.OrderID,
		arg.CreatedBy,
	)
	var i StockLedgerEntry
	err := row.Scan(
		&i.ID,
		&i.VenueID,
		&i.IngredientID,
		&i.Delta,
		&i.Reason,
		&i.OrderID,
		&i.CreatedBy,
		&i.CreatedAt,
	)
	return i, err
}

const getIngredientOnHand = `-- name: GetIngredientOnHand :one
SELECT COALESCE(SUM(delta), 0)::numeric
FROM stock_ledger
WHERE ingredient_id = $1
`

// GetIngredientOnHand sums the ledger; there is no stored balance column.
func (q *Queries) GetIngredientOnHand(ctx context.Context, ingredientID uuid.UUID) (pgtype.Numeric, error) {
	row := q.db.QueryRow(ctx, getIngredientOnHand, ingredientID)
	var onHand pgtype.Numeric
	err := row.Scan(&onHand)
	return onHand, err
}

const disableMenuItemsByIngredient = `-- name: DisableMenuItemsByIngredient :many
UPDATE menu_items
SET is_available = false,
    updated_at   = now()
WHERE is_available
  AND id IN (SELECT menu_item_id FROM recipe_lines WHERE ingredient_id = $1)
RETURNING id
`

func (q *Queries) DisableMenuItemsByIngredient(ctx context.Context, ingredientID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, disableMenuItemsByIngredient, ingredientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getIngredient = `-- name: GetIngredient :one
SELECT id, venue_id, name, unit, created_at
FROM ingredients
WHERE id = $1 AND venue_id = $2
`

type GetIngredientParams struct {
	ID      uuid.UUID
	VenueID uuid.UUID
}

func (q *Queries) GetIngredient(ctx context.Context, arg GetIngredientParams) (Ingredient, error) {
	row := q.db.QueryRow(ctx, getIngredient, arg.ID, arg.VenueID)
	var i Ingredient
	err := row.Scan(&i.ID, &i.VenueID, &i.Name, &i.Unit, &i.CreatedAt)
	return i, err
}

const listIngredientsWithStock = `-- name: ListIngredientsWithStock :many
SELECT i.id, i.venue_id, i.name, i.unit, i.created_at,
       COALESCE((SELECT SUM(l.delta) FROM stock_ledger l WHERE l.ingredient_id = i.id), 0)::numeric AS on_hand
FROM ingredients i
WHERE i.venue_id = $1
ORDER BY i.name
`

type ListIngredientsWithStockRow struct {
	Ingredient
	OnHand pgtype.Numeric
}

func (q *Queries) ListIngredientsWithStock(ctx context.Context, venueID uuid.UUID) ([]ListIngredientsWithStockRow, error) {
	rows, err := q.db.Query(ctx, listIngredientsWithStock, venueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ListIngredientsWithStockRow{}
	for rows.Next() {
		var i ListIngredientsWithStockRow
		if err := rows.Scan(
			&i.ID,
			&i.VenueID,
			&i.Name,
			&i.Unit,
			&i.CreatedAt,
			&i.OnHand,
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

const listStockLedgerByOrder = `-- name: ListStockLedgerByOrder :many
SELECT id, venue_id, ingredient_id, delta, reason, order_id, created_by, created_at
FROM stock_ledger
WHERE order_id = $1
ORDER BY id
`

func (q *Queries) ListStockLedgerByOrder(ctx context.Context, orderID pgtype.UUID) ([]StockLedgerEntry, error) {
	rows, err := q.db.Query(ctx, listStockLedgerByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []StockLedgerEntry{}
	for rows.Next() {
		var i StockLedgerEntry
		if err := rows.Scan(
			&i.ID,
			&i.VenueID,
			&i.IngredientID,
			&i.Delta,
			&i.Reason,
			&i.OrderID,
			&i.CreatedBy,
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
