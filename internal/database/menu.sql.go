package database

import (
	"context"

	"github.com/google/uuid"
)

const menuItemColumns = `id, venue_id, name, category, price, is_available, created_at, updated_at`

func scanMenuItem(row rowScanner) (MenuItem, error) {
	var i MenuItem
	err := row.Scan(
		&i.ID,
		&i.VenueID,
		&i.Name,
		&i.Category,
		&i.Price,
		&i.IsAvailable,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getMenuItem = `-- name: GetMenuItem :one
SELECT ` + menuItemColumns + `
FROM menu_items
WHERE id = $1 AND venue_id = $2
`

type GetMenuItemParams struct {
	ID      uuid.UUID
	VenueID uuid.UUID
}

func (q *Queries) GetMenuItem(ctx context.Context, arg GetMenuItemParams) (MenuItem, error) {
	return scanMenuItem(q.db.QueryRow(ctx, getMenuItem, arg.ID, arg.VenueID))
}

const listMenuItems = `-- name: ListMenuItems :many
SELECT ` + menuItemColumns + `
FROM menu_items
WHERE venue_id = $1
  AND ($2::text IS NULL OR category = $2::text)
ORDER BY category, name
`

type ListMenuItemsParams struct {
	VenueID  uuid.UUID
	Category *string
}

func (q *Queries) ListMenuItems(ctx context.Context, arg ListMenuItemsParams) ([]MenuItem, error) {
	rows, err := q.db.Query(ctx, listMenuItems, arg.VenueID, arg.Category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []MenuItem{}
	for rows.Next() {
		i, err := scanMenuItem(rows)
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

const setMenuItemAvailability = `-- name: SetMenuItemAvailability :one
UPDATE menu_items
SET is_available = $3,
    updated_at   = now()
WHERE id = $1 AND venue_id = $2
RETURNING ` + menuItemColumns

type SetMenuItemAvailabilityParams struct {
	ID          uuid.UUID
	VenueID     uuid.UUID
	IsAvailable bool
}

func (q *Queries) SetMenuItemAvailability(ctx context.Context, arg SetMenuItemAvailabilityParams) (MenuItem, error) {
	row := q.db.QueryRow(ctx, setMenuItemAvailability, arg.ID, arg.VenueID, arg.IsAvailable)
	return scanMenuItem(row)
}
