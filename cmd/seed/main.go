package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/tableorder/api/internal/auth"
	"github.com/tableorder/api/internal/config"
	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
)

type seedStation struct {
	name      string
	isDefault bool
	sortOrder int32
	// categories routed to this station
	categories []string
}

type seedMenuItem struct {
	name     string
	category string
	price    string
	// ingredient name -> quantity per item
	recipe map[string]string
}

type seedIngredient struct {
	name  string
	unit  string
	stock string
}

var (
	demoStations = []seedStation{
		{name: "Grill", sortOrder: 1, categories: []string{"MAINS"}},
		{name: "Bar", sortOrder: 2, categories: []string{"DRINKS"}},
		{name: "Expo", isDefault: true, sortOrder: 3},
	}

	demoIngredients = []seedIngredient{
		{name: "Beef patty", unit: "kg", stock: "10"},
		{name: "Potato", unit: "kg", stock: "8"},
		{name: "Cola syrup", unit: "l", stock: "5"},
	}

	demoMenu = []seedMenuItem{
		{name: "Burger", category: "MAINS", price: "12.50", recipe: map[string]string{"Beef patty": "0.150"}},
		{name: "Fries", category: "SIDES", price: "4.00", recipe: map[string]string{"Potato": "0.200"}},
		{name: "Cola", category: "DRINKS", price: "2.50", recipe: map[string]string{"Cola syrup": "0.050"}},
	}
)

func main() {
	venueName := flag.String("venue", "Demo Venue", "Venue name")
	role := flag.String("role", enum.RoleManager, "Role of the printed access token")
	ttl := flag.Duration("ttl", 24*time.Hour, "Lifetime of the printed access token")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if v := os.Getenv("SEED_VENUE"); v != "" && *venueName == "Demo Venue" {
		*venueName = v
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	log.Println("Connected to database")

	// Seed in a transaction: the whole venue or nothing
	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	venueID, created, err := seedVenue(ctx, tx, *venueName)
	if err != nil {
		log.Fatalf("Failed to seed venue: %v", err)
	}
	if created {
		if err := seedVenueData(ctx, database.New(tx), tx, venueID); err != nil {
			log.Fatalf("Failed to seed venue data: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	token, err := auth.GenerateToken(cfg.JWTSecret, uuid.New(), venueID, *role, *ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	log.Println("Seed completed successfully")
	log.Printf("Venue ID: %s", venueID)
	fmt.Println(token)
}

// seedVenue creates the venue unless one with the same name exists.
func seedVenue(ctx context.Context, tx pgx.Tx, name string) (uuid.UUID, bool, error) {
	var existingID uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM venues WHERE name = $1 LIMIT 1`, name).Scan(&existingID)
	if err == nil {
		log.Printf("Venue '%s' already exists (ID: %s), skipping", name, existingID)
		return existingID, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("check venue: %w", err)
	}

	var newID uuid.UUID
	if err := tx.QueryRow(ctx, `INSERT INTO venues (name) VALUES ($1) RETURNING id`, name).Scan(&newID); err != nil {
		return uuid.Nil, false, fmt.Errorf("insert venue: %w", err)
	}
	log.Printf("Created venue '%s' (ID: %s)", name, newID)
	return newID, true, nil
}

func seedVenueData(ctx context.Context, q *database.Queries, tx pgx.Tx, venueID uuid.UUID) error {
	for _, s := range demoStations {
		station, err := q.CreateStation(ctx, database.CreateStationParams{
			VenueID:   venueID,
			Name:      s.name,
			IsDefault: s.isDefault,
			SortOrder: s.sortOrder,
		})
		if err != nil {
			return fmt.Errorf("create station %s: %w", s.name, err)
		}
		for _, c := range s.categories {
			if _, err := q.UpsertStationRoute(ctx, database.UpsertStationRouteParams{
				VenueID:   venueID,
				Category:  c,
				StationID: station.ID,
			}); err != nil {
				return fmt.Errorf("route %s: %w", c, err)
			}
		}
	}

	ingredients := make(map[string]uuid.UUID, len(demoIngredients))
	for _, ing := range demoIngredients {
		var id uuid.UUID
		err := tx.QueryRow(ctx,
			`INSERT INTO ingredients (venue_id, name, unit) VALUES ($1, $2, $3) RETURNING id`,
			venueID, ing.name, ing.unit,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert ingredient %s: %w", ing.name, err)
		}
		ingredients[ing.name] = id

		if _, err := q.CreateStockLedgerEntry(ctx, database.CreateStockLedgerEntryParams{
			VenueID:      venueID,
			IngredientID: id,
			Delta:        numeric(ing.stock),
			Reason:       enum.StockReasonRestock,
		}); err != nil {
			return fmt.Errorf("stock %s: %w", ing.name, err)
		}
	}

	for _, m := range demoMenu {
		var id uuid.UUID
		err := tx.QueryRow(ctx,
			`INSERT INTO menu_items (venue_id, name, category, price) VALUES ($1, $2, $3, $4) RETURNING id`,
			venueID, m.name, m.category, numeric(m.price),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert menu item %s: %w", m.name, err)
		}
		for ingName, qty := range m.recipe {
			if _, err := tx.Exec(ctx,
				`INSERT INTO recipe_lines (menu_item_id, ingredient_id, quantity_per_item) VALUES ($1, $2, $3)`,
				id, ingredients[ingName], numeric(qty),
			); err != nil {
				return fmt.Errorf("insert recipe line %s/%s: %w", m.name, ingName, err)
			}
		}
		log.Printf("Created menu item '%s' (ID: %s)", m.name, id)
	}
	return nil
}

func numeric(s string) pgtype.Numeric {
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		log.Fatalf("bad seed decimal %q: %v", s, err)
	}
	return n
}
