package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
	"github.com/tableorder/api/internal/events"
)

// MenuStore defines the database methods needed by menu handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type MenuStore interface {
	ListMenuItems(ctx context.Context, arg database.ListMenuItemsParams) ([]database.MenuItem, error)
	SetMenuItemAvailability(ctx context.Context, arg database.SetMenuItemAvailabilityParams) (database.MenuItem, error)
}

// MenuHandler lists menu items and toggles their availability.
type MenuHandler struct {
	store     MenuStore
	publisher events.Publisher
	logger    *zap.Logger
}

func NewMenuHandler(store MenuStore, publisher events.Publisher, logger *zap.Logger) *MenuHandler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MenuHandler{store: store, publisher: publisher, logger: logger}
}

// RegisterReadRoutes registers the menu listing: /venues/{vid}/menu-items
func (h *MenuHandler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.List)
}

// RegisterWriteRoutes registers availability changes, manager roles only.
func (h *MenuHandler) RegisterWriteRoutes(r chi.Router) {
	r.Patch("/{id}/availability", h.SetAvailability)
}

type availabilityRequest struct {
	IsAvailable *bool `json:"is_available"`
}

type menuItemResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Price       string    `json:"price"`
	IsAvailable bool      `json:"is_available"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toMenuItemResponse(m database.MenuItem) menuItemResponse {
	return menuItemResponse{
		ID:          m.ID,
		Name:        m.Name,
		Category:    m.Category,
		Price:       numericToString(m.Price),
		IsAvailable: m.IsAvailable,
		UpdatedAt:   m.UpdatedAt,
	}
}

// List handles GET /venues/{vid}/menu-items?category=.
func (h *MenuHandler) List(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}

	params := database.ListMenuItemsParams{VenueID: venueID}
	if c := r.URL.Query().Get("category"); c != "" {
		params.Category = &c
	}

	items, err := h.store.ListMenuItems(r.Context(), params)
	if err != nil {
		writeError(w, h.logger, "list menu items", err)
		return
	}
	resp := make([]menuItemResponse, len(items))
	for i, m := range items {
		resp[i] = toMenuItemResponse(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetAvailability handles PATCH /venues/{vid}/menu-items/{id}/availability.
func (h *MenuHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}
	itemID, ok := pathUUID(w, r, "id", "menu item")
	if !ok {
		return
	}

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.IsAvailable == nil {
		badRequest(w, "is_available is required")
		return
	}

	item, err := h.store.SetMenuItemAvailability(r.Context(), database.SetMenuItemAvailabilityParams{
		ID:          itemID,
		VenueID:     venueID,
		IsAvailable: *req.IsAvailable,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "menu item not found", "code": "not_found"})
			return
		}
		writeError(w, h.logger, "set menu item availability", err)
		return
	}

	ev, err := events.New(enum.EventMenuItemAvailability, venueID, uuid.Nil, map[string]interface{}{
		"menu_item_id": item.ID,
		"is_available": item.IsAvailable,
	})
	if err == nil {
		if err := h.publisher.Publish(context.WithoutCancel(r.Context()), ev); err != nil {
			h.logger.Warn("publish availability change", zap.String("menu_item_id", item.ID.String()), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, toMenuItemResponse(item))
}
