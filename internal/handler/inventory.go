package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
	"github.com/tableorder/api/internal/idempotency"
	"github.com/tableorder/api/internal/service"
)

// InventoryServicer defines the service methods needed by inventory handlers.
// Satisfied by *service.InventoryService.
type InventoryServicer interface {
	ListStock(ctx context.Context, venueID uuid.UUID) ([]service.StockLevel, error)
	AdjustStock(ctx context.Context, req service.AdjustStockRequest) (*database.StockLedgerEntry, error)
}

type InventoryHandler struct {
	svc    InventoryServicer
	guard  *idempotency.Guard
	logger *zap.Logger
}

func NewInventoryHandler(svc InventoryServicer, guard *idempotency.Guard, logger *zap.Logger) *InventoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryHandler{svc: svc, guard: guard, logger: logger}
}

// RegisterRoutes registers inventory endpoints on the given Chi router.
// Expected to be mounted inside a venue-scoped subrouter: /venues/{vid}/inventory
func (h *InventoryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ingredients", h.List)
	r.Post("/ingredients/{id}/adjustments", h.Adjust)
}

type adjustStockRequest struct {
	Delta  string `json:"delta"`
	Reason string `json:"reason"`
}

type stockLevelResponse struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Unit   string    `json:"unit"`
	OnHand string    `json:"on_hand"`
}

type ledgerEntryResponse struct {
	ID           int64      `json:"id"`
	IngredientID uuid.UUID  `json:"ingredient_id"`
	Delta        string     `json:"delta"`
	Reason       string     `json:"reason"`
	OrderID      *uuid.UUID `json:"order_id"`
	CreatedBy    *uuid.UUID `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
}

// List handles GET /venues/{vid}/inventory/ingredients.
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}

	levels, err := h.svc.ListStock(r.Context(), venueID)
	if err != nil {
		writeError(w, h.logger, "list stock", err)
		return
	}
	resp := make([]stockLevelResponse, len(levels))
	for i, l := range levels {
		resp[i] = stockLevelResponse{ID: l.ID, Name: l.Name, Unit: l.Unit, OnHand: l.OnHand.String()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Adjust handles POST /venues/{vid}/inventory/ingredients/{id}/adjustments.
func (h *InventoryHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}
	ingredientID, ok := pathUUID(w, r, "id", "ingredient")
	if !ok {
		return
	}
	act, ok := actor(w, r)
	if !ok {
		return
	}

	var req adjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	runIdempotent(w, r, h.guard, h.logger, venueID, ingredientID, enum.OpAdjustStock, func(ctx context.Context) (int, interface{}, error) {
		entry, err := h.svc.AdjustStock(ctx, service.AdjustStockRequest{
			VenueID:      venueID,
			IngredientID: ingredientID,
			Delta:        req.Delta,
			Reason:       req.Reason,
			Actor:        act,
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, ledgerEntryResponse{
			ID:           entry.ID,
			IngredientID: entry.IngredientID,
			Delta:        numericToDecimal(entry.Delta).String(),
			Reason:       entry.Reason,
			OrderID:      uuidPtr(entry.OrderID),
			CreatedBy:    uuidPtr(entry.CreatedBy),
			CreatedAt:    entry.CreatedAt,
		}, nil
	})
}
