package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/enum"
	"github.com/tableorder/api/internal/idempotency"
	"github.com/tableorder/api/internal/service"
)

// KitchenServicer defines the service methods needed by kitchen handlers.
// Satisfied by *service.OrderService.
type KitchenServicer interface {
	KitchenBoard(ctx context.Context, venueID uuid.UUID, stationID *uuid.UUID) ([]service.BoardTicket, error)
	AdvanceTicket(ctx context.Context, venueID, ticketID uuid.UUID, status string, actor service.Actor) (*service.TicketResult, error)
}

// KitchenHandler serves the kitchen display board.
type KitchenHandler struct {
	svc    KitchenServicer
	guard  *idempotency.Guard
	logger *zap.Logger
}

func NewKitchenHandler(svc KitchenServicer, guard *idempotency.Guard, logger *zap.Logger) *KitchenHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KitchenHandler{svc: svc, guard: guard, logger: logger}
}

// RegisterRoutes registers kitchen endpoints on the given Chi router.
// Expected to be mounted inside a venue-scoped subrouter: /venues/{vid}/kitchen
func (h *KitchenHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tickets", h.Board)
	r.Post("/tickets/{tid}/status", h.Advance)
}

type advanceTicketRequest struct {
	Status string `json:"status"`
}

type advanceTicketResponse struct {
	Ticket      ticketResponse `json:"ticket"`
	OrderStatus string         `json:"order_status"`
	Changed     bool           `json:"changed"`
}

// Board handles GET /venues/{vid}/kitchen/tickets?station_id=.
func (h *KitchenHandler) Board(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}

	var stationID *uuid.UUID
	if s := r.URL.Query().Get("station_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			badRequest(w, "invalid station ID")
			return
		}
		stationID = &id
	}

	board, err := h.svc.KitchenBoard(r.Context(), venueID, stationID)
	if err != nil {
		writeError(w, h.logger, "kitchen board", err)
		return
	}
	resp := make([]ticketResponse, len(board))
	for i, t := range board {
		resp[i] = toTicketResponse(t.KitchenTicket, t.Items)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Advance handles POST /venues/{vid}/kitchen/tickets/{tid}/status.
func (h *KitchenHandler) Advance(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}
	ticketID, ok := pathUUID(w, r, "tid", "ticket")
	if !ok {
		return
	}
	act, ok := actor(w, r)
	if !ok {
		return
	}

	var req advanceTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	runIdempotent(w, r, h.guard, h.logger, venueID, ticketID, enum.OpTicketStatus, func(ctx context.Context) (int, interface{}, error) {
		res, err := h.svc.AdvanceTicket(ctx, venueID, ticketID, req.Status, act)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, advanceTicketResponse{
			Ticket:      toTicketResponse(res.Ticket, nil),
			OrderStatus: string(res.Order.Status),
			Changed:     res.Changed,
		}, nil
	})
}
