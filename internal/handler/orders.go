package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
	"github.com/tableorder/api/internal/idempotency"
	"github.com/tableorder/api/internal/service"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (*service.OrderDetail, error)
	GetOrder(ctx context.Context, venueID, orderID uuid.UUID) (*service.OrderDetail, error)
	OrderHistory(ctx context.Context, venueID, orderID uuid.UUID) ([]database.OrderStatusEvent, error)
	ListOrders(ctx context.Context, req service.ListOrdersRequest) ([]database.ListOrdersRow, error)
	MarkServed(ctx context.Context, venueID, orderID uuid.UUID, actor service.Actor) (*service.TransitionResult, error)
	MarkPaid(ctx context.Context, venueID, orderID uuid.UUID, method string, actor service.Actor) (*service.TransitionResult, error)
	MarkPayLater(ctx context.Context, venueID, orderID uuid.UUID, actor service.Actor) (*service.TransitionResult, error)
	CompleteOrder(ctx context.Context, venueID, orderID uuid.UUID, actor service.Actor) (*service.TransitionResult, error)
	CancelOrder(ctx context.Context, venueID, orderID uuid.UUID, reason string, actor service.Actor) (*service.TransitionResult, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc    OrderServicer
	guard  *idempotency.Guard
	logger *zap.Logger
}

// NewOrderHandler creates a new OrderHandler. A nil guard disables
// idempotent replay.
func NewOrderHandler(svc OrderServicer, guard *idempotency.Guard, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{svc: svc, guard: guard, logger: logger}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted inside a venue-scoped subrouter: /venues/{vid}/orders
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Place)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/history", h.History)
	r.Post("/{id}/serve", h.Serve)
	r.Post("/{id}/pay", h.Pay)
	r.Post("/{id}/pay-later", h.PayLater)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/cancel", h.Cancel)
}

// --- Request types ---

type placeOrderRequest struct {
	TableLabel    string                  `json:"table_label"`
	PaymentMethod string                  `json:"payment_method"`
	Items         []placeOrderItemRequest `json:"items"`
}

type placeOrderItemRequest struct {
	MenuItemID string `json:"menu_item_id"`
	ItemName   string `json:"item_name"`
	Quantity   int32  `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// decodeOptional decodes a JSON body that may be absent.
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// --- Handlers ---

// Place handles POST /venues/{vid}/orders.
func (h *OrderHandler) Place(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}
	act, ok := actor(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	svcReq := service.PlaceOrderRequest{
		VenueID:       venueID,
		Actor:         act,
		TableLabel:    req.TableLabel,
		PaymentMethod: req.PaymentMethod,
		Items:         make([]service.PlaceOrderItemRequest, len(req.Items)),
	}
	for i, item := range req.Items {
		svcReq.Items[i] = service.PlaceOrderItemRequest{
			MenuItemID: item.MenuItemID,
			ItemName:   item.ItemName,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		}
	}

	runIdempotent(w, r, h.guard, h.logger, venueID, uuid.Nil, enum.OpPlaceOrder, func(ctx context.Context) (int, interface{}, error) {
		detail, err := h.svc.PlaceOrder(ctx, svcReq)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, toOrderDetailResponse(detail), nil
	})
}

// List handles GET /venues/{vid}/orders?status=&limit=&offset=.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}

	req := service.ListOrdersRequest{VenueID: venueID, Status: r.URL.Query().Get("status")}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			badRequest(w, "invalid limit")
			return
		}
		req.Limit = int32(n)
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			badRequest(w, "invalid offset")
			return
		}
		req.Offset = int32(n)
	}

	rows, err := h.svc.ListOrders(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, "list orders", err)
		return
	}

	resp := make([]orderResponse, len(rows))
	for i, row := range rows {
		resp[i] = toOrderResponse(row.Order)
		resp[i].Total = numericToString(row.Total)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /venues/{vid}/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "id", "order")
	if !ok {
		return
	}

	detail, err := h.svc.GetOrder(r.Context(), venueID, orderID)
	if err != nil {
		writeError(w, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDetailResponse(detail))
}

// History handles GET /venues/{vid}/orders/{id}/history.
func (h *OrderHandler) History(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "id", "order")
	if !ok {
		return
	}

	evs, err := h.svc.OrderHistory(r.Context(), venueID, orderID)
	if err != nil {
		writeError(w, h.logger, "order history", err)
		return
	}
	resp := make([]statusEventResponse, len(evs))
	for i, e := range evs {
		resp[i] = toStatusEventResponse(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

// transition runs a lifecycle or payment operation on the order in the path
// under the request's idempotency key.
func (h *OrderHandler) transition(w http.ResponseWriter, r *http.Request, op string, call func(ctx context.Context, venueID, orderID uuid.UUID, act service.Actor) (*service.TransitionResult, error)) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "id", "order")
	if !ok {
		return
	}
	act, ok := actor(w, r)
	if !ok {
		return
	}

	runIdempotent(w, r, h.guard, h.logger, venueID, orderID, op, func(ctx context.Context) (int, interface{}, error) {
		res, err := call(ctx, venueID, orderID, act)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, toTransitionResponse(res), nil
	})
}

// Serve handles POST /venues/{vid}/orders/{id}/serve.
func (h *OrderHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, enum.OpServe, h.svc.MarkServed)
}

// Complete handles POST /venues/{vid}/orders/{id}/complete.
func (h *OrderHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, enum.OpComplete, h.svc.CompleteOrder)
}

// Cancel handles POST /venues/{vid}/orders/{id}/cancel.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeOptional(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	h.transition(w, r, enum.OpCancel, func(ctx context.Context, venueID, orderID uuid.UUID, act service.Actor) (*service.TransitionResult, error) {
		return h.svc.CancelOrder(ctx, venueID, orderID, req.Reason, act)
	})
}
