package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
	"github.com/tableorder/api/internal/idempotency"
	"github.com/tableorder/api/internal/service"
)

// StationStore defines the database methods needed by station handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type StationStore interface {
	ListStationsByVenue(ctx context.Context, venueID uuid.UUID) ([]database.Station, error)
	ListStationRoutes(ctx context.Context, venueID uuid.UUID) ([]database.StationRoute, error)
	GetStation(ctx context.Context, arg database.GetStationParams) (database.Station, error)
	CreateStation(ctx context.Context, arg database.CreateStationParams) (database.Station, error)
	UpsertStationRoute(ctx context.Context, arg database.UpsertStationRouteParams) (database.StationRoute, error)
}

// StationHandler manages kitchen stations and category routing.
type StationHandler struct {
	store  StationStore
	guard  *idempotency.Guard
	logger *zap.Logger
}

func NewStationHandler(store StationStore, guard *idempotency.Guard, logger *zap.Logger) *StationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StationHandler{store: store, guard: guard, logger: logger}
}

// RegisterReadRoutes registers the station listing. Expected to be mounted
// inside a venue-scoped subrouter: /venues/{vid}/stations
func (h *StationHandler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.List)
}

// RegisterWriteRoutes registers station management, manager roles only.
func (h *StationHandler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Put("/routes/{category}", h.Route)
}

// --- Request / Response types ---

type createStationRequest struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	SortOrder int32  `json:"sort_order"`
}

type routeRequest struct {
	StationID string `json:"station_id"`
}

type stationResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	IsActive  bool      `json:"is_active"`
	SortOrder int32     `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

type routeResponse struct {
	Category  string    `json:"category"`
	StationID uuid.UUID `json:"station_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type stationListResponse struct {
	Stations []stationResponse `json:"stations"`
	Routes   []routeResponse   `json:"routes"`
}

func toStationResponse(s database.Station) stationResponse {
	return stationResponse{
		ID:        s.ID,
		Name:      s.Name,
		IsDefault: s.IsDefault,
		IsActive:  s.IsActive,
		SortOrder: s.SortOrder,
		CreatedAt: s.CreatedAt,
	}
}

func toRouteResponse(r database.StationRoute) routeResponse {
	return routeResponse{Category: r.Category, StationID: r.StationID, UpdatedAt: r.UpdatedAt}
}

// --- Handlers ---

// List handles GET /venues/{vid}/stations with the category routes.
func (h *StationHandler) List(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}

	stations, err := h.store.ListStationsByVenue(r.Context(), venueID)
	if err != nil {
		writeError(w, h.logger, "list stations", err)
		return
	}
	routes, err := h.store.ListStationRoutes(r.Context(), venueID)
	if err != nil {
		writeError(w, h.logger, "list station routes", err)
		return
	}

	resp := stationListResponse{
		Stations: make([]stationResponse, len(stations)),
		Routes:   make([]routeResponse, len(routes)),
	}
	for i, s := range stations {
		resp.Stations[i] = toStationResponse(s)
	}
	for i, rt := range routes {
		resp.Routes[i] = toRouteResponse(rt)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create handles POST /venues/{vid}/stations.
func (h *StationHandler) Create(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}

	var req createStationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}

	runIdempotent(w, r, h.guard, h.logger, venueID, uuid.Nil, enum.OpCreateStation, func(ctx context.Context) (int, interface{}, error) {
		s, err := h.store.CreateStation(ctx, database.CreateStationParams{
			VenueID:   venueID,
			Name:      req.Name,
			IsDefault: req.IsDefault,
			SortOrder: req.SortOrder,
		})
		if isUniqueViolation(err) {
			return 0, nil, service.ErrStationExists
		}
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, toStationResponse(s), nil
	})
}

// Route handles PUT /venues/{vid}/stations/routes/{category}. Setting the
// same route twice is harmless, so no idempotency key is needed.
func (h *StationHandler) Route(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "vid", "venue")
	if !ok {
		return
	}
	category := strings.TrimSpace(chi.URLParam(r, "category"))
	if category == "" {
		badRequest(w, "category is required")
		return
	}

	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	stationID, err := uuid.Parse(req.StationID)
	if err != nil {
		badRequest(w, "invalid station_id")
		return
	}

	station, err := h.store.GetStation(r.Context(), database.GetStationParams{ID: stationID, VenueID: venueID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "station not found", "code": "not_found"})
			return
		}
		writeError(w, h.logger, "get station", err)
		return
	}
	if !station.IsActive {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "station is inactive", "code": "not_eligible"})
		return
	}

	route, err := h.store.UpsertStationRoute(r.Context(), database.UpsertStationRouteParams{
		VenueID:   venueID,
		Category:  category,
		StationID: stationID,
	})
	if err != nil {
		writeError(w, h.logger, "upsert station route", err)
		return
	}
	writeJSON(w, http.StatusOK, toRouteResponse(route))
}
