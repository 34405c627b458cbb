package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/config"
	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
	"github.com/tableorder/api/internal/events"
	"github.com/tableorder/api/internal/handler"
	"github.com/tableorder/api/internal/idempotency"
	"github.com/tableorder/api/internal/logging"
	"github.com/tableorder/api/internal/metrics"
	mw "github.com/tableorder/api/internal/middleware"
	"github.com/tableorder/api/internal/service"
	"github.com/tableorder/api/internal/ws"
)

// Options carries the collaborators main builds once and shares.
type Options struct {
	Guard     *idempotency.Guard
	Publisher events.Publisher
	Metrics   *metrics.Registry
	Logger    *zap.Logger
}

// New creates a Chi router with all application routes wired up.
// Applies authentication, venue scoping, and role-based middleware as needed.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub, opts Options) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handler.IdempotencyKeyHeader},
		ExposedHeaders:   []string{handler.IdempotentReplayedHeader},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/venues/{vid}/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	deps := service.Deps{
		Publisher:         opts.Publisher,
		Metrics:           opts.Metrics,
		Logger:            logger,
		RequireKDSRouting: cfg.RequireKDSRouting,
	}
	inventoryService := service.NewInventoryService(pool, func(db database.DBTX) service.InventoryStore {
		return database.New(db)
	}, deps)
	orderService := service.NewOrderService(pool, func(db database.DBTX) service.OrderStore {
		return database.New(db)
	}, inventoryService, deps)

	// Payment gateway webhook (authenticated by signature)
	webhookHandler := handler.NewWebhookHandler(orderService, cfg.PaymentWebhookSecret, opts.Guard, logger)
	r.Post("/webhooks/payments", webhookHandler.Payments)

	orderHandler := handler.NewOrderHandler(orderService, opts.Guard, logger)
	kitchenHandler := handler.NewKitchenHandler(orderService, opts.Guard, logger)
	stationHandler := handler.NewStationHandler(queries, opts.Guard, logger)
	menuHandler := handler.NewMenuHandler(queries, opts.Publisher, logger)
	inventoryHandler := handler.NewInventoryHandler(inventoryService, opts.Guard, logger)

	// Protected, venue-scoped routes
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		r.Route("/venues/{vid}", func(r chi.Router) {
			r.Use(mw.RequireVenue)

			// Orders check roles per operation in the service.
			r.Route("/orders", orderHandler.RegisterRoutes)

			r.Route("/menu-items", func(r chi.Router) {
				menuHandler.RegisterReadRoutes(r)
				r.Group(func(r chi.Router) {
					r.Use(mw.RequireRole(enum.ManagerRoles...))
					menuHandler.RegisterWriteRoutes(r)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(enum.KitchenRoles...))
				r.Route("/kitchen", kitchenHandler.RegisterRoutes)
			})

			r.Route("/stations", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(mw.RequireRole(enum.KitchenRoles...))
					stationHandler.RegisterReadRoutes(r)
				})
				r.Group(func(r chi.Router) {
					r.Use(mw.RequireRole(enum.ManagerRoles...))
					stationHandler.RegisterWriteRoutes(r)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(enum.ManagerRoles...))
				r.Route("/inventory", inventoryHandler.RegisterRoutes)
			})
		})
	})

	logger.Info("router initialized")
	return r
}
