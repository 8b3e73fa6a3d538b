package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/dashboard"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/reconcile"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository/postgresql"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/syncer"
)

type SyncTrigger interface {
	RunSync(ctx context.Context) (*syncer.SyncReport, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, m status.Marketplace) (*dashboard.Summary, error)
}

type OrderStore interface {
	GetByID(ctx context.Context, id int64) (*repository.Order, error)
	List(ctx context.Context, filter postgresql.ListFilter) ([]*repository.Order, error)
	Count(ctx context.Context, filter postgresql.ListFilter) (int, error)
}

type EventStore interface {
	ListByOrderID(ctx context.Context, orderID int64) ([]*repository.StatusEvent, error)
}

type ManualWriter interface {
	CreateManualOrder(ctx context.Context, params reconcile.CreateOrderParams) (*repository.Order, error)
	AddManualEvent(ctx context.Context, orderID int64, st status.Status, eventAt time.Time, note *string) (*repository.Order, error)
}

type SettingsStore interface {
	Get(ctx context.Context) (*repository.Settings, error)
	Upsert(ctx context.Context, settings *repository.Settings) error
}

type UserRepo interface {
	ValidateUser(ctx context.Context, username, password string) (bool, error)
}

// Server is the thin HTTP surface over the core: it parses, delegates and
// renders, nothing more.
type Server struct {
	sync       SyncTrigger
	aggregator Summarizer
	orders     OrderStore
	events     EventStore
	writer     ManualWriter
	settings   SettingsStore
	userRepo   UserRepo
	logger     *zap.Logger
	server     *http.Server
}

func New(sync SyncTrigger, aggregator Summarizer, orders OrderStore, events EventStore, writer ManualWriter, settings SettingsStore, userRepo UserRepo, logger *zap.Logger) *Server {
	return &Server{
		sync:       sync,
		aggregator: aggregator,
		orders:     orders,
		events:     events,
		writer:     writer,
		settings:   settings,
		userRepo:   userRepo,
		logger:     logger,
	}
}

func (s *Server) Run(port string) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("http server starting", zap.String("port", port))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.basicAuthMiddleware)

	api.HandleFunc("/sync", s.handleRunSync).Methods(http.MethodPost)
	api.HandleFunc("/dashboard", s.handleDashboardAll).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/{marketplace}", s.handleDashboard).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id:[0-9]+}/events", s.handleAddEvent).Methods(http.MethodPost)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	api.HandleFunc("/meta/statuses", s.handleStatusCatalog).Methods(http.MethodGet)
	api.HandleFunc("/meta/marketplaces", s.handleMarketplaceCatalog).Methods(http.MethodGet)

	return r
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="fbs-tracker"`)
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		valid, err := s.userRepo.ValidateUser(r.Context(), username, password)
		if err != nil {
			s.logger.Error("failed to validate user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if !valid {
			w.Header().Set("WWW-Authenticate", `Basic realm="fbs-tracker"`)
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
