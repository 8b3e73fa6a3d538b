package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/dashboard"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/reconcile"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository/postgresql"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/syncer"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type orderResponse struct {
	ID              int64                `json:"id"`
	Marketplace     status.Marketplace   `json:"marketplace"`
	ExternalOrderID string               `json:"external_order_id"`
	ProductName     string               `json:"product_name"`
	SKU             *string              `json:"sku,omitempty"`
	Quantity        int                  `json:"quantity"`
	DueShipAt       *time.Time           `json:"due_ship_at,omitempty"`
	Comment         *string              `json:"comment,omitempty"`
	CurrentStatus   status.Status        `json:"current_status"`
	CurrentStatusAt time.Time            `json:"current_status_at"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	Events          []statusEventPayload `json:"events"`
}

type statusEventPayload struct {
	Status  status.Status          `json:"status"`
	EventAt time.Time              `json:"event_at"`
	Note    *string                `json:"note,omitempty"`
	Source  repository.EventSource `json:"source"`
}

func (s *Server) orderWithEvents(r *http.Request, order *repository.Order) (*orderResponse, error) {
	events, err := s.events.ListByOrderID(r.Context(), order.ID)
	if err != nil {
		return nil, err
	}

	resp := &orderResponse{
		ID:              order.ID,
		Marketplace:     order.Marketplace,
		ExternalOrderID: order.ExternalOrderID,
		ProductName:     order.ProductName,
		SKU:             order.SKU,
		Quantity:        order.Quantity,
		DueShipAt:       order.DueShipAt,
		Comment:         order.Comment,
		CurrentStatus:   order.CurrentStatus,
		CurrentStatusAt: order.CurrentStatusAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
		Events:          make([]statusEventPayload, 0, len(events)),
	}
	for _, e := range events {
		resp.Events = append(resp.Events, statusEventPayload{
			Status:  e.Status,
			EventAt: e.EventAt,
			Note:    e.Note,
			Source:  e.Source,
		})
	}
	return resp, nil
}

func (s *Server) handleRunSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.sync.RunSync(r.Context())
	if err != nil {
		if errors.Is(err, syncer.ErrSyncAlreadyRunning) {
			writeError(w, http.StatusConflict, "Sync is already running")
			return
		}
		s.logger.Error("manual sync failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	m, err := status.ParseMarketplace(mux.Vars(r)["marketplace"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown marketplace")
		return
	}

	summary, err := s.aggregator.Summarize(r.Context(), m)
	if err != nil {
		s.logger.Error("failed to build summary", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to build summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDashboardAll(w http.ResponseWriter, r *http.Request) {
	summaries := make([]*dashboard.Summary, 0, 2)
	for _, m := range status.Marketplaces() {
		summary, err := s.aggregator.Summarize(r.Context(), m)
		if err != nil {
			s.logger.Error("failed to build summary", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to build summary")
			return
		}
		summaries = append(summaries, summary)
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	filter := postgresql.ListFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  defaultListLimit,
	}

	if raw := r.URL.Query().Get("marketplace"); raw != "" {
		m, err := status.ParseMarketplace(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Unknown marketplace")
			return
		}
		filter.Marketplace = &m
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := status.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Unknown status")
			return
		}
		filter.Status = &st
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		filter.Offset = offset
	}

	orders, err := s.orders.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list orders", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}
	total, err := s.orders.Count(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to count orders", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	items := make([]*orderResponse, 0, len(orders))
	for _, order := range orders {
		item, err := s.orderWithEvents(r, order)
		if err != nil {
			s.logger.Error("failed to load order events", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to list orders")
			return
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": total,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	order, err := s.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		s.logger.Error("failed to get order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get order")
		return
	}

	resp, err := s.orderWithEvents(r, order)
	if err != nil {
		s.logger.Error("failed to load order events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get order")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type createOrderRequest struct {
	Marketplace     string     `json:"marketplace"`
	ExternalOrderID string     `json:"external_order_id"`
	ProductName     string     `json:"product_name"`
	SKU             *string    `json:"sku"`
	Quantity        int        `json:"quantity"`
	DueShipAt       *time.Time `json:"due_ship_at"`
	Comment         *string    `json:"comment"`
	InitialStatus   string     `json:"initial_status"`
	InitialStatusAt *time.Time `json:"initial_status_at"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	m, err := status.ParseMarketplace(req.Marketplace)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown marketplace")
		return
	}
	initialStatus := string(status.StatusNew)
	if req.InitialStatus != "" {
		initialStatus = req.InitialStatus
	}
	st, err := status.Parse(initialStatus)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown status")
		return
	}
	if req.ExternalOrderID == "" || req.ProductName == "" {
		writeError(w, http.StatusBadRequest, "external_order_id and product_name are required")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	statusAt := time.Now().UTC()
	if req.InitialStatusAt != nil {
		statusAt = req.InitialStatusAt.UTC()
	}

	order, err := s.writer.CreateManualOrder(r.Context(), reconcile.CreateOrderParams{
		Marketplace:     m,
		ExternalOrderID: req.ExternalOrderID,
		ProductName:     req.ProductName,
		SKU:             req.SKU,
		Quantity:        req.Quantity,
		DueShipAt:       req.DueShipAt,
		Comment:         req.Comment,
		InitialStatus:   st,
		InitialStatusAt: statusAt,
	})
	if err != nil {
		if errors.Is(err, reconcile.ErrOrderExists) {
			writeError(w, http.StatusConflict, "Order already exists")
			return
		}
		s.logger.Error("failed to create order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}

	resp, err := s.orderWithEvents(r, order)
	if err != nil {
		s.logger.Error("failed to load order events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type addEventRequest struct {
	Status  string    `json:"status"`
	EventAt time.Time `json:"event_at"`
	Note    *string   `json:"note"`
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	var req addEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	st, err := status.Parse(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown status")
		return
	}
	if req.EventAt.IsZero() {
		writeError(w, http.StatusBadRequest, "event_at is required")
		return
	}

	order, err := s.writer.AddManualEvent(r.Context(), id, st, req.EventAt.UTC(), req.Note)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		s.logger.Error("failed to add status event", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to add status event")
		return
	}

	resp, err := s.orderWithEvents(r, order)
	if err != nil {
		s.logger.Error("failed to load order events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to add status event")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type settingsRequest struct {
	WBToken      string `json:"wb_token"`
	OzonClientID string `json:"ozon_client_id"`
	OzonAPIKey   string `json:"ozon_api_key"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Get(r.Context())
	if err != nil {
		s.logger.Error("failed to get settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get settings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wb_token_set":       settings.WBToken != "",
		"ozon_client_id_set": settings.OzonClientID != "",
		"ozon_api_key_set":   settings.OzonAPIKey != "",
		"updated_at":         settings.UpdatedAt,
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := s.settings.Upsert(r.Context(), &repository.Settings{
		WBToken:      req.WBToken,
		OzonClientID: req.OzonClientID,
		OzonAPIKey:   req.OzonAPIKey,
	})
	if err != nil {
		s.logger.Error("failed to update settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Settings updated"})
}

type catalogItem struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (s *Server) handleStatusCatalog(w http.ResponseWriter, _ *http.Request) {
	items := make([]catalogItem, 0, 13)
	for _, st := range status.All() {
		items = append(items, catalogItem{Code: string(st), Name: st.Label()})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleMarketplaceCatalog(w http.ResponseWriter, _ *http.Request) {
	items := make([]catalogItem, 0, 2)
	for _, m := range status.Marketplaces() {
		items = append(items, catalogItem{Code: string(m), Name: m.Label()})
	}
	writeJSON(w, http.StatusOK, items)
}
