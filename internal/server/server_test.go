package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/dashboard"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/reconcile"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository/postgresql"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/syncer"
)

type stubSync struct {
	report *syncer.SyncReport
	err    error
}

func (s *stubSync) RunSync(context.Context) (*syncer.SyncReport, error) { return s.report, s.err }

type stubSummarizer struct {
	summaries map[status.Marketplace]*dashboard.Summary
	err       error
}

func (s *stubSummarizer) Summarize(_ context.Context, m status.Marketplace) (*dashboard.Summary, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.summaries[m], nil
}

type stubOrderStore struct {
	orders     map[int64]*repository.Order
	listResult []*repository.Order
	lastFilter postgresql.ListFilter
}

func (s *stubOrderStore) GetByID(_ context.Context, id int64) (*repository.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

func (s *stubOrderStore) List(_ context.Context, filter postgresql.ListFilter) ([]*repository.Order, error) {
	s.lastFilter = filter
	return s.listResult, nil
}

func (s *stubOrderStore) Count(context.Context, postgresql.ListFilter) (int, error) {
	return len(s.listResult), nil
}

type stubEventStore struct {
	events map[int64][]*repository.StatusEvent
}

func (s *stubEventStore) ListByOrderID(_ context.Context, orderID int64) ([]*repository.StatusEvent, error) {
	return s.events[orderID], nil
}

type stubManualWriter struct {
	order      *repository.Order
	err        error
	lastParams reconcile.CreateOrderParams
}

func (s *stubManualWriter) CreateManualOrder(_ context.Context, params reconcile.CreateOrderParams) (*repository.Order, error) {
	s.lastParams = params
	if s.err != nil {
		return nil, s.err
	}
	return s.order, nil
}

func (s *stubManualWriter) AddManualEvent(_ context.Context, orderID int64, _ status.Status, _ time.Time, _ *string) (*repository.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.order, nil
}

type stubSettingsStore struct {
	settings *repository.Settings
	upserted *repository.Settings
}

func (s *stubSettingsStore) Get(context.Context) (*repository.Settings, error) {
	return s.settings, nil
}

func (s *stubSettingsStore) Upsert(_ context.Context, settings *repository.Settings) error {
	s.upserted = settings
	return nil
}

type stubUserRepo struct{}

func (stubUserRepo) ValidateUser(_ context.Context, username, password string) (bool, error) {
	return username == "admin" && password == "secret", nil
}

type serverFixture struct {
	handler  http.Handler
	sync     *stubSync
	agg      *stubSummarizer
	orders   *stubOrderStore
	events   *stubEventStore
	writer   *stubManualWriter
	settings *stubSettingsStore
}

func newServerFixture() *serverFixture {
	f := &serverFixture{
		sync:     &stubSync{report: &syncer.SyncReport{Errors: []syncer.SyncError{}}},
		agg:      &stubSummarizer{summaries: map[status.Marketplace]*dashboard.Summary{}},
		orders:   &stubOrderStore{orders: map[int64]*repository.Order{}},
		events:   &stubEventStore{events: map[int64][]*repository.StatusEvent{}},
		writer:   &stubManualWriter{},
		settings: &stubSettingsStore{settings: &repository.Settings{}},
	}
	s := New(f.sync, f.agg, f.orders, f.events, f.writer, f.settings, stubUserRepo{}, zap.NewNop())
	f.handler = s.setupRoutes()
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func demoOrder() *repository.Order {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return &repository.Order{
		ID:              42,
		Marketplace:     status.MarketplaceWB,
		ExternalOrderID: "rid-1",
		ProductName:     "kettle",
		Quantity:        1,
		CurrentStatus:   status.StatusNew,
		CurrentStatusAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestServer_Auth(t *testing.T) {
	f := newServerFixture()

	t.Run("missing credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("wrong credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		req.SetBasicAuth("admin", "wrong")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("health needs no auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestServer_HandleRunSync(t *testing.T) {
	t.Run("returns the report", func(t *testing.T) {
		f := newServerFixture()
		f.sync.report = &syncer.SyncReport{WBReceived: 5, OzonReceived: 3, ProcessedOrders: 7, Errors: []syncer.SyncError{}}

		rec := f.do(t, http.MethodPost, "/api/sync", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var report syncer.SyncReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, 5, report.WBReceived)
		assert.Equal(t, 7, report.ProcessedOrders)
	})

	t.Run("conflict while a run is in flight", func(t *testing.T) {
		f := newServerFixture()
		f.sync.err = syncer.ErrSyncAlreadyRunning

		rec := f.do(t, http.MethodPost, "/api/sync", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestServer_HandleDashboard(t *testing.T) {
	f := newServerFixture()
	f.agg.summaries[status.MarketplaceWB] = &dashboard.Summary{Marketplace: status.MarketplaceWB, TotalOrders: 10, BuyoutRatePercent: 30.0}
	f.agg.summaries[status.MarketplaceOzon] = &dashboard.Summary{Marketplace: status.MarketplaceOzon}

	t.Run("single marketplace", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/dashboard/wb", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var summary dashboard.Summary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Equal(t, 10, summary.TotalOrders)
		assert.Equal(t, 30.0, summary.BuyoutRatePercent)
	})

	t.Run("all marketplaces", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/dashboard", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var summaries []*dashboard.Summary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
		assert.Len(t, summaries, 2)
	})

	t.Run("unknown marketplace", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/dashboard/amazon", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_HandleListOrders(t *testing.T) {
	f := newServerFixture()
	f.orders.listResult = []*repository.Order{demoOrder()}

	t.Run("filters are parsed", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/orders?marketplace=wb&status=new&search=kettle&limit=50&offset=10", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		require.NotNil(t, f.orders.lastFilter.Marketplace)
		assert.Equal(t, status.MarketplaceWB, *f.orders.lastFilter.Marketplace)
		require.NotNil(t, f.orders.lastFilter.Status)
		assert.Equal(t, status.StatusNew, *f.orders.lastFilter.Status)
		assert.Equal(t, "kettle", f.orders.lastFilter.Search)
		assert.Equal(t, 50, f.orders.lastFilter.Limit)
		assert.Equal(t, 10, f.orders.lastFilter.Offset)

		var resp struct {
			Items []orderResponse `json:"items"`
			Total int             `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Items, 1)
		assert.Equal(t, 1, resp.Total)
	})

	t.Run("limit over the cap is rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/orders?limit=1000", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown status filter", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/orders?status=shipped", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_HandleGetOrder(t *testing.T) {
	f := newServerFixture()
	order := demoOrder()
	f.orders.orders[order.ID] = order
	f.events.events[order.ID] = []*repository.StatusEvent{
		{OrderID: order.ID, Status: status.StatusNew, EventAt: order.CurrentStatusAt, Source: repository.EventSourceSync},
	}

	t.Run("found with history", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/orders/42", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp orderResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "rid-1", resp.ExternalOrderID)
		require.Len(t, resp.Events, 1)
		assert.Equal(t, status.StatusNew, resp.Events[0].Status)
	})

	t.Run("not found", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/orders/404", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_HandleCreateOrder(t *testing.T) {
	body := map[string]interface{}{
		"marketplace":       "wb",
		"external_order_id": "rid-1",
		"product_name":      "kettle",
		"quantity":          1,
	}

	t.Run("created with default initial status", func(t *testing.T) {
		f := newServerFixture()
		f.writer.order = demoOrder()

		rec := f.do(t, http.MethodPost, "/api/orders", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, status.StatusNew, f.writer.lastParams.InitialStatus)
	})

	t.Run("duplicate order", func(t *testing.T) {
		f := newServerFixture()
		f.writer.err = reconcile.ErrOrderExists

		rec := f.do(t, http.MethodPost, "/api/orders", body)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("missing product name", func(t *testing.T) {
		f := newServerFixture()

		rec := f.do(t, http.MethodPost, "/api/orders", map[string]interface{}{
			"marketplace":       "wb",
			"external_order_id": "rid-1",
			"quantity":          1,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		f := newServerFixture()

		rec := f.do(t, http.MethodPost, "/api/orders", map[string]interface{}{
			"marketplace":       "wb",
			"external_order_id": "rid-1",
			"product_name":      "kettle",
			"quantity":          0,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_HandleAddEvent(t *testing.T) {
	body := map[string]interface{}{
		"status":   "buyout",
		"event_at": "2025-03-01T12:00:00Z",
	}

	t.Run("event appended", func(t *testing.T) {
		f := newServerFixture()
		f.writer.order = demoOrder()

		rec := f.do(t, http.MethodPost, "/api/orders/42/events", body)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("order not found", func(t *testing.T) {
		f := newServerFixture()
		f.writer.err = repository.ErrOrderNotFound

		rec := f.do(t, http.MethodPost, "/api/orders/42/events", body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown status", func(t *testing.T) {
		f := newServerFixture()

		rec := f.do(t, http.MethodPost, "/api/orders/42/events", map[string]interface{}{
			"status":   "shipped",
			"event_at": "2025-03-01T12:00:00Z",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing event time", func(t *testing.T) {
		f := newServerFixture()

		rec := f.do(t, http.MethodPost, "/api/orders/42/events", map[string]interface{}{
			"status": "buyout",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_HandleSettings(t *testing.T) {
	t.Run("get masks secrets", func(t *testing.T) {
		f := newServerFixture()
		f.settings.settings = &repository.Settings{WBToken: "token"}

		rec := f.do(t, http.MethodGet, "/api/settings", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["wb_token_set"])
		assert.Equal(t, false, resp["ozon_api_key_set"])
		assert.NotContains(t, rec.Body.String(), "token")
	})

	t.Run("update stores credentials", func(t *testing.T) {
		f := newServerFixture()

		rec := f.do(t, http.MethodPut, "/api/settings", map[string]string{
			"wb_token":       "new-token",
			"ozon_client_id": "client",
			"ozon_api_key":   "key",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		require.NotNil(t, f.settings.upserted)
		assert.Equal(t, "new-token", f.settings.upserted.WBToken)
	})
}

func TestServer_Catalogs(t *testing.T) {
	f := newServerFixture()

	t.Run("statuses", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/meta/statuses", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var items []catalogItem
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
		assert.Len(t, items, 13)
		assert.Equal(t, "new", items[0].Code)
	})

	t.Run("marketplaces", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/meta/marketplaces", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var items []catalogItem
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
		assert.Len(t, items, 2)
	})
}
