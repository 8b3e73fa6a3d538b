package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

const (
	defaultWBBaseURL = "https://marketplace-api.wildberries.ru"
	wbPageLimit      = 100
)

type WBAdapter struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewWBAdapter(baseURL string, client *http.Client, logger *zap.Logger) *WBAdapter {
	if baseURL == "" {
		baseURL = defaultWBBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WBAdapter{baseURL: baseURL, client: client, logger: logger}
}

func (a *WBAdapter) Marketplace() status.Marketplace {
	return status.MarketplaceWB
}

type wbOrdersPage struct {
	Next   int64     `json:"next"`
	Orders []wbOrder `json:"orders"`
}

type wbOrder struct {
	RID             string     `json:"rid"`
	Article         string     `json:"article"`
	SKUs            []string   `json:"skus"`
	CreatedAt       time.Time  `json:"createdAt"`
	DeliveryDate    *time.Time `json:"deliveryDate"`
	WBStatus        string     `json:"wbStatus"`
	StatusChangedAt time.Time  `json:"statusChangedAt"`
}

// FetchOrders walks the WB cursor pages until an empty page comes back.
// Pages may overlap under eventual consistency, so records are deduplicated
// by rid before returning.
func (a *WBAdapter) FetchOrders(ctx context.Context, since *time.Time, creds repository.Settings) ([]RawOrderRecord, error) {
	if creds.WBToken == "" {
		return nil, &CredentialsMissingError{Marketplace: status.MarketplaceWB}
	}

	seen := make(map[string]struct{})
	records := make([]RawOrderRecord, 0)
	next := int64(0)

	for page := 0; page < maxPages; page++ {
		body, err := doWithRetry(ctx, a.client, status.MarketplaceWB, func() (*http.Request, error) {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(wbPageLimit))
			q.Set("next", strconv.FormatInt(next, 10))
			if since != nil {
				q.Set("dateFrom", strconv.FormatInt(since.Unix(), 10))
			}
			req, err := http.NewRequest(http.MethodGet, a.baseURL+"/api/v3/orders?"+q.Encode(), nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", creds.WBToken)
			return req, nil
		})
		if err != nil {
			return nil, err
		}

		var pageResp wbOrdersPage
		if err := json.Unmarshal(body, &pageResp); err != nil {
			return nil, &UpstreamUnavailableError{
				Marketplace: status.MarketplaceWB,
				Err:         fmt.Errorf("malformed orders page: %w", err),
			}
		}

		for _, o := range pageResp.Orders {
			rec, ok := a.normalize(o)
			if !ok {
				continue
			}
			if _, dup := seen[rec.ExternalOrderID]; dup {
				continue
			}
			seen[rec.ExternalOrderID] = struct{}{}
			records = append(records, rec)
		}

		if len(pageResp.Orders) < wbPageLimit || pageResp.Next == 0 {
			break
		}
		next = pageResp.Next
	}

	return records, nil
}

func (a *WBAdapter) normalize(o wbOrder) (RawOrderRecord, bool) {
	if o.RID == "" || o.WBStatus == "" || o.StatusChangedAt.IsZero() {
		metrics.MalformedRecordsTotal.WithLabelValues(string(status.MarketplaceWB)).Inc()
		a.logger.Warn("skipping malformed wb order",
			zap.String("rid", o.RID),
			zap.String("wb_status", o.WBStatus),
		)
		return RawOrderRecord{}, false
	}

	var sku *string
	if len(o.SKUs) > 0 && o.SKUs[0] != "" {
		sku = &o.SKUs[0]
	}
	name := o.Article
	if name == "" {
		name = o.RID
	}

	return RawOrderRecord{
		ExternalOrderID: o.RID,
		ProductName:     name,
		SKU:             sku,
		Quantity:        1,
		DueShipAt:       o.DeliveryDate,
		RawStatusCode:   o.WBStatus,
		StatusChangedAt: o.StatusChangedAt.UTC(),
	}, true
}
