package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

const (
	defaultOzonBaseURL = "https://api-seller.ozon.ru"
	ozonPageLimit      = 100
)

type OzonAdapter struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewOzonAdapter(baseURL string, client *http.Client, logger *zap.Logger) *OzonAdapter {
	if baseURL == "" {
		baseURL = defaultOzonBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &OzonAdapter{baseURL: baseURL, client: client, logger: logger}
}

func (a *OzonAdapter) Marketplace() status.Marketplace {
	return status.MarketplaceOzon
}

type ozonListRequest struct {
	Dir    string         `json:"dir"`
	Filter ozonListFilter `json:"filter"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type ozonListFilter struct {
	Since *time.Time `json:"since,omitempty"`
}

type ozonListResponse struct {
	Result struct {
		Postings []ozonPosting `json:"postings"`
		HasNext  bool          `json:"has_next"`
	} `json:"result"`
}

type ozonPosting struct {
	PostingNumber   string        `json:"posting_number"`
	Status          string        `json:"status"`
	StatusUpdatedAt time.Time     `json:"status_updated_at"`
	ShipmentDate    *time.Time    `json:"shipment_date"`
	Products        []ozonProduct `json:"products"`
}

type ozonProduct struct {
	Name     string `json:"name"`
	OfferID  string `json:"offer_id"`
	Quantity int    `json:"quantity"`
}

// FetchOrders pages through /v3/posting/fbs/list by offset until has_next is
// false, deduplicating postings that reappear across page boundaries.
func (a *OzonAdapter) FetchOrders(ctx context.Context, since *time.Time, creds repository.Settings) ([]RawOrderRecord, error) {
	if creds.OzonClientID == "" || creds.OzonAPIKey == "" {
		return nil, &CredentialsMissingError{Marketplace: status.MarketplaceOzon}
	}

	seen := make(map[string]struct{})
	records := make([]RawOrderRecord, 0)
	offset := 0

	for page := 0; page < maxPages; page++ {
		reqBody, err := json.Marshal(ozonListRequest{
			Dir:    "ASC",
			Filter: ozonListFilter{Since: since},
			Limit:  ozonPageLimit,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}

		body, err := doWithRetry(ctx, a.client, status.MarketplaceOzon, func() (*http.Request, error) {
			req, err := http.NewRequest(http.MethodPost, a.baseURL+"/v3/posting/fbs/list", bytes.NewReader(reqBody))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Client-Id", creds.OzonClientID)
			req.Header.Set("Api-Key", creds.OzonAPIKey)
			return req, nil
		})
		if err != nil {
			return nil, err
		}

		var listResp ozonListResponse
		if err := json.Unmarshal(body, &listResp); err != nil {
			return nil, &UpstreamUnavailableError{
				Marketplace: status.MarketplaceOzon,
				Err:         fmt.Errorf("malformed postings page: %w", err),
			}
		}

		for _, p := range listResp.Result.Postings {
			rec, ok := a.normalize(p)
			if !ok {
				continue
			}
			if _, dup := seen[rec.ExternalOrderID]; dup {
				continue
			}
			seen[rec.ExternalOrderID] = struct{}{}
			records = append(records, rec)
		}

		if !listResp.Result.HasNext {
			break
		}
		offset += ozonPageLimit
	}

	return records, nil
}

func (a *OzonAdapter) normalize(p ozonPosting) (RawOrderRecord, bool) {
	if p.PostingNumber == "" || p.Status == "" || p.StatusUpdatedAt.IsZero() || len(p.Products) == 0 {
		metrics.MalformedRecordsTotal.WithLabelValues(string(status.MarketplaceOzon)).Inc()
		a.logger.Warn("skipping malformed ozon posting",
			zap.String("posting_number", p.PostingNumber),
			zap.String("status", p.Status),
		)
		return RawOrderRecord{}, false
	}

	quantity := 0
	for _, product := range p.Products {
		quantity += product.Quantity
	}
	if quantity <= 0 {
		metrics.MalformedRecordsTotal.WithLabelValues(string(status.MarketplaceOzon)).Inc()
		a.logger.Warn("skipping ozon posting with non-positive quantity",
			zap.String("posting_number", p.PostingNumber),
		)
		return RawOrderRecord{}, false
	}

	first := p.Products[0]
	var sku *string
	if first.OfferID != "" {
		offerID := first.OfferID
		sku = &offerID
	}

	return RawOrderRecord{
		ExternalOrderID: p.PostingNumber,
		ProductName:     first.Name,
		SKU:             sku,
		Quantity:        quantity,
		DueShipAt:       p.ShipmentDate,
		RawStatusCode:   p.Status,
		StatusChangedAt: p.StatusUpdatedAt.UTC(),
	}, true
}
