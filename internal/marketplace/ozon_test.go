package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

func ozonCreds() repository.Settings {
	return repository.Settings{OzonClientID: "client-7", OzonAPIKey: "key-7"}
}

func ozonPostingJSON(number, rawStatus string, updatedAt time.Time, quantity int) ozonPosting {
	return ozonPosting{
		PostingNumber:   number,
		Status:          rawStatus,
		StatusUpdatedAt: updatedAt,
		Products: []ozonProduct{
			{Name: "product-" + number, OfferID: "offer-" + number, Quantity: quantity},
		},
	}
}

func TestOzonAdapter_FetchOrders(t *testing.T) {
	ctx := context.Background()
	updatedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("offset paging with dedupe across pages", func(t *testing.T) {
		var pages int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "client-7", r.Header.Get("Client-Id"))
			require.Equal(t, "key-7", r.Header.Get("Api-Key"))

			var reqBody ozonListRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
			assert.Equal(t, "ASC", reqBody.Dir)
			assert.Equal(t, ozonPageLimit, reqBody.Limit)

			var resp ozonListResponse
			switch atomic.AddInt32(&pages, 1) {
			case 1:
				assert.Equal(t, 0, reqBody.Offset)
				for i := 0; i < ozonPageLimit; i++ {
					resp.Result.Postings = append(resp.Result.Postings,
						ozonPostingJSON(fmt.Sprintf("posting-%d", i), "delivered", updatedAt, 1))
				}
				resp.Result.HasNext = true
			case 2:
				assert.Equal(t, ozonPageLimit, reqBody.Offset)
				resp.Result.Postings = []ozonPosting{
					ozonPostingJSON("posting-99", "delivered", updatedAt, 1),
					ozonPostingJSON("posting-100", "cancelled", updatedAt, 2),
				}
			default:
				t.Errorf("unexpected page request")
			}
			_ = json.NewEncoder(w).Encode(resp)
		}))
		defer srv.Close()

		adapter := NewOzonAdapter(srv.URL, srv.Client(), zap.NewNop())
		records, err := adapter.FetchOrders(ctx, nil, ozonCreds())
		require.NoError(t, err)
		assert.Len(t, records, 101)

		last := records[len(records)-1]
		assert.Equal(t, "posting-100", last.ExternalOrderID)
		assert.Equal(t, "cancelled", last.RawStatusCode)
		assert.Equal(t, 2, last.Quantity)
	})

	t.Run("quantity is summed over products", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			posting := ozonPosting{
				PostingNumber:   "posting-1",
				Status:          "awaiting_deliver",
				StatusUpdatedAt: updatedAt,
				Products: []ozonProduct{
					{Name: "first", OfferID: "offer-1", Quantity: 2},
					{Name: "second", OfferID: "offer-2", Quantity: 3},
				},
			}
			var resp ozonListResponse
			resp.Result.Postings = []ozonPosting{posting}
			_ = json.NewEncoder(w).Encode(resp)
		}))
		defer srv.Close()

		adapter := NewOzonAdapter(srv.URL, srv.Client(), zap.NewNop())
		records, err := adapter.FetchOrders(ctx, nil, ozonCreds())
		require.NoError(t, err)
		require.Len(t, records, 1)

		assert.Equal(t, 5, records[0].Quantity)
		assert.Equal(t, "first", records[0].ProductName)
		require.NotNil(t, records[0].SKU)
		assert.Equal(t, "offer-1", *records[0].SKU)
	})

	t.Run("malformed postings are skipped", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			var resp ozonListResponse
			resp.Result.Postings = []ozonPosting{
				ozonPostingJSON("posting-1", "delivered", updatedAt, 1),
				{PostingNumber: "posting-2", Status: "delivered", StatusUpdatedAt: updatedAt}, // no products
				ozonPostingJSON("posting-3", "delivered", updatedAt, 0),                       // zero quantity
			}
			_ = json.NewEncoder(w).Encode(resp)
		}))
		defer srv.Close()

		adapter := NewOzonAdapter(srv.URL, srv.Client(), zap.NewNop())
		records, err := adapter.FetchOrders(ctx, nil, ozonCreds())
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "posting-1", records[0].ExternalOrderID)
	})

	t.Run("missing credentials", func(t *testing.T) {
		adapter := NewOzonAdapter("http://unused", nil, zap.NewNop())

		_, err := adapter.FetchOrders(ctx, nil, repository.Settings{OzonClientID: "client-7"})
		var credsErr *CredentialsMissingError
		require.True(t, errors.As(err, &credsErr))
		assert.Equal(t, status.MarketplaceOzon, credsErr.Marketplace)

		_, err = adapter.FetchOrders(ctx, nil, repository.Settings{OzonAPIKey: "key-7"})
		require.True(t, errors.As(err, &credsErr))
	})

	t.Run("429 retried then succeeds", func(t *testing.T) {
		fastBackoff(t)

		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			var resp ozonListResponse
			resp.Result.Postings = []ozonPosting{ozonPostingJSON("posting-1", "delivered", updatedAt, 1)}
			_ = json.NewEncoder(w).Encode(resp)
		}))
		defer srv.Close()

		adapter := NewOzonAdapter(srv.URL, srv.Client(), zap.NewNop())
		records, err := adapter.FetchOrders(ctx, nil, ozonCreds())
		require.NoError(t, err)
		assert.Len(t, records, 1)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("since filter is forwarded", func(t *testing.T) {
		since := updatedAt.Add(-24 * time.Hour)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var reqBody ozonListRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
			require.NotNil(t, reqBody.Filter.Since)
			assert.True(t, reqBody.Filter.Since.Equal(since))
			_ = json.NewEncoder(w).Encode(ozonListResponse{})
		}))
		defer srv.Close()

		adapter := NewOzonAdapter(srv.URL, srv.Client(), zap.NewNop())
		records, err := adapter.FetchOrders(ctx, &since, ozonCreds())
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}
