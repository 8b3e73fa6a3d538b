package cache

import (
	"context"
	"log"
	"sync"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

type OrderRepository interface {
	GetAllActiveOrders(ctx context.Context) ([]*repository.Order, error)
}

// OrderCache keeps active orders keyed by their natural key. The reconciler
// consults it to short-circuit records that cannot change anything, so a
// quiet re-sync of an unchanged order costs no transaction.
type OrderCache struct {
	mu    sync.RWMutex
	cache map[string]*repository.Order
	repo  OrderRepository
}

func NewOrderCache(repo OrderRepository) *OrderCache {
	return &OrderCache{
		cache: make(map[string]*repository.Order),
		repo:  repo,
	}
}

func key(marketplace status.Marketplace, externalOrderID string) string {
	return string(marketplace) + "/" + externalOrderID
}

func (c *OrderCache) LoadInitialData(ctx context.Context) error {
	orders, err := c.repo.GetAllActiveOrders(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, order := range orders {
		orderCopy := *order
		c.cache[key(order.Marketplace, order.ExternalOrderID)] = &orderCopy
	}
	log.Printf("Loaded %d active orders into cache", len(c.cache))
	return nil
}

func (c *OrderCache) Get(marketplace status.Marketplace, externalOrderID string) (*repository.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	order, found := c.cache[key(marketplace, externalOrderID)]
	if !found {
		return nil, false
	}
	orderCopy := *order
	return &orderCopy, true
}

// Set stores the order, or evicts it once it reaches a terminal status so
// the cache only holds orders that can still move.
func (c *OrderCache) Set(order *repository.Order) {
	if order.CurrentStatus.IsTerminal() {
		c.Delete(order.Marketplace, order.ExternalOrderID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	orderCopy := *order
	c.cache[key(order.Marketplace, order.ExternalOrderID)] = &orderCopy
}

func (c *OrderCache) Delete(marketplace status.Marketplace, externalOrderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, key(marketplace, externalOrderID))
}

func (c *OrderCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
