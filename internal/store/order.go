package store

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/efreitasn/dex/internal/domain"
)

// OrderStore is a thread-safe in-memory store for limit orders,
// with a primary index by order id and a secondary index by trader.
// Orders are shared with the books and mutated in place by fills; callers
// receive copies.
type OrderStore struct {
	mu           sync.RWMutex
	orders       map[uint64]*domain.Order
	traderOrders map[common.Address][]*domain.Order // trader → orders (append-only, by id)
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:       make(map[uint64]*domain.Order),
		traderOrders: make(map[common.Address][]*domain.Order),
	}
}

// Create adds an order to the store and appends it to the
// trader's secondary index.
func (s *OrderStore) Create(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[o.ID] = o
	s.traderOrders[o.Trader] = append(s.traderOrders[o.Trader], o)
}

// Get returns the live order with the given id.
func (s *OrderStore) Get(id uint64) (*domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	return o, ok
}

// ListByTrader returns copies of a trader's orders, newest first. If status
// is non-nil only orders in that state are included. Pagination is 1-based.
// Returns the requested page and the total count of matching orders.
func (s *OrderStore) ListByTrader(trader common.Address, status *domain.OrderStatus, page, limit int) ([]domain.Order, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.traderOrders[trader]

	filtered := make([]domain.Order, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if status != nil && all[i].Status() != *status {
			continue
		}
		filtered = append(filtered, *all[i])
	}

	total := len(filtered)

	start := (page - 1) * limit
	if start >= total {
		return []domain.Order{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return filtered[start:end], total
}

// Len returns the number of orders ever created.
func (s *OrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
