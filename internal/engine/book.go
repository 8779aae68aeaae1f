package engine

import (
	"sync"

	"github.com/google/btree"

	"github.com/efreitasn/dex/internal/domain"
)

// OrderBookEntry represents a single order resting on the book.
type OrderBookEntry struct {
	Price   domain.Amount
	OrderID uint64
	Order   *domain.Order
}

// PriceLevel represents an aggregated price level in the order book.
type PriceLevel struct {
	Price       domain.Amount
	TotalAmount domain.Amount
	OrderCount  int
}

// bidLess orders the BUY side: price descending, then order id ascending.
// Min() returns the best bid (highest price, oldest order).
func bidLess(a, b OrderBookEntry) bool {
	if c := a.Price.Cmp(&b.Price); c != 0 {
		return c > 0
	}
	return a.OrderID < b.OrderID
}

// askLess orders the SELL side: price ascending, then order id ascending.
// Min() returns the best ask (lowest price, oldest order).
func askLess(a, b OrderBookEntry) bool {
	if c := a.Price.Cmp(&b.Price); c != 0 {
		return c < 0
	}
	return a.OrderID < b.OrderID
}

// OrderBook maintains the BUY and SELL sides for a single ticker using
// B-trees with a secondary index for O(log n) removal by order id.
//
// OrderBook is not safe for concurrent use; the exchange serialises every
// operation that touches it.
type OrderBook struct {
	ticker domain.Ticker
	bids   *btree.BTreeG[OrderBookEntry]
	asks   *btree.BTreeG[OrderBookEntry]
	index  map[uint64]OrderBookEntry
}

// NewOrderBook creates an order book for the given ticker.
func NewOrderBook(ticker domain.Ticker) *OrderBook {
	const degree = 32
	return &OrderBook{
		ticker: ticker,
		bids:   btree.NewG[OrderBookEntry](degree, bidLess),
		asks:   btree.NewG[OrderBookEntry](degree, askLess),
		index:  make(map[uint64]OrderBookEntry),
	}
}

// Ticker returns the base asset this book trades.
func (ob *OrderBook) Ticker() domain.Ticker {
	return ob.ticker
}

func (ob *OrderBook) side(s domain.Side) *btree.BTreeG[OrderBookEntry] {
	if s == domain.SideBuy {
		return ob.bids
	}
	return ob.asks
}

// Insert rests an order on its side of the book.
func (ob *OrderBook) Insert(o *domain.Order) {
	entry := OrderBookEntry{Price: o.Price, OrderID: o.ID, Order: o}
	ob.side(o.Side).ReplaceOrInsert(entry)
	ob.index[o.ID] = entry
}

// Remove deletes an order from the book by id.
func (ob *OrderBook) Remove(id uint64) {
	entry, ok := ob.index[id]
	if !ok {
		return
	}
	delete(ob.index, id)
	ob.side(entry.Order.Side).Delete(entry)
}

// RemoveIfFilled removes o once Filled == Amount and reports whether it did.
func (ob *OrderBook) RemoveIfFilled(o *domain.Order) bool {
	if !o.IsFilled() {
		return false
	}
	ob.Remove(o.ID)
	return true
}

// Best returns the highest-priority order on side s.
func (ob *OrderBook) Best(s domain.Side) (*domain.Order, bool) {
	entry, ok := ob.side(s).Min()
	if !ok {
		return nil, false
	}
	return entry.Order, true
}

// BestOpposite returns the highest-priority order an incoming order on
// side s would match against.
func (ob *OrderBook) BestOpposite(s domain.Side) (*domain.Order, bool) {
	return ob.Best(s.Opposite())
}

// Walk iterates side s in priority order. The callback returns true to
// continue, false to stop. Callbacks must not mutate the book.
func (ob *OrderBook) Walk(s domain.Side, fn func(*domain.Order) bool) {
	ob.side(s).Ascend(func(entry OrderBookEntry) bool {
		return fn(entry.Order)
	})
}

// Snapshot returns copies of every order on side s in priority order.
func (ob *OrderBook) Snapshot(s domain.Side) []domain.Order {
	out := make([]domain.Order, 0, ob.side(s).Len())
	ob.Walk(s, func(o *domain.Order) bool {
		out = append(out, *o)
		return true
	})
	return out
}

// TopLevels returns up to n aggregated price levels from side s, best
// price first.
func (ob *OrderBook) TopLevels(s domain.Side, n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, n)
	ob.Walk(s, func(o *domain.Order) bool {
		remaining := o.Remaining()
		if len(levels) > 0 && levels[len(levels)-1].Price.Eq(&o.Price) {
			last := &levels[len(levels)-1]
			last.TotalAmount.Add(&last.TotalAmount, &remaining)
			last.OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{
			Price:       o.Price,
			TotalAmount: remaining,
			OrderCount:  1,
		})
		return true
	})
	return levels
}

// Count returns the number of individual orders resting on side s.
func (ob *OrderBook) Count(s domain.Side) int {
	return ob.side(s).Len()
}

// BookManager is a thread-safe map of ticker → OrderBook.
type BookManager struct {
	mu    sync.RWMutex
	books map[domain.Ticker]*OrderBook
}

// NewBookManager creates a new BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[domain.Ticker]*OrderBook),
	}
}

// Get returns the book for ticker if one has been created.
func (bm *BookManager) Get(ticker domain.Ticker) (*OrderBook, bool) {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	book, ok := bm.books[ticker]
	return book, ok
}

// GetOrCreate returns the order book for the given ticker, creating
// one if it doesn't already exist.
func (bm *BookManager) GetOrCreate(ticker domain.Ticker) *OrderBook {
	bm.mu.RLock()
	book, ok := bm.books[ticker]
	bm.mu.RUnlock()
	if ok {
		return book
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	if book, ok = bm.books[ticker]; ok {
		return book
	}
	book = NewOrderBook(ticker)
	bm.books[ticker] = book
	return book
}
