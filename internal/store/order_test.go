package store

import (
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/efreitasn/dex/internal/domain"
)

func newTestOrder(id uint64, trader common.Address) *domain.Order {
	return &domain.Order{
		ID:        id,
		Trader:    trader,
		Side:      domain.SideBuy,
		Ticker:    rep,
		Amount:    domain.NewAmount(10),
		Price:     domain.NewAmount(10),
		CreatedAt: time.Date(2025, 1, 1, 0, 0, int(id), 0, time.UTC),
	}
}

func TestOrderStore_Create_and_Get(t *testing.T) {
	s := NewOrderStore()
	s.Create(newTestOrder(1, alice))

	got, ok := s.Get(1)
	if !ok {
		t.Fatal("expected order 1 to exist")
	}
	if got.Trader != alice {
		t.Fatalf("expected trader %s, got %s", alice.Hex(), got.Trader.Hex())
	}
	if _, ok := s.Get(2); ok {
		t.Fatal("expected order 2 to be missing")
	}
}

func TestOrderStore_ListByTrader_NewestFirst(t *testing.T) {
	s := NewOrderStore()
	for i := uint64(1); i <= 5; i++ {
		s.Create(newTestOrder(i, alice))
	}

	orders, total := s.ListByTrader(alice, nil, 1, 10)
	if total != 5 || len(orders) != 5 {
		t.Fatalf("expected 5 orders, got %d (total %d)", len(orders), total)
	}
	for i := 0; i < len(orders)-1; i++ {
		if orders[i].ID <= orders[i+1].ID {
			t.Fatalf("orders not newest first at index %d", i)
		}
	}
}

func TestOrderStore_ListByTrader_StatusFilter(t *testing.T) {
	s := NewOrderStore()
	fills := []uint64{0, 10, 0, 4, 0}
	for i, f := range fills {
		o := newTestOrder(uint64(i+1), alice)
		o.Filled = domain.NewAmount(f)
		s.Create(o)
	}

	open := domain.OrderStatusOpen
	orders, total := s.ListByTrader(alice, &open, 1, 10)
	if total != 3 || len(orders) != 3 {
		t.Fatalf("expected 3 open orders, got %d (total %d)", len(orders), total)
	}
	for _, o := range orders {
		if o.Status() != domain.OrderStatusOpen {
			t.Fatalf("expected open status, got %s", o.Status())
		}
	}

	partial := domain.OrderStatusPartiallyFilled
	if _, total := s.ListByTrader(alice, &partial, 1, 10); total != 1 {
		t.Fatalf("expected 1 partially filled order, got %d", total)
	}
}

func TestOrderStore_ListByTrader_ReturnsCopies(t *testing.T) {
	s := NewOrderStore()
	o := newTestOrder(1, alice)
	s.Create(o)

	orders, _ := s.ListByTrader(alice, nil, 1, 10)
	orders[0].Filled = domain.NewAmount(10)

	if !o.Filled.IsZero() {
		t.Fatal("mutating a listed order changed the stored order")
	}

	// Fills applied to the stored pointer are visible on the next read.
	o.Filled = domain.NewAmount(3)
	orders, _ = s.ListByTrader(alice, nil, 1, 10)
	if orders[0].Filled.Uint64() != 3 {
		t.Fatalf("expected filled 3, got %s", orders[0].Filled.Dec())
	}
}

func TestOrderStore_ListByTrader_Pagination(t *testing.T) {
	s := NewOrderStore()
	for i := uint64(1); i <= 10; i++ {
		s.Create(newTestOrder(i, alice))
	}

	orders, total := s.ListByTrader(alice, nil, 1, 3)
	if total != 10 || len(orders) != 3 {
		t.Fatalf("page 1: expected 3 of 10, got %d of %d", len(orders), total)
	}
	if orders[0].ID != 10 {
		t.Fatalf("page 1 should start at order 10, got %d", orders[0].ID)
	}

	orders, _ = s.ListByTrader(alice, nil, 4, 3)
	if len(orders) != 1 || orders[0].ID != 1 {
		t.Fatalf("page 4: expected only order 1, got %v", orders)
	}

	orders, total = s.ListByTrader(alice, nil, 5, 3)
	if total != 10 || len(orders) != 0 {
		t.Fatalf("beyond last page: expected 0 of 10, got %d of %d", len(orders), total)
	}
}

func TestOrderStore_ListByTrader_MultipleTraders(t *testing.T) {
	s := NewOrderStore()
	s.Create(newTestOrder(1, alice))
	s.Create(newTestOrder(2, bob))
	s.Create(newTestOrder(3, alice))

	if _, total := s.ListByTrader(alice, nil, 1, 10); total != 2 {
		t.Fatalf("expected 2 orders for alice, got %d", total)
	}
	if _, total := s.ListByTrader(bob, nil, 1, 10); total != 1 {
		t.Fatalf("expected 1 order for bob, got %d", total)
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
}

func TestOrderStore_ConcurrentAccess(t *testing.T) {
	s := NewOrderStore()
	var wg sync.WaitGroup

	for i := 1; i <= 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			trader := alice
			if i%2 == 0 {
				trader = bob
			}
			s.Create(newTestOrder(uint64(i), trader))
		}(i)
		go func() {
			defer wg.Done()
			s.ListByTrader(alice, nil, 1, 10)
		}()
	}
	wg.Wait()

	if _, total := s.ListByTrader(alice, nil, 1, 100); total != 50 {
		t.Fatalf("expected 50 orders for alice, got %d", total)
	}
}
