package store

import (
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/dex/internal/domain"
)

func newTestTrade(id string, ticker domain.Ticker, executedAt time.Time) *domain.Trade {
	return &domain.Trade{
		TradeID:    id,
		Ticker:     ticker,
		Price:      domain.NewAmount(10),
		Amount:     domain.NewAmount(5),
		BuyOrderID: 1,
		Buyer:      alice,
		Seller:     bob,
		TakerSide:  domain.SideSell,
		ExecutedAt: executedAt,
	}
}

func TestTradeStore_Append_and_GetByTicker(t *testing.T) {
	s := NewTradeStore()
	now := time.Now()

	s.Append(newTestTrade("trade-1", rep, now), newTestTrade("trade-2", rep, now.Add(time.Second)))
	s.Append(newTestTrade("trade-3", dai, now))

	trades := s.GetByTicker(rep)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].TradeID != "trade-1" || trades[1].TradeID != "trade-2" {
		t.Fatalf("unexpected order: %s, %s", trades[0].TradeID, trades[1].TradeID)
	}
}

func TestTradeStore_GetByTicker_Empty(t *testing.T) {
	s := NewTradeStore()

	trades := s.GetByTicker(rep)
	if trades == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(trades) != 0 {
		t.Fatalf("expected 0 trades, got %d", len(trades))
	}
}

func TestTradeStore_GetByTicker_ReturnsCopy(t *testing.T) {
	s := NewTradeStore()
	s.Append(newTestTrade("trade-1", rep, time.Now()))

	trades := s.GetByTicker(rep)
	trades[0] = nil

	if again := s.GetByTicker(rep); again[0] == nil {
		t.Fatal("mutating the returned slice changed the store")
	}
}

func TestTradeStore_ConcurrentAccess(t *testing.T) {
	s := NewTradeStore()
	var wg sync.WaitGroup
	now := time.Now()

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Append(newTestTrade("t", rep, now))
		}()
		go func() {
			defer wg.Done()
			s.GetByTicker(rep)
		}()
	}
	wg.Wait()

	if got := len(s.GetByTicker(rep)); got != 100 {
		t.Fatalf("expected 100 trades, got %d", got)
	}
}
