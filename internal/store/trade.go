package store

import (
	"sync"

	"github.com/efreitasn/dex/internal/domain"
)

// TradeStore is a thread-safe in-memory store for trades,
// keyed by ticker. Trades are append-only and chronological.
type TradeStore struct {
	mu     sync.RWMutex
	trades map[domain.Ticker][]*domain.Trade // ticker → trades (chronological)
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		trades: make(map[domain.Ticker][]*domain.Trade),
	}
}

// Append adds trades to their ticker's chronological list.
func (s *TradeStore) Append(trades ...*domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range trades {
		s.trades[t.Ticker] = append(s.trades[t.Ticker], t)
	}
}

// GetByTicker returns all trades for a ticker in chronological order.
// Returns an empty slice if no trades exist for the ticker.
func (s *TradeStore) GetByTicker(ticker domain.Ticker) []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.trades[ticker]
	if trades == nil {
		return []*domain.Trade{}
	}

	result := make([]*domain.Trade, len(trades))
	copy(result, trades)
	return result
}
