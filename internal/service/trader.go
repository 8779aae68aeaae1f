package service

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/efreitasn/dex/internal/domain"
)

// BalancesResponse represents the response for GET /traders/{address}/balances.
type BalancesResponse struct {
	Trader   common.Address
	Balances []domain.Balance
	AsOf     time.Time
}

// TraderService answers per-trader queries.
type TraderService struct {
	exchange *Exchange
}

// NewTraderService creates a new TraderService.
func NewTraderService(exchange *Exchange) *TraderService {
	return &TraderService{exchange: exchange}
}

// GetBalances returns every non-zero internal balance of trader.
func (s *TraderService) GetBalances(trader common.Address) *BalancesResponse {
	return &BalancesResponse{
		Trader:   trader,
		Balances: s.exchange.Balances(trader),
		AsOf:     time.Now().UTC(),
	}
}

// ListOrders returns a page of the trader's limit orders, newest first,
// with an optional status filter, plus the total number of matches.
func (s *TraderService) ListOrders(trader common.Address, status string, page, limit int) ([]domain.Order, int, error) {
	var filter *domain.OrderStatus
	if status != "" {
		st, err := domain.ParseOrderStatus(status)
		if err != nil {
			return nil, 0, err
		}
		filter = &st
	}
	if page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be >= 1"}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}

	var (
		orders []domain.Order
		total  int
	)
	// Fills mutate orders under the exchange lock.
	s.exchange.view(func() {
		orders, total = s.exchange.orders.ListByTrader(trader, filter, page, limit)
	})
	return orders, total, nil
}
