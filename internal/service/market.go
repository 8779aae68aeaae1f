package service

import (
	"context"
	"fmt"
	"time"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/engine"
)

// PriceResponse represents the response for GET /tokens/{symbol}/price.
type PriceResponse struct {
	Symbol         string
	CurrentPrice   *domain.Amount // nil when no trades ever
	Window         string         // e.g. "5m"
	TradesInWindow int
	LastTradeAt    *time.Time // nil when no trades ever
}

// BookResponse represents the response for GET /tokens/{symbol}/book.
type BookResponse struct {
	Symbol     string
	Bids       []engine.PriceLevel
	Asks       []engine.PriceLevel
	Spread     *domain.Amount // nil if either side empty
	BidOrders  int            // resting orders on the whole bid side
	AskOrders  int
	SnapshotAt time.Time
}

// QuoteResponse represents the response for GET /tokens/{symbol}/quote.
type QuoteResponse struct {
	Symbol          string
	Side            domain.Side
	AmountRequested domain.Amount
	*engine.QuoteResult
	QuotedAt time.Time
}

// TradeHistory serves past trades from outside the exchange's memory.
type TradeHistory interface {
	ListByTicker(ctx context.Context, ticker domain.Ticker, limit int) ([]domain.Trade, error)
}

// MaxTradesLimit caps the number of trades GetTrades returns.
const MaxTradesLimit = 500

// MarketService answers read-only market data queries.
type MarketService struct {
	exchange   *Exchange
	history    TradeHistory
	vwapWindow time.Duration
	now        func() time.Time
}

// NewMarketService creates a new MarketService.
func NewMarketService(exchange *Exchange, vwapWindow time.Duration) *MarketService {
	return &MarketService{
		exchange:   exchange,
		vwapWindow: vwapWindow,
		now:        time.Now,
	}
}

// WithHistory makes GetTrades read from h instead of the in-memory trade log.
func (s *MarketService) WithHistory(h TradeHistory) *MarketService {
	s.history = h
	return s
}

// tradable resolves symbol to a registered, non-quote ticker.
func (s *MarketService) tradable(symbol string) (domain.Ticker, error) {
	ticker, err := domain.ParseTicker(symbol)
	if err != nil {
		return ticker, err
	}
	if s.exchange.registry.IsQuote(ticker) {
		return ticker, fmt.Errorf("%w: %s", domain.ErrCannotTradeQuoteAsset, ticker)
	}
	if _, err := s.exchange.registry.Lookup(ticker); err != nil {
		return ticker, err
	}
	return ticker, nil
}

// GetPrice returns the reference price for symbol, computed as VWAP over
// the configured window. Falls back to the last trade's price if no trades
// fall in the window, or if the window's notional overflows.
func (s *MarketService) GetPrice(symbol string) (*PriceResponse, error) {
	ticker, err := s.tradable(symbol)
	if err != nil {
		return nil, err
	}

	trades := s.exchange.trades.GetByTicker(ticker)
	resp := &PriceResponse{
		Symbol: ticker.String(),
		Window: formatDuration(s.vwapWindow),
	}
	if len(trades) == 0 {
		return resp, nil
	}

	last := trades[len(trades)-1]
	lastAt := last.ExecutedAt
	resp.LastTradeAt = &lastAt

	windowStart := s.now().Add(-s.vwapWindow)
	var sumNotional, sumAmount domain.Amount
	overflow := false
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if t.ExecutedAt.Before(windowStart) {
			break
		}
		resp.TradesInWindow++
		n := t.Notional()
		if _, of := sumNotional.AddOverflow(&sumNotional, &n); of {
			overflow = true
		}
		sumAmount.Add(&sumAmount, &t.Amount)
	}

	price := last.Price
	if !sumAmount.IsZero() && !overflow {
		price.Div(&sumNotional, &sumAmount)
	}
	resp.CurrentPrice = &price
	return resp, nil
}

// GetBook returns the top depth aggregated price levels of both sides.
func (s *MarketService) GetBook(symbol string, depth int) (*BookResponse, error) {
	ticker, err := s.tradable(symbol)
	if err != nil {
		return nil, err
	}
	if depth < 1 || depth > 50 {
		return nil, &domain.ValidationError{Message: "depth must be between 1 and 50"}
	}

	resp := &BookResponse{
		Symbol: ticker.String(),
		Bids:   []engine.PriceLevel{},
		Asks:   []engine.PriceLevel{},
	}
	s.exchange.view(func() {
		if book, ok := s.exchange.books.Get(ticker); ok {
			resp.Bids = book.TopLevels(domain.SideBuy, depth)
			resp.Asks = book.TopLevels(domain.SideSell, depth)
			resp.BidOrders = book.Count(domain.SideBuy)
			resp.AskOrders = book.Count(domain.SideSell)
		}
	})
	resp.SnapshotAt = s.now()

	// The book is never crossed, so the best ask is above the best bid.
	if len(resp.Bids) > 0 && len(resp.Asks) > 0 {
		var spread domain.Amount
		spread.Sub(&resp.Asks[0].Price, &resp.Bids[0].Price)
		resp.Spread = &spread
	}
	return resp, nil
}

// GetQuote simulates a market order without placing it.
func (s *MarketService) GetQuote(symbol string, side domain.Side, amount domain.Amount) (*QuoteResponse, error) {
	ticker, err := s.tradable(symbol)
	if err != nil {
		return nil, err
	}
	if _, err := domain.ParseSide(string(side)); err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, &domain.ValidationError{Message: "amount must be greater than zero"}
	}

	var result *engine.QuoteResult
	s.exchange.view(func() {
		result = s.exchange.matcher.Simulate(ticker, side, amount)
	})

	return &QuoteResponse{
		Symbol:          ticker.String(),
		Side:            side,
		AmountRequested: amount,
		QuoteResult:     result,
		QuotedAt:        s.now(),
	}, nil
}

// GetTrades returns up to limit of the latest trades of symbol, newest first.
func (s *MarketService) GetTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	ticker, err := s.tradable(symbol)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > MaxTradesLimit {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("limit must be between 1 and %d", MaxTradesLimit)}
	}

	if s.history != nil {
		archived, err := s.history.ListByTicker(ctx, ticker, limit)
		if err != nil {
			return nil, err
		}
		out := make([]*domain.Trade, len(archived))
		for i := range archived {
			out[i] = &archived[i]
		}
		return out, nil
	}

	trades := s.exchange.trades.GetByTicker(ticker)
	n := min(limit, len(trades))
	out := make([]*domain.Trade, n)
	for i := range n {
		out[i] = trades[len(trades)-1-i]
	}
	return out, nil
}

// formatDuration renders d like "5m" for whole minutes.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	minutes := int(d.Minutes())
	if d == time.Duration(minutes)*time.Minute && minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return d.String()
}
