package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/engine"
	"github.com/efreitasn/dex/internal/service"
)

// MarketHandler handles HTTP requests for market data endpoints.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

// priceResponse is the JSON response for GET /tokens/{symbol}/price.
type priceResponse struct {
	Symbol       string  `json:"symbol"`
	CurrentPrice *string `json:"current_price"`
	Window       string  `json:"window"`
	TradesInWin  int     `json:"trades_in_window"`
	LastTradeAt  *string `json:"last_trade_at"`
}

// bookLevelResponse is a single price level in the book response.
type bookLevelResponse struct {
	Price       string `json:"price"`
	TotalAmount string `json:"total_amount"`
	OrderCount  int    `json:"order_count"`
}

// bookResponse is the JSON response for GET /tokens/{symbol}/book.
type bookResponse struct {
	Symbol     string              `json:"symbol"`
	Bids       []bookLevelResponse `json:"bids"`
	Asks       []bookLevelResponse `json:"asks"`
	Spread     *string             `json:"spread"`
	BidOrders  int                 `json:"bid_orders"`
	AskOrders  int                 `json:"ask_orders"`
	SnapshotAt string              `json:"snapshot_at"`
}

type tradeListResponse struct {
	Symbol string          `json:"symbol"`
	Trades []tradeResponse `json:"trades"`
}

// quoteLevelResponse is a single price level in the quote response.
type quoteLevelResponse struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// quoteResponse is the JSON response for GET /tokens/{symbol}/quote.
type quoteResponse struct {
	Symbol            string               `json:"symbol"`
	Side              string               `json:"side"`
	AmountRequested   string               `json:"amount_requested"`
	AmountAvailable   string               `json:"amount_available"`
	FullyFillable     bool                 `json:"fully_fillable"`
	EstimatedAvgPrice *string              `json:"estimated_average_price"`
	EstimatedTotal    *string              `json:"estimated_total"`
	PriceLevels       []quoteLevelResponse `json:"price_levels"`
	QuotedAt          string               `json:"quoted_at"`
}

// GetPrice handles GET /tokens/{symbol}/price.
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	price, err := h.marketSvc.GetPrice(symbol)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	resp := priceResponse{
		Symbol:       price.Symbol,
		CurrentPrice: optionalAmount(price.CurrentPrice),
		Window:       price.Window,
		TradesInWin:  price.TradesInWindow,
	}
	if price.LastTradeAt != nil {
		s := price.LastTradeAt.UTC().Format(timeFormat)
		resp.LastTradeAt = &s
	}

	WriteJSON(w, http.StatusOK, resp)
}

func buildLevels(levels []engine.PriceLevel) []bookLevelResponse {
	out := make([]bookLevelResponse, len(levels))
	for i, l := range levels {
		out[i] = bookLevelResponse{
			Price:       l.Price.Dec(),
			TotalAmount: l.TotalAmount.Dec(),
			OrderCount:  l.OrderCount,
		}
	}
	return out
}

// GetBook handles GET /tokens/{symbol}/book.
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	// Parse depth query param (default 10, max 50).
	depth := 10
	if d := r.URL.Query().Get("depth"); d != "" {
		var err error
		depth, err = strconv.Atoi(d)
		if err != nil {
			WriteError(w, http.StatusBadRequest, domain.KindValidation, "depth must be a valid integer")
			return
		}
	}

	book, err := h.marketSvc.GetBook(symbol, depth)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, bookResponse{
		Symbol:     book.Symbol,
		Bids:       buildLevels(book.Bids),
		Asks:       buildLevels(book.Asks),
		Spread:     optionalAmount(book.Spread),
		BidOrders:  book.BidOrders,
		AskOrders:  book.AskOrders,
		SnapshotAt: book.SnapshotAt.UTC().Format(timeFormat),
	})
}

// GetQuote handles GET /tokens/{symbol}/quote.
func (h *MarketHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	side := r.URL.Query().Get("side")

	amount, err := parseAmount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	quote, err := h.marketSvc.GetQuote(symbol, domain.Side(side), amount)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	levels := make([]quoteLevelResponse, len(quote.PriceLevels))
	for i, pl := range quote.PriceLevels {
		levels[i] = quoteLevelResponse{Price: pl.Price.Dec(), Amount: pl.Amount.Dec()}
	}

	WriteJSON(w, http.StatusOK, quoteResponse{
		Symbol:            quote.Symbol,
		Side:              string(quote.Side),
		AmountRequested:   quote.AmountRequested.Dec(),
		AmountAvailable:   quote.AmountAvailable.Dec(),
		FullyFillable:     quote.FullyFillable,
		EstimatedAvgPrice: optionalAmount(quote.AveragePrice),
		EstimatedTotal:    optionalAmount(quote.Total),
		PriceLevels:       levels,
		QuotedAt:          quote.QuotedAt.UTC().Format(timeFormat),
	})
}

// GetTrades handles GET /tokens/{symbol}/trades?limit=N.
func (h *MarketHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil {
			WriteError(w, http.StatusBadRequest, domain.KindValidation, "limit must be a valid integer")
			return
		}
	}

	trades, err := h.marketSvc.GetTrades(r.Context(), symbol, limit)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tradeListResponse{
		Symbol: symbol,
		Trades: buildTradeResponses(trades),
	})
}
