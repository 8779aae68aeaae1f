package handler

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/service"
)

// ExchangeHandler handles token, custody and order endpoints.
type ExchangeHandler struct {
	exchange *service.Exchange
}

// NewExchangeHandler creates a new ExchangeHandler.
func NewExchangeHandler(exchange *service.Exchange) *ExchangeHandler {
	return &ExchangeHandler{exchange: exchange}
}

type addTokenRequest struct {
	Symbol string `json:"symbol"`
	Handle string `json:"handle"`
}

type tokenResponse struct {
	Symbol  string `json:"symbol"`
	Handle  string `json:"handle"`
	IsQuote bool   `json:"is_quote"`
	AddedAt string `json:"added_at"`
}

// supplyResponse is the JSON response for GET /tokens/{symbol}/totals.
type supplyResponse struct {
	Symbol    string `json:"symbol"`
	Handle    string `json:"handle"`
	Deposited string `json:"deposited"`
	Withdrawn string `json:"withdrawn"`
	Held      string `json:"held"`
}

type tokenListResponse struct {
	Tokens []tokenResponse `json:"tokens"`
}

// transferRequest is the JSON body of POST /deposits and POST /withdrawals.
type transferRequest struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

type transferResponse struct {
	Trader  string `json:"trader"`
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
}

type limitOrderRequest struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
	Side   string `json:"side"`
}

type marketOrderRequest struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Side   string `json:"side"`
}

// orderResponse is a limit order as seen by clients.
type orderResponse struct {
	OrderID   uint64 `json:"order_id"`
	Trader    string `json:"trader"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Filled    string `json:"filled"`
	Remaining string `json:"remaining"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// tradeResponse is a single fill. Order ids are null for market takers.
type tradeResponse struct {
	TradeID     string  `json:"trade_id"`
	Symbol      string  `json:"symbol"`
	Price       string  `json:"price"`
	Amount      string  `json:"amount"`
	BuyOrderID  *uint64 `json:"buy_order_id"`
	SellOrderID *uint64 `json:"sell_order_id"`
	Buyer       string  `json:"buyer"`
	Seller      string  `json:"seller"`
	TakerSide   string  `json:"taker_side"`
	ExecutedAt  string  `json:"executed_at"`
}

type limitOrderResponse struct {
	Order  orderResponse   `json:"order"`
	Trades []tradeResponse `json:"trades"`
}

type marketOrderResponse struct {
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	AmountRequested string          `json:"amount_requested"`
	Filled          string          `json:"filled"`
	Trades          []tradeResponse `json:"trades"`
}

type bookOrdersResponse struct {
	Symbol string          `json:"symbol"`
	Side   string          `json:"side"`
	Orders []orderResponse `json:"orders"`
}

func buildTokenResponse(t domain.Token, quote domain.Ticker) tokenResponse {
	return tokenResponse{
		Symbol:  t.Ticker.String(),
		Handle:  t.Handle.Hex(),
		IsQuote: t.Ticker == quote,
		AddedAt: t.AddedAt.UTC().Format(timeFormat),
	}
}

func buildOrderResponse(o *domain.Order) orderResponse {
	remaining := o.Remaining()
	return orderResponse{
		OrderID:   o.ID,
		Trader:    o.Trader.Hex(),
		Symbol:    o.Ticker.String(),
		Side:      string(o.Side),
		Price:     o.Price.Dec(),
		Amount:    o.Amount.Dec(),
		Filled:    o.Filled.Dec(),
		Remaining: remaining.Dec(),
		Status:    string(o.Status()),
		CreatedAt: o.CreatedAt.UTC().Format(timeFormat),
	}
}

func orderIDOrNull(id uint64) *uint64 {
	if id == 0 {
		return nil
	}
	return &id
}

func buildTradeResponses(trades []*domain.Trade) []tradeResponse {
	result := make([]tradeResponse, len(trades))
	for i, t := range trades {
		result[i] = tradeResponse{
			TradeID:     t.TradeID,
			Symbol:      t.Ticker.String(),
			Price:       t.Price.Dec(),
			Amount:      t.Amount.Dec(),
			BuyOrderID:  orderIDOrNull(t.BuyOrderID),
			SellOrderID: orderIDOrNull(t.SellOrderID),
			Buyer:       t.Buyer.Hex(),
			Seller:      t.Seller.Hex(),
			TakerSide:   string(t.TakerSide),
			ExecutedAt:  t.ExecutedAt.UTC().Format(timeFormat),
		}
	}
	return result
}

// AddToken handles POST /tokens.
func (h *ExchangeHandler) AddToken(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	var req addTokenRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	handle, err := parseAddress("handle", req.Handle)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	t, err := h.exchange.AddToken(r.Context(), caller, req.Symbol, handle)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildTokenResponse(t, h.exchange.Quote()))
}

// ListTokens handles GET /tokens.
func (h *ExchangeHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens := h.exchange.Tokens()
	quote := h.exchange.Quote()
	resp := tokenListResponse{Tokens: make([]tokenResponse, len(tokens))}
	for i, t := range tokens {
		resp.Tokens[i] = buildTokenResponse(t, quote)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetToken handles GET /tokens/{symbol}.
func (h *ExchangeHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	t, err := h.exchange.Token(chi.URLParam(r, "symbol"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildTokenResponse(t, h.exchange.Quote()))
}

// GetTotals handles GET /tokens/{symbol}/totals.
func (h *ExchangeHandler) GetTotals(w http.ResponseWriter, r *http.Request) {
	sup, err := h.exchange.Totals(chi.URLParam(r, "symbol"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, supplyResponse{
		Symbol:    sup.Token.Ticker.String(),
		Handle:    sup.Token.Handle.Hex(),
		Deposited: sup.Deposited.Dec(),
		Withdrawn: sup.Withdrawn.Dec(),
		Held:      sup.Held.Dec(),
	})
}

// Deposit handles POST /deposits.
func (h *ExchangeHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.exchange.Deposit)
}

// Withdraw handles POST /withdrawals.
func (h *ExchangeHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.exchange.Withdraw)
}

type transferFunc func(ctx context.Context, trader common.Address, symbol string, amount domain.Amount) (domain.Amount, error)

func (h *ExchangeHandler) transfer(w http.ResponseWriter, r *http.Request, fn transferFunc) {
	trader, err := callerAddress(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	var req transferRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	balance, err := fn(r.Context(), trader, req.Symbol, amount)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, transferResponse{
		Trader:  trader.Hex(),
		Symbol:  req.Symbol,
		Amount:  amount.Dec(),
		Balance: balance.Dec(),
	})
}

// CreateLimitOrder handles POST /orders/limit.
func (h *ExchangeHandler) CreateLimitOrder(w http.ResponseWriter, r *http.Request) {
	trader, err := callerAddress(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	var req limitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	order, trades, err := h.exchange.CreateLimitOrder(r.Context(), trader, req.Symbol, amount, price, domain.Side(req.Side))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, limitOrderResponse{
		Order:  buildOrderResponse(order),
		Trades: buildTradeResponses(trades),
	})
}

// CreateMarketOrder handles POST /orders/market.
func (h *ExchangeHandler) CreateMarketOrder(w http.ResponseWriter, r *http.Request) {
	trader, err := callerAddress(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	var req marketOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	trades, err := h.exchange.CreateMarketOrder(r.Context(), trader, req.Symbol, amount, domain.Side(req.Side))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	var filled domain.Amount
	for _, t := range trades {
		filled.Add(&filled, &t.Amount)
	}
	WriteJSON(w, http.StatusOK, marketOrderResponse{
		Symbol:          req.Symbol,
		Side:            req.Side,
		AmountRequested: amount.Dec(),
		Filled:          filled.Dec(),
		Trades:          buildTradeResponses(trades),
	})
}

// GetOrders handles GET /tokens/{symbol}/orders?side=BUY|SELL.
func (h *ExchangeHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	side := r.URL.Query().Get("side")

	orders, err := h.exchange.GetOrders(symbol, domain.Side(side))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	resp := bookOrdersResponse{
		Symbol: symbol,
		Side:   side,
		Orders: make([]orderResponse, len(orders)),
	}
	for i := range orders {
		resp.Orders[i] = buildOrderResponse(&orders[i])
	}
	WriteJSON(w, http.StatusOK, resp)
}
