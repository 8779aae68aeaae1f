package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/service"
)

// TraderHandler handles HTTP requests for per-trader endpoints.
type TraderHandler struct {
	traderSvc *service.TraderService
}

// NewTraderHandler creates a new TraderHandler.
func NewTraderHandler(traderSvc *service.TraderService) *TraderHandler {
	return &TraderHandler{traderSvc: traderSvc}
}

// balanceEntry is a single token balance.
type balanceEntry struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

// balancesResponse is the JSON response for GET /traders/{address}/balances.
type balancesResponse struct {
	Trader   string         `json:"trader"`
	Balances []balanceEntry `json:"balances"`
	AsOf     string         `json:"as_of"`
}

// orderListResponse is the JSON response for GET /traders/{address}/orders.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

// GetBalances handles GET /traders/{address}/balances.
func (h *TraderHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	trader, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	resp := h.traderSvc.GetBalances(trader)
	entries := make([]balanceEntry, len(resp.Balances))
	for i, b := range resp.Balances {
		entries[i] = balanceEntry{Symbol: b.Ticker.String(), Amount: b.Amount.Dec()}
	}

	WriteJSON(w, http.StatusOK, balancesResponse{
		Trader:   resp.Trader.Hex(),
		Balances: entries,
		AsOf:     resp.AsOf.Format(timeFormat),
	})
}

// ListOrders handles GET /traders/{address}/orders.
func (h *TraderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	trader, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		page, err = strconv.Atoi(p)
		if err != nil {
			WriteError(w, http.StatusBadRequest, domain.KindValidation, "page must be a valid integer")
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil {
			WriteError(w, http.StatusBadRequest, domain.KindValidation, "limit must be a valid integer")
			return
		}
	}

	orders, total, err := h.traderSvc.ListOrders(trader, r.URL.Query().Get("status"), page, limit)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	summaries := make([]orderResponse, len(orders))
	for i := range orders {
		summaries[i] = buildOrderResponse(&orders[i])
	}

	WriteJSON(w, http.StatusOK, orderListResponse{
		Orders: summaries,
		Total:  total,
		Page:   page,
		Limit:  limit,
	})
}
