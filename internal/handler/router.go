package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/service"
	"github.com/efreitasn/dex/internal/token"
)

// Services are the dependencies of the HTTP surface.
type Services struct {
	Exchange *service.Exchange
	Market   *service.MarketService
	Trader   *service.TraderService
	Webhook  *service.WebhookService
	// Bank mounts the /dev routes when non-nil.
	Bank *token.Bank
}

// NewRouter creates a chi router with all routes registered, request logging,
// panic recovery and Content-Type validation middleware.
func NewRouter(svcs Services, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(middleware.Recoverer)
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	exchangeH := NewExchangeHandler(svcs.Exchange)
	marketH := NewMarketHandler(svcs.Market)
	traderH := NewTraderHandler(svcs.Trader)
	webhookH := NewWebhookHandler(svcs.Webhook)

	// Health check. A halted exchange still serves reads but reports 503.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := svcs.Exchange.Healthy(); err != nil {
			WriteError(w, http.StatusServiceUnavailable, domain.Kind(err), err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Token routes.
	r.Post("/tokens", exchangeH.AddToken)
	r.Get("/tokens", exchangeH.ListTokens)
	r.Get("/tokens/{symbol}", exchangeH.GetToken)
	r.Get("/tokens/{symbol}/totals", exchangeH.GetTotals)
	r.Get("/tokens/{symbol}/orders", exchangeH.GetOrders)
	r.Get("/tokens/{symbol}/book", marketH.GetBook)
	r.Get("/tokens/{symbol}/quote", marketH.GetQuote)
	r.Get("/tokens/{symbol}/price", marketH.GetPrice)
	r.Get("/tokens/{symbol}/trades", marketH.GetTrades)

	// Custody routes.
	r.Post("/deposits", exchangeH.Deposit)
	r.Post("/withdrawals", exchangeH.Withdraw)

	// Order routes.
	r.Post("/orders/limit", exchangeH.CreateLimitOrder)
	r.Post("/orders/market", exchangeH.CreateMarketOrder)

	// Trader routes.
	r.Get("/traders/{address}/balances", traderH.GetBalances)
	r.Get("/traders/{address}/orders", traderH.ListOrders)

	// Webhook routes.
	r.Post("/webhooks", webhookH.Upsert)
	r.Get("/webhooks", webhookH.List)
	r.Delete("/webhooks/{webhook_id}", webhookH.Delete)

	if svcs.Bank != nil {
		devH := NewDevHandler(svcs.Bank, svcs.Exchange.Custody())
		r.Route("/dev", func(r chi.Router) {
			r.Post("/faucet", devH.Faucet)
			r.Post("/approve", devH.Approve)
		})
	}

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration.
func requestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
