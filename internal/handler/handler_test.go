package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/service"
	"github.com/efreitasn/dex/internal/storage"
	"github.com/efreitasn/dex/internal/store"
	"github.com/efreitasn/dex/internal/token"
)

const (
	alice     = "0x00000000000000000000000000000000000000a1"
	bob       = "0x00000000000000000000000000000000000000b2"
	owner     = "0x00000000000000000000000000000000000000ff"
	custody   = "0x00000000000000000000000000000000000000cc"
	daiHandle = "0x00000000000000000000000000000000000000d1"
	repHandle = "0x00000000000000000000000000000000000000e1"
)

// testEnv bundles all dependencies for handler integration tests.
type testEnv struct {
	router   http.Handler
	exchange *service.Exchange
	bank     *token.Bank
}

type failingJournal struct{ fail bool }

func (j *failingJournal) Commit(storage.ChangeSet) error {
	if j.fail {
		return errors.New("disk full")
	}
	return nil
}

func newTestEnvWithJournal(t *testing.T, journal service.Journal) *testEnv {
	t.Helper()
	bank := token.NewBank()
	ex := service.NewExchange(service.ExchangeConfig{
		Quote:   domain.MustTicker("DAI"),
		Owner:   common.HexToAddress(owner),
		Custody: common.HexToAddress(custody),
		Ledger:  bank.Session(common.HexToAddress(custody)),
		Journal: journal,
		Logger:  zap.NewNop(),
	})
	ctx := context.Background()
	if _, err := ex.AddToken(ctx, common.HexToAddress(owner), "DAI", common.HexToAddress(daiHandle)); err != nil {
		t.Fatal(err)
	}
	if _, err := ex.AddToken(ctx, common.HexToAddress(owner), "REP", common.HexToAddress(repHandle)); err != nil {
		t.Fatal(err)
	}

	router := NewRouter(Services{
		Exchange: ex,
		Market:   service.NewMarketService(ex, 5*time.Minute),
		Trader:   service.NewTraderService(ex),
		Webhook:  service.NewWebhookService(store.NewWebhookStore(), 5*time.Second, zap.NewNop()),
		Bank:     bank,
	}, zap.NewNop())

	return &testEnv{router: router, exchange: ex, bank: bank}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithJournal(t, nil)
}

// do sends a request as caller (empty for anonymous) with an optional JSON body.
func (env *testEnv) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != "" {
		req.Header.Set(traderHeader, caller)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// doRaw sends a raw request with optional content-type override.
func (env *testEnv) doRaw(t *testing.T, method, path, contentType, rawBody string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(rawBody))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(traderHeader, alice)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// decodeJSON decodes the response body into v.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rr.Body.String())
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, wantCode int, wantKind string) {
	t.Helper()
	expectStatus(t, rr, wantCode)
	var resp errorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error != wantKind {
		t.Fatalf("expected error %q, got %q (%s)", wantKind, resp.Error, resp.Message)
	}
}

// deposit mints, approves and deposits through the API.
func (env *testEnv) deposit(t *testing.T, trader, symbol, handle, amount string) {
	t.Helper()
	body := map[string]string{"handle": handle, "amount": amount}
	expectStatus(t, env.do(t, "POST", "/dev/faucet", trader, body), http.StatusOK)
	expectStatus(t, env.do(t, "POST", "/dev/approve", trader, body), http.StatusOK)
	expectStatus(t, env.do(t, "POST", "/deposits", trader, map[string]string{"symbol": symbol, "amount": amount}), http.StatusOK)
}

func (env *testEnv) limit(t *testing.T, trader, side, amount, price string) map[string]any {
	t.Helper()
	rr := env.do(t, "POST", "/orders/limit", trader, map[string]string{
		"symbol": "REP", "amount": amount, "price": price, "side": side,
	})
	expectStatus(t, rr, http.StatusCreated)
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	return resp
}

// --- Healthz ---

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/healthz", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected application/json, got %s", ct)
	}
}

func TestHealthz_Halted(t *testing.T) {
	journal := &failingJournal{}
	env := newTestEnvWithJournal(t, journal)
	journal.fail = true

	body := map[string]string{"handle": repHandle, "amount": "10"}
	env.do(t, "POST", "/dev/faucet", alice, body)
	env.do(t, "POST", "/dev/approve", alice, body)
	rr := env.do(t, "POST", "/deposits", alice, map[string]string{"symbol": "REP", "amount": "10"})
	expectStatus(t, rr, http.StatusServiceUnavailable)
	var resp errorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error != "exchange_halted" || !strings.Contains(resp.Message, "may be applied") {
		t.Fatalf("failed commit must warn that the change may be applied, got %+v", resp)
	}
	// The deposit did move funds before the journal failed.
	if bal, _ := env.exchange.Balance(common.HexToAddress(alice), "REP"); bal.Uint64() != 10 {
		t.Fatalf("expected the in-memory balance to hold the deposit, got %s", bal.Dec())
	}

	rr = env.do(t, "POST", "/withdrawals", alice, map[string]string{"symbol": "REP", "amount": "1"})
	expectStatus(t, rr, http.StatusServiceUnavailable)
	decodeJSON(t, rr, &resp)
	if strings.Contains(resp.Message, "may be applied") {
		t.Fatalf("refused write must not claim a change, got %+v", resp)
	}

	expectError(t, env.do(t, "GET", "/healthz", "", nil), http.StatusServiceUnavailable, "exchange_halted")
	// Reads keep working.
	expectStatus(t, env.do(t, "GET", "/tokens", "", nil), http.StatusOK)
}

// --- Tokens ---

func TestTokens_AddAndList(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/tokens", owner, map[string]string{"symbol": "BAT", "handle": "0x00000000000000000000000000000000000000f1"})
	expectStatus(t, rr, http.StatusCreated)
	var created tokenResponse
	decodeJSON(t, rr, &created)
	if created.Symbol != "BAT" || created.IsQuote {
		t.Fatalf("got %+v", created)
	}

	rr = env.do(t, "GET", "/tokens", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var list tokenListResponse
	decodeJSON(t, rr, &list)
	if len(list.Tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(list.Tokens))
	}
	quotes := 0
	for _, tk := range list.Tokens {
		if tk.IsQuote {
			quotes++
			if tk.Symbol != "DAI" {
				t.Errorf("quote token is %s", tk.Symbol)
			}
		}
	}
	if quotes != 1 {
		t.Errorf("expected exactly one quote token, got %d", quotes)
	}
}

func TestTokens_AddErrors(t *testing.T) {
	env := newTestEnv(t)
	handle := "0x00000000000000000000000000000000000000f1"

	tests := []struct {
		name     string
		caller   string
		body     map[string]string
		wantCode int
		wantKind string
	}{
		{"not owner", alice, map[string]string{"symbol": "BAT", "handle": handle}, http.StatusForbidden, "unauthorized"},
		{"duplicate", owner, map[string]string{"symbol": "REP", "handle": handle}, http.StatusConflict, "token_already_exists"},
		{"bad symbol", owner, map[string]string{"symbol": "bat", "handle": handle}, http.StatusBadRequest, "validation_error"},
		{"bad handle", owner, map[string]string{"symbol": "BAT", "handle": "nope"}, http.StatusBadRequest, "validation_error"},
		{"no caller", "", map[string]string{"symbol": "BAT", "handle": handle}, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.do(t, "POST", "/tokens", tt.caller, tt.body), tt.wantCode, tt.wantKind)
		})
	}
}

// --- Custody ---

func TestDepositWithdraw(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, alice, "REP", repHandle, "100")

	rr := env.do(t, "POST", "/withdrawals", alice, map[string]string{"symbol": "REP", "amount": "30"})
	expectStatus(t, rr, http.StatusOK)
	var resp transferResponse
	decodeJSON(t, rr, &resp)
	if resp.Balance != "70" {
		t.Fatalf("expected balance 70, got %s", resp.Balance)
	}

	expectError(t, env.do(t, "POST", "/withdrawals", alice, map[string]string{"symbol": "REP", "amount": "71"}),
		http.StatusConflict, "insufficient_balance")
	expectError(t, env.do(t, "POST", "/deposits", alice, map[string]string{"symbol": "BAT", "amount": "1"}),
		http.StatusNotFound, "unknown_token")
	expectError(t, env.do(t, "POST", "/deposits", alice, map[string]string{"symbol": "REP", "amount": "1.5"}),
		http.StatusBadRequest, "validation_error")
	// No allowance left after the first deposit.
	expectError(t, env.do(t, "POST", "/deposits", alice, map[string]string{"symbol": "REP", "amount": "1"}),
		http.StatusConflict, "transfer_failed")

	rr = env.do(t, "GET", "/traders/"+alice+"/balances", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var bal balancesResponse
	decodeJSON(t, rr, &bal)
	if len(bal.Balances) != 1 || bal.Balances[0].Symbol != "REP" || bal.Balances[0].Amount != "70" {
		t.Fatalf("got balances %+v", bal.Balances)
	}
}

func TestTokens_GetAndTotals(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, alice, "REP", repHandle, "100")
	expectStatus(t, env.do(t, "POST", "/withdrawals", alice, map[string]string{"symbol": "REP", "amount": "30"}), http.StatusOK)

	rr := env.do(t, "GET", "/tokens/REP", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var tok tokenResponse
	decodeJSON(t, rr, &tok)
	if tok.Symbol != "REP" || !strings.EqualFold(tok.Handle, repHandle) || tok.IsQuote {
		t.Fatalf("got %+v", tok)
	}

	rr = env.do(t, "GET", "/tokens/REP/totals", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var sup supplyResponse
	decodeJSON(t, rr, &sup)
	if sup.Deposited != "100" || sup.Withdrawn != "30" || sup.Held != "70" {
		t.Fatalf("got %+v", sup)
	}

	expectError(t, env.do(t, "GET", "/tokens/BAT", "", nil), http.StatusNotFound, "unknown_token")
	expectError(t, env.do(t, "GET", "/tokens/BAT/totals", "", nil), http.StatusNotFound, "unknown_token")
}

// --- Orders ---

func TestOrders_LimitThenMarket(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, alice, "DAI", daiHandle, "100")
	env.deposit(t, bob, "REP", repHandle, "100")

	resp := env.limit(t, alice, "BUY", "10", "10")
	order := resp["order"].(map[string]any)
	if order["order_id"] != float64(1) || order["status"] != "open" || order["remaining"] != "10" {
		t.Fatalf("unexpected order %v", order)
	}

	rr := env.do(t, "POST", "/orders/market", bob, map[string]string{"symbol": "REP", "amount": "5", "side": "SELL"})
	expectStatus(t, rr, http.StatusOK)
	var market marketOrderResponse
	decodeJSON(t, rr, &market)
	if market.Filled != "5" || len(market.Trades) != 1 {
		t.Fatalf("got %+v", market)
	}
	tr := market.Trades[0]
	if tr.Price != "10" || tr.BuyOrderID == nil || *tr.BuyOrderID != 1 || tr.SellOrderID != nil || tr.TakerSide != "SELL" {
		t.Fatalf("unexpected trade %+v", tr)
	}

	rr = env.do(t, "GET", "/tokens/REP/orders?side=BUY", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var book bookOrdersResponse
	decodeJSON(t, rr, &book)
	if len(book.Orders) != 1 || book.Orders[0].Filled != "5" || book.Orders[0].Status != "partially_filled" {
		t.Fatalf("got %+v", book.Orders)
	}

	rr = env.do(t, "GET", "/traders/"+bob+"/balances", "", nil)
	var bal balancesResponse
	decodeJSON(t, rr, &bal)
	got := map[string]string{}
	for _, b := range bal.Balances {
		got[b.Symbol] = b.Amount
	}
	if got["DAI"] != "50" || got["REP"] != "95" {
		t.Fatalf("bob balances = %v", got)
	}
}

func TestOrders_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, alice, "DAI", daiHandle, "100")

	tests := []struct {
		name     string
		path     string
		body     map[string]string
		wantCode int
		wantKind string
	}{
		{"quote asset", "/orders/limit", map[string]string{"symbol": "DAI", "amount": "1", "price": "1", "side": "BUY"}, http.StatusBadRequest, "cannot_trade_quote_asset"},
		{"unknown token", "/orders/limit", map[string]string{"symbol": "BAT", "amount": "1", "price": "1", "side": "BUY"}, http.StatusNotFound, "unknown_token"},
		{"bad side", "/orders/limit", map[string]string{"symbol": "REP", "amount": "1", "price": "1", "side": "HOLD"}, http.StatusBadRequest, "validation_error"},
		{"missing price", "/orders/limit", map[string]string{"symbol": "REP", "amount": "1", "side": "BUY"}, http.StatusBadRequest, "validation_error"},
		{"quote short", "/orders/limit", map[string]string{"symbol": "REP", "amount": "11", "price": "10", "side": "BUY"}, http.StatusConflict, "insufficient_quote_balance"},
		{"token short", "/orders/limit", map[string]string{"symbol": "REP", "amount": "1", "price": "1", "side": "SELL"}, http.StatusConflict, "insufficient_token_balance"},
		{"market token short", "/orders/market", map[string]string{"symbol": "REP", "amount": "1", "side": "SELL"}, http.StatusConflict, "insufficient_token_balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.do(t, "POST", tt.path, alice, tt.body), tt.wantCode, tt.wantKind)
		})
	}
}

func TestOrders_PriceTimePriority(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, alice, "REP", repHandle, "100")
	env.deposit(t, bob, "DAI", daiHandle, "1000")

	env.limit(t, alice, "SELL", "5", "11") // id 1
	env.limit(t, alice, "SELL", "5", "10") // id 2
	env.limit(t, alice, "SELL", "5", "10") // id 3

	resp := env.limit(t, bob, "BUY", "7", "11")
	trades := resp["trades"].([]any)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	first := trades[0].(map[string]any)
	second := trades[1].(map[string]any)
	if first["sell_order_id"] != float64(2) || first["amount"] != "5" || first["price"] != "10" {
		t.Fatalf("first fill should take order 2 at 10, got %v", first)
	}
	if second["sell_order_id"] != float64(3) || second["amount"] != "2" {
		t.Fatalf("second fill should take order 3, got %v", second)
	}
}

func TestTraderOrders_Pagination(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, alice, "DAI", daiHandle, "1000")
	for i := 1; i <= 3; i++ {
		env.limit(t, alice, "BUY", "1", fmt.Sprint(i))
	}

	rr := env.do(t, "GET", "/traders/"+alice+"/orders?page=1&limit=2", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var list orderListResponse
	decodeJSON(t, rr, &list)
	if list.Total != 3 || len(list.Orders) != 2 || list.Orders[0].OrderID != 3 {
		t.Fatalf("got %+v", list)
	}

	expectError(t, env.do(t, "GET", "/traders/"+alice+"/orders?limit=x", "", nil), http.StatusBadRequest, "validation_error")
	expectError(t, env.do(t, "GET", "/traders/"+alice+"/orders?status=cancelled", "", nil), http.StatusBadRequest, "validation_error")
	expectError(t, env.do(t, "GET", "/traders/not-an-address/orders", "", nil), http.StatusBadRequest, "validation_error")
}

// --- Market data ---

func TestMarket_BookQuotePrice(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, alice, "DAI", daiHandle, "1000")
	env.deposit(t, bob, "REP", repHandle, "100")
	env.limit(t, alice, "BUY", "5", "9")
	env.limit(t, bob, "SELL", "4", "12")

	rr := env.do(t, "GET", "/tokens/REP/book?depth=5", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var book bookResponse
	decodeJSON(t, rr, &book)
	if len(book.Bids) != 1 || len(book.Asks) != 1 || book.Spread == nil || *book.Spread != "3" {
		t.Fatalf("got %+v", book)
	}
	if book.BidOrders != 1 || book.AskOrders != 1 {
		t.Fatalf("expected one resting order per side, got %d/%d", book.BidOrders, book.AskOrders)
	}
	expectError(t, env.do(t, "GET", "/tokens/REP/book?depth=abc", "", nil), http.StatusBadRequest, "validation_error")
	expectError(t, env.do(t, "GET", "/tokens/REP/book?depth=51", "", nil), http.StatusBadRequest, "validation_error")

	rr = env.do(t, "GET", "/tokens/REP/quote?side=BUY&amount=6", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var quote quoteResponse
	decodeJSON(t, rr, &quote)
	if quote.FullyFillable || quote.AmountAvailable != "4" || quote.EstimatedTotal == nil || *quote.EstimatedTotal != "48" {
		t.Fatalf("got %+v", quote)
	}
	expectError(t, env.do(t, "GET", "/tokens/REP/quote?side=BUY", "", nil), http.StatusBadRequest, "validation_error")

	rr = env.do(t, "GET", "/tokens/REP/price", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var price map[string]any
	decodeJSON(t, rr, &price)
	if price["current_price"] != nil || price["window"] != "5m" {
		t.Fatalf("expected null price before any trade, got %v", price)
	}
	expectError(t, env.do(t, "GET", "/tokens/DAI/price", "", nil), http.StatusBadRequest, "cannot_trade_quote_asset")
}

func TestMarket_Trades(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, alice, "DAI", "1000")
	env.deposit(t, bob, "REP", "100")
	env.limit(t, alice, "BUY", "2", "10")
	env.limit(t, bob, "SELL", "1", "10")
	env.limit(t, bob, "SELL", "1", "10")

	rr := env.do(t, "GET", "/tokens/REP/trades?limit=1", "", nil)
	expectStatus(t, rr, http.StatusOK)
	var resp tradeListResponse
	decodeJSON(t, rr, &resp)
	if len(resp.Trades) != 1 || resp.Trades[0].Price != "10" || resp.Trades[0].TakerSide != "SELL" {
		t.Fatalf("got %+v", resp)
	}

	rr = env.do(t, "GET", "/tokens/REP/trades", "", nil)
	expectStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &resp)
	if len(resp.Trades) != 2 {
		t.Fatalf("expected both trades by default, got %d", len(resp.Trades))
	}

	expectError(t, env.do(t, "GET", "/tokens/REP/trades?limit=x", "", nil), http.StatusBadRequest, "validation_error")
	expectError(t, env.do(t, "GET", "/tokens/REP/trades?limit=501", "", nil), http.StatusBadRequest, "validation_error")
}

// --- Webhooks ---

func TestWebhooks_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/webhooks", alice, map[string]any{
		"url":    "https://example.com/hooks",
		"events": []string{"trade.executed", "order.filled"},
	})
	expectStatus(t, rr, http.StatusCreated)
	var created webhookListResponse
	decodeJSON(t, rr, &created)
	if len(created.Webhooks) != 2 {
		t.Fatalf("expected 2 webhooks, got %d", len(created.Webhooks))
	}

	// Same registration again is a no-op.
	rr = env.do(t, "POST", "/webhooks", alice, map[string]any{
		"url":    "https://example.com/hooks",
		"events": []string{"trade.executed"},
	})
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(t, "GET", "/webhooks?trader="+alice, "", nil)
	expectStatus(t, rr, http.StatusOK)
	var list webhookListResponse
	decodeJSON(t, rr, &list)
	if len(list.Webhooks) != 2 {
		t.Fatalf("expected 2 webhooks, got %d", len(list.Webhooks))
	}
	expectError(t, env.do(t, "GET", "/webhooks", "", nil), http.StatusBadRequest, "validation_error")

	id := created.Webhooks[0].WebhookID
	expectError(t, env.do(t, "DELETE", "/webhooks/"+id, bob, nil), http.StatusForbidden, "unauthorized")
	expectStatus(t, env.do(t, "DELETE", "/webhooks/"+id, alice, nil), http.StatusNoContent)
	expectError(t, env.do(t, "DELETE", "/webhooks/"+id, alice, nil), http.StatusNotFound, "webhook_not_found")

	expectError(t, env.do(t, "POST", "/webhooks", alice, map[string]any{
		"url":    "http://example.com/hooks",
		"events": []string{"trade.executed"},
	}), http.StatusBadRequest, "validation_error")
}

// --- Content-Type Validation ---

func TestContentType_MissingOnPost(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doRaw(t, "POST", "/deposits", "", `{"symbol":"REP","amount":"1"}`)
	expectError(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestContentType_WrongOnPost(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doRaw(t, "POST", "/deposits", "text/plain", `{"symbol":"REP","amount":"1"}`)
	expectError(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestUnknownFieldRejected(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doRaw(t, "POST", "/deposits", "application/json", `{"symbol":"REP","amount":"1","memo":"x"}`)
	expectError(t, rr, http.StatusBadRequest, "invalid_request")
}

// --- Response Format Validation ---

func TestResponseFormat_AmountsAreStrings(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, alice, "DAI", daiHandle, "115792089237316195423570985008687907853269984665640564039457584007913129639935")

	rr := env.do(t, "GET", "/traders/"+alice+"/balances", "", nil)
	body := rr.Body.String()
	if !strings.Contains(body, `"amount":"115792089237316195423570985008687907853269984665640564039457584007913129639935"`) {
		t.Fatalf("expected exact decimal string amount, got %s", body)
	}
	for _, bad := range []string{"asOf", "Balances", "Trader"} {
		if strings.Contains(body, `"`+bad+`"`) {
			t.Fatalf("response contains non snake_case field %q: %s", bad, body)
		}
	}
}

func TestResponseFormat_TimestampRFC3339(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, alice, "DAI", daiHandle, "100")
	order := env.limit(t, alice, "BUY", "1", "1")["order"].(map[string]any)

	createdAt, ok := order["created_at"].(string)
	if !ok {
		t.Fatal("created_at should be a string")
	}
	if _, err := time.Parse(time.RFC3339, createdAt); err != nil {
		t.Fatalf("created_at not RFC 3339: %s", createdAt)
	}
}
