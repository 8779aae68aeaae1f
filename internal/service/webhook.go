package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/store"
)

func validWebhookEvent(event string) bool {
	return slices.Contains(domain.WebhookEvents, event)
}

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	Trader common.Address
	URL    string
	Events []string
}

// WebhookService handles webhook CRUD and event dispatch.
type WebhookService struct {
	store  *store.WebhookStore
	client *http.Client
	logger *zap.Logger
}

// NewWebhookService creates a new WebhookService with the given dependencies.
func NewWebhookService(webhookStore *store.WebhookStore, webhookTimeout time.Duration, logger *zap.Logger) *WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{
		store:  webhookStore,
		client: &http.Client{Timeout: webhookTimeout},
		logger: logger,
	}
}

// Upsert validates the request and creates or updates webhook subscriptions.
// Returns the resulting webhooks, whether any new subscriptions were created, and any error.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]*domain.Webhook, bool, error) {
	if req.Trader == (common.Address{}) {
		return nil, false, &domain.ValidationError{Message: "trader address is required"}
	}

	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	// Deduplicate events while preserving order.
	seen := make(map[string]bool, len(req.Events))
	events := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !validWebhookEvent(event) {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: trade.executed, order.filled",
			}
		}
		if !seen[event] {
			seen[event] = true
			events = append(events, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]*domain.Webhook, 0, len(events))

	for _, event := range events {
		w := &domain.Webhook{
			WebhookID: uuid.New().String(),
			Trader:    req.Trader,
			Event:     event,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if s.store.Upsert(w) {
			anyCreated = true
			webhooks = append(webhooks, w)
		} else if existing := s.store.Lookup(domain.Subscription{Trader: req.Trader, Event: event}); existing != nil {
			webhooks = append(webhooks, existing)
		}
	}

	return webhooks, anyCreated, nil
}

// List returns all webhook subscriptions of trader.
func (s *WebhookService) List(trader common.Address) []*domain.Webhook {
	return s.store.ListByTrader(trader)
}

// Delete removes a webhook subscription. Only its owner may delete it.
func (s *WebhookService) Delete(caller common.Address, webhookID string) error {
	w, err := s.store.Get(webhookID)
	if err != nil {
		return err
	}
	if w.Trader != caller {
		return fmt.Errorf("%w: webhook belongs to another trader", domain.ErrUnauthorized)
	}
	return s.store.Delete(webhookID)
}

type webhookPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

type tradeExecutedData struct {
	TradeID      string  `json:"trade_id"`
	Trader       string  `json:"trader"`
	OrderID      *uint64 `json:"order_id"` // null for market orders
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Price        string  `json:"price"`
	Amount       string  `json:"amount"`
	Counterparty string  `json:"counterparty"`
	Taker        bool    `json:"taker"`
}

type orderFilledData struct {
	OrderID uint64 `json:"order_id"`
	Trader  string `json:"trader"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Amount  string `json:"amount"`
	Filled  string `json:"filled"`
	Status  string `json:"status"`
}

func orderIDPtr(id uint64) *uint64 {
	if id == 0 {
		return nil
	}
	return &id
}

// NotifyExecution dispatches trade.executed to both counterparties of every
// trade and order.filled to the owner of every completed order.
// Deliveries run in the background.
func (s *WebhookService) NotifyExecution(exec Execution) {
	for _, t := range exec.Trades {
		ts := t.ExecutedAt.UTC().Truncate(time.Second).Format(time.RFC3339)
		buy := tradeExecutedData{
			TradeID:      t.TradeID,
			Trader:       t.Buyer.Hex(),
			OrderID:      orderIDPtr(t.BuyOrderID),
			Symbol:       t.Ticker.String(),
			Side:         string(domain.SideBuy),
			Price:        t.Price.Dec(),
			Amount:       t.Amount.Dec(),
			Counterparty: t.Seller.Hex(),
			Taker:        t.TakerSide == domain.SideBuy,
		}
		sell := buy
		sell.Trader = t.Seller.Hex()
		sell.OrderID = orderIDPtr(t.SellOrderID)
		sell.Side = string(domain.SideSell)
		sell.Counterparty = t.Buyer.Hex()
		sell.Taker = t.TakerSide == domain.SideSell

		s.dispatch(t.Buyer, domain.EventTradeExecuted, ts, buy)
		s.dispatch(t.Seller, domain.EventTradeExecuted, ts, sell)
	}

	now := time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
	for _, o := range exec.FilledOrders {
		s.dispatch(o.Trader, domain.EventOrderFilled, now, orderFilledData{
			OrderID: o.ID,
			Trader:  o.Trader.Hex(),
			Symbol:  o.Ticker.String(),
			Side:    string(o.Side),
			Price:   o.Price.Dec(),
			Amount:  o.Amount.Dec(),
			Filled:  o.Filled.Dec(),
			Status:  string(o.Status()),
		})
	}
}

func (s *WebhookService) dispatch(trader common.Address, event, timestamp string, data any) {
	wh := s.store.Lookup(domain.Subscription{Trader: trader, Event: event})
	if wh == nil {
		return
	}
	go s.deliver(wh, webhookPayload{Event: event, Timestamp: timestamp, Data: data})
}

// deliver POSTs the payload once. Failures are logged and dropped.
func (s *WebhookService) deliver(wh *domain.Webhook, payload webhookPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("webhook marshal failed", zap.String("webhook_id", wh.WebhookID), zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("webhook request build failed", zap.String("webhook_id", wh.WebhookID), zap.Error(err))
		return
	}

	deliveryID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", deliveryID)
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", payload.Event)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("webhook delivery failed",
			zap.String("webhook_id", wh.WebhookID),
			zap.String("delivery_id", deliveryID),
			zap.Error(err),
		)
		return
	}
	resp.Body.Close()
	s.logger.Debug("webhook delivered",
		zap.String("webhook_id", wh.WebhookID),
		zap.String("event", payload.Event),
		zap.Int("status", resp.StatusCode),
	)
}
