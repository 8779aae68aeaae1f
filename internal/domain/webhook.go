package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Webhook events a trader can subscribe to.
const (
	EventTradeExecuted = "trade.executed"
	EventOrderFilled   = "order.filled"
)

// WebhookEvents lists every event, in the order subscriptions are listed.
var WebhookEvents = []string{EventOrderFilled, EventTradeExecuted}

// Subscription identifies a webhook. A trader holds at most one per event.
type Subscription struct {
	Trader common.Address
	Event  string
}

// Webhook represents a trader's subscription to an event notification.
type Webhook struct {
	WebhookID string
	Trader    common.Address
	Event     string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscription returns the (trader, event) pair w is registered under.
func (w *Webhook) Subscription() Subscription {
	return Subscription{Trader: w.Trader, Event: w.Event}
}
