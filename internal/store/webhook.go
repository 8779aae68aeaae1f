package store

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/efreitasn/dex/internal/domain"
)

// WebhookStore is a thread-safe in-memory set of webhook subscriptions,
// addressable both by webhook id and by (trader, event).
type WebhookStore struct {
	mu   sync.RWMutex
	subs map[domain.Subscription]*domain.Webhook
	ids  map[string]domain.Subscription
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		subs: make(map[domain.Subscription]*domain.Webhook),
		ids:  make(map[string]domain.Subscription),
	}
}

// Upsert stores w unless its trader already subscribes to w's event. In that
// case the existing subscription keeps its id and takes w's URL. Reports
// whether w was stored.
func (s *WebhookStore) Upsert(w *domain.Webhook) bool {
	sub := w.Subscription()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subs[sub]; ok {
		if existing.URL != w.URL {
			existing.URL = w.URL
			existing.UpdatedAt = w.UpdatedAt
		}
		return false
	}
	s.subs[sub] = w
	s.ids[w.WebhookID] = sub
	return true
}

// Get returns the webhook with id, or domain.ErrWebhookNotFound.
func (s *WebhookStore) Get(id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.ids[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return s.subs[sub], nil
}

// ListByTrader returns the subscriptions of trader in domain.WebhookEvents
// order. Never nil.
func (s *WebhookStore) ListByTrader(trader common.Address) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.Webhook{}
	for _, event := range domain.WebhookEvents {
		if w, ok := s.subs[domain.Subscription{Trader: trader, Event: event}]; ok {
			out = append(out, w)
		}
	}
	return out
}

// Delete removes the webhook with id, or returns domain.ErrWebhookNotFound.
func (s *WebhookStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.ids[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	delete(s.ids, id)
	delete(s.subs, sub)
	return nil
}

// Lookup returns a copy of the webhook registered under sub, or nil.
func (s *WebhookStore) Lookup(sub domain.Subscription) *domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.subs[sub]
	if !ok {
		return nil
	}
	cp := *w
	return &cp
}
