// Package token holds the token registry and the external ledger contract
// the exchange pulls deposits from and pushes withdrawals to.
package token

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/efreitasn/dex/internal/domain"
)

// Registry maps tickers to registered tokens. The quote ticker is fixed at
// construction; it still has to be added like any other token before it
// can be deposited.
type Registry struct {
	mu     sync.RWMutex
	quote  domain.Ticker
	tokens map[domain.Ticker]domain.Token
}

// NewRegistry creates an empty Registry whose quote asset is quote.
func NewRegistry(quote domain.Ticker) *Registry {
	return &Registry{
		quote:  quote,
		tokens: make(map[domain.Ticker]domain.Token),
	}
}

// Add registers a token. Tickers are immutable once registered.
func (r *Registry) Add(ticker domain.Ticker, handle common.Address) (domain.Token, error) {
	if handle == (common.Address{}) {
		return domain.Token{}, &domain.ValidationError{Message: "handle must be a non-zero address"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[ticker]; exists {
		return domain.Token{}, fmt.Errorf("%w: %s", domain.ErrTokenAlreadyExists, ticker)
	}
	t := domain.Token{Ticker: ticker, Handle: handle, AddedAt: time.Now().UTC()}
	r.tokens[ticker] = t
	return t, nil
}

// Restore inserts a previously persisted token without validation.
func (r *Registry) Restore(t domain.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Ticker] = t
}

// Lookup returns the token registered under ticker.
func (r *Registry) Lookup(ticker domain.Ticker) (domain.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[ticker]
	if !ok {
		return domain.Token{}, fmt.Errorf("%w: %s", domain.ErrUnknownToken, ticker)
	}
	return t, nil
}

// IsQuote reports whether ticker is the quote asset.
func (r *Registry) IsQuote(ticker domain.Ticker) bool {
	return ticker == r.quote
}

// Quote returns the quote asset's ticker.
func (r *Registry) Quote() domain.Ticker {
	return r.quote
}

// List returns every registered token ordered by ticker.
func (r *Registry) List() []domain.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ticker.String() < out[j].Ticker.String()
	})
	return out
}
