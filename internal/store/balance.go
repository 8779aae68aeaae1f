package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/efreitasn/dex/internal/domain"
)

// BalanceKey identifies one internal balance.
type BalanceKey struct {
	Trader common.Address
	Ticker domain.Ticker
}

// Totals are the lifetime flows of one token across the custody boundary.
// For every token, the sum of balances equals Deposited - Withdrawn.
type Totals struct {
	Deposited domain.Amount
	Withdrawn domain.Amount
}

// BalanceStore is a thread-safe in-memory ledger of (trader, ticker)
// balances plus per-token deposit and withdrawal totals.
type BalanceStore struct {
	mu       sync.RWMutex
	balances map[common.Address]map[domain.Ticker]domain.Amount
	totals   map[domain.Ticker]Totals
}

// NewBalanceStore creates an empty BalanceStore.
func NewBalanceStore() *BalanceStore {
	return &BalanceStore{
		balances: make(map[common.Address]map[domain.Ticker]domain.Amount),
		totals:   make(map[domain.Ticker]Totals),
	}
}

// Get returns the balance for (trader, ticker); zero when absent.
func (s *BalanceStore) Get(trader common.Address, ticker domain.Ticker) domain.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balances[trader][ticker]
}

// ListByTrader returns every non-zero balance of a trader ordered by ticker.
func (s *BalanceStore) ListByTrader(trader common.Address) []domain.Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Balance, 0, len(s.balances[trader]))
	for ticker, amount := range s.balances[trader] {
		if amount.IsZero() {
			continue
		}
		out = append(out, domain.Balance{Trader: trader, Ticker: ticker, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ticker.String() < out[j].Ticker.String()
	})
	return out
}

// CanDeposit reports whether crediting amount of ticker would overflow.
// Every balance is bounded by the deposit total, so checking it is enough.
func (s *BalanceStore) CanDeposit(ticker domain.Ticker, amount domain.Amount) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.totals[ticker]
	if _, overflow := t.Deposited.AddOverflow(&t.Deposited, &amount); overflow {
		return fmt.Errorf("deposit %s: %w", ticker, domain.ErrAmountOverflow)
	}
	return nil
}

// Deposit credits amount and records it in the token's deposit total.
func (s *BalanceStore) Deposit(trader common.Address, ticker domain.Ticker, amount domain.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.totals[ticker]
	if _, overflow := t.Deposited.AddOverflow(&t.Deposited, &amount); overflow {
		return fmt.Errorf("deposit %s: %w", ticker, domain.ErrAmountOverflow)
	}
	s.totals[ticker] = t

	bal := s.balances[trader][ticker]
	bal.Add(&bal, &amount)
	s.set(trader, ticker, bal)
	return nil
}

// Withdraw debits amount and records it in the token's withdrawal total.
func (s *BalanceStore) Withdraw(trader common.Address, ticker domain.Ticker, amount domain.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := s.balances[trader][ticker]
	if bal.Lt(&amount) {
		return fmt.Errorf("%w: %s balance %s below %s", domain.ErrInsufficientBalance, ticker, bal.Dec(), amount.Dec())
	}
	bal.Sub(&bal, &amount)
	s.set(trader, ticker, bal)

	t := s.totals[ticker]
	t.Withdrawn.Add(&t.Withdrawn, &amount)
	s.totals[ticker] = t
	return nil
}

// Apply overwrites a set of balances in one step. The matcher uses it to
// commit settlement results it has already validated.
func (s *BalanceStore) Apply(updates map[BalanceKey]domain.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range updates {
		s.set(k.Trader, k.Ticker, v)
	}
}

// Restore loads persisted state, replacing whatever was there.
func (s *BalanceStore) Restore(balances map[BalanceKey]domain.Amount, totals map[domain.Ticker]Totals) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances = make(map[common.Address]map[domain.Ticker]domain.Amount)
	for k, v := range balances {
		s.set(k.Trader, k.Ticker, v)
	}
	s.totals = make(map[domain.Ticker]Totals, len(totals))
	for k, v := range totals {
		s.totals[k] = v
	}
}

// Totals returns the deposit and withdrawal totals for ticker.
func (s *BalanceStore) Totals(ticker domain.Ticker) Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.totals[ticker]
}

// Sum returns the sum of all trader balances for ticker.
func (s *BalanceStore) Sum(ticker domain.Ticker) domain.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum domain.Amount
	for _, byTicker := range s.balances {
		v := byTicker[ticker]
		sum.Add(&sum, &v)
	}
	return sum
}

func (s *BalanceStore) set(trader common.Address, ticker domain.Ticker, v domain.Amount) {
	if s.balances[trader] == nil {
		s.balances[trader] = make(map[domain.Ticker]domain.Amount)
	}
	s.balances[trader][ticker] = v
}
