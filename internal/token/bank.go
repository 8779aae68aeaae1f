package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/efreitasn/dex/internal/domain"
)

// Ledger is the external token ledger as seen by one caller. Both calls
// move funds owned outside the exchange and either succeed completely or
// change nothing.
type Ledger interface {
	// TransferFrom moves amount of the token at handle from owner to to,
	// spending the caller's allowance.
	TransferFrom(ctx context.Context, handle, owner, to common.Address, amount domain.Amount) error
	// Transfer moves amount of the token at handle from the caller to to.
	Transfer(ctx context.Context, handle, to common.Address, amount domain.Amount) error
}

// Holding is one account balance on a token contract.
type Holding struct {
	Handle common.Address
	Owner  common.Address
	Amount domain.Amount
}

// Approval is what Spender may move out of Owner's balance.
type Approval struct {
	Handle  common.Address
	Owner   common.Address
	Spender common.Address
	Amount  domain.Amount
}

// Change carries the current value of every ledger entry it names.
type Change struct {
	Holdings  []Holding
	Approvals []Approval
}

// IsEmpty reports whether c names no entries.
func (c Change) IsEmpty() bool { return len(c.Holdings) == 0 && len(c.Approvals) == 0 }

// Journal persists ledger entries written outside an exchange operation.
type Journal interface {
	CommitLedger(Change) error
}

type holdingKey struct{ handle, owner common.Address }

type approvalKey struct{ handle, owner, spender common.Address }

type contract struct {
	balances   map[common.Address]domain.Amount
	allowances map[common.Address]map[common.Address]domain.Amount // owner → spender → allowance
	supply     domain.Amount
}

// Bank is an in-memory set of ERC-20 style contracts keyed by handle. It
// backs development deployments and tests. With a Journal, faucet and
// approve calls are persisted immediately and transfers are collected until
// the next Flush.
type Bank struct {
	mu        sync.Mutex
	contracts map[common.Address]*contract

	journal    Journal
	dirtyHold  map[holdingKey]struct{}
	dirtyAllow map[approvalKey]struct{}
}

// NewBank creates a Bank with no contracts that keeps nothing on disk.
func NewBank() *Bank {
	return &Bank{contracts: make(map[common.Address]*contract)}
}

// NewJournaledBank creates a Bank whose entries survive restarts through j.
func NewJournaledBank(j Journal) *Bank {
	b := NewBank()
	b.journal = j
	b.dirtyHold = make(map[holdingKey]struct{})
	b.dirtyAllow = make(map[approvalKey]struct{})
	return b
}

func (b *Bank) get(handle common.Address, create bool) (*contract, error) {
	c, ok := b.contracts[handle]
	if ok {
		return c, nil
	}
	if !create {
		return nil, fmt.Errorf("%w: no contract at %s", domain.ErrTransferFailed, handle.Hex())
	}
	c = &contract{
		balances:   make(map[common.Address]domain.Amount),
		allowances: make(map[common.Address]map[common.Address]domain.Amount),
	}
	b.contracts[handle] = c
	return c, nil
}

func (c *contract) approve(owner, spender common.Address, amount domain.Amount) {
	if c.allowances[owner] == nil {
		c.allowances[owner] = make(map[common.Address]domain.Amount)
	}
	c.allowances[owner][spender] = amount
}

// Faucet mints amount to the holder, deploying the contract on first use.
func (b *Bank) Faucet(handle, to common.Address, amount domain.Amount) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, _ := b.get(handle, true)
	var supply domain.Amount
	if _, overflow := supply.AddOverflow(&c.supply, &amount); overflow {
		return domain.ErrAmountOverflow
	}
	bal := c.balances[to]
	bal.Add(&bal, &amount)
	if b.journal != nil {
		h := Holding{Handle: handle, Owner: to, Amount: bal}
		if err := b.journal.CommitLedger(Change{Holdings: []Holding{h}}); err != nil {
			return fmt.Errorf("faucet: %w", err)
		}
	}
	c.balances[to] = bal
	c.supply = supply
	return nil
}

// Approve sets the allowance spender may move out of owner's balance.
func (b *Bank) Approve(handle, owner, spender common.Address, amount domain.Amount) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, _ := b.get(handle, true)
	if b.journal != nil {
		a := Approval{Handle: handle, Owner: owner, Spender: spender, Amount: amount}
		if err := b.journal.CommitLedger(Change{Approvals: []Approval{a}}); err != nil {
			return fmt.Errorf("approve: %w", err)
		}
	}
	c.approve(owner, spender, amount)
	return nil
}

// Allowance returns what spender may still move out of owner's balance.
func (b *Bank) Allowance(handle, owner, spender common.Address) domain.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.get(handle, false)
	if err != nil {
		return domain.Amount{}
	}
	return c.allowances[owner][spender]
}

// BalanceOf returns owner's balance of the token at handle.
func (b *Bank) BalanceOf(handle, owner common.Address) domain.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.get(handle, false)
	if err != nil {
		return domain.Amount{}
	}
	return c.balances[owner]
}

// TransferFrom moves amount from owner to to on behalf of spender.
func (b *Bank) TransferFrom(_ context.Context, handle, spender, owner, to common.Address, amount domain.Amount) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.get(handle, false)
	if err != nil {
		return err
	}
	allowance := c.allowances[owner][spender]
	if allowance.Lt(&amount) {
		return fmt.Errorf("%w: allowance %s below %s", domain.ErrTransferFailed, allowance.Dec(), amount.Dec())
	}
	if err := c.move(owner, to, amount); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	allowance.Sub(&allowance, &amount)
	c.allowances[owner][spender] = allowance
	b.touch(handle, owner, to)
	if b.dirtyAllow != nil {
		b.dirtyAllow[approvalKey{handle, owner, spender}] = struct{}{}
	}
	return nil
}

// Transfer moves amount from sender to to.
func (b *Bank) Transfer(_ context.Context, handle, sender, to common.Address, amount domain.Amount) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.get(handle, false)
	if err != nil {
		return err
	}
	if err := c.move(sender, to, amount); err != nil {
		return err
	}
	b.touch(handle, sender, to)
	return nil
}

func (b *Bank) touch(handle common.Address, owners ...common.Address) {
	if b.dirtyHold == nil {
		return
	}
	for _, o := range owners {
		b.dirtyHold[holdingKey{handle, o}] = struct{}{}
	}
}

func (c *contract) move(from, to common.Address, amount domain.Amount) error {
	fromBal := c.balances[from]
	if fromBal.Lt(&amount) {
		return fmt.Errorf("%w: balance %s below %s", domain.ErrTransferFailed, fromBal.Dec(), amount.Dec())
	}
	fromBal.Sub(&fromBal, &amount)
	c.balances[from] = fromBal
	toBal := c.balances[to]
	toBal.Add(&toBal, &amount)
	c.balances[to] = toBal
	return nil
}

// Flush hands fn the current value of every entry transfers touched since
// the last successful Flush. The bank stays locked while fn runs, so fn
// can write the entries in the same batch as the exchange state that
// caused them. Entries stay pending when fn fails.
func (b *Bank) Flush(fn func(Change) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ch Change
	for k := range b.dirtyHold {
		ch.Holdings = append(ch.Holdings, Holding{
			Handle: k.handle,
			Owner:  k.owner,
			Amount: b.contracts[k.handle].balances[k.owner],
		})
	}
	for k := range b.dirtyAllow {
		ch.Approvals = append(ch.Approvals, Approval{
			Handle:  k.handle,
			Owner:   k.owner,
			Spender: k.spender,
			Amount:  b.contracts[k.handle].allowances[k.owner][k.spender],
		})
	}
	if err := fn(ch); err != nil {
		return err
	}
	clear(b.dirtyHold)
	clear(b.dirtyAllow)
	return nil
}

// Restore loads persisted entries. Supplies are rebuilt from balances.
func (b *Bank) Restore(ch Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, h := range ch.Holdings {
		c, _ := b.get(h.Handle, true)
		c.balances[h.Owner] = h.Amount
		c.supply.Add(&c.supply, &h.Amount)
	}
	for _, a := range ch.Approvals {
		c, _ := b.get(a.Handle, true)
		c.approve(a.Owner, a.Spender, a.Amount)
	}
}

// Session binds the Bank to a caller so it satisfies Ledger.
func (b *Bank) Session(caller common.Address) Ledger {
	return &session{bank: b, caller: caller}
}

type session struct {
	bank   *Bank
	caller common.Address
}

func (s *session) TransferFrom(ctx context.Context, handle, owner, to common.Address, amount domain.Amount) error {
	return s.bank.TransferFrom(ctx, handle, s.caller, owner, to, amount)
}

func (s *session) Transfer(ctx context.Context, handle, to common.Address, amount domain.Amount) error {
	return s.bank.Transfer(ctx, handle, s.caller, to, amount)
}
