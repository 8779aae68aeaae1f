package engine

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/store"
	"github.com/efreitasn/dex/internal/token"
)

// OrderRequest is an incoming order before it has been matched.
type OrderRequest struct {
	Trader common.Address
	Type   domain.OrderType
	Side   domain.Side
	Ticker domain.Ticker
	Amount domain.Amount
	Price  domain.Amount // ignored for market orders
}

// Result describes everything a successful match changed.
type Result struct {
	// Order is the new limit order, nil for market orders.
	Order *domain.Order
	// Trades holds one trade per fill, in execution order.
	Trades []*domain.Trade
	// Filled is the total base amount executed for the incoming order.
	Filled domain.Amount
	// Balances holds the final value of every balance the match touched.
	Balances map[store.BalanceKey]domain.Amount
	// Makers are the resting orders that received fills.
	Makers []*domain.Order
	// Removed lists maker ids taken off the book because they filled.
	Removed []uint64
}

// QuotePriceLevel represents a single price level in a quote simulation.
type QuotePriceLevel struct {
	Price  domain.Amount
	Amount domain.Amount
}

// QuoteResult holds the result of a market order simulation.
type QuoteResult struct {
	AmountAvailable domain.Amount
	FullyFillable   bool
	AveragePrice    *domain.Amount // nil when no liquidity
	Total           *domain.Amount // nil when no liquidity
	PriceLevels     []QuotePriceLevel
}

// Matcher implements the matching engine for limit and market orders.
//
// Matching runs in two phases. The plan phase walks the book and settles
// every fill against a balance overlay, touching no shared state, so any
// rejection leaves the exchange exactly as it was. The apply phase then
// commits the plan and cannot fail.
//
// Matcher is not safe for concurrent use; the exchange serialises calls.
type Matcher struct {
	books    *BookManager
	balances *store.BalanceStore
	orders   *store.OrderStore
	trades   *store.TradeStore
	registry *token.Registry
	seq      *Sequencer
	now      func() time.Time
}

// NewMatcher creates a new Matcher with the given dependencies.
func NewMatcher(
	books *BookManager,
	balances *store.BalanceStore,
	orders *store.OrderStore,
	trades *store.TradeStore,
	registry *token.Registry,
	seq *Sequencer,
) *Matcher {
	return &Matcher{
		books:    books,
		balances: balances,
		orders:   orders,
		trades:   trades,
		registry: registry,
		seq:      seq,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type fill struct {
	maker    *domain.Order
	amount   domain.Amount
	price    domain.Amount
	notional domain.Amount
}

type plan struct {
	fills   []fill
	filled  domain.Amount
	overlay *overlay
}

// Match validates req, matches it against the opposite side of its book
// and, for limit orders, rests any remainder. On error nothing changes.
func (m *Matcher) Match(req OrderRequest) (*Result, error) {
	if err := m.validate(req); err != nil {
		return nil, err
	}
	p, err := m.plan(req)
	if err != nil {
		return nil, err
	}
	return m.apply(req, p), nil
}

func (m *Matcher) validate(req OrderRequest) error {
	if m.registry.IsQuote(req.Ticker) {
		return fmt.Errorf("%w: %s", domain.ErrCannotTradeQuoteAsset, req.Ticker)
	}
	if _, err := m.registry.Lookup(req.Ticker); err != nil {
		return err
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return &domain.ValidationError{Message: "side must be 'BUY' or 'SELL'"}
	}
	if req.Amount.IsZero() {
		return &domain.ValidationError{Message: "amount must be greater than zero"}
	}
	if req.Type == domain.OrderTypeLimit && req.Price.IsZero() {
		return &domain.ValidationError{Message: "price must be greater than zero"}
	}

	switch {
	case req.Side == domain.SideSell:
		bal := m.balances.Get(req.Trader, req.Ticker)
		if bal.Lt(&req.Amount) {
			return fmt.Errorf("%w: %s balance %s below %s",
				domain.ErrInsufficientTokenBalance, req.Ticker, bal.Dec(), req.Amount.Dec())
		}
	case req.Type == domain.OrderTypeLimit:
		cost, err := domain.Notional(&req.Amount, &req.Price)
		if err != nil {
			return err
		}
		quote := m.registry.Quote()
		bal := m.balances.Get(req.Trader, quote)
		if bal.Lt(&cost) {
			return fmt.Errorf("%w: %s balance %s below %s",
				domain.ErrInsufficientQuoteBalance, quote, bal.Dec(), cost.Dec())
		}
	}
	return nil
}

// crosses reports whether a resting price is acceptable to the incoming
// order. Market orders accept any price.
func crosses(req OrderRequest, restingPrice *domain.Amount) bool {
	if req.Type == domain.OrderTypeMarket {
		return true
	}
	if req.Side == domain.SideBuy {
		return !restingPrice.Gt(&req.Price)
	}
	return !restingPrice.Lt(&req.Price)
}

func (m *Matcher) plan(req OrderRequest) (*plan, error) {
	p := &plan{overlay: newOverlay(m.balances)}
	book, ok := m.books.Get(req.Ticker)
	if !ok {
		return p, nil
	}

	quote := m.registry.Quote()
	remaining := req.Amount
	var planErr error

	book.Walk(req.Side.Opposite(), func(maker *domain.Order) bool {
		if remaining.IsZero() || !crosses(req, &maker.Price) {
			return false
		}

		available := maker.Remaining()
		amount := domain.MinAmount(&remaining, &available)
		notional, err := domain.Notional(&amount, &maker.Price)
		if err != nil {
			planErr = err
			return false
		}

		buyer, seller := req.Trader, maker.Trader
		if req.Side == domain.SideSell {
			buyer, seller = maker.Trader, req.Trader
		}

		// A market BUY pays as it goes: stop at the first fill the buyer
		// cannot afford, failing only if nothing has filled yet.
		if req.Side == domain.SideBuy && req.Type == domain.OrderTypeMarket {
			bal := p.overlay.get(buyer, quote)
			if bal.Lt(&notional) {
				if len(p.fills) == 0 {
					planErr = fmt.Errorf("%w: %s balance %s below %s",
						domain.ErrInsufficientQuoteBalance, quote, bal.Dec(), notional.Dec())
				}
				return false
			}
		}

		if err := p.overlay.transfer(seller, buyer, req.Ticker, amount); err != nil {
			planErr = err
			return false
		}
		if err := p.overlay.transfer(buyer, seller, quote, notional); err != nil {
			planErr = err
			return false
		}

		p.fills = append(p.fills, fill{maker: maker, amount: amount, price: maker.Price, notional: notional})
		p.filled.Add(&p.filled, &amount)
		remaining.Sub(&remaining, &amount)
		return true
	})

	if planErr != nil {
		return nil, planErr
	}
	return p, nil
}

func (m *Matcher) apply(req OrderRequest, p *plan) *Result {
	now := m.now()
	res := &Result{
		Trades:   make([]*domain.Trade, 0, len(p.fills)),
		Filled:   p.filled,
		Balances: p.overlay.vals,
	}

	var takerID uint64
	if req.Type == domain.OrderTypeLimit {
		takerID = m.seq.Next()
		res.Order = &domain.Order{
			ID:        takerID,
			Trader:    req.Trader,
			Side:      req.Side,
			Ticker:    req.Ticker,
			Amount:    req.Amount,
			Filled:    p.filled,
			Price:     req.Price,
			CreatedAt: now,
		}
	}

	book := m.books.GetOrCreate(req.Ticker)
	for _, f := range p.fills {
		f.maker.Filled.Add(&f.maker.Filled, &f.amount)
		res.Makers = append(res.Makers, f.maker)
		if book.RemoveIfFilled(f.maker) {
			res.Removed = append(res.Removed, f.maker.ID)
		}

		t := &domain.Trade{
			TradeID:    uuid.New().String(),
			Ticker:     req.Ticker,
			Price:      f.price,
			Amount:     f.amount,
			TakerSide:  req.Side,
			ExecutedAt: now,
		}
		if req.Side == domain.SideBuy {
			t.BuyOrderID, t.SellOrderID = takerID, f.maker.ID
			t.Buyer, t.Seller = req.Trader, f.maker.Trader
		} else {
			t.BuyOrderID, t.SellOrderID = f.maker.ID, takerID
			t.Buyer, t.Seller = f.maker.Trader, req.Trader
		}
		res.Trades = append(res.Trades, t)
	}

	m.balances.Apply(p.overlay.vals)

	if res.Order != nil {
		m.orders.Create(res.Order)
		if !res.Order.IsFilled() {
			book.Insert(res.Order)
		}
	}
	m.trades.Append(res.Trades...)

	return res
}

// Simulate performs a read-only walk of the book to estimate the result of
// a market order on side without placing it.
func (m *Matcher) Simulate(ticker domain.Ticker, side domain.Side, amount domain.Amount) *QuoteResult {
	result := &QuoteResult{PriceLevels: make([]QuotePriceLevel, 0)}

	book, ok := m.books.Get(ticker)
	if !ok {
		return result
	}

	remaining := amount
	var total domain.Amount
	overflow := false

	book.Walk(side.Opposite(), func(o *domain.Order) bool {
		if remaining.IsZero() {
			return false
		}
		available := o.Remaining()
		qty := domain.MinAmount(&remaining, &available)
		notional, err := domain.Notional(&qty, &o.Price)
		if err != nil {
			overflow = true
			return false
		}
		if _, of := total.AddOverflow(&total, &notional); of {
			overflow = true
			return false
		}
		result.AmountAvailable.Add(&result.AmountAvailable, &qty)
		remaining.Sub(&remaining, &qty)

		if n := len(result.PriceLevels); n > 0 && result.PriceLevels[n-1].Price.Eq(&o.Price) {
			result.PriceLevels[n-1].Amount.Add(&result.PriceLevels[n-1].Amount, &qty)
		} else {
			result.PriceLevels = append(result.PriceLevels, QuotePriceLevel{Price: o.Price, Amount: qty})
		}
		return true
	})

	if !result.AmountAvailable.IsZero() && !overflow {
		var avg domain.Amount
		avg.Div(&total, &result.AmountAvailable)
		result.AveragePrice = &avg
		result.Total = &total
	}
	result.FullyFillable = !result.AmountAvailable.Lt(&amount)
	return result
}

// overlay records balance changes on top of a BalanceStore without
// writing to it.
type overlay struct {
	base *store.BalanceStore
	vals map[store.BalanceKey]domain.Amount
}

func newOverlay(base *store.BalanceStore) *overlay {
	return &overlay{base: base, vals: make(map[store.BalanceKey]domain.Amount)}
}

func (o *overlay) get(trader common.Address, ticker domain.Ticker) domain.Amount {
	k := store.BalanceKey{Trader: trader, Ticker: ticker}
	if v, ok := o.vals[k]; ok {
		return v
	}
	return o.base.Get(trader, ticker)
}

// transfer moves amount between two traders. A shortfall means a resting
// order is no longer backed by its owner's balance.
func (o *overlay) transfer(from, to common.Address, ticker domain.Ticker, amount domain.Amount) error {
	fromBal := o.get(from, ticker)
	if fromBal.Lt(&amount) {
		return fmt.Errorf("%w: %s holds %s %s, fill needs %s",
			domain.ErrSettlementFailed, from.Hex(), fromBal.Dec(), ticker, amount.Dec())
	}
	fromBal.Sub(&fromBal, &amount)
	o.vals[store.BalanceKey{Trader: from, Ticker: ticker}] = fromBal

	toBal := o.get(to, ticker)
	toBal.Add(&toBal, &amount)
	o.vals[store.BalanceKey{Trader: to, Ticker: ticker}] = toBal
	return nil
}
