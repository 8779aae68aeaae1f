package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/engine"
	"github.com/efreitasn/dex/internal/storage"
	"github.com/efreitasn/dex/internal/store"
	"github.com/efreitasn/dex/internal/token"
)

// Journal durably records committed changes.
type Journal interface {
	Commit(storage.ChangeSet) error
}

// LedgerSync hands out the custody ledger entries moved since the last
// commit so they are journaled together with the exchange state.
type LedgerSync interface {
	Flush(fn func(token.Change) error) error
}

// TradeSink receives trades after the operation that produced them has
// been committed.
type TradeSink interface {
	PublishTrades(ctx context.Context, trades []*domain.Trade) error
}

// BookSink receives the aggregated top of a book after it changed.
type BookSink interface {
	PublishBook(ctx context.Context, ticker domain.Ticker, bids, asks []engine.PriceLevel) error
}

// Notifier is told about every execution. It must not block.
type Notifier interface {
	NotifyExecution(exec Execution)
}

// Execution is what one order did to the market, as seen by sinks.
type Execution struct {
	Ticker domain.Ticker
	Trades []*domain.Trade
	// FilledOrders are copies of the orders this execution completed.
	FilledOrders []domain.Order
}

// ExchangeConfig wires an Exchange. Ledger is required; everything else
// is optional.
type ExchangeConfig struct {
	Quote   domain.Ticker
	Owner   common.Address // zero: anyone may add tokens
	Custody common.Address
	Ledger  token.Ledger
	Journal Journal
	// LedgerSync is consulted on every commit when Journal is set.
	LedgerSync LedgerSync
	Logger     *zap.Logger
	// BookDepth is the number of levels handed to book sinks.
	BookDepth int
}

// Exchange owns all trading state. A single RWMutex serialises every
// state-changing operation; queries take the read lock.
type Exchange struct {
	mu     sync.RWMutex
	halted error
	// Executions reach sinks in commit order: a ticket is drawn under mu
	// and delivery waits until pubNext reaches it.
	pubTicket uint64 // guarded by mu
	pubMu     sync.Mutex
	pubCond   *sync.Cond
	pubNext   uint64 // guarded by pubMu

	registry *token.Registry
	balances *store.BalanceStore
	orders   *store.OrderStore
	trades   *store.TradeStore
	books    *engine.BookManager
	seq      *engine.Sequencer
	matcher  *engine.Matcher

	ledger    token.Ledger
	owner     common.Address
	custody   common.Address
	journal   Journal
	ledgerSyn LedgerSync
	logger    *zap.Logger
	bookDepth int

	tradeSinks []TradeSink
	bookSinks  []BookSink
	notifiers  []Notifier
}

// NewExchange creates an Exchange with empty state.
func NewExchange(cfg ExchangeConfig) *Exchange {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.BookDepth
	if depth <= 0 {
		depth = 20
	}

	e := &Exchange{
		registry:  token.NewRegistry(cfg.Quote),
		balances:  store.NewBalanceStore(),
		orders:    store.NewOrderStore(),
		trades:    store.NewTradeStore(),
		books:     engine.NewBookManager(),
		seq:       engine.NewSequencer(0),
		ledger:    cfg.Ledger,
		owner:     cfg.Owner,
		custody:   cfg.Custody,
		journal:   cfg.Journal,
		ledgerSyn: cfg.LedgerSync,
		logger:    logger,
		bookDepth: depth,
	}
	e.pubCond = sync.NewCond(&e.pubMu)
	e.matcher = engine.NewMatcher(e.books, e.balances, e.orders, e.trades, e.registry, e.seq)
	return e
}

// AddTradeSink registers s. Not safe to call once the exchange is serving.
func (e *Exchange) AddTradeSink(s TradeSink) { e.tradeSinks = append(e.tradeSinks, s) }

// AddBookSink registers s. Not safe to call once the exchange is serving.
func (e *Exchange) AddBookSink(s BookSink) { e.bookSinks = append(e.bookSinks, s) }

// AddNotifier registers n. Not safe to call once the exchange is serving.
func (e *Exchange) AddNotifier(n Notifier) { e.notifiers = append(e.notifiers, n) }

// Custody is the address holding every deposited token on the external ledger.
func (e *Exchange) Custody() common.Address { return e.custody }

// Quote returns the quote asset ticker.
func (e *Exchange) Quote() domain.Ticker { return e.registry.Quote() }

// commit journals c. A journal failure leaves memory ahead of disk, so the
// exchange stops accepting writes. Callers hold e.mu.
func (e *Exchange) commit(c storage.ChangeSet) error {
	if e.journal == nil {
		return nil
	}
	err := e.flushLedger(func(ledger token.Change) error {
		c.Ledger = ledger
		return e.journal.Commit(c)
	})
	if err != nil {
		e.halted = err
		e.logger.Error("journal commit failed, halting exchange", zap.Error(err))
		return fmt.Errorf("%w: change may be applied but was not persisted: %v", domain.ErrHalted, err)
	}
	return nil
}

func (e *Exchange) flushLedger(fn func(token.Change) error) error {
	if e.ledgerSyn == nil {
		return fn(token.Change{})
	}
	return e.ledgerSyn.Flush(fn)
}

func (e *Exchange) checkHalted() error {
	if e.halted != nil {
		return fmt.Errorf("%w: %v", domain.ErrHalted, e.halted)
	}
	return nil
}

// Healthy reports whether the exchange is still accepting writes.
func (e *Exchange) Healthy() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkHalted()
}

// AddToken registers symbol at handle. When an owner is configured only
// the owner may call it.
func (e *Exchange) AddToken(_ context.Context, caller common.Address, symbol string, handle common.Address) (domain.Token, error) {
	if e.owner != (common.Address{}) && caller != e.owner {
		return domain.Token{}, fmt.Errorf("%w: only the owner may add tokens", domain.ErrUnauthorized)
	}
	ticker, err := domain.ParseTicker(symbol)
	if err != nil {
		return domain.Token{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkHalted(); err != nil {
		return domain.Token{}, err
	}

	t, err := e.registry.Add(ticker, handle)
	if err != nil {
		return domain.Token{}, err
	}
	if err := e.commit(storage.ChangeSet{Token: &t}); err != nil {
		return domain.Token{}, err
	}
	e.logger.Info("token added", zap.Stringer("symbol", ticker), zap.String("handle", handle.Hex()))
	return t, nil
}

// Token looks up a registered token.
func (e *Exchange) Token(symbol string) (domain.Token, error) {
	ticker, err := domain.ParseTicker(symbol)
	if err != nil {
		return domain.Token{}, err
	}
	return e.registry.Lookup(ticker)
}

// Tokens lists registered tokens ordered by ticker.
func (e *Exchange) Tokens() []domain.Token {
	return e.registry.List()
}

func (e *Exchange) balanceChange(trader common.Address, ticker domain.Ticker) storage.ChangeSet {
	return storage.ChangeSet{
		Balances: map[store.BalanceKey]domain.Amount{
			{Trader: trader, Ticker: ticker}: e.balances.Get(trader, ticker),
		},
		Totals: map[domain.Ticker]store.Totals{ticker: e.balances.Totals(ticker)},
	}
}

// Deposit pulls amount of symbol from the trader's external balance into
// custody and credits the trader. The trader must have approved the
// custody address beforehand.
func (e *Exchange) Deposit(ctx context.Context, trader common.Address, symbol string, amount domain.Amount) (domain.Amount, error) {
	ticker, err := domain.ParseTicker(symbol)
	if err != nil {
		return domain.Amount{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkHalted(); err != nil {
		return domain.Amount{}, err
	}

	t, err := e.registry.Lookup(ticker)
	if err != nil {
		return domain.Amount{}, err
	}
	if amount.IsZero() {
		return domain.Amount{}, &domain.ValidationError{Message: "amount must be greater than zero"}
	}
	if err := e.balances.CanDeposit(ticker, amount); err != nil {
		return domain.Amount{}, err
	}
	if err := e.ledger.TransferFrom(ctx, t.Handle, trader, e.custody, amount); err != nil {
		return domain.Amount{}, fmt.Errorf("deposit %s: %w", ticker, err)
	}
	if err := e.balances.Deposit(trader, ticker, amount); err != nil {
		// CanDeposit was checked under the same lock.
		return domain.Amount{}, err
	}
	if err := e.commit(e.balanceChange(trader, ticker)); err != nil {
		return domain.Amount{}, err
	}

	e.logger.Debug("deposit",
		zap.String("trader", trader.Hex()),
		zap.Stringer("symbol", ticker),
		zap.String("amount", amount.Dec()),
	)
	return e.balances.Get(trader, ticker), nil
}

// Withdraw debits the trader and pushes amount back to their external
// balance. Nothing changes if the external transfer fails.
func (e *Exchange) Withdraw(ctx context.Context, trader common.Address, symbol string, amount domain.Amount) (domain.Amount, error) {
	ticker, err := domain.ParseTicker(symbol)
	if err != nil {
		return domain.Amount{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkHalted(); err != nil {
		return domain.Amount{}, err
	}

	t, err := e.registry.Lookup(ticker)
	if err != nil {
		return domain.Amount{}, err
	}
	if amount.IsZero() {
		return domain.Amount{}, &domain.ValidationError{Message: "amount must be greater than zero"}
	}
	bal := e.balances.Get(trader, ticker)
	if bal.Lt(&amount) {
		return domain.Amount{}, fmt.Errorf("%w: %s balance %s below %s",
			domain.ErrInsufficientBalance, ticker, bal.Dec(), amount.Dec())
	}
	if err := e.ledger.Transfer(ctx, t.Handle, trader, amount); err != nil {
		return domain.Amount{}, fmt.Errorf("withdraw %s: %w", ticker, err)
	}
	if err := e.balances.Withdraw(trader, ticker, amount); err != nil {
		return domain.Amount{}, err
	}
	if err := e.commit(e.balanceChange(trader, ticker)); err != nil {
		return domain.Amount{}, err
	}

	e.logger.Debug("withdrawal",
		zap.String("trader", trader.Hex()),
		zap.Stringer("symbol", ticker),
		zap.String("amount", amount.Dec()),
	)
	return e.balances.Get(trader, ticker), nil
}

// CreateLimitOrder matches a limit order and rests any remainder. The
// returned order is a snapshot taken when the call completed.
func (e *Exchange) CreateLimitOrder(ctx context.Context, trader common.Address, symbol string, amount, price domain.Amount, side domain.Side) (*domain.Order, []*domain.Trade, error) {
	ticker, err := domain.ParseTicker(symbol)
	if err != nil {
		return nil, nil, err
	}
	res, err := e.submit(ctx, engine.OrderRequest{
		Trader: trader,
		Type:   domain.OrderTypeLimit,
		Side:   side,
		Ticker: ticker,
		Amount: amount,
		Price:  price,
	})
	if err != nil {
		return nil, nil, err
	}
	return &res.order, res.trades, nil
}

// CreateMarketOrder matches a market order. Whatever is left unfilled is
// dropped; a market order never rests.
func (e *Exchange) CreateMarketOrder(ctx context.Context, trader common.Address, symbol string, amount domain.Amount, side domain.Side) ([]*domain.Trade, error) {
	ticker, err := domain.ParseTicker(symbol)
	if err != nil {
		return nil, err
	}
	res, err := e.submit(ctx, engine.OrderRequest{
		Trader: trader,
		Type:   domain.OrderTypeMarket,
		Side:   side,
		Ticker: ticker,
		Amount: amount,
	})
	if err != nil {
		return nil, err
	}
	return res.trades, nil
}

type submitResult struct {
	order  domain.Order
	trades []*domain.Trade
}

func (e *Exchange) submit(ctx context.Context, req engine.OrderRequest) (*submitResult, error) {
	e.mu.Lock()
	if err := e.checkHalted(); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	res, err := e.matcher.Match(req)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	changes := storage.ChangeSet{
		Balances: res.Balances,
		Orders:   res.Makers,
		Trades:   res.Trades,
	}
	if res.Order != nil {
		changes.Orders = append(changes.Orders, res.Order)
		changes.LastID = e.seq.Current()
	}
	if err := e.commit(changes); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	out := &submitResult{trades: res.Trades}
	exec := Execution{Ticker: req.Ticker, Trades: res.Trades}
	for _, m := range res.Makers {
		if m.IsFilled() {
			exec.FilledOrders = append(exec.FilledOrders, *m)
		}
	}
	if res.Order != nil {
		out.order = *res.Order
		if res.Order.IsFilled() {
			exec.FilledOrders = append(exec.FilledOrders, *res.Order)
		}
	}

	var bids, asks []engine.PriceLevel
	publishBook := len(e.bookSinks) > 0 && (len(res.Trades) > 0 || (res.Order != nil && !res.Order.IsFilled()))
	if publishBook {
		book := e.books.GetOrCreate(req.Ticker)
		bids = book.TopLevels(domain.SideBuy, e.bookDepth)
		asks = book.TopLevels(domain.SideSell, e.bookDepth)
	}
	ticket := e.pubTicket
	e.pubTicket++
	e.mu.Unlock()

	e.logger.Info("order executed",
		zap.String("trader", req.Trader.Hex()),
		zap.String("type", string(req.Type)),
		zap.String("side", string(req.Side)),
		zap.Stringer("symbol", req.Ticker),
		zap.String("amount", req.Amount.Dec()),
		zap.String("filled", res.Filled.Dec()),
		zap.Int("trades", len(res.Trades)),
	)

	e.pubMu.Lock()
	for e.pubNext != ticket {
		e.pubCond.Wait()
	}
	e.pubMu.Unlock()

	e.fanOut(ctx, exec, publishBook, bids, asks)

	e.pubMu.Lock()
	e.pubNext++
	e.pubCond.Broadcast()
	e.pubMu.Unlock()
	return out, nil
}

// fanOut hands a committed execution to the sinks. Sink errors never fail
// the operation that produced the execution.
func (e *Exchange) fanOut(ctx context.Context, exec Execution, publishBook bool, bids, asks []engine.PriceLevel) {
	ctx = context.WithoutCancel(ctx)

	if len(exec.Trades) > 0 {
		for _, s := range e.tradeSinks {
			if err := s.PublishTrades(ctx, exec.Trades); err != nil {
				e.logger.Warn("trade sink failed", zap.Stringer("symbol", exec.Ticker), zap.Error(err))
			}
		}
		for _, n := range e.notifiers {
			n.NotifyExecution(exec)
		}
	}
	if publishBook {
		for _, s := range e.bookSinks {
			if err := s.PublishBook(ctx, exec.Ticker, bids, asks); err != nil {
				e.logger.Warn("book sink failed", zap.Stringer("symbol", exec.Ticker), zap.Error(err))
			}
		}
	}
}

// GetOrders returns a snapshot of one side of the book for symbol in
// priority order.
func (e *Exchange) GetOrders(symbol string, side domain.Side) ([]domain.Order, error) {
	ticker, err := domain.ParseTicker(symbol)
	if err != nil {
		return nil, err
	}
	if _, err := domain.ParseSide(string(side)); err != nil {
		return nil, err
	}
	if _, err := e.registry.Lookup(ticker); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	book, ok := e.books.Get(ticker)
	if !ok {
		return []domain.Order{}, nil
	}
	return book.Snapshot(side), nil
}

// Balance returns the trader's internal balance of symbol.
func (e *Exchange) Balance(trader common.Address, symbol string) (domain.Amount, error) {
	ticker, err := domain.ParseTicker(symbol)
	if err != nil {
		return domain.Amount{}, err
	}
	if _, err := e.registry.Lookup(ticker); err != nil {
		return domain.Amount{}, err
	}
	return e.balances.Get(trader, ticker), nil
}

// Balances returns every non-zero balance of trader.
func (e *Exchange) Balances(trader common.Address) []domain.Balance {
	return e.balances.ListByTrader(trader)
}

// Supply describes where the units of one token sit: what custody has
// taken in and paid out over its lifetime, and what traders hold now.
// Held always equals Deposited minus Withdrawn.
type Supply struct {
	store.Totals
	Token domain.Token
	Held  domain.Amount
}

// Totals returns the custody counters of symbol.
func (e *Exchange) Totals(symbol string) (Supply, error) {
	t, err := e.Token(symbol)
	if err != nil {
		return Supply{}, err
	}
	sup := Supply{Token: t}
	e.view(func() {
		sup.Totals = e.balances.Totals(t.Ticker)
		sup.Held = e.balances.Sum(t.Ticker)
	})
	return sup, nil
}

// view runs fn under the read lock.
func (e *Exchange) view(fn func()) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn()
}

// Restore replaces the exchange state with st. It must run before the
// exchange starts serving.
func (e *Exchange) Restore(st *storage.State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, t := range st.Tokens {
		e.registry.Restore(t)
	}
	e.balances.Restore(st.Balances, st.Totals)

	lastID := st.LastID
	resting := 0
	for i := range st.Orders {
		o := st.Orders[i]
		e.orders.Create(&o)
		if !o.IsFilled() {
			e.books.GetOrCreate(o.Ticker).Insert(&o)
			resting++
		}
		if o.ID > lastID {
			lastID = o.ID
		}
	}
	e.seq.Reset(lastID)

	trades := make([]*domain.Trade, len(st.Trades))
	for i := range st.Trades {
		trades[i] = &st.Trades[i]
	}
	e.trades.Append(trades...)

	e.logger.Info("state restored",
		zap.Int("tokens", len(st.Tokens)),
		zap.Int("balances", len(st.Balances)),
		zap.Int("orders", len(st.Orders)),
		zap.Int("resting", resting),
		zap.Int("trades", len(st.Trades)),
		zap.Uint64("last_order_id", lastID),
	)
}
