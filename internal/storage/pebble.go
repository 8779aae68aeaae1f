package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/store"
	"github.com/efreitasn/dex/internal/token"
)

// ChangeSet is everything one exchange operation changed. It is written
// atomically: either all of it reaches disk or none of it does.
type ChangeSet struct {
	Token    *domain.Token
	Balances map[store.BalanceKey]domain.Amount
	Totals   map[domain.Ticker]store.Totals
	Orders   []*domain.Order
	Trades   []*domain.Trade
	LastID   uint64
	// Ledger holds the custody ledger entries the operation moved.
	Ledger token.Change
}

// IsEmpty reports whether the change set carries nothing to write.
func (c *ChangeSet) IsEmpty() bool {
	return c.Token == nil && len(c.Balances) == 0 && len(c.Totals) == 0 &&
		len(c.Orders) == 0 && len(c.Trades) == 0 && c.LastID == 0 && c.Ledger.IsEmpty()
}

// State is the full exchange state recovered from disk.
type State struct {
	Tokens   []domain.Token
	Balances map[store.BalanceKey]domain.Amount
	Totals   map[domain.Ticker]store.Totals
	Orders   []domain.Order // ascending id
	Trades   []domain.Trade // execution order
	LastID   uint64
	Ledger   token.Change
}

// PebbleStore is the exchange journal. Callers serialise Commit.
//
// keys:
//
//	tok:<ticker 32>               token
//	bal:<addr 20><ticker 32>      balance
//	tot:<ticker 32>               deposit/withdraw totals
//	ord:<id be64>                 order
//	trd:<seq be64>                trade
//	seq                           last order id
//	ext:b:<handle 20><owner 20>   custody ledger balance
//	ext:a:<handle 20><owner 20><spender 20>  custody ledger allowance
type PebbleStore struct {
	db       *pebble.DB
	tradeSeq uint64
}

// Open opens (or creates) the journal at path. Pebble's own messages go to
// logger; nil discards them.
func Open(path string, logger *zap.Logger) (*PebbleStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := pebble.Open(path, &pebble.Options{
		Logger: logger.Named("pebble").Sugar(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	s := &PebbleStore{db: db}
	if err := s.loadTradeSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *PebbleStore) Close() error { return s.db.Close() }

var (
	pTok = []byte("tok:")
	pBal = []byte("bal:")
	pTot = []byte("tot:")
	pOrd = []byte("ord:")
	pTrd = []byte("trd:")
	kSeq = []byte("seq")
	pExB = []byte("ext:b:")
	pExA = []byte("ext:a:")
)

func kToken(t domain.Ticker) []byte  { return concat(pTok, t[:]) }
func kTotals(t domain.Ticker) []byte { return concat(pTot, t[:]) }
func kBalance(k store.BalanceKey) []byte {
	return concat(pBal, k.Trader[:], k.Ticker[:])
}
func kOrder(id uint64) []byte  { return concat(pOrd, be64(id)) }
func kTrade(seq uint64) []byte { return concat(pTrd, be64(seq)) }
func kHolding(h token.Holding) []byte {
	return concat(pExB, h.Handle[:], h.Owner[:])
}
func kApproval(a token.Approval) []byte {
	return concat(pExA, a.Handle[:], a.Owner[:], a.Spender[:])
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func be64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// on-disk records; amounts are decimal strings

type tokenRecord struct {
	Ticker  domain.Ticker  `json:"ticker"`
	Handle  common.Address `json:"handle"`
	AddedAt time.Time      `json:"added_at"`
}

type totalsRecord struct {
	Deposited string `json:"deposited"`
	Withdrawn string `json:"withdrawn"`
}

type orderRecord struct {
	ID        uint64         `json:"id"`
	Trader    common.Address `json:"trader"`
	Side      domain.Side    `json:"side"`
	Ticker    domain.Ticker  `json:"ticker"`
	Amount    string         `json:"amount"`
	Filled    string         `json:"filled"`
	Price     string         `json:"price"`
	CreatedAt time.Time      `json:"created_at"`
}

type tradeRecord struct {
	TradeID     string         `json:"trade_id"`
	Ticker      domain.Ticker  `json:"ticker"`
	Price       string         `json:"price"`
	Amount      string         `json:"amount"`
	BuyOrderID  uint64         `json:"buy_order_id"`
	SellOrderID uint64         `json:"sell_order_id"`
	Buyer       common.Address `json:"buyer"`
	Seller      common.Address `json:"seller"`
	TakerSide   domain.Side    `json:"taker_side"`
	ExecutedAt  time.Time      `json:"executed_at"`
}

// Commit writes c in a single synced batch.
func (s *PebbleStore) Commit(c ChangeSet) error {
	if c.IsEmpty() {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()

	put := func(key []byte, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %q: %w", key[:3], err)
		}
		return b.Set(key, data, nil)
	}

	if t := c.Token; t != nil {
		if err := put(kToken(t.Ticker), tokenRecord{Ticker: t.Ticker, Handle: t.Handle, AddedAt: t.AddedAt}); err != nil {
			return err
		}
	}
	for k, v := range c.Balances {
		if err := b.Set(kBalance(k), []byte(v.Dec()), nil); err != nil {
			return err
		}
	}
	for ticker, t := range c.Totals {
		if err := put(kTotals(ticker), totalsRecord{Deposited: t.Deposited.Dec(), Withdrawn: t.Withdrawn.Dec()}); err != nil {
			return err
		}
	}
	for _, o := range c.Orders {
		rec := orderRecord{
			ID:        o.ID,
			Trader:    o.Trader,
			Side:      o.Side,
			Ticker:    o.Ticker,
			Amount:    o.Amount.Dec(),
			Filled:    o.Filled.Dec(),
			Price:     o.Price.Dec(),
			CreatedAt: o.CreatedAt,
		}
		if err := put(kOrder(o.ID), rec); err != nil {
			return err
		}
	}
	seq := s.tradeSeq
	for _, t := range c.Trades {
		seq++
		rec := tradeRecord{
			TradeID:     t.TradeID,
			Ticker:      t.Ticker,
			Price:       t.Price.Dec(),
			Amount:      t.Amount.Dec(),
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			Buyer:       t.Buyer,
			Seller:      t.Seller,
			TakerSide:   t.TakerSide,
			ExecutedAt:  t.ExecutedAt,
		}
		if err := put(kTrade(seq), rec); err != nil {
			return err
		}
	}
	if c.LastID != 0 {
		if err := b.Set(kSeq, be64(c.LastID), nil); err != nil {
			return err
		}
	}
	if err := setLedger(b, c.Ledger); err != nil {
		return err
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit journal batch: %w", err)
	}
	s.tradeSeq = seq
	return nil
}

// CommitLedger writes custody ledger entries in a single synced batch.
func (s *PebbleStore) CommitLedger(ch token.Change) error {
	if ch.IsEmpty() {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := setLedger(b, ch); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit ledger batch: %w", err)
	}
	return nil
}

func setLedger(b *pebble.Batch, ch token.Change) error {
	for _, h := range ch.Holdings {
		if err := b.Set(kHolding(h), []byte(h.Amount.Dec()), nil); err != nil {
			return err
		}
	}
	for _, a := range ch.Approvals {
		if err := b.Set(kApproval(a), []byte(a.Amount.Dec()), nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *PebbleStore) loadTradeSeq() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: pTrd, UpperBound: keyUpperBound(pTrd)})
	if err != nil {
		return fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()
	if iter.Last() {
		s.tradeSeq = binary.BigEndian.Uint64(iter.Key()[len(pTrd):])
	}
	return nil
}

// Load reads the whole journal back.
func (s *PebbleStore) Load() (*State, error) {
	st := &State{
		Balances: make(map[store.BalanceKey]domain.Amount),
		Totals:   make(map[domain.Ticker]store.Totals),
	}

	err := s.scan(pTok, func(_, v []byte) error {
		var rec tokenRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal token: %w", err)
		}
		st.Tokens = append(st.Tokens, domain.Token{Ticker: rec.Ticker, Handle: rec.Handle, AddedAt: rec.AddedAt})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(pBal, func(k, v []byte) error {
		k = k[len(pBal):]
		if len(k) != common.AddressLength+len(domain.Ticker{}) {
			return fmt.Errorf("malformed balance key %x", k)
		}
		var bk store.BalanceKey
		copy(bk.Trader[:], k[:common.AddressLength])
		copy(bk.Ticker[:], k[common.AddressLength:])
		amount, err := domain.ParseAmount(string(v))
		if err != nil {
			return fmt.Errorf("balance %s/%s: %w", bk.Trader.Hex(), bk.Ticker, err)
		}
		st.Balances[bk] = amount
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(pTot, func(k, v []byte) error {
		var ticker domain.Ticker
		copy(ticker[:], k[len(pTot):])
		var rec totalsRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal totals: %w", err)
		}
		var t store.Totals
		var err error
		if t.Deposited, err = domain.ParseAmount(rec.Deposited); err != nil {
			return err
		}
		if t.Withdrawn, err = domain.ParseAmount(rec.Withdrawn); err != nil {
			return err
		}
		st.Totals[ticker] = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(pOrd, func(_, v []byte) error {
		var rec orderRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		o := domain.Order{
			ID:        rec.ID,
			Trader:    rec.Trader,
			Side:      rec.Side,
			Ticker:    rec.Ticker,
			CreatedAt: rec.CreatedAt,
		}
		var err error
		if o.Amount, err = domain.ParseAmount(rec.Amount); err != nil {
			return err
		}
		if o.Filled, err = domain.ParseAmount(rec.Filled); err != nil {
			return err
		}
		if o.Price, err = domain.ParseAmount(rec.Price); err != nil {
			return err
		}
		st.Orders = append(st.Orders, o)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(pTrd, func(_, v []byte) error {
		var rec tradeRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal trade: %w", err)
		}
		t := domain.Trade{
			TradeID:     rec.TradeID,
			Ticker:      rec.Ticker,
			BuyOrderID:  rec.BuyOrderID,
			SellOrderID: rec.SellOrderID,
			Buyer:       rec.Buyer,
			Seller:      rec.Seller,
			TakerSide:   rec.TakerSide,
			ExecutedAt:  rec.ExecutedAt,
		}
		var err error
		if t.Price, err = domain.ParseAmount(rec.Price); err != nil {
			return err
		}
		if t.Amount, err = domain.ParseAmount(rec.Amount); err != nil {
			return err
		}
		st.Trades = append(st.Trades, t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	const addrLen = common.AddressLength
	err = s.scan(pExB, func(k, v []byte) error {
		k = k[len(pExB):]
		if len(k) != 2*addrLen {
			return fmt.Errorf("malformed ledger balance key %x", k)
		}
		h := token.Holding{
			Handle: common.BytesToAddress(k[:addrLen]),
			Owner:  common.BytesToAddress(k[addrLen:]),
		}
		var err error
		if h.Amount, err = domain.ParseAmount(string(v)); err != nil {
			return fmt.Errorf("ledger balance %s/%s: %w", h.Handle.Hex(), h.Owner.Hex(), err)
		}
		st.Ledger.Holdings = append(st.Ledger.Holdings, h)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(pExA, func(k, v []byte) error {
		k = k[len(pExA):]
		if len(k) != 3*addrLen {
			return fmt.Errorf("malformed ledger allowance key %x", k)
		}
		a := token.Approval{
			Handle:  common.BytesToAddress(k[:addrLen]),
			Owner:   common.BytesToAddress(k[addrLen : 2*addrLen]),
			Spender: common.BytesToAddress(k[2*addrLen:]),
		}
		var err error
		if a.Amount, err = domain.ParseAmount(string(v)); err != nil {
			return fmt.Errorf("ledger allowance %s: %w", a.Owner.Hex(), err)
		}
		st.Ledger.Approvals = append(st.Ledger.Approvals, a)
		return nil
	})
	if err != nil {
		return nil, err
	}

	val, closer, err := s.db.Get(kSeq)
	switch {
	case err == pebble.ErrNotFound:
	case err != nil:
		return nil, fmt.Errorf("failed to get sequence: %w", err)
	default:
		st.LastID = binary.BigEndian.Uint64(val)
		closer.Close()
	}

	sort.Slice(st.Tokens, func(i, j int) bool { return st.Tokens[i].Ticker.String() < st.Tokens[j].Ticker.String() })
	return st, nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
