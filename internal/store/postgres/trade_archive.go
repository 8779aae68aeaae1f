package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/efreitasn/dex/internal/domain"
)

// TradeArchive is an append-only copy of every executed trade. Amounts are
// stored as NUMERIC(78,0) so full 256-bit values survive.
type TradeArchive struct {
	pool *pgxpool.Pool
}

// NewTradeArchive creates a TradeArchive backed by pool.
func NewTradeArchive(pool *pgxpool.Pool) *TradeArchive {
	return &TradeArchive{pool: pool}
}

const insertTrade = `
	INSERT INTO trades (
		trade_id, symbol, price, amount,
		buy_order_id, sell_order_id, buyer, seller,
		taker_side, executed_at
	) VALUES (
		$1, $2, $3::numeric, $4::numeric,
		$5, $6, $7, $8,
		$9, $10
	) ON CONFLICT (trade_id) DO NOTHING`

func insertBatch(trades []*domain.Trade) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(insertTrade,
			t.TradeID, t.Ticker.String(), t.Price.Dec(), t.Amount.Dec(),
			int64(t.BuyOrderID), int64(t.SellOrderID), t.Buyer.Hex(), t.Seller.Hex(),
			string(t.TakerSide), t.ExecutedAt,
		)
	}
	return batch
}

// PublishTrades inserts trades in one batch. Re-sent trades are skipped.
func (a *TradeArchive) PublishTrades(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	br := a.pool.SendBatch(ctx, insertBatch(trades))
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByTicker returns the most recent trades of ticker, newest first.
func (a *TradeArchive) ListByTicker(ctx context.Context, ticker domain.Ticker, limit int) ([]domain.Trade, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT trade_id, price::text, amount::text, buy_order_id, sell_order_id,
			buyer, seller, taker_side, executed_at
		FROM trades WHERE symbol = $1
		ORDER BY executed_at DESC LIMIT $2`,
		ticker.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by ticker: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			price, amount, buyer, seller, side string
			buyID, sellID                      int64
			executedAt                         time.Time
		)
		t := domain.Trade{Ticker: ticker}
		if err := rows.Scan(&t.TradeID, &price, &amount, &buyID, &sellID, &buyer, &seller, &side, &executedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		if t.Price, err = domain.ParseAmount(price); err != nil {
			return nil, fmt.Errorf("postgres: trade %s price: %w", t.TradeID, err)
		}
		if t.Amount, err = domain.ParseAmount(amount); err != nil {
			return nil, fmt.Errorf("postgres: trade %s amount: %w", t.TradeID, err)
		}
		t.BuyOrderID, t.SellOrderID = uint64(buyID), uint64(sellID)
		t.Buyer, t.Seller = common.HexToAddress(buyer), common.HexToAddress(seller)
		t.TakerSide = domain.Side(side)
		t.ExecutedAt = executedAt
		out = append(out, t)
	}
	return out, rows.Err()
}
