package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/engine"
)

// BookCache publishes aggregated book depth so readers outside the process
// can serve it without touching the exchange.
//
// Key schema:
//
//	book:{ticker}:bids      sorted set of bid prices (score ≈ price, member = exact decimal)
//	book:{ticker}:asks      sorted set of ask prices
//	book:{ticker}:bid:size  hash price -> "amount:orders"
//	book:{ticker}:ask:size  hash price -> "amount:orders"
//	book:{ticker}:meta      hash with "ts"
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by c.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bidsKey(t domain.Ticker) string    { return "book:" + t.String() + ":bids" }
func asksKey(t domain.Ticker) string    { return "book:" + t.String() + ":asks" }
func bidSizeKey(t domain.Ticker) string { return "book:" + t.String() + ":bid:size" }
func askSizeKey(t domain.Ticker) string { return "book:" + t.String() + ":ask:size" }
func metaKey(t domain.Ticker) string    { return "book:" + t.String() + ":meta" }

// score maps a price onto a float64 for ordering only. Exact values live in
// the member string.
func score(price *domain.Amount) float64 {
	f, _ := new(big.Float).SetInt(price.ToBig()).Float64()
	return f
}

func encodeLevel(l engine.PriceLevel) string {
	return l.TotalAmount.Dec() + ":" + strconv.Itoa(l.OrderCount)
}

// PublishBook atomically replaces the cached depth of ticker.
func (bc *BookCache) PublishBook(ctx context.Context, ticker domain.Ticker, bids, asks []engine.PriceLevel) error {
	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, bidsKey(ticker), asksKey(ticker), bidSizeKey(ticker), askSizeKey(ticker), metaKey(ticker))

	for _, lvl := range bids {
		p := lvl.Price.Dec()
		pipe.ZAdd(ctx, bidsKey(ticker), redis.Z{Score: score(&lvl.Price), Member: p})
		pipe.HSet(ctx, bidSizeKey(ticker), p, encodeLevel(lvl))
	}
	for _, lvl := range asks {
		p := lvl.Price.Dec()
		pipe.ZAdd(ctx, asksKey(ticker), redis.Z{Score: score(&lvl.Price), Member: p})
		pipe.HSet(ctx, askSizeKey(ticker), p, encodeLevel(lvl))
	}
	pipe.HSet(ctx, metaKey(ticker), "ts", strconv.FormatInt(time.Now().UnixNano(), 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish book %s: %w", ticker, err)
	}
	return nil
}
