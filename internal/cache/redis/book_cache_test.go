package redis

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/engine"
)

func decodeLevel(price, v string) (engine.PriceLevel, error) {
	var lvl engine.PriceLevel
	p, err := domain.ParseAmount(price)
	if err != nil {
		return lvl, err
	}
	amount, count, _ := strings.Cut(v, ":")
	a, err := domain.ParseAmount(amount)
	if err != nil {
		return lvl, err
	}
	n, err := strconv.Atoi(count)
	if err != nil {
		return lvl, fmt.Errorf("order count %q: %w", count, err)
	}
	return engine.PriceLevel{Price: p, TotalAmount: a, OrderCount: n}, nil
}

// readBook reads back what PublishBook wrote for ticker. ok is false when
// nothing has been published for it.
func readBook(ctx context.Context, rdb *redis.Client, ticker domain.Ticker) (bids, asks []engine.PriceLevel, ok bool, err error) {
	pipe := rdb.Pipeline()
	bidsCmd := pipe.ZRevRange(ctx, bidsKey(ticker), 0, -1)
	asksCmd := pipe.ZRange(ctx, asksKey(ticker), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bidSizeKey(ticker))
	askSizeCmd := pipe.HGetAll(ctx, askSizeKey(ticker))
	metaCmd := pipe.HGetAll(ctx, metaKey(ticker))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, false, fmt.Errorf("redis: get book %s: %w", ticker, err)
	}
	if meta, _ := metaCmd.Result(); len(meta) == 0 {
		return nil, nil, false, nil
	}

	// Scores lose precision above 2^53, so re-sort on the exact prices.
	build := func(prices []string, sizes map[string]string, desc bool) ([]engine.PriceLevel, error) {
		out := make([]engine.PriceLevel, 0, len(prices))
		for _, p := range prices {
			lvl, err := decodeLevel(p, sizes[p])
			if err != nil {
				return nil, fmt.Errorf("redis: decode level %s: %w", p, err)
			}
			out = append(out, lvl)
		}
		sort.SliceStable(out, func(i, j int) bool {
			if desc {
				return out[i].Price.Gt(&out[j].Price)
			}
			return out[i].Price.Lt(&out[j].Price)
		})
		return out, nil
	}

	bidPrices, _ := bidsCmd.Result()
	bidSizes, _ := bidSizeCmd.Result()
	if bids, err = build(bidPrices, bidSizes, true); err != nil {
		return nil, nil, false, err
	}
	askPrices, _ := asksCmd.Result()
	askSizes, _ := askSizeCmd.Result()
	if asks, err = build(askPrices, askSizes, false); err != nil {
		return nil, nil, false, err
	}
	return bids, asks, true, nil
}

func TestLevelEncoding(t *testing.T) {
	lvl := engine.PriceLevel{
		Price:       domain.MustAmount("1000000000000000000"),
		TotalAmount: domain.MustAmount("123456789012345678901234567890"),
		OrderCount:  3,
	}
	got, err := decodeLevel(lvl.Price.Dec(), encodeLevel(lvl))
	if err != nil {
		t.Fatalf("decodeLevel: %v", err)
	}
	if !got.Price.Eq(&lvl.Price) || !got.TotalAmount.Eq(&lvl.TotalAmount) || got.OrderCount != 3 {
		t.Fatalf("got %+v, want %+v", got, lvl)
	}

	if _, err := decodeLevel("10", "garbage"); err == nil {
		t.Error("expected error for malformed level")
	}
}

func TestScoreOrdering(t *testing.T) {
	a, b := domain.NewAmount(10), domain.NewAmount(11)
	if score(&a) >= score(&b) {
		t.Error("score must preserve order for small prices")
	}
}

func TestKeys(t *testing.T) {
	rep := domain.MustTicker("REP")
	if bidsKey(rep) != "book:REP:bids" || askSizeKey(rep) != "book:REP:ask:size" {
		t.Errorf("unexpected keys %q %q", bidsKey(rep), askSizeKey(rep))
	}
}

// TestBookCache_RoundTrip needs a live server; set DEX_TEST_REDIS_ADDR to run it.
func TestBookCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("DEX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DEX_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := New(ctx, ClientConfig{Addr: addr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	cache := NewBookCache(c)
	ticker := domain.MustTicker("TESTREP")
	bids := []engine.PriceLevel{
		{Price: domain.NewAmount(11), TotalAmount: domain.NewAmount(5), OrderCount: 1},
		{Price: domain.NewAmount(10), TotalAmount: domain.NewAmount(7), OrderCount: 2},
	}
	asks := []engine.PriceLevel{
		{Price: domain.NewAmount(12), TotalAmount: domain.NewAmount(1), OrderCount: 1},
	}
	if err := cache.PublishBook(ctx, ticker, bids, asks); err != nil {
		t.Fatalf("PublishBook: %v", err)
	}

	gotBids, gotAsks, ok, err := readBook(ctx, c.Underlying(), ticker)
	if err != nil || !ok {
		t.Fatalf("readBook: ok=%v err=%v", ok, err)
	}
	if len(gotBids) != 2 || gotBids[0].Price.Uint64() != 11 || gotBids[1].OrderCount != 2 {
		t.Errorf("bids = %+v", gotBids)
	}
	if len(gotAsks) != 1 || gotAsks[0].TotalAmount.Uint64() != 1 {
		t.Errorf("asks = %+v", gotAsks)
	}

	if _, _, ok, err := readBook(ctx, c.Underlying(), domain.MustTicker("NOPE")); err != nil || ok {
		t.Errorf("expected miss, got ok=%v err=%v", ok, err)
	}
}
