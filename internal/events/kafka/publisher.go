// Package kafka streams executed trades to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/efreitasn/dex/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TradePublisher writes one message per trade, keyed by ticker so a
// token's trades stay ordered within a partition.
type TradePublisher struct {
	writer messageWriter
}

// NewTradePublisher creates a synchronous publisher for topic.
func NewTradePublisher(brokers []string, topic string) *TradePublisher {
	return &TradePublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// TradeEvent is the wire form of a trade.
type TradeEvent struct {
	TradeID     string    `json:"trade_id"`
	Symbol      string    `json:"symbol"`
	Price       string    `json:"price"`
	Amount      string    `json:"amount"`
	BuyOrderID  uint64    `json:"buy_order_id"`
	SellOrderID uint64    `json:"sell_order_id"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	TakerSide   string    `json:"taker_side"`
	ExecutedAt  time.Time `json:"executed_at"`
}

func newTradeEvent(t *domain.Trade) TradeEvent {
	return TradeEvent{
		TradeID:     t.TradeID,
		Symbol:      t.Ticker.String(),
		Price:       t.Price.Dec(),
		Amount:      t.Amount.Dec(),
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Buyer:       t.Buyer.Hex(),
		Seller:      t.Seller.Hex(),
		TakerSide:   string(t.TakerSide),
		ExecutedAt:  t.ExecutedAt,
	}
}

// PublishTrades sends trades in a single WriteMessages call.
func (p *TradePublisher) PublishTrades(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		value, err := json.Marshal(newTradeEvent(t))
		if err != nil {
			return fmt.Errorf("kafka: marshal trade %s: %w", t.TradeID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(t.Ticker.String()),
			Value: value,
			Time:  t.ExecutedAt,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: write %d trades: %w", len(msgs), err)
	}
	return nil
}

func (p *TradePublisher) Close() error {
	return p.writer.Close()
}
