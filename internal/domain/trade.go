package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Trade represents a single fill between a buyer and a seller. The order
// id of a market taker is 0 since market orders never receive an id.
type Trade struct {
	TradeID     string
	Ticker      Ticker
	Price       Amount // the resting order's price
	Amount      Amount
	BuyOrderID  uint64
	SellOrderID uint64
	Buyer       common.Address
	Seller      common.Address
	TakerSide   Side
	ExecutedAt  time.Time
}

// Notional returns Price × Amount. Settlement already proved it fits.
func (t *Trade) Notional() Amount {
	var n Amount
	n.Mul(&t.Price, &t.Amount)
	return n
}
