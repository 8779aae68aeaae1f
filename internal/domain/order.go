package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// Side indicates whether an order buys or sells the base asset.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "BUY" or "SELL".
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), nil
	}
	return "", &ValidationError{Message: "side must be 'BUY' or 'SELL'"}
}

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is derived from Filled and Amount; it is never stored.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
)

// ParseOrderStatus accepts one of the OrderStatus values.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderStatusOpen, OrderStatusPartiallyFilled, OrderStatusFilled:
		return OrderStatus(s), nil
	}
	return "", &ValidationError{Message: "status must be one of: open, partially_filled, filled"}
}

// Order is a limit order resting on (or removed from) a book. Market orders
// are never materialized as Orders; their fills are reported as trades.
type Order struct {
	ID        uint64
	Trader    common.Address
	Side      Side
	Ticker    Ticker
	Amount    Amount
	Filled    Amount // 0 <= Filled <= Amount
	Price     Amount
	CreatedAt time.Time
}

// Remaining returns Amount - Filled.
func (o *Order) Remaining() Amount {
	var r Amount
	r.Sub(&o.Amount, &o.Filled)
	return r
}

// IsFilled reports whether the order has no remaining amount.
func (o *Order) IsFilled() bool {
	return o.Filled.Eq(&o.Amount)
}

// Status derives the lifecycle state from the fill level.
func (o *Order) Status() OrderStatus {
	switch {
	case o.IsFilled():
		return OrderStatusFilled
	case o.Filled.IsZero():
		return OrderStatusOpen
	}
	return OrderStatusPartiallyFilled
}
