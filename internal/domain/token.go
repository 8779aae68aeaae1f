package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Token is a registered asset. Handle points at the external ledger that
// custodies the token outside the exchange.
type Token struct {
	Ticker  Ticker
	Handle  common.Address
	AddedAt time.Time
}

// Balance is a trader's internal holding of one token.
type Balance struct {
	Trader common.Address
	Ticker Ticker
	Amount Amount
}
