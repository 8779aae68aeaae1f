package domain

import (
	"regexp"

	"github.com/holiman/uint256"
)

// Amount is an unsigned 256-bit quantity of a token in its smallest unit.
// Prices use the same representation: quote units per base unit.
type Amount = uint256.Int

var amountPattern = regexp.MustCompile(`^[0-9]{1,78}$`)

// ParseAmount parses a base-10 string into an Amount. Signs, decimal
// points and exponents are rejected.
func ParseAmount(s string) (Amount, error) {
	if !amountPattern.MatchString(s) {
		return Amount{}, &ValidationError{Message: "amount must be a non-negative base-10 integer"}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, &ValidationError{Message: "amount does not fit in 256 bits"}
	}
	return *v, nil
}

// MustAmount is like ParseAmount but panics on invalid input.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// NewAmount returns v as an Amount.
func NewAmount(v uint64) Amount {
	return *uint256.NewInt(v)
}

// Notional returns amount × price, or ErrAmountOverflow.
func Notional(amount, price *Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.MulOverflow(amount, price); overflow {
		return Amount{}, ErrAmountOverflow
	}
	return out, nil
}

// MinAmount returns the smaller of a and b.
func MinAmount(a, b *Amount) Amount {
	if a.Lt(b) {
		return *a
	}
	return *b
}
