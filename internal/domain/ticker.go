package domain

import (
	"bytes"
	"regexp"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9]{1,32}$`)

// Ticker is a fixed-width token symbol, zero padded on the right.
type Ticker [32]byte

// ParseTicker validates s and packs it into a Ticker.
func ParseTicker(s string) (Ticker, error) {
	var t Ticker
	if !tickerPattern.MatchString(s) {
		return t, &ValidationError{Message: "symbol must be 1-32 uppercase alphanumeric characters"}
	}
	copy(t[:], s)
	return t, nil
}

// MustTicker is like ParseTicker but panics on invalid input. Intended for
// constants and tests.
func MustTicker(s string) Ticker {
	t, err := ParseTicker(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Ticker) String() string {
	return string(bytes.TrimRight(t[:], "\x00"))
}

// IsZero reports whether the ticker is unset.
func (t Ticker) IsZero() bool {
	return t == Ticker{}
}

func (t Ticker) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Ticker) UnmarshalText(b []byte) error {
	parsed, err := ParseTicker(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
