package domain

import (
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0", want: "0"},
		{in: "100", want: "100"},
		{in: "100000000000000000000", want: "100000000000000000000"}, // 100 ether in wei
		{in: "115792089237316195423570985008687907853269984665640564039457584007913129639935",
			want: "115792089237316195423570985008687907853269984665640564039457584007913129639935"},
		{in: "115792089237316195423570985008687907853269984665640564039457584007913129639936", wantErr: true},
		{in: "", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "+1", wantErr: true},
		{in: "1.5", wantErr: true},
		{in: "1e18", wantErr: true},
		{in: "0x10", wantErr: true},
		{in: strings.Repeat("9", 79), wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if tt.wantErr {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("ParseAmount(%q) error = %v, want ValidationError", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q) error: %v", tt.in, err)
			continue
		}
		if got.Dec() != tt.want {
			t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got.Dec(), tt.want)
		}
	}
}

func TestNotional_Overflow(t *testing.T) {
	big := MustAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	two := NewAmount(2)
	if _, err := Notional(&big, &two); !errors.Is(err, ErrAmountOverflow) {
		t.Errorf("Notional error = %v, want ErrAmountOverflow", err)
	}

	ten := NewAmount(10)
	n, err := Notional(&ten, &ten)
	if err != nil {
		t.Fatalf("Notional error: %v", err)
	}
	if n.Uint64() != 100 {
		t.Errorf("Notional = %s, want 100", n.Dec())
	}
}

func TestMinAmount(t *testing.T) {
	a, b := NewAmount(3), NewAmount(7)
	if m := MinAmount(&a, &b); m.Uint64() != 3 {
		t.Errorf("MinAmount(3, 7) = %s", m.Dec())
	}
	if m := MinAmount(&b, &a); m.Uint64() != 3 {
		t.Errorf("MinAmount(7, 3) = %s", m.Dec())
	}
}

func TestProperty_AmountDecimalRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Uint64().Draw(t, "v")
		a := NewAmount(v)
		got, err := ParseAmount(a.Dec())
		if err != nil {
			t.Fatalf("ParseAmount(%s) error: %v", a.Dec(), err)
		}
		if !got.Eq(&a) {
			t.Fatalf("round trip %d -> %s -> %s", v, a.Dec(), got.Dec())
		}
	})
}
