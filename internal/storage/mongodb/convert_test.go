package mongodb

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDecimal128KeepsScale(t *testing.T) {
	for _, raw := range []string{"0", "20.00", "1234567.89", "0.01"} {
		in := decimal.RequireFromString(raw)
		v, err := toDecimal128(in)
		if err != nil {
			t.Fatalf("to decimal128 %s: %v", raw, err)
		}
		out, err := fromDecimal128(v)
		if err != nil {
			t.Fatalf("from decimal128 %s: %v", raw, err)
		}
		if !out.Equal(in) {
			t.Fatalf("expected %s, got %s", in, out)
		}
	}
}
