package enroll

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	for _, tc := range []struct {
		in       string
		amount   float64
		currency string
		ok       bool
	}{
		{"$19.99", 19.99, "$", true},
		{"€19,99", 19.99, "€", true},
		{"₹1,299", 1299, "₹", true},
		{"1.299,00 zł", 1299, "zł", true},
		{"US$1,299.00", 1299, "US$", true},
		{"0", 0, "", true},
		{"Free", 0, "", true},
		{"", 0, "", false},
		{"no digits here", 0, "", false},
	} {
		price, ok := ParsePrice(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		if !tc.ok {
			continue
		}
		require.InDelta(t, tc.amount, price.Amount, 0.001, tc.in)
		require.Equal(t, tc.currency, price.Currency, tc.in)
	}
}
