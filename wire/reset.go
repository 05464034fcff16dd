package wire

import (
	"github.com/tokennet/funder/creditline"
)

// ResetSignatureBuffer builds the canonical "reset" buffer signed to
// produce a channel's reset token (spec §4.2 calc_channel_reset_token):
// hash("RESET") followed by the channel's chain head and its per-currency
// balances in currency order, so the same chain head and balances always
// yield the same bytes.
func ResetSignatureBuffer(chainHead HashResult, balances map[creditline.Currency]creditline.Int128) []byte {
	tag := HashTag("RESET")

	currencies := make([]creditline.Currency, 0, len(balances))
	for c := range balances {
		currencies = append(currencies, c)
	}
	sortCurrencies(currencies)

	parts := [][]byte{tag[:], chainHead[:]}
	for _, c := range currencies {
		parts = append(parts, []byte(c), []byte(balances[c].String()))
	}
	return Concat(parts...)
}

// sortCurrencies is a tiny insertion sort; the buffer must be canonical so
// two peers computing it independently over the same map produce identical
// bytes regardless of Go's randomized map iteration order.
func sortCurrencies(cs []creditline.Currency) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j-1] > cs[j]; j-- {
			cs[j-1], cs[j] = cs[j], cs[j-1]
		}
	}
}
