package signal

import "strings"

// Quote assets the channel has been seen quoting against, longest first so
// that USDT wins over USD when splitting a joined pair.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "USD"}

// overrides maps notations that defeat the generic rules onto their
// canonical form.
var overrides = map[string]string{
	"XBT/USD":  "BTC-USD",
	"XBTUSD":   "BTC-USD",
	"BTC-PERP": "BTC-USDT",
	"ETH-PERP": "ETH-USDT",
}

// Normalize canonicalizes an instrument notation to BASE-QUOTE, uppercase.
// Accepted inputs: "base/quote", "base-quote", a joined "BASEQUOTE" with a
// known quote suffix, with any decorative glyphs or brackets around them.
func Normalize(raw string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.Trim(s, "[]()#*`🔴🔵🟢⚡️ \t")
	if s == "" {
		return "", false
	}

	if canon, ok := overrides[s]; ok {
		return canon, true
	}

	for _, sep := range []string{"/", "-"} {
		if base, quote, found := strings.Cut(s, sep); found {
			return join(base, quote)
		}
	}

	for _, quote := range quoteAssets {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return join(strings.TrimSuffix(s, quote), quote)
		}
	}

	return "", false
}

func join(base, quote string) (string, bool) {
	base = strings.TrimSpace(base)
	quote = strings.TrimSpace(quote)
	if base == "" || !isKnownQuote(quote) {
		return "", false
	}
	return base + "-" + quote, true
}

func isKnownQuote(quote string) bool {
	for _, q := range quoteAssets {
		if q == quote {
			return true
		}
	}
	return false
}
