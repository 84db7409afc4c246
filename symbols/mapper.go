package symbols

import "strings"

// denominated maps known scaled contract prefixes to their base token. Some
// venues list low-priced tokens as a contract over 1000 units (Binance/Bybit
// "1000PEPE", Hyperliquid "kPEPE"); the mark price of such a contract is 1000x
// the token price, so pairing it against an unscaled counterpart without
// rescaling would fabricate a 1000x arbitrage.
var denominated = map[string]string{
	"BONK":  "BONK",
	"FLOKI": "FLOKI",
	"LUNC":  "LUNC",
	"PEPE":  "PEPE",
	"RATS":  "RATS",
	"SATS":  "SATS",
	"SHIB":  "SHIB",
	"XEC":   "XEC",
}

// ToCanonical converts a venue-native perpetual symbol to the canonical base
// symbol shared across venues (e.g. "BTC-USDT-SWAP" -> "BTC"). The second
// return value is false when the symbol carries a denomination prefix that is
// not in the known set; such contracts cannot be reconciled safely and the
// mapping must be omitted rather than guessed.
// Supported venues: binance, asterdex, okx, bybit, hyperliquid, kucoin.
func ToCanonical(venue, sym string) (string, bool) {
	base := sym
	switch strings.ToLower(venue) {
	case "binance", "asterdex":
		base = strings.TrimSuffix(base, "USDT")
	case "bybit":
		base = strings.TrimSuffix(base, "USDT")
		// Bybit also lists the scaled SHIB contract as SHIB1000.
		if strings.HasSuffix(base, "1000") {
			base = strings.TrimSuffix(base, "1000")
			if _, ok := denominated[base]; !ok {
				return "", false
			}
			return base, true
		}
	case "okx":
		base = strings.TrimSuffix(base, "-SWAP")
		base = strings.TrimSuffix(base, "-USDT")
	case "kucoin":
		base = strings.TrimSuffix(base, "USDTM")
		if strings.HasPrefix(base, "XBT") {
			base = "BTC" + base[3:]
		}
	case "hyperliquid":
		// Hyperliquid marks scaled contracts with a lowercase k prefix.
		if strings.HasPrefix(base, "k") {
			rest := base[1:]
			if _, ok := denominated[rest]; !ok {
				return "", false
			}
			return rest, true
		}
		return base, true
	}

	if strings.HasPrefix(base, "1000") {
		rest := strings.TrimPrefix(base, "1000")
		// 1000000MOG and friends stack prefixes; strip repeatedly.
		for strings.HasPrefix(rest, "000") {
			rest = strings.TrimPrefix(rest, "000")
		}
		if _, ok := denominated[rest]; !ok {
			return "", false
		}
		return rest, true
	}

	return base, true
}
