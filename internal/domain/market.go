package domain

import (
	"fmt"
	"strings"
)

// Market holds the trading rules for one symbol.
type Market struct {
	Symbol            string
	Tick              float64 // minimum price increment
	QuantityPrecision int32   // decimal places allowed in amounts
	MinNotional       float64
}

// Validate checks that the market rules are usable.
func (m Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidSymbol)
	}
	if m.Tick <= 0 {
		return fmt.Errorf("market %s: tick must be positive", m.Symbol)
	}
	if m.QuantityPrecision < 0 {
		return fmt.Errorf("market %s: negative quantity precision", m.Symbol)
	}
	if m.MinNotional < 0 {
		return fmt.Errorf("market %s: negative min notional", m.Symbol)
	}
	return nil
}

// quoteSuffixes maps quote currency suffixes to the exchange's currency codes.
var quoteSuffixes = []struct {
	suffix string
	code   string
}{
	{"USDT", "usdt"},
	{"IRT", "rls"},
}

// SplitSymbol splits a symbol such as BTCIRT into source and destination
// currency codes (btc, rls).
func SplitSymbol(symbol string) (src, dst string, err error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, q := range quoteSuffixes {
		if strings.HasSuffix(s, q.suffix) && len(s) > len(q.suffix) {
			base := s[:len(s)-len(q.suffix)]
			for _, r := range base {
				if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
					return "", "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
				}
			}
			return strings.ToLower(base), q.code, nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
}
