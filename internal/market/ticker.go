package market

import "strings"

// Ticker suffix to overseas exchange code.
var suffixToExchange = map[string]string{
	"US":     "NAS",
	"NASDAQ": "NAS",
	"NASD":   "NAS",
	"NAS":    "NAS",
	"NYSE":   "NYS",
	"NYS":    "NYS",
	"AMEX":   "AMS",
	"AMS":    "AMS",
}

// SplitTicker separates "AAPL.NAS" into the bare symbol and the
// overseas exchange code. Domestic tickers return an empty exchange.
func SplitTicker(ticker string) (symbol, exchange string) {
	idx := strings.LastIndex(ticker, ".")
	if idx < 0 {
		return ticker, ""
	}
	suffix := strings.ToUpper(ticker[idx+1:])
	if excd, ok := suffixToExchange[suffix]; ok {
		return ticker[:idx], excd
	}
	return ticker, ""
}

// IsOverseas reports whether the ticker carries a US exchange suffix.
func IsOverseas(ticker string) bool {
	_, exchange := SplitTicker(ticker)
	return exchange != ""
}

// CurrencyFor infers the trading currency from a ticker. An explicit
// currency, when present, wins.
func CurrencyFor(ticker, explicit string) string {
	if explicit != "" {
		return strings.ToUpper(explicit)
	}
	if IsOverseas(ticker) {
		return "USD"
	}
	return "KRW"
}
