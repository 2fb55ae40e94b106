package signals

import (
	"strings"

	"github.com/mkkang/swingbot/internal/models"
)

// Product-name keywords flagging ETF/ETN and leveraged/inverse products.
// Fund-issuer brands count even without an explicit ETF token.
var etfNameKeywords = []string{
	"ETF", "ETN", "레버리지", "인버스",
	"ULTRA", "ULTRAPRO", "BULL", "BEAR", "LEVERAGED", "2X", "3X",
	"ISHARES", "SPDR", "KODEX", "TIGER",
}

var etfTickerHints = []string{"2X", "3X"}

// IsETFOrLeveraged heuristically detects ETF/ETN and leveraged/inverse
// products from metadata, falling back to coarse ticker hints.
func IsETFOrLeveraged(ticker string, meta models.TickerMeta) bool {
	if meta.IsETF {
		return true
	}
	secType := strings.ToUpper(meta.SecurityType)
	if strings.Contains(secType, "ETF") || strings.Contains(secType, "ETN") {
		return true
	}

	upperName := strings.ToUpper(meta.Name)
	for _, kw := range etfNameKeywords {
		if strings.Contains(upperName, kw) {
			return true
		}
	}
	upperTicker := strings.ToUpper(ticker)
	for _, h := range etfTickerHints {
		if strings.Contains(upperTicker, h) {
			return true
		}
	}
	return false
}
