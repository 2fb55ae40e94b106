package signals

import (
	"math"
	"strings"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
)

// dollarVolumeLookback is the averaging window for the liquidity filter.
const dollarVolumeLookback = 20

// sharedSkipReason applies the product, price, and liquidity filters
// both buy variants share. An empty string means the ticker passes.
func sharedSkipReason(ticker string, candles []models.Candle, meta models.TickerMeta, strat common.StrategyConfig) string {
	if strat.ExcludeETFETN && IsETFOrLeveraged(ticker, meta) {
		return "Excluded ETF/ETN/leveraged product"
	}

	minPrice := strat.MinPrice
	minDollar := strat.MinDollarVolume
	if strings.EqualFold(meta.Currency, "USD") {
		minPrice = strat.USMinPrice
		minDollar = strat.USMinDollarVolume
	}

	lastClose := float64(candles[len(candles)-1].Close)
	if minPrice > 0 && !math.IsNaN(lastClose) && lastClose < minPrice {
		return "Price below minimum " + FormatNumber(minPrice, 0)
	}
	if minDollar > 0 && avgDollarVolume(candles, dollarVolumeLookback) < minDollar {
		return "Dollar volume below minimum " + FormatNumber(minDollar, 0)
	}
	return ""
}

// avgDollarVolume averages close*volume over the trailing lookback bars,
// skipping bars with no close.
func avgDollarVolume(candles []models.Candle, lookback int) float64 {
	n := len(candles)
	start := n - lookback
	if start < 0 {
		start = 0
	}
	var sum float64
	var count int
	for i := start; i < n; i++ {
		c := float64(candles[i].Close)
		if math.IsNaN(c) {
			continue
		}
		sum += c * candles[i].VolumeOrZero()
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// belowBenchmarkReturn reports whether the ticker's trailing return over
// the lookback window falls short of the configured benchmark. Disabled
// when no lookback is set or the window exceeds the series.
func belowBenchmarkReturn(candles []models.Candle, strat common.StrategyConfig) bool {
	lookback := strat.RSLookbackDays
	n := len(candles)
	if lookback <= 0 || n <= lookback {
		return false
	}
	base := float64(candles[n-1-lookback].Close)
	last := float64(candles[n-1].Close)
	if math.IsNaN(base) || base <= 0 || math.IsNaN(last) {
		return false
	}
	return last/base-1 < strat.RSBenchmarkReturn
}
