package signals

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
)

func crossoverStrategy() common.StrategyConfig {
	return common.StrategyConfig{MinHistoryBars: 60, MaxGapPct: 0.03}
}

func bar(date string, open, high, low, close, volume float64) models.Candle {
	return models.Candle{
		Date:   date,
		Open:   models.PriceValue(open),
		High:   models.PriceValue(high),
		Low:    models.PriceValue(low),
		Close:  models.PriceValue(close),
		Volume: models.PriceValue(volume),
	}
}

func flatBars(n int, price float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = bar(fmt.Sprintf("2025-01-%02d", i+1), price, price+0.5, price-0.5, price, 1000)
	}
	return out
}

func TestEvaluateCrossoverNotEnoughHistory(t *testing.T) {
	result := EvaluateCrossover("005930", "", flatBars(30, 100), models.TickerMeta{}, crossoverStrategy())
	assert.Nil(t, result.Candidate)
	assert.Equal(t, "Not enough history (<60 bars)", result.Reason)
}

func TestEvaluateCrossoverInsufficientData(t *testing.T) {
	candles := make([]models.Candle, 60)
	nan := math.NaN()
	for i := range candles {
		candles[i] = bar(fmt.Sprintf("d%02d", i), nan, nan, nan, nan, 0)
	}
	result := EvaluateCrossover("005930", "", candles, models.TickerMeta{}, crossoverStrategy())
	assert.Nil(t, result.Candidate)
	assert.Equal(t, "Insufficient price data", result.Reason)
}

func TestEvaluateCrossoverNoSignal(t *testing.T) {
	result := EvaluateCrossover("005930", "", flatBars(60, 100), models.TickerMeta{}, crossoverStrategy())
	assert.Nil(t, result.Candidate)
	assert.Equal(t, "Did not meet signal criteria", result.Reason)
}

// A shakeout bar followed by a strong recovery: EMA20 recrosses EMA50
// on the same bar the RSI rebounds through 30.
func crossoverSeries() []models.Candle {
	candles := flatBars(58, 100)
	candles = append(candles, bar("2025-03-01", 100, 100.5, 94.5, 95, 1500))
	candles = append(candles, bar("2025-03-02", 95, 105.5, 94.5, 105, 5000))
	return candles
}

func TestEvaluateCrossoverCandidate(t *testing.T) {
	result := EvaluateCrossover("005930", "Samsung", crossoverSeries(), models.TickerMeta{}, crossoverStrategy())
	require.NotNil(t, result.Candidate, "reason: %s", result.Reason)

	c := result.Candidate
	assert.Equal(t, "005930", c.Ticker)
	assert.Equal(t, "Samsung", c.Name)
	assert.Equal(t, "105", c.Price)
	assert.Equal(t, 105.0, c.PriceValue)
	assert.Equal(t, "68.29", c.RSI14)
	assert.InDelta(t, 68.29, c.RSIValue, 0.01)
	assert.Equal(t, "0.0%", c.Gap)
	assert.Equal(t, "10.5%", c.PctChange)
	assert.Equal(t, "Stop 103 / Target 109 (~1:2)", c.RiskGuide)
	assert.InDelta(t, 68.29, c.ScoreValue, 0.01)
	assert.Equal(t, "2025-03-02", c.EvalDate)
}

func TestEvaluateCrossoverGapFilter(t *testing.T) {
	candles := crossoverSeries()
	// Same shape, but the final bar gaps up well beyond the limit.
	last := candles[len(candles)-1]
	last.Open = models.PriceValue(99)
	candles[len(candles)-1] = last

	result := EvaluateCrossover("005930", "", candles, models.TickerMeta{}, crossoverStrategy())
	assert.Nil(t, result.Candidate)
	assert.Equal(t, "Did not meet signal criteria", result.Reason)
}

func TestEvaluateCrossoverNameFallsBackToTicker(t *testing.T) {
	result := EvaluateCrossover("005930", "", crossoverSeries(), models.TickerMeta{}, crossoverStrategy())
	require.NotNil(t, result.Candidate)
	assert.Equal(t, "005930", result.Candidate.Name)
}

func TestEvaluateCrossoverExcludesETF(t *testing.T) {
	strat := crossoverStrategy()
	strat.ExcludeETFETN = true

	meta := models.TickerMeta{Name: "Vanguard Total Stock Market ETF", Currency: "USD"}
	result := EvaluateCrossover("VTI.AMS", meta.Name, crossoverSeries(), meta, strat)
	assert.Nil(t, result.Candidate)
	assert.Equal(t, "Excluded ETF/ETN/leveraged product", result.Reason)
}

func TestEvaluateCrossoverUSMinPrice(t *testing.T) {
	strat := crossoverStrategy()
	strat.MinPrice = 1000 // domestic floor must not apply to USD names
	strat.USMinPrice = 500

	meta := models.TickerMeta{Currency: "USD"}
	result := EvaluateCrossover("AAPL.NAS", "Apple", crossoverSeries(), meta, strat)
	assert.Nil(t, result.Candidate)
	assert.Equal(t, "Price below minimum 500", result.Reason)
}

func TestEvaluateCrossoverMinDollarVolume(t *testing.T) {
	strat := crossoverStrategy()
	strat.MinDollarVolume = 1_000_000

	result := EvaluateCrossover("005930", "", crossoverSeries(), models.TickerMeta{}, strat)
	assert.Nil(t, result.Candidate)
	assert.Equal(t, "Dollar volume below minimum 1,000,000", result.Reason)
}

func TestEvaluateCrossoverRelativeStrength(t *testing.T) {
	strat := crossoverStrategy()
	strat.RSLookbackDays = 20
	strat.RSBenchmarkReturn = 0.10

	// The series gains ~5% over the lookback, short of the benchmark.
	result := EvaluateCrossover("005930", "", crossoverSeries(), models.TickerMeta{}, strat)
	assert.Nil(t, result.Candidate)
	assert.Equal(t, "Relative strength below benchmark", result.Reason)

	strat.RSBenchmarkReturn = 0.0
	result = EvaluateCrossover("005930", "", crossoverSeries(), models.TickerMeta{}, strat)
	require.NotNil(t, result.Candidate, "reason: %s", result.Reason)
}

func TestEvaluateHybridBuyExcludesETF(t *testing.T) {
	strat, hybrid := hybridConfigs()
	strat.ExcludeETFETN = true

	candles := flatBars(68, 100)
	candles = append(candles, bar("2025-03-10", 100, 103.5, 99.5, 103, 5000))

	meta := models.TickerMeta{Name: "Vanguard Total Stock Market ETF", Currency: "USD"}
	result := EvaluateHybridBuy("VTI.AMS", meta.Name, candles, meta, strat, hybrid)
	assert.Nil(t, result.Candidate)
	assert.Equal(t, "Excluded ETF/ETN/leveraged product", result.Reason)
}

func TestEvaluateHybridBuyUSMinPrice(t *testing.T) {
	strat, hybrid := hybridConfigs()
	strat.USMinPrice = 500

	candles := flatBars(68, 100)
	candles = append(candles, bar("2025-03-10", 100, 103.5, 99.5, 103, 5000))

	result := EvaluateHybridBuy("AAPL.NAS", "Apple", candles, models.TickerMeta{Currency: "USD"}, strat, hybrid)
	assert.Nil(t, result.Candidate)
	assert.Equal(t, "Price below minimum 500", result.Reason)
}
