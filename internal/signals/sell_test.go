package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
)

func sellConfig() common.SellConfig {
	cfg := common.NewDefaultConfig().Sell
	cfg.MinBars = 20
	cfg.ATRMultiplier = 1.0
	return cfg
}

// trailSeries: flat base, a run-up, then a slide through the trailing
// stop. Constant two-point ranges keep the ATR predictable.
func trailSeries() []models.Candle {
	closes := []float64{
		100, 100, 100, 100, 100, 100, 100, 100, 100, 100,
		100, 100, 100, 100, 100, 100, 100, 100, 100, 100,
		102, 104, 106, 108, 110,
		108, 106, 104, 100, 96,
	}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		candles[i] = bar(date, c, c+1, c-1, c, 1000)
	}
	return candles
}

func TestEvaluateSellTrailingStopFromEntryPeak(t *testing.T) {
	holding := models.Holding{Ticker: "TEST", EntryPrice: 100, EntryDate: "2025-01-21"}

	eval := EvaluateSell(holding, trailSeries(), sellConfig())

	assert.Equal(t, models.ActionSell, eval.Action)
	assert.Contains(t, eval.Reasons, "Price hit ATR trailing stop")
	require.NotNil(t, eval.StopPrice)
	// Peak close since entry is 110; the stop sits one ATR below it.
	assert.Greater(t, *eval.StopPrice, 96.0)
	assert.Less(t, *eval.StopPrice, 110.0)
	assert.Equal(t, 96.0, eval.EvalPrice)
}

func TestEvaluateSellFallsBackToRecentWindow(t *testing.T) {
	holding := models.Holding{Ticker: "TEST", EntryPrice: 100}

	eval := EvaluateSell(holding, trailSeries(), sellConfig())

	assert.Equal(t, models.ActionSell, eval.Action)
	assert.Contains(t, eval.Reasons, "Entry date missing/invalid; ATR trail uses recent window")
	assert.Contains(t, eval.Reasons, "Price hit ATR trailing stop")
}

func TestEvaluateSellHoldsOnQuietSeries(t *testing.T) {
	candles := trailSeries()[:25] // ends at the 110 peak
	holding := models.Holding{Ticker: "TEST", EntryPrice: 100, EntryDate: "2025-01-21"}

	eval := EvaluateSell(holding, candles, sellConfig())

	assert.Equal(t, models.ActionHold, eval.Action)
	assert.Contains(t, eval.Reasons, "No sell criteria triggered")
}

func TestEvaluateSellStopOverride(t *testing.T) {
	override := 105.0
	holding := models.Holding{Ticker: "TEST", EntryPrice: 100, EntryDate: "2025-01-21", StopOverride: &override}

	eval := EvaluateSell(holding, trailSeries(), sellConfig())

	assert.Equal(t, models.ActionSell, eval.Action)
	require.NotNil(t, eval.StopPrice)
	assert.Equal(t, 105.0, *eval.StopPrice)
}

func TestEvaluateSellTargetOverride(t *testing.T) {
	target := 108.0
	candles := trailSeries()[:25] // last close 110 >= target
	holding := models.Holding{Ticker: "TEST", EntryPrice: 100, EntryDate: "2025-01-21", TargetOverride: &target}

	eval := EvaluateSell(holding, candles, sellConfig())

	assert.Equal(t, models.ActionReview, eval.Action)
	assert.Contains(t, eval.Reasons, "Price reached target override")
}

func TestEvaluateSellTimeStop(t *testing.T) {
	cfg := sellConfig()
	cfg.TimeStopDays = 20

	// Flat forever: nothing triggers except the stale-position check.
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, 30)
	for i := range candles {
		date := start.AddDate(0, 0, i*2).Format("2006-01-02")
		candles[i] = bar(date, 100, 101, 99, 100, 1000)
	}
	holding := models.Holding{Ticker: "TEST", EntryPrice: 100, EntryDate: "2025-01-01"}

	eval := EvaluateSell(holding, candles, cfg)

	assert.Equal(t, models.ActionReview, eval.Action)
	assert.Contains(t, eval.Reasons, "Time stop reached without profit")
}

func TestEvaluateSellInsufficientHistory(t *testing.T) {
	holding := models.Holding{Ticker: "TEST", EntryPrice: 100}

	eval := EvaluateSell(holding, trailSeries()[:5], sellConfig())

	assert.Equal(t, models.ActionHold, eval.Action)
	assert.Contains(t, eval.Reasons, "Not enough history to evaluate sell rules")
}

func TestEvaluateSellNoData(t *testing.T) {
	eval := EvaluateSell(models.Holding{Ticker: "TEST"}, nil, sellConfig())
	assert.Equal(t, models.ActionHold, eval.Action)
	assert.Contains(t, eval.Reasons, "No market data available")
}

func TestEvaluateSellRequireSMA200(t *testing.T) {
	cfg := sellConfig()
	cfg.RequireSMA200 = true

	// Flat at 100 for 199 bars, then a dip below the long average.
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, 200)
	for i := range candles {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		candles[i] = bar(date, 100, 101, 99, 100, 1000)
	}
	last := len(candles) - 1
	candles[last] = bar(candles[last].Date, 100, 100, 98, 99, 1000)

	holding := models.Holding{Ticker: "TEST", EntryPrice: 100, EntryDate: candles[195].Date}
	eval := EvaluateSell(holding, candles, cfg)

	assert.Equal(t, models.ActionReview, eval.Action)
	assert.Contains(t, eval.Reasons, "Price lost the 200-day SMA")

	// The same series passes once the gate is off.
	cfg.RequireSMA200 = false
	eval = EvaluateSell(holding, candles, cfg)
	assert.NotContains(t, eval.Reasons, "Price lost the 200-day SMA")
}

func TestEvaluateSellRSIFloorAltWithoutTrendBreak(t *testing.T) {
	cfg := sellConfig()
	cfg.ATRMultiplier = 10 // keep the trailing stop out of the way
	cfg.RSIFloorAlt = 50

	// A long rise keeps the short EMA above the long one, then a sharp
	// slide craters the RSI before the EMAs can cross.
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var candles []models.Candle
	close := 100.0
	for i := 0; i < 40; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		candles = append(candles, bar(date, close, close+1, close-1, close, 1000))
		close++
	}
	for i := 40; i < 46; i++ {
		close -= 4
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		candles = append(candles, bar(date, close+4, close+1, close-1, close, 1000))
	}

	holding := models.Holding{Ticker: "TEST", EntryPrice: 120, EntryDate: candles[30].Date}
	eval := EvaluateSell(holding, candles, cfg)

	assert.Equal(t, models.ActionReview, eval.Action)
	assert.Contains(t, eval.Reasons, "Momentum collapsed below floor")
}
