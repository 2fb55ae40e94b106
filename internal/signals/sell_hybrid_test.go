package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
)

func hybridSellConfig() common.HybridSellConfig {
	cfg := common.NewDefaultConfig().HybridSel
	cfg.MinBars = 2
	cfg.EMAShortPeriod = 2
	cfg.EMAMidPeriod = 2
	cfg.SMATrendPeriod = 2
	return cfg
}

func simpleCandles(lastClose float64) []models.Candle {
	return []models.Candle{
		bar("2025-01-01", 1, 1, 1, 1, 1),
		bar("2025-01-02", 1, 1, 1, 1, 1),
		bar("2025-01-03", lastClose, lastClose, lastClose, lastClose, 1),
	}
}

func TestHybridSellHighProfitTriggersSell(t *testing.T) {
	holding := models.Holding{Ticker: "FAKE.US", EntryPrice: 100}

	eval := EvaluateHybridSell(holding, simpleCandles(110), hybridSellConfig())

	assert.Equal(t, models.ActionSell, eval.Action)
	assert.Contains(t, eval.Reasons, "Reached high profit target")
}

func TestHybridSellProfitTargetZoneSetsReview(t *testing.T) {
	holding := models.Holding{Ticker: "FAKE.US", EntryPrice: 100}

	eval := EvaluateHybridSell(holding, simpleCandles(105), hybridSellConfig())

	assert.Equal(t, models.ActionReview, eval.Action)
	assert.Contains(t, eval.Reasons, "Reached profit target zone")
	assert.NotContains(t, eval.Reasons, "Reached partial profit zone")
}

func TestHybridSellPartialProfitZoneSetsReview(t *testing.T) {
	holding := models.Holding{Ticker: "FAKE.US", EntryPrice: 100}

	eval := EvaluateHybridSell(holding, simpleCandles(103), hybridSellConfig())

	assert.Equal(t, models.ActionReview, eval.Action)
	assert.Contains(t, eval.Reasons, "Reached partial profit zone")
	assert.NotContains(t, eval.Reasons, "Reached profit target zone")
}

func TestHybridSellBelowPartialKeepsHold(t *testing.T) {
	holding := models.Holding{Ticker: "FAKE.US", EntryPrice: 100}

	eval := EvaluateHybridSell(holding, simpleCandles(102), hybridSellConfig())

	assert.Equal(t, models.ActionHold, eval.Action)
	assert.Equal(t, []string{"No hybrid sell criteria triggered"}, eval.Reasons)
}

func TestHybridSellLossTiers(t *testing.T) {
	holding := models.Holding{Ticker: "FAKE.US", EntryPrice: 100}

	eval := EvaluateHybridSell(holding, simpleCandles(96), hybridSellConfig())
	assert.Equal(t, models.ActionSell, eval.Action)
	assert.Contains(t, eval.Reasons, "Loss exceeded stop limit")

	eval = EvaluateHybridSell(holding, simpleCandles(97.5), hybridSellConfig())
	assert.Equal(t, models.ActionReview, eval.Action)
	assert.Contains(t, eval.Reasons, "Approaching stop loss")
}

func TestHybridSellMissingEntryPrice(t *testing.T) {
	holding := models.Holding{Ticker: "FAKE.US"}

	eval := EvaluateHybridSell(holding, simpleCandles(102), hybridSellConfig())

	assert.Equal(t, models.ActionReview, eval.Action)
	assert.Contains(t, eval.Reasons, "Entry price missing or invalid")
}

func TestHybridSellStopAndTargetLevels(t *testing.T) {
	cfg := hybridSellConfig()
	holding := models.Holding{Ticker: "FAKE.US", EntryPrice: 100}

	eval := EvaluateHybridSell(holding, simpleCandles(102), cfg)

	require.NotNil(t, eval.StopPrice)
	require.NotNil(t, eval.TargetPrice)
	assert.InDelta(t, 100*(1-cfg.StopLossPctMax), *eval.StopPrice, 1e-9)
	assert.InDelta(t, 100*(1+cfg.ProfitTargetHigh), *eval.TargetPrice, 1e-9)
}
