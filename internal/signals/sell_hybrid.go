package signals

import (
	"math"
	"time"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
)

// EvaluateHybridSell applies the tiered profit-taking rules: scale out
// into strength on profit tiers, cut losses on fixed percentages, and
// flag broken trends for review.
func EvaluateHybridSell(holding models.Holding, candles []models.Candle, cfg common.HybridSellConfig) models.SellEvaluation {
	eval := models.SellEvaluation{Ticker: holding.Ticker, Action: models.ActionHold}
	if len(candles) == 0 {
		eval.Reasons = []string{"No market data available"}
		return eval
	}

	n := len(candles)
	latest := candles[n-1]
	lastClose := float64(latest.Close)
	eval.EvalPrice = lastClose
	eval.EvalDate = latest.Date

	if holding.EntryPrice <= 0 {
		eval.Action = models.ActionReview
		eval.Reasons = []string{"Entry price missing or invalid"}
		return eval
	}

	stop := holding.EntryPrice * (1 - cfg.StopLossPctMax)
	target := holding.EntryPrice * (1 + cfg.ProfitTargetHigh)
	if holding.StopOverride != nil {
		stop = *holding.StopOverride
	}
	if holding.TargetOverride != nil {
		target = *holding.TargetOverride
	}
	eval.StopPrice = &stop
	eval.TargetPrice = &target

	pnl := (lastClose - holding.EntryPrice) / holding.EntryPrice

	// Loss tiers first: a losing position never scales out.
	switch {
	case pnl <= -cfg.StopLossPctMax:
		eval.Action = models.ActionSell
		eval.Reasons = []string{"Loss exceeded stop limit"}
		return eval
	case pnl <= -cfg.StopLossPctMin:
		eval.Action = models.ActionReview
		eval.Reasons = []string{"Approaching stop loss"}
		return eval
	}

	// Profit tiers.
	switch {
	case pnl >= cfg.ProfitTargetHigh:
		eval.Action = models.ActionSell
		eval.Reasons = []string{"Reached high profit target"}
		return eval
	case pnl >= cfg.ProfitTargetLow:
		eval.Action = models.ActionReview
		eval.Reasons = []string{"Reached profit target zone"}
		return eval
	case pnl >= cfg.PartialProfitFloor:
		eval.Action = models.ActionReview
		eval.Reasons = []string{"Reached partial profit zone"}
		return eval
	}

	// Trend break, only when there is enough history to judge.
	minBars := cfg.MinBars
	if minBars <= 0 {
		minBars = 60
	}
	if n >= minBars {
		closes := models.Closes(candles)
		emaShort := EMA(closes, cfg.EMAShortPeriod)
		emaMid := EMA(closes, cfg.EMAMidPeriod)
		if lastClose < emaMid[n-1] && emaShort[n-1] < emaMid[n-1] {
			eval.Action = models.ActionReview
			eval.Reasons = []string{"Trend support broken"}
			return eval
		}

		// Failed breakout: sharp drop right after entry.
		if recentEntry(holding, latest.Date, cfg.TimeStopGraceDays) && pnl <= -cfg.FailedBreakoutDrop {
			eval.Action = models.ActionReview
			eval.Reasons = []string{"Failed breakout: gave back entry move"}
			return eval
		}
	}

	// Time stop: held past the window without the profit floor.
	if cfg.TimeStopDays > 0 && holding.EntryDate != "" {
		if entry, err := time.Parse(entryDateLayout, holding.EntryDate); err == nil {
			if last, err := time.Parse(entryDateLayout, latest.Date); err == nil {
				limit := time.Duration(cfg.TimeStopDays+cfg.TimeStopGraceDays) * 24 * time.Hour
				if last.Sub(entry) > limit && pnl < cfg.TimeStopProfitFloor {
					eval.Action = models.ActionReview
					eval.Reasons = []string{"Time stop: profit below floor"}
					return eval
				}
			}
		}
	}

	eval.Reasons = []string{"No hybrid sell criteria triggered"}
	return eval
}

func recentEntry(holding models.Holding, lastDate string, graceDays int) bool {
	if holding.EntryDate == "" || graceDays <= 0 {
		return false
	}
	entry, err := time.Parse(entryDateLayout, holding.EntryDate)
	if err != nil {
		return false
	}
	last, err := time.Parse(entryDateLayout, lastDate)
	if err != nil {
		return false
	}
	return last.Sub(entry) <= time.Duration(graceDays)*24*time.Hour
}

// Pct formats a pnl fraction for reports.
func Pct(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return formatPct(v)
}
