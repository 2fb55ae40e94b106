package signals

import (
	"math"
	"time"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
)

const entryDateLayout = "2006-01-02"

// EvaluateSell applies the ATR trailing-stop rules to a holding. The
// candle series must end at the evaluation bar.
func EvaluateSell(holding models.Holding, candles []models.Candle, cfg common.SellConfig) models.SellEvaluation {
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

	minBars := cfg.MinBars
	if minBars <= 0 {
		minBars = 60
	}
	if n < minBars {
		eval.Reasons = []string{"Not enough history to evaluate sell rules"}
		return eval
	}

	closes := models.Closes(candles)
	highs := models.Highs(candles)
	lows := models.Lows(candles)
	atrVals := ATR(highs, lows, closes, 14)
	atrValue := atrVals[n-1]

	var reasons []string

	// Peak close since entry; fall back to a recent window when the
	// entry date cannot be parsed.
	peakStart := n - minBars
	if peakStart < 0 {
		peakStart = 0
	}
	entryValid := false
	if holding.EntryDate != "" {
		if entry, err := time.Parse(entryDateLayout, holding.EntryDate); err == nil {
			entryValid = true
			entryStr := entry.Format(entryDateLayout)
			for i, c := range candles {
				if c.Date >= entryStr {
					peakStart = i
					break
				}
			}
		}
	}
	if !entryValid {
		reasons = append(reasons, "Entry date missing/invalid; ATR trail uses recent window")
	}

	peak := math.Inf(-1)
	for i := peakStart; i < n; i++ {
		c := float64(candles[i].Close)
		if !math.IsNaN(c) && c > peak {
			peak = c
		}
	}

	mult := cfg.ATRMultiplier
	if mult <= 0 {
		mult = 2.0
	}

	var stopPrice *float64
	if !math.IsInf(peak, -1) && !math.IsNaN(atrValue) && atrValue > 0 {
		stop := peak - mult*atrValue
		stopPrice = &stop
	}
	if holding.StopOverride != nil {
		stopPrice = holding.StopOverride
	}
	eval.StopPrice = stopPrice
	eval.TargetPrice = holding.TargetOverride

	if stopPrice != nil && lastClose <= *stopPrice {
		eval.Action = models.ActionSell
		eval.Reasons = append(reasons, "Price hit ATR trailing stop")
		return eval
	}

	if holding.TargetOverride != nil && lastClose >= *holding.TargetOverride {
		eval.Action = models.ActionReview
		eval.Reasons = append(reasons, "Price reached target override")
		return eval
	}

	// Long-term trend gate.
	if cfg.RequireSMA200 && n >= 200 {
		sma200 := SMA(closes, 200)
		if !math.IsNaN(sma200[n-1]) && lastClose < sma200[n-1] {
			eval.Action = models.ActionReview
			eval.Reasons = append(reasons, "Price lost the 200-day SMA")
			return eval
		}
	}

	// Trend deterioration. The alternate floor catches a momentum
	// collapse even while the EMAs still read uptrend.
	emaShort := EMA(closes, cfg.EMAShort)
	emaLong := EMA(closes, cfg.EMALong)
	rsiVals := RSI(closes, cfg.RSIPeriod)
	lastRSI := rsiVals[n-1]
	if !math.IsNaN(lastRSI) {
		switch {
		case emaShort[n-1] < emaLong[n-1] && lastRSI < cfg.RSIFloor:
			eval.Action = models.ActionReview
			eval.Reasons = append(reasons, "Momentum weakening below trend")
			return eval
		case lastRSI < cfg.RSIFloorAlt:
			eval.Action = models.ActionReview
			eval.Reasons = append(reasons, "Momentum collapsed below floor")
			return eval
		}
	}

	// Time stop: a stale position that never went anywhere.
	if entryValid && cfg.TimeStopDays > 0 && holding.EntryPrice > 0 {
		entry, _ := time.Parse(entryDateLayout, holding.EntryDate)
		last, err := time.Parse(entryDateLayout, latest.Date)
		if err == nil && last.Sub(entry) > time.Duration(cfg.TimeStopDays)*24*time.Hour {
			pnl := (lastClose - holding.EntryPrice) / holding.EntryPrice
			if pnl <= 0 {
				eval.Action = models.ActionReview
				eval.Reasons = append(reasons, "Time stop reached without profit")
				return eval
			}
		}
	}

	eval.Reasons = append(reasons, "No sell criteria triggered")
	return eval
}
