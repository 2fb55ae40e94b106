package signals

import (
	"fmt"
	"math"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
)

// Hybrid setup labels.
const (
	SetupPullback = "pullback"
	SetupBreakout = "breakout"
)

// EvaluateHybridBuy applies the trend-following hybrid rules: the price
// must sit in an SMA/EMA uptrend, entered either on a pullback to the
// short EMA or on a confirmed range breakout.
func EvaluateHybridBuy(ticker, name string, candles []models.Candle, meta models.TickerMeta, strat common.StrategyConfig, cfg common.HybridBuyConfig) BuyResult {
	minBars := strat.MinHistoryBars
	if minBars <= 0 {
		minBars = 60
	}
	if len(candles) < minBars {
		return skip(ticker, fmt.Sprintf("Not enough history (<%d bars)", minBars))
	}
	if reason := sharedSkipReason(ticker, candles, meta, strat); reason != "" {
		return skip(ticker, reason)
	}

	closes := models.Closes(candles)
	highs := models.Highs(candles)
	lows := models.Lows(candles)

	if !hasFinite(closes) || !hasFinite(highs) || !hasFinite(lows) {
		return skip(ticker, "Insufficient price data")
	}

	smaTrend := SMA(closes, cfg.SMATrendPeriod)
	emaShort := EMA(closes, cfg.EMAShortPeriod)
	emaMid := EMA(closes, cfg.EMAMidPeriod)
	rsiVals := RSI(closes, cfg.RSIPeriod)
	atrVals := ATR(highs, lows, closes, 14)

	n := len(candles)
	latest := candles[n-1]
	previous := candles[n-2]
	lastClose := float64(latest.Close)
	lastRSI := rsiVals[n-1]

	uptrend := lastClose > smaTrend[n-1] && emaShort[n-1] > emaMid[n-1]
	if uptrend && cfg.UseSMA60Filter {
		sma60 := SMA(closes, cfg.SMA60Period)
		uptrend = lastClose > sma60[n-1]
	}

	gapPct := 0.0
	prevClose := float64(previous.Close)
	if !math.IsNaN(prevClose) && prevClose != 0 {
		gapPct = (float64(latest.Open) - prevClose) / prevClose
	}
	maxGap := strat.MaxGapPct
	if maxGap <= 0 {
		maxGap = 0.03
	}
	gapOK := math.Abs(gapPct) <= maxGap

	setup := ""
	if uptrend && gapOK {
		switch {
		case isPullback(candles, emaShort, rsiVals, cfg):
			setup = SetupPullback
		case isBreakout(candles, meta, cfg):
			setup = SetupBreakout
		}
	}
	if setup == "" {
		return skip(ticker, "Did not meet hybrid signal criteria")
	}

	pctChange := 0.0
	if !math.IsNaN(prevClose) && prevClose != 0 {
		pctChange = (lastClose - prevClose) / prevClose
	}

	atrValue := atrVals[n-1]
	if atrValue <= 0 {
		atrValue = math.NaN()
	}
	riskGuide := "-"
	if !math.IsNaN(atrValue) {
		stop := math.Max(lastClose-atrValue, 0)
		target := lastClose + atrValue*2
		riskGuide = fmt.Sprintf("Stop %s / Target %s (~1:2)", FormatNumber(stop, 0), FormatNumber(target, 0))
	}

	if name == "" {
		name = ticker
	}

	candidate := &models.Candidate{
		Ticker:     ticker,
		Name:       name,
		Price:      FormatNumber(lastClose, 0),
		PriceValue: lastClose,
		EMA20:      FormatNumber(emaShort[n-1], 2),
		EMA50:      FormatNumber(emaMid[n-1], 2),
		RSI14:      FormatNumber(lastRSI, 2),
		RSIValue:   lastRSI,
		ATR14:      FormatNumber(atrValue, 2),
		Gap:        formatPct(gapPct),
		PctChange:  formatPct(pctChange),
		High:       FormatNumber(float64(latest.High), 0),
		Low:        FormatNumber(float64(latest.Low), 0),
		RiskGuide:  riskGuide,
		ScoreValue: lastRSI,
		Setup:      setup,
		EvalDate:   latest.Date,
	}
	return BuyResult{Ticker: ticker, Candidate: candidate}
}

// isPullback detects a dip to the short EMA that has started to recover,
// with momentum in the healthy zone (or oversold but turning up).
func isPullback(candles []models.Candle, emaShort, rsiVals []float64, cfg common.HybridBuyConfig) bool {
	n := len(candles)
	lastRSI := rsiVals[n-1]
	prevRSI := rsiVals[n-2]
	if math.IsNaN(lastRSI) {
		return false
	}

	zoneOK := lastRSI >= cfg.RSIZoneLow && lastRSI <= cfg.RSIZoneHigh
	oversoldRebound := lastRSI >= cfg.RSIOversoldLow && lastRSI <= cfg.RSIOversoldHigh &&
		!math.IsNaN(prevRSI) && lastRSI > prevRSI
	if !zoneOK && !oversoldRebound {
		return false
	}

	// The dip: some recent bar's low touched the short EMA.
	maxBars := cfg.PullbackMaxBars
	if maxBars <= 0 {
		maxBars = 5
	}
	touched := false
	for i := n - maxBars; i < n; i++ {
		if i < 0 {
			continue
		}
		if float64(candles[i].Low) <= emaShort[i] {
			touched = true
			break
		}
	}
	if !touched {
		return false
	}

	// The recovery: price back above the short EMA.
	return float64(candles[n-1].Close) > emaShort[n-1]
}

// isBreakout detects a close above the recent consolidation high on
// expanded volume. For domestic names confirmation can be required: the
// prior bar must already have closed above the range.
func isBreakout(candles []models.Candle, meta models.TickerMeta, cfg common.HybridBuyConfig) bool {
	n := len(candles)
	window := cfg.BreakoutMaxBars
	if window <= 0 {
		window = 40
	}
	minWindow := cfg.BreakoutMinBars
	if minWindow <= 0 {
		minWindow = 10
	}
	if n-1 < minWindow {
		return false
	}

	start := n - 1 - window
	if start < 0 {
		start = 0
	}
	priorHigh := math.Inf(-1)
	for i := start; i < n-1; i++ {
		h := float64(candles[i].High)
		if !math.IsNaN(h) && h > priorHigh {
			priorHigh = h
		}
	}
	if math.IsInf(priorHigh, -1) {
		return false
	}

	lastClose := float64(candles[n-1].Close)
	if lastClose <= priorHigh {
		return false
	}

	// Volume expansion against the recent average.
	lookback := cfg.VolumeLookbackDays
	if lookback <= 0 {
		lookback = 20
	}
	var sum float64
	var count int
	for i := n - 1 - lookback; i < n-1; i++ {
		if i < 0 {
			continue
		}
		sum += candles[i].VolumeOrZero()
		count++
	}
	if count > 0 {
		avg := sum / float64(count)
		if avg > 0 && candles[n-1].VolumeOrZero() <= avg {
			return false
		}
	}

	if cfg.KRBreakoutConfirm && meta.Currency != "USD" {
		// Confirmation bar: the breakout must have held for a session.
		prevHighBeforeBreakout := math.Inf(-1)
		for i := start; i < n-2; i++ {
			h := float64(candles[i].High)
			if !math.IsNaN(h) && h > prevHighBeforeBreakout {
				prevHighBeforeBreakout = h
			}
		}
		if math.IsInf(prevHighBeforeBreakout, -1) {
			return false
		}
		if float64(candles[n-2].Close) <= prevHighBeforeBreakout {
			return false
		}
	}
	return true
}
