package signals

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
)

// BuyResult is the outcome of a buy-side evaluation. Candidate is nil
// when the ticker was skipped; Reason then says why.
type BuyResult struct {
	Ticker    string
	Candidate *models.Candidate
	Reason    string
}

func skip(ticker, reason string) BuyResult {
	return BuyResult{Ticker: ticker, Reason: reason}
}

// FormatNumber renders a value with thousands separators, "-" for NaN.
func FormatNumber(v float64, digits int) string {
	if math.IsNaN(v) {
		return "-"
	}
	s := strconv.FormatFloat(v, 'f', digits, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart := s
	frac := ""
	if i := strings.Index(s, "."); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}

func formatPct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// EvaluateCrossover applies the EMA20/EMA50 crossover rules with an RSI
// rebound and gap filter to a candle series ending at the evaluation
// bar. Product, price, liquidity, and relative-strength filters run
// before any indicator work.
func EvaluateCrossover(ticker, name string, candles []models.Candle, meta models.TickerMeta, strat common.StrategyConfig) BuyResult {
	minBars := strat.MinHistoryBars
	if minBars <= 0 {
		minBars = 60
	}
	maxGapPct := strat.MaxGapPct
	if maxGapPct <= 0 {
		maxGapPct = 0.03
	}
	if len(candles) < minBars {
		return skip(ticker, fmt.Sprintf("Not enough history (<%d bars)", minBars))
	}
	if reason := sharedSkipReason(ticker, candles, meta, strat); reason != "" {
		return skip(ticker, reason)
	}
	if belowBenchmarkReturn(candles, strat) {
		return skip(ticker, "Relative strength below benchmark")
	}

	closes := models.Closes(candles)
	highs := models.Highs(candles)
	lows := models.Lows(candles)

	if !hasFinite(closes) || !hasFinite(highs) || !hasFinite(lows) {
		return skip(ticker, "Insufficient price data")
	}

	ema20 := EMA(closes, 20)
	ema50 := EMA(closes, 50)
	rsi14 := RSI(closes, 14)
	atr14 := ATR(highs, lows, closes, 14)

	n := len(candles)
	latest := candles[n-1]
	previous := candles[n-2]

	emaCrossUp := ema20[n-1] > ema50[n-1] && ema20[n-2] <= ema50[n-2]
	rsiRebound := rsi14[n-1] > 30 && rsi14[n-2] <= 30
	rsiNotOverbought := rsi14[n-1] < 70

	gapPct := 0.0
	prevClose := float64(previous.Close)
	if !math.IsNaN(prevClose) && prevClose != 0 {
		gapPct = (float64(latest.Open) - prevClose) / prevClose
	}
	gapOK := math.Abs(gapPct) <= maxGapPct

	if !(emaCrossUp && rsiRebound && rsiNotOverbought && gapOK) {
		return skip(ticker, "Did not meet signal criteria")
	}

	pctChange := 0.0
	if !math.IsNaN(prevClose) && prevClose != 0 {
		pctChange = (float64(latest.Close) - prevClose) / prevClose
	}

	atrValue := atr14[n-1]
	if atrValue <= 0 {
		atrValue = math.NaN()
	}

	riskGuide := "-"
	if !math.IsNaN(atrValue) {
		stop := math.Max(float64(latest.Close)-atrValue, 0)
		target := float64(latest.Close) + atrValue*2
		riskGuide = fmt.Sprintf("Stop %s / Target %s (~1:2)", FormatNumber(stop, 0), FormatNumber(target, 0))
	}

	if name == "" {
		name = ticker
	}

	candidate := &models.Candidate{
		Ticker:     ticker,
		Name:       name,
		Price:      FormatNumber(float64(latest.Close), 0),
		PriceValue: float64(latest.Close),
		EMA20:      FormatNumber(ema20[n-1], 2),
		EMA50:      FormatNumber(ema50[n-1], 2),
		RSI14:      FormatNumber(rsi14[n-1], 2),
		RSIValue:   rsi14[n-1],
		ATR14:      FormatNumber(atrValue, 2),
		Gap:        formatPct(gapPct),
		PctChange:  formatPct(pctChange),
		High:       FormatNumber(float64(latest.High), 0),
		Low:        FormatNumber(float64(latest.Low), 0),
		RiskGuide:  riskGuide,
		ScoreValue: rsi14[n-1],
		EvalDate:   latest.Date,
	}
	return BuyResult{Ticker: ticker, Candidate: candidate}
}
