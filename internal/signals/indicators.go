// Package signals implements the technical indicators and the buy/sell
// rule evaluators.
package signals

import "math"

// EMA returns the exponential moving average, seeded with the first
// value. Output has the same length as the input.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	k := 2.0 / float64(period+1)
	prev := math.NaN()
	seeded := false
	for i, v := range values {
		if !seeded {
			prev = v
			seeded = true
		} else {
			prev = v*k + prev*(1-k)
		}
		out[i] = prev
	}
	return out
}

// RSI returns the Wilder relative strength index. Values before index
// period are NaN.
func RSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(closes) < 2 {
		return out
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		ch := closes[i] - closes[i-1]
		gains[i] = math.Max(0, ch)
		losses[i] = math.Max(0, -ch)
	}

	var avgGain, avgLoss float64
	if len(gains) > period {
		for i := 1; i <= period; i++ {
			avgGain += gains[i]
			avgLoss += losses[i]
		}
		avgGain /= float64(period)
		avgLoss /= float64(period)
	}

	rsiAt := func(g, l float64) float64 {
		if l == 0 {
			return 100
		}
		return 100 - 100/(1+g/l)
	}

	if period < len(closes) {
		out[period] = rsiAt(avgGain, avgLoss)
	}
	for i := period + 1; i < len(closes); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		out[i] = rsiAt(avgGain, avgLoss)
	}
	return out
}

// ATR returns the Wilder average true range. The first value appears at
// index period, averaged over the true ranges after the first bar.
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := len(highs)
	if len(lows) < n {
		n = len(lows)
	}
	if len(closes) < n {
		n = len(closes)
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || n == 0 {
		return out
	}

	tr := make([]float64, n)
	prevClose := closes[0]
	for i := 0; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - prevClose)
		lc := math.Abs(lows[i] - prevClose)
		tr[i] = math.Max(hl, math.Max(hc, lc))
		prevClose = closes[i]
	}

	if n > period {
		var first float64
		for i := 1; i <= period; i++ {
			first += tr[i]
		}
		out[period] = first / float64(period)
		for i := period + 1; i < n; i++ {
			out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
		}
	}
	return out
}

// SMA returns the simple moving average over a rolling window, treating
// NaN inputs as zero. Values before the first full window are NaN.
func SMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(values) == 0 {
		return out
	}

	asZero := func(v float64) float64 {
		if math.IsNaN(v) {
			return 0
		}
		return v
	}

	var windowSum float64
	for i, v := range values {
		windowSum += asZero(v)
		if i >= period {
			windowSum -= asZero(values[i-period])
		}
		if i >= period-1 {
			out[i] = windowSum / float64(period)
		}
	}
	return out
}

// hasFinite reports whether any value in the series is a real number.
func hasFinite(values []float64) bool {
	for _, v := range values {
		if !math.IsNaN(v) {
			return true
		}
	}
	return false
}
