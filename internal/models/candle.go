package models

import (
	"bytes"
	"math"
	"strconv"
	"strings"
)

// PriceValue is a float64 that survives provider payloads and the JSON
// cache: it accepts numbers, comma-grouped strings, and null, and
// marshals NaN as null so cached series round-trip.
type PriceValue float64

// IsNaN reports whether the value is missing.
func (p PriceValue) IsNaN() bool {
	return math.IsNaN(float64(p))
}

var nullLiteral = []byte("null")

// MarshalJSON renders NaN as null so cached candles stay valid JSON.
func (p PriceValue) MarshalJSON() ([]byte, error) {
	if p.IsNaN() {
		return nullLiteral, nil
	}
	return []byte(strconv.FormatFloat(float64(p), 'f', -1, 64)), nil
}

// UnmarshalJSON accepts null, numbers, and comma-grouped numeric
// strings. Empty and dash placeholders decode to NaN.
func (p *PriceValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, nullLiteral) {
		*p = PriceValue(math.NaN())
		return nil
	}

	raw := string(data)
	if strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) && len(raw) >= 2 {
		raw = raw[1 : len(raw)-1]
	}
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" || raw == "-" {
		*p = PriceValue(math.NaN())
		return nil
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*p = PriceValue(math.NaN())
		return nil
	}
	*p = PriceValue(f)
	return nil
}

// Candle is one daily OHLCV bar. Date is YYYY-MM-DD; series are kept
// oldest first.
type Candle struct {
	Date   string     `json:"date"`
	Open   PriceValue `json:"open"`
	High   PriceValue `json:"high"`
	Low    PriceValue `json:"low"`
	Close  PriceValue `json:"close"`
	Volume PriceValue `json:"volume"`
}

// VolumeOrZero returns the bar volume, treating a missing value as zero.
func (c Candle) VolumeOrZero() float64 {
	v := float64(c.Volume)
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// Closes extracts the close series, preserving NaN gaps.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = float64(c.Close)
	}
	return out
}

// Highs extracts the high series, preserving NaN gaps.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = float64(c.High)
	}
	return out
}

// Lows extracts the low series, preserving NaN gaps.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = float64(c.Low)
	}
	return out
}
