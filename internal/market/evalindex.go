package market

import (
	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
)

// ChooseEvalIndex picks the candle index to evaluate, stepping back from
// the latest bar when it is an in-progress or thin partial session.
// Returns (-1, false) for an empty series. adjusted is true when the
// chosen index is not the latest bar.
func ChooseEvalIndex(candles []models.Candle, meta models.TickerMeta, session Session, cfg common.EvalIndexConfig) (int, bool) {
	if len(candles) == 0 {
		return -1, false
	}
	last := len(candles) - 1
	if len(candles) == 1 {
		return 0, false
	}

	// Secondary-provider data is end-of-day only; the latest bar is
	// always complete.
	if meta.DataSource == "krx" {
		return last, false
	}

	// The last bar predates the current session: nothing partial.
	if candles[last].Date < session.Date {
		return last, false
	}

	thin := thinVolume(candles, last, cfg)

	idx := last
	lastIsToday := candles[last].Date == session.Date

	if inferMarket(meta) == "US" {
		status := session.Status
		if session.IsHoliday {
			status = StatusClosed
		}
		switch {
		case status == StatusIntraday && lastIsToday:
			idx = last - 1
		case (status == StatusPreOpen || status == StatusAfterClose) && thin && lastIsToday:
			idx = last - 1
		}
	} else {
		if session.Status == StatusIntraday && thin && lastIsToday {
			idx = last - 1
		}
	}

	if idx < 0 {
		idx = 0
	}
	return idx, idx != last
}

// inferMarket maps ticker metadata to a market code via currency.
func inferMarket(meta models.TickerMeta) string {
	if meta.Currency == "USD" {
		return "US"
	}
	return "KR"
}

// thinVolume reports whether the bar at idx traded well below the recent
// average. The average uses up to cfg.VolumeLookback prior bars; quiet
// names below the volume floor are never flagged.
func thinVolume(candles []models.Candle, idx int, cfg common.EvalIndexConfig) bool {
	lookback := cfg.VolumeLookback
	if lookback <= 0 {
		lookback = 5
	}
	start := idx - lookback
	if start < 0 {
		start = 0
	}

	var sum float64
	var n int
	for i := start; i < idx; i++ {
		sum += candles[i].VolumeOrZero()
		n++
	}
	if n == 0 {
		return false
	}
	avg := sum / float64(n)
	return avg > cfg.VolumeFloor && candles[idx].VolumeOrZero() < avg*cfg.ThinRatio
}
