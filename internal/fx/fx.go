// Package fx resolves the USD/KRW display rate for reports.
package fx

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkkang/swingbot/internal/common"
)

// Quoter supplies a live USD/KRW rate. Optional; a nil quoter makes
// auto mode degrade to the fixed rate.
type Quoter interface {
	USDKRWRate(ctx context.Context) (float64, error)
}

// Resolution is the outcome of rate resolution. A zero Rate means no
// conversion applies.
type Resolution struct {
	Rate float64
	Note string
	// Messages carry soft failures for the report appendix.
	Messages []string
}

// Resolve returns the display rate for the given per-ticker currencies.
// Resolution is skipped entirely when no ticker trades in USD.
func Resolve(ctx context.Context, cfg common.FXConfig, currencies map[string]string, quoter Quoter, logger *common.Logger) Resolution {
	if !needsUSD(currencies) {
		return Resolution{}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "off":
		return Resolution{}
	case "fixed":
		return Resolution{Rate: cfg.FixedRate, Note: "fixed rate"}
	}

	// auto
	if quoter != nil {
		rate, err := quoter.USDKRWRate(ctx)
		if err == nil && rate > 0 {
			return Resolution{Rate: rate, Note: "provider quote"}
		}
		if err != nil {
			logger.Warn().Err(err).Msg("FX quote lookup failed")
		}
	}

	msg := fmt.Sprintf("FX auto lookup unavailable; using fixed rate ₩%.0f", cfg.FixedRate)
	logger.Warn().Float64("rate", cfg.FixedRate).Msg("FX falling back to fixed rate")
	return Resolution{
		Rate:     cfg.FixedRate,
		Note:     "fixed fallback",
		Messages: []string{msg},
	}
}

func needsUSD(currencies map[string]string) bool {
	for _, currency := range currencies {
		if strings.EqualFold(currency, "USD") {
			return true
		}
	}
	return false
}
