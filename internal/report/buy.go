package report

import (
	"fmt"
	"strings"

	"github.com/mkkang/swingbot/internal/models"
)

// BuyReport carries everything the buy markdown needs.
type BuyReport struct {
	Provider      string
	CacheHint     string
	StrategyMode  string
	UniverseCount int
	Candidates    []models.Candidate
	Failures      []string
}

// WriteBuy renders the screening report and returns its path.
func (w *Writer) WriteBuy(r BuyReport) (string, error) {
	date, clock, tz := timestampLabel(w.now())

	var b strings.Builder
	fmt.Fprintf(&b, "# Swing Screening — %s\n", date)
	fmt.Fprintf(&b, "- Run at: %s %s\n", clock, tz)
	cacheNote := ""
	if r.CacheHint != "" {
		cacheNote = fmt.Sprintf(" (cache: %s)", r.CacheHint)
	}
	fmt.Fprintf(&b, "- Provider: %s%s\n", r.Provider, cacheNote)
	if r.StrategyMode != "" {
		fmt.Fprintf(&b, "- Strategy: %s\n", r.StrategyMode)
	}
	fmt.Fprintf(&b, "- Universe: %d tickers, Candidates: %d\n", r.UniverseCount, len(r.Candidates))
	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, "- Notes: %d tickers failed (see Appendix)\n", len(r.Failures))
	}
	b.WriteString("\n")

	if len(r.Candidates) > 0 {
		b.WriteString("## Candidates\n")
		b.WriteString("| Ticker | Name | Price | EMA20 | EMA50 | RSI14 | ATR14 | Gap |\n")
		b.WriteString("|--------|------|------:|------:|------:|------:|------:|----:|\n")
		for _, c := range r.Candidates {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
				orDash(c.Ticker), orDash(c.Name), orDash(c.Price),
				orDash(c.EMA20), orDash(c.EMA50), orDash(c.RSI14),
				orDash(c.ATR14), orDash(c.Gap))
		}
		b.WriteString("\n")

		for _, c := range r.Candidates {
			fmt.Fprintf(&b, "## [매수 후보] %s — %s\n", orDash(c.Ticker), orDash(c.Name))
			fmt.Fprintf(&b, "- Price: %s (d/d %s) H: %s L: %s\n",
				orDash(c.Price), orDash(c.PctChange), orDash(c.High), orDash(c.Low))
			fmt.Fprintf(&b, "- Trend: EMA20(%s) vs EMA50(%s)\n", orDash(c.EMA20), orDash(c.EMA50))
			fmt.Fprintf(&b, "- Momentum: RSI14=%s\n", orDash(c.RSI14))
			fmt.Fprintf(&b, "- Volatility: ATR14=%s\n", orDash(c.ATR14))
			fmt.Fprintf(&b, "- Gap: %s vs prev close\n", orDash(c.Gap))
			if c.Setup != "" {
				fmt.Fprintf(&b, "- Setup: %s\n", c.Setup)
			}
			if c.RiskGuide != "" {
				fmt.Fprintf(&b, "- Risk guide: %s\n", c.RiskGuide)
			}
			if c.MarketStatus != "" {
				fmt.Fprintf(&b, "- Market: %s\n", c.MarketStatus)
			}
			if c.EvalDate != "" {
				fmt.Fprintf(&b, "- Evaluated as of: %s\n", c.EvalDate)
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString("_No candidates for today._\n\n")
	}

	if len(r.Failures) > 0 {
		b.WriteString("### Appendix — Failures\n")
		for _, failure := range r.Failures {
			fmt.Fprintf(&b, "- %s\n", failure)
		}
		b.WriteString("\n")
	}

	path, err := w.write(date, b.String())
	if err != nil {
		return "", err
	}
	w.logger.Info().Str("path", path).Int("candidates", len(r.Candidates)).Msg("buy report written")
	return path, nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
