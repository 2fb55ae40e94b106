package report

import (
	"fmt"
	"strings"

	"github.com/mkkang/swingbot/internal/models"
	"github.com/mkkang/swingbot/internal/signals"
)

// SellReport carries everything the sell markdown needs. Rows are
// rendered in the order given.
type SellReport struct {
	Provider      string
	CacheHint     string
	SellMode      string
	SellModeNote  string
	ATRMultiplier float64
	TimeStopDays  int
	FXRate        float64
	FXNote        string
	Rows          []models.SellReportRow
	Failures      []string
}

// WriteSell renders the portfolio review report and returns its path.
func (w *Writer) WriteSell(r SellReport) (string, error) {
	date, clock, tz := timestampLabel(w.now())

	var b strings.Builder
	fmt.Fprintf(&b, "# Sell Review — %s\n", date)
	fmt.Fprintf(&b, "- Run at: %s %s\n", clock, tz)
	cacheNote := ""
	if r.CacheHint != "" {
		cacheNote = fmt.Sprintf(" (cache: %s)", r.CacheHint)
	}
	fmt.Fprintf(&b, "- Provider: %s%s\n", r.Provider, cacheNote)
	if r.SellMode == "sma_ema_hybrid" {
		mode := "sma_ema_hybrid"
		if r.SellModeNote != "" {
			mode += " (" + r.SellModeNote + ")"
		}
		fmt.Fprintf(&b, "- Mode: %s\n", mode)
	} else {
		fmt.Fprintf(&b, "- Mode: generic (ATR trail x%.1f, time stop %dd)\n", r.ATRMultiplier, r.TimeStopDays)
	}
	if r.FXRate > 0 {
		note := ""
		if r.FXNote != "" {
			note = " (" + r.FXNote + ")"
		}
		fmt.Fprintf(&b, "- FX: 1 USD ≈ ₩%s%s\n", formatRate(r.FXRate), note)
	}
	fmt.Fprintf(&b, "- Holdings evaluated: %d\n", len(r.Rows))
	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, "- Notes: %d issues (see Appendix)\n", len(r.Failures))
	}
	b.WriteString("\n")

	if len(r.Rows) > 0 {
		b.WriteString("| Ticker | Action | Qty | Entry | Last | PnL | Stop | Target | As of |\n")
		b.WriteString("|--------|--------|----:|------:|-----:|----:|-----:|-------:|-------|\n")
		for _, row := range r.Rows {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
				row.Ticker,
				row.Action,
				formatQty(row.Quantity),
				formatMoney(row.EntryPrice, row.Currency),
				formatMoney(row.LastPrice, row.Currency),
				formatPnL(row.PnLPct),
				formatMoney(row.StopPrice, row.Currency),
				formatMoney(row.TargetPrice, row.Currency),
				orDash(row.EvalDate))
		}
		b.WriteString("\n")

		for _, row := range r.Rows {
			fmt.Fprintf(&b, "## [%s] %s\n", row.Action, row.Ticker)
			for _, reason := range row.Reasons {
				fmt.Fprintf(&b, "- %s\n", reason)
			}
			if row.Notes != "" {
				fmt.Fprintf(&b, "- Note: %s\n", row.Notes)
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString("_No holdings to review._\n\n")
	}

	if len(r.Failures) > 0 {
		b.WriteString("### Appendix — Failures\n")
		for _, failure := range r.Failures {
			fmt.Fprintf(&b, "- %s\n", failure)
		}
		b.WriteString("\n")
	}

	path, err := w.write("sell-"+date, b.String())
	if err != nil {
		return "", err
	}
	w.logger.Info().Str("path", path).Int("rows", len(r.Rows)).Msg("sell report written")
	return path, nil
}

// formatMoney renders a price with its currency symbol: whole won,
// two-decimal dollars.
func formatMoney(v *float64, currency string) string {
	if v == nil {
		return "-"
	}
	if strings.EqualFold(currency, "USD") {
		return "$" + signals.FormatNumber(*v, 2)
	}
	return "₩" + signals.FormatNumber(*v, 0)
}

func formatRate(rate float64) string {
	return signals.FormatNumber(rate, 0)
}

func formatQty(qty float64) string {
	if qty == float64(int64(qty)) {
		return fmt.Sprintf("%d", int64(qty))
	}
	return fmt.Sprintf("%.2f", qty)
}

func formatPnL(pnl *float64) string {
	if pnl == nil {
		return "-"
	}
	return fmt.Sprintf("%+.1f%%", *pnl*100)
}
