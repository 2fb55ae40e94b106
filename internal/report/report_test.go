package report

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
)

func fixedClock() func() time.Time {
	loc := time.FixedZone("KST", 9*3600)
	at := time.Date(2025, 8, 29, 14, 5, 0, 0, loc)
	return func() time.Time { return at }
}

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	return NewWriter(dir, common.NewSilentLogger(), WithClock(fixedClock())), dir
}

func ptr(v float64) *float64 { return &v }

func TestWriteBuyWithCandidates(t *testing.T) {
	w, dir := newTestWriter(t)

	path, err := w.WriteBuy(BuyReport{
		Provider:      "kis",
		CacheHint:     "hit",
		StrategyMode:  "crossover",
		UniverseCount: 12,
		Candidates: []models.Candidate{
			{
				Ticker: "005930", Name: "삼성전자", Price: "71,000",
				EMA20: "70,120.55", EMA50: "69,310.20", RSI14: "58.21",
				ATR14: "1,250.00", Gap: "0.4%", PctChange: "1.2%",
				High: "71,500", Low: "70,100",
				RiskGuide: "Stop 69,750 / Target 73,500 (~1:2)",
			},
		},
		Failures: []string{"000660: Not enough history (<60 bars)"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2025-08-29.md"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)

	assert.Contains(t, text, "# Swing Screening — 2025-08-29")
	assert.Contains(t, text, "- Run at: 2025-08-29 14:05 KST")
	assert.Contains(t, text, "- Provider: kis (cache: hit)")
	assert.Contains(t, text, "- Universe: 12 tickers, Candidates: 1")
	assert.Contains(t, text, "- Notes: 1 tickers failed (see Appendix)")
	assert.Contains(t, text, "| Ticker | Name | Price | EMA20 | EMA50 | RSI14 | ATR14 | Gap |")
	assert.Contains(t, text, "| 005930 | 삼성전자 | 71,000 |")
	assert.Contains(t, text, "## [매수 후보] 005930 — 삼성전자")
	assert.Contains(t, text, "- Price: 71,000 (d/d 1.2%) H: 71,500 L: 70,100")
	assert.Contains(t, text, "- Risk guide: Stop 69,750 / Target 73,500 (~1:2)")
	assert.Contains(t, text, "### Appendix — Failures")
	assert.Contains(t, text, "- 000660: Not enough history (<60 bars)")
	assert.NotContains(t, text, "_No candidates for today._")
}

func TestWriteBuyEmpty(t *testing.T) {
	w, _ := newTestWriter(t)

	path, err := w.WriteBuy(BuyReport{Provider: "kis", UniverseCount: 0})
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "_No candidates for today._")
	assert.Contains(t, text, "- Provider: kis\n")
	assert.NotContains(t, text, "## Candidates")
	assert.NotContains(t, text, "Appendix")
}

func TestWriteBuyUniquePaths(t *testing.T) {
	w, dir := newTestWriter(t)

	first, err := w.WriteBuy(BuyReport{Provider: "kis"})
	require.NoError(t, err)
	second, err := w.WriteBuy(BuyReport{Provider: "kis"})
	require.NoError(t, err)
	third, err := w.WriteBuy(BuyReport{Provider: "kis"})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "2025-08-29.md"), first)
	assert.Equal(t, filepath.Join(dir, "2025-08-29-1.md"), second)
	assert.Equal(t, filepath.Join(dir, "2025-08-29-2.md"), third)
}

func TestWriteBuyConcurrentWritersGetDistinctPaths(t *testing.T) {
	w, dir := newTestWriter(t)

	const writers = 12
	paths := make([]string, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path, err := w.WriteBuy(BuyReport{Provider: "kis"})
			assert.NoError(t, err)
			paths[i] = path
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, writers)
	for _, path := range paths {
		assert.False(t, seen[path], "path %s claimed twice", path)
		seen[path] = true
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, writers)
}

func TestWriteSell(t *testing.T) {
	w, dir := newTestWriter(t)

	path, err := w.WriteSell(SellReport{
		Provider:      "kis",
		CacheHint:     "refresh",
		SellMode:      "generic",
		ATRMultiplier: 2.0,
		TimeStopDays:  20,
		FXRate:        1350,
		FXNote:        "fixed fallback",
		Rows: []models.SellReportRow{
			{
				Ticker: "AAPL.NAS", Action: models.ActionSell, Quantity: 5,
				EntryPrice: ptr(180.0), LastPrice: ptr(171.3), PnLPct: ptr(-0.0483),
				StopPrice: ptr(172.5), Currency: "USD", EvalDate: "2025-08-28",
				Reasons: []string{"Price hit ATR trailing stop"},
			},
			{
				Ticker: "005930", Action: models.ActionHold, Quantity: 10,
				EntryPrice: ptr(68000.0), LastPrice: ptr(71000.0), PnLPct: ptr(0.0441),
				Currency: "KRW", EvalDate: "2025-08-29",
				Reasons: []string{"No sell criteria triggered"},
				Notes:   "core position",
			},
		},
		Failures: []string{"000660: No market data available for sell evaluation"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sell-2025-08-29.md"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)

	assert.Contains(t, text, "# Sell Review — 2025-08-29")
	assert.Contains(t, text, "- Mode: generic (ATR trail x2.0, time stop 20d)")
	assert.Contains(t, text, "- FX: 1 USD ≈ ₩1,350 (fixed fallback)")
	assert.Contains(t, text, "- Holdings evaluated: 2")
	assert.Contains(t, text, "| AAPL.NAS | SELL | 5 | $180.00 | $171.30 | -4.8% | $172.50 | - | 2025-08-28 |")
	assert.Contains(t, text, "| 005930 | HOLD | 10 | ₩68,000 | ₩71,000 | +4.4% | - | - | 2025-08-29 |")
	assert.Contains(t, text, "## [SELL] AAPL.NAS")
	assert.Contains(t, text, "- Price hit ATR trailing stop")
	assert.Contains(t, text, "- Note: core position")
	assert.Contains(t, text, "### Appendix — Failures")
}

func TestWriteSellHybridModeNote(t *testing.T) {
	w, _ := newTestWriter(t)

	path, err := w.WriteSell(SellReport{
		Provider:     "kis",
		SellMode:     "sma_ema_hybrid",
		SellModeNote: "profit partial ≥2.5%, target 4.0–8.0%, stop 2.0–3.0%",
	})
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "- Mode: sma_ema_hybrid (profit partial ≥2.5%, target 4.0–8.0%, stop 2.0–3.0%)")
	assert.Contains(t, text, "_No holdings to review._")
}
