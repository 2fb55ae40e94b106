package screener

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkkang/swingbot/internal/clients/kis"
	"github.com/mkkang/swingbot/internal/common"
)

// fakeOverseasRanker returns canned rows keyed by exchange and day
// offset, recording the order of fetches.
type fakeOverseasRanker struct {
	rows    map[string][]map[string]any // "EXCD/NDAY" -> rows
	err     error
	fetches []string
	metric  string
}

func key(exchange, dayOffset string) string { return exchange + "/" + dayOffset }

func (f *fakeOverseasRanker) fetch(name string, opts kis.OverseasRankOptions) ([]map[string]any, error) {
	f.metric = name
	f.fetches = append(f.fetches, key(opts.Exchange, opts.DayOffset))
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[key(opts.Exchange, opts.DayOffset)], nil
}

func (f *fakeOverseasRanker) OverseasTradeVolumeRank(_ context.Context, opts kis.OverseasRankOptions) ([]map[string]any, error) {
	return f.fetch("volume", opts)
}

func (f *fakeOverseasRanker) OverseasTradeValueRank(_ context.Context, opts kis.OverseasRankOptions) ([]map[string]any, error) {
	return f.fetch("value", opts)
}

func (f *fakeOverseasRanker) OverseasMarketCapRank(_ context.Context, opts kis.OverseasRankOptions) ([]map[string]any, error) {
	return f.fetch("market_cap", opts)
}

func TestOverseasScreenPreferredOffset(t *testing.T) {
	ranker := &fakeOverseasRanker{rows: map[string][]map[string]any{
		key("NAS", "0"): {
			{"symb": "AAPL", "name": "Apple Inc.", "last": "185.1", "tvol": "50,000,000"},
			{"symb": "TSLA", "name": "Tesla Inc."},
		},
	}}
	screener := NewOverseas(ranker, common.NewSilentLogger())

	result := screener.Screen(context.Background(), OverseasRequest{Limit: 5, DayOffset: 0})
	assert.Equal(t, []string{"AAPL.NAS", "TSLA.NAS"}, result.Tickers)
	assert.Equal(t, 0, result.DayOffsetUsed)
	assert.Equal(t, []int{0}, result.DayOffsetsTried)
	assert.Equal(t, "kis_overseas_rank", result.Source)

	row := result.ByTicker["AAPL.NAS"]
	assert.Equal(t, "Apple Inc.", row.Name)
	assert.Equal(t, 185.1, row.Price)
	assert.Equal(t, "NAS", row.Exchange)
}

func TestOverseasScreenFallbackOffsets(t *testing.T) {
	// Nothing for today; offset 2 has NYS rows only.
	ranker := &fakeOverseasRanker{rows: map[string][]map[string]any{
		key("NYS", "2"): {{"symb": "KO", "name": "Coca-Cola"}},
	}}
	screener := NewOverseas(ranker, common.NewSilentLogger())

	result := screener.Screen(context.Background(), OverseasRequest{
		Limit:           5,
		DayOffset:       0,
		FallbackOffsets: []int{1, 2, 3},
	})
	assert.Equal(t, []string{"KO.NYS"}, result.Tickers)
	assert.Equal(t, 2, result.DayOffsetUsed)
	assert.Equal(t, []int{0, 1, 2}, result.DayOffsetsTried)

	// The walk covers all exchanges per offset before moving on, and
	// stops at the first offset that produced anything.
	assert.Equal(t, []string{
		key("NAS", "0"), key("NYS", "0"), key("AMS", "0"),
		key("NAS", "1"), key("NYS", "1"), key("AMS", "1"),
		key("NAS", "2"), key("NYS", "2"),
	}, ranker.fetches)
}

func TestOverseasScreenNoResults(t *testing.T) {
	ranker := &fakeOverseasRanker{rows: map[string][]map[string]any{}}
	screener := NewOverseas(ranker, common.NewSilentLogger())

	result := screener.Screen(context.Background(), OverseasRequest{
		Limit:           5,
		DayOffset:       1,
		FallbackOffsets: []int{1, 2},
	})
	assert.Empty(t, result.Tickers)
	assert.Equal(t, -1, result.DayOffsetUsed)
	assert.Equal(t, []int{1, 2}, result.DayOffsetsTried)
}

func TestOverseasScreenFetchErrorsAreSoft(t *testing.T) {
	ranker := &fakeOverseasRanker{err: errors.New("rank down")}
	screener := NewOverseas(ranker, common.NewSilentLogger())

	result := screener.Screen(context.Background(), OverseasRequest{Limit: 5})
	assert.Empty(t, result.Tickers)
	assert.Equal(t, -1, result.DayOffsetUsed)
}

func TestOverseasScreenMetricDispatch(t *testing.T) {
	ranker := &fakeOverseasRanker{rows: map[string][]map[string]any{}}
	screener := NewOverseas(ranker, common.NewSilentLogger())

	screener.Screen(context.Background(), OverseasRequest{Limit: 1, Metric: "market_cap", Exchange: "NASDAQ"})
	assert.Equal(t, "market_cap", ranker.metric)
	require.NotEmpty(t, ranker.fetches)
	assert.Equal(t, key("NAS", "0"), ranker.fetches[0])
}

func TestOverseasScreenPinnedExchange(t *testing.T) {
	ranker := &fakeOverseasRanker{rows: map[string][]map[string]any{
		key("AMS", "0"): {{"symb": "SPY"}},
	}}
	screener := NewOverseas(ranker, common.NewSilentLogger())

	result := screener.Screen(context.Background(), OverseasRequest{Limit: 3, Exchange: "AMEX"})
	assert.Equal(t, []string{"SPY.AMS"}, result.Tickers)
	assert.Equal(t, []string{key("AMS", "0")}, ranker.fetches)
	assert.Equal(t, "SPY.AMS", result.ByTicker["SPY.AMS"].Name) // name falls back to the ticker
}

func TestNormalizeExchange(t *testing.T) {
	assert.Equal(t, "NAS", NormalizeExchange("US"))
	assert.Equal(t, "NAS", NormalizeExchange("nasdaq"))
	assert.Equal(t, "NYS", NormalizeExchange("NYSE"))
	assert.Equal(t, "AMS", NormalizeExchange("AMEX"))
	assert.Equal(t, "NAS", NormalizeExchange(""))
	assert.Equal(t, "HKS", NormalizeExchange("hks"))
}
