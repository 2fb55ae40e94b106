// Package feed collects daily candles for a universe of tickers,
// preferring the primary provider, falling back to the cache and then
// to the secondary end-of-day source for domestic tickers.
package feed

import (
	"context"
	"fmt"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/market"
	"github.com/mkkang/swingbot/internal/models"
	"github.com/mkkang/swingbot/internal/storage"
)

const fallbackWarning = "Warning: KRX fallback data is end-of-day and may differ from KIS."

// CandleSource is the primary provider surface the collector needs.
type CandleSource interface {
	DailyCandles(ctx context.Context, ticker string, count int, adjusted bool) ([]models.Candle, error)
	OverseasDailyCandles(ctx context.Context, exchange, symbol string, count int) ([]models.Candle, error)
}

// Fallback serves domestic tickers when the primary source fails.
type Fallback interface {
	DailyCandles(ctx context.Context, ticker string, count int) ([]models.Candle, error)
}

// Collector fetches and caches candles per ticker.
type Collector struct {
	Primary      CandleSource
	Fallback     Fallback
	Store        *storage.Store
	Logger       *common.Logger
	ProviderName string
}

// Result is the per-universe collection outcome. Failures are soft;
// callers decide what is fatal.
type Result struct {
	Data        map[string][]models.Candle
	Sources     map[string]string // provider that supplied each ticker
	LatestDates map[string]string
	Failures    []string
}

func cacheKeyFor(symbol, exchange string) string {
	if exchange != "" {
		return fmt.Sprintf("candles_overseas_%s_%s", exchange, symbol)
	}
	return "candles_" + symbol
}

// Collect fetches targetBars candles for every ticker. Cached data is
// loaded first so a provider failure can degrade to stale candles.
func (c *Collector) Collect(ctx context.Context, tickers []string, targetBars int) *Result {
	result := &Result{
		Data:        make(map[string][]models.Candle),
		Sources:     make(map[string]string),
		LatestDates: make(map[string]string),
	}
	fallbackWarned := false

	for _, ticker := range tickers {
		symbol, exchange := market.SplitTicker(ticker)
		cacheKey := cacheKeyFor(symbol, exchange)

		if c.Store != nil {
			var cached []models.Candle
			if _, ok := c.Store.Load(cacheKey, &cached); ok && len(cached) > 0 {
				result.Data[ticker] = cached
				result.Sources[ticker] = c.ProviderName
				result.LatestDates[ticker] = cached[len(cached)-1].Date
			}
		}

		candles, err := c.fetchPrimary(ctx, symbol, exchange, targetBars)
		if err == nil {
			if len(candles) == 0 {
				result.fail(c.Logger, "%s: No candle data returned", ticker)
				continue
			}
			result.Data[ticker] = candles
			result.Sources[ticker] = c.ProviderName
			result.LatestDates[ticker] = candles[len(candles)-1].Date
			if c.Store != nil {
				if saveErr := c.Store.Save(cacheKey, candles); saveErr != nil {
					c.Logger.Warn().Err(saveErr).Str("ticker", ticker).Msg("failed to cache candles")
				}
			}
			c.Logger.Info().Str("ticker", ticker).Int("candles", len(candles)).Msg("candles fetched")
			continue
		}

		if _, hasCached := result.Data[ticker]; hasCached {
			result.fail(c.Logger, "%s: API error, using cached data (%v)", ticker, err)
			continue
		}

		if c.Fallback != nil && exchange == "" {
			fbCandles, fbErr := c.Fallback.DailyCandles(ctx, symbol, targetBars)
			if fbErr == nil && len(fbCandles) > 0 {
				result.Data[ticker] = fbCandles
				result.Sources[ticker] = "krx"
				result.LatestDates[ticker] = fbCandles[len(fbCandles)-1].Date
				result.fail(c.Logger, "%s: KIS error (%v); used KRX fallback", ticker, err)
				if !fallbackWarned {
					result.Failures = append(result.Failures, fallbackWarning)
					fallbackWarned = true
				}
				continue
			}
			if fbErr != nil {
				result.fail(c.Logger, "%s: %v (KRX fallback unavailable: %v)", ticker, err, fbErr)
				continue
			}
		}

		result.fail(c.Logger, "%s: %v", ticker, err)
	}

	return result
}

func (c *Collector) fetchPrimary(ctx context.Context, symbol, exchange string, targetBars int) ([]models.Candle, error) {
	if c.Primary == nil {
		return nil, fmt.Errorf("no market-data provider configured")
	}
	if exchange != "" {
		return c.Primary.OverseasDailyCandles(ctx, exchange, symbol, targetBars)
	}
	return c.Primary.DailyCandles(ctx, symbol, targetBars, true)
}

func (r *Result) fail(logger *common.Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.Failures = append(r.Failures, msg)
	logger.Warn().Msg(msg)
}
