// Package screener builds the scan universe from provider rank listings.
package screener

import (
	"context"
	"fmt"
	"time"

	"github.com/mkkang/swingbot/internal/clients/kis"
	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
	"github.com/mkkang/swingbot/internal/signals"
	"github.com/mkkang/swingbot/internal/storage"
)

const domesticCacheKey = "screener_kr_rank"

// DomesticRanker is the slice of the provider client the domestic
// screener needs.
type DomesticRanker interface {
	VolumeRank(ctx context.Context, opts kis.VolumeRankOptions) ([]models.RankRow, error)
}

// DomesticRequest filters one domestic screen run.
type DomesticRequest struct {
	Limit           int
	MinPrice        float64
	MinDollarVolume float64
	ExcludeETFETN   bool
}

// Domestic screens the KR market by traded volume, caching the raw rank
// listing between runs.
type Domestic struct {
	client DomesticRanker
	store  *storage.Store
	ttl    time.Duration
	logger *common.Logger
}

// NewDomestic returns a domestic screener. The store may be nil to
// disable caching; cacheTTLMinutes <= 0 also disables it.
func NewDomestic(client DomesticRanker, store *storage.Store, cacheTTLMinutes int, logger *common.Logger) *Domestic {
	ttl := time.Duration(cacheTTLMinutes) * time.Minute
	return &Domestic{client: client, store: store, ttl: ttl, logger: logger}
}

// Screen fetches the volume rank, over-fetching to survive filtering,
// and applies price, turnover, and fund filters.
func (s *Domestic) Screen(ctx context.Context, req DomesticRequest) (models.ScreenResult, error) {
	result := models.ScreenResult{
		Source:      "kis",
		ByTicker:    make(map[string]models.RankRow),
		CacheStatus: kis.CacheRefresh,
	}
	if req.Limit <= 0 {
		result.CacheStatus = kis.CacheNA
		return result, nil
	}

	rows, cacheStatus, err := s.loadRank(ctx, max(req.Limit*2, 50))
	if err != nil {
		return result, err
	}
	result.CacheStatus = cacheStatus

	seen := make(map[string]bool)
	for _, row := range rows {
		if req.MinPrice > 0 && row.Price < req.MinPrice {
			continue
		}
		if req.MinDollarVolume > 0 && row.Amount < req.MinDollarVolume {
			continue
		}
		if row.Ticker == "" || seen[row.Ticker] {
			continue
		}
		if req.ExcludeETFETN && signals.IsETFOrLeveraged(row.Ticker, models.TickerMeta{Name: row.Name}) {
			continue
		}

		seen[row.Ticker] = true
		result.Tickers = append(result.Tickers, row.Ticker)
		result.ByTicker[row.Ticker] = row
		if len(result.Tickers) >= req.Limit {
			break
		}
	}

	s.logger.Info().
		Int("selected", len(result.Tickers)).
		Str("cache", result.CacheStatus).
		Msg("domestic screener done")
	return result, nil
}

// loadRank serves the rank listing from cache inside the TTL, refreshing
// otherwise. A fetch failure falls back to a stale cached listing.
func (s *Domestic) loadRank(ctx context.Context, fetchLimit int) ([]models.RankRow, string, error) {
	if s.store != nil && s.ttl > 0 {
		var cached []models.RankRow
		if s.store.LoadFresh(domesticCacheKey, s.ttl, &cached) && len(cached) > 0 {
			return cached, kis.CacheHit, nil
		}
	}

	rows, err := s.client.VolumeRank(ctx, kis.VolumeRankOptions{Limit: fetchLimit})
	if err != nil {
		if s.store != nil {
			var stale []models.RankRow
			if _, ok := s.store.Load(domesticCacheKey, &stale); ok && len(stale) > 0 {
				s.logger.Warn().Err(err).Msg("volume rank fetch failed, using stale cache")
				return stale, kis.CacheExpired, nil
			}
		}
		return nil, kis.CacheMiss, fmt.Errorf("volume rank fetch failed: %w", err)
	}

	if s.store != nil && len(rows) > 0 {
		if err := s.store.Save(domesticCacheKey, rows); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache volume rank")
		}
	}
	return rows, kis.CacheRefresh, nil
}
