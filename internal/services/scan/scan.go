// Package scan runs the market screening pipeline: universe assembly,
// candle collection, buy-rule evaluation, and the markdown report.
package scan

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mkkang/swingbot/internal/calendar"
	"github.com/mkkang/swingbot/internal/clients/kis"
	"github.com/mkkang/swingbot/internal/clients/krx"
	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/fx"
	"github.com/mkkang/swingbot/internal/market"
	"github.com/mkkang/swingbot/internal/models"
	"github.com/mkkang/swingbot/internal/report"
	"github.com/mkkang/swingbot/internal/screener"
	"github.com/mkkang/swingbot/internal/services/feed"
	"github.com/mkkang/swingbot/internal/signals"
	"github.com/mkkang/swingbot/internal/storage"
)

// Provider is the full primary-client surface the scan needs. The KIS
// client satisfies it; tests substitute fakes.
type Provider interface {
	feed.CandleSource
	screener.DomesticRanker
	screener.OverseasRanker
	OverseasHolidays(ctx context.Context, from, to time.Time) ([]map[string]any, error)
	CacheStatus() string
}

// Options tune one scan run on top of the loaded config.
type Options struct {
	WatchlistPath string
	Limit         int    // 0 keeps the configured scan limit
	ScreenerLimit int    // 0 keeps the configured screener limit
	Universe      string // "", "watchlist", "screener", "both"
}

// Service wires the scan pipeline together.
type Service struct {
	cfg      *common.Config
	logger   *common.Logger
	store    *storage.Store
	holidays *calendar.Store
	reports  *report.Writer
	client   Provider
	fallback feed.Fallback
	quoter   fx.Quoter
	now      func() time.Time
}

// Option overrides a Service collaborator, mainly for tests.
type Option func(*Service)

// WithProvider injects the primary market-data client.
func WithProvider(client Provider) Option {
	return func(s *Service) { s.client = client }
}

// WithFallback injects the secondary domestic candle source.
func WithFallback(fallback feed.Fallback) Option {
	return func(s *Service) { s.fallback = fallback }
}

// WithQuoter injects the FX rate source.
func WithQuoter(quoter fx.Quoter) Option {
	return func(s *Service) { s.quoter = quoter }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a scan service over the configured storage directories.
func New(cfg *common.Config, logger *common.Logger, opts ...Option) (*Service, error) {
	store, err := storage.NewStore(cfg.Storage.DataDir, logger)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		holidays: calendar.NewStore(store, logger),
		reports:  report.NewWriter(cfg.Storage.ReportDir, logger),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// runState accumulates everything a single run produces.
type runState struct {
	tickers     []string
	failures    []string
	fatal       bool
	cacheHint   string
	metaByTick  map[string]models.RankRow
	currencies  map[string]string
	fxRate      float64
	fxNote      string
	candidates  []models.Candidate
	marketData  map[string][]models.Candle
	sources     map[string]string
	latestDates map[string]string
}

func (st *runState) fail(logger *common.Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	st.failures = append(st.failures, msg)
	logger.Warn().Msg(msg)
}

func (st *runState) failFatal(logger *common.Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	st.failures = append(st.failures, msg)
	st.fatal = true
	logger.Error().Msg(msg)
}

// Run executes one scan. The report is written even on failure; the
// return value is the process exit code.
func (s *Service) Run(ctx context.Context, opts Options) int {
	st := &runState{
		metaByTick: make(map[string]models.RankRow),
		currencies: make(map[string]string),
	}

	st.tickers = s.loadWatchlist(opts)
	screenerEnabled, screenerOnly := s.resolveScreenerFlags(opts.Universe)

	s.initProvider(st, screenerEnabled)
	if !st.fatal {
		s.runScreeners(ctx, st, screenerEnabled, screenerOnly, opts.ScreenerLimit)
	}

	for _, ticker := range st.tickers {
		st.currencies[ticker] = market.CurrencyFor(ticker, "")
	}
	resolution := fx.Resolve(ctx, s.cfg.FX, st.currencies, s.quoter, s.logger)
	st.fxRate = resolution.Rate
	st.fxNote = resolution.Note
	st.failures = append(st.failures, resolution.Messages...)

	if !st.fatal {
		s.refreshUSHolidays(ctx, st)
		s.collectMarketData(ctx, st)
	}

	if len(st.tickers) == 0 {
		st.failFatal(s.logger, "No tickers provided (watchlist empty or missing)")
	}

	s.evaluateCandidates(st)
	s.decorateCandidates(st)

	if len(st.tickers) > 0 && len(st.marketData) == 0 {
		st.fatal = true
		s.logger.Error().Msg("Failed to retrieve market data for requested tickers")
	}

	path, err := s.reports.WriteBuy(report.BuyReport{
		Provider:      s.cfg.Provider.Name,
		CacheHint:     st.cacheHint,
		StrategyMode:  s.cfg.Strategy.Mode,
		UniverseCount: len(st.tickers),
		Candidates:    st.candidates,
		Failures:      st.failures,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to write buy report")
		return 1
	}
	s.logger.Info().Str("path", path).Msg("scan complete")

	if st.fatal {
		return 1
	}
	return 0
}

func (s *Service) loadWatchlist(opts Options) []string {
	path := opts.WatchlistPath
	if path == "" {
		path = s.cfg.Universe.WatchlistPath
	}
	tickers := common.LoadWatchlist(path)

	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.Universe.ScanLimit
	}
	if limit > 0 && len(tickers) > limit {
		tickers = tickers[:limit]
	}
	return tickers
}

func (s *Service) resolveScreenerFlags(universe string) (enabled, only bool) {
	switch universe {
	case "watchlist":
		return false, false
	case "screener":
		return true, true
	case "both":
		return true, false
	}
	enabled = s.cfg.Screener.Enabled
	only = s.cfg.Screener.Only && enabled
	return enabled, only
}

// initProvider ensures a primary client exists for the configured
// provider. Missing credentials are fatal for a KIS run; the KRX
// provider needs none but serves domestic tickers only.
func (s *Service) initProvider(st *runState, screenerEnabled bool) {
	switch s.cfg.Provider.Name {
	case "kis":
		if s.client == nil {
			client, err := kis.NewClient(s.cfg.Provider, s.logger, kis.WithTokenStore(s.store))
			if err != nil {
				st.failFatal(s.logger, "KIS credentials missing. Set KIS_APP_KEY, KIS_APP_SECRET, KIS_BASE_URL in the environment (%v)", err)
				return
			}
			s.client = client
		}
		st.cacheHint = s.client.CacheStatus()
		if s.fallback == nil {
			s.fallback = krx.NewClient(s.logger)
		}
	case "krx":
		st.cacheHint = "krx"
		if s.fallback == nil {
			s.fallback = krx.NewClient(s.logger)
		}
		if screenerEnabled {
			st.failFatal(s.logger, "Screener currently supports the KIS provider only.")
		}
	default:
		st.failFatal(s.logger, "Provider '%s' not yet implemented", s.cfg.Provider.Name)
	}
}

func (s *Service) runScreeners(ctx context.Context, st *runState, enabled, only bool, limitOverride int) {
	if !enabled {
		return
	}
	if s.client == nil {
		st.failFatal(s.logger, "Screener enabled but KIS client unavailable.")
		return
	}

	limit := limitOverride
	if limit <= 0 {
		limit = s.cfg.Screener.Limit
	}

	added := 0
	added += s.runKRScreener(ctx, st, limit, only)
	added += s.runUSScreener(ctx, st, limit, only)
	if added == 0 {
		s.logger.Warn().Msg("screener enabled but selected no tickers")
	}
}

func (s *Service) runKRScreener(ctx context.Context, st *runState, limit int, only bool) int {
	if !s.cfg.Universe.HasMarket("KR") {
		return 0
	}

	kr := screener.NewDomestic(s.client, s.store, s.cfg.Screener.CacheTTLMinutes, s.logger)
	result, err := kr.Screen(ctx, screener.DomesticRequest{
		Limit:           limit,
		MinPrice:        s.cfg.Strategy.MinPrice,
		MinDollarVolume: s.cfg.Strategy.MinDollarVolume,
		ExcludeETFETN:   s.cfg.Strategy.ExcludeETFETN,
	})
	if err != nil {
		st.fail(s.logger, "KR screener failed: %v", err)
		return 0
	}

	for ticker, row := range result.ByTicker {
		st.metaByTick[ticker] = row
	}
	if only {
		st.tickers = result.Tickers
	} else {
		st.tickers = mergeUnique(st.tickers, result.Tickers)
	}
	s.logger.Info().
		Int("selected", len(result.Tickers)).
		Str("cache", result.CacheStatus).
		Msg("KR screener done")
	return len(result.Tickers)
}

func (s *Service) runUSScreener(ctx context.Context, st *runState, limit int, only bool) int {
	if !s.cfg.Universe.HasMarket("US") {
		return 0
	}

	session := market.Resolve("US", s.now(), s.holidays)
	preferred := session.PreferredDayOffset()
	var fallbacks []int
	for n := 1; n <= 5; n++ {
		if n != preferred {
			fallbacks = append(fallbacks, n)
		}
	}
	s.logger.Info().
		Str("state", session.Status).
		Bool("holiday", session.IsHoliday).
		Int("preferred_day_offset", preferred).
		Msg("US session resolved")

	var usTickers []string
	if s.cfg.Screener.USMode == "kis" {
		usLimit := s.cfg.Screener.USLimit
		if usLimit <= 0 {
			usLimit = limit
		}
		us := screener.NewOverseas(s.client, s.logger)
		result := us.Screen(ctx, screener.OverseasRequest{
			Limit:           usLimit,
			Metric:          s.cfg.Screener.USMetric,
			DayOffset:       preferred,
			FallbackOffsets: fallbacks,
		})
		usTickers = result.Tickers
		for ticker, row := range result.ByTicker {
			st.metaByTick[ticker] = row
		}
		if len(usTickers) > 0 {
			s.logger.Info().
				Int("day_offset_used", result.DayOffsetUsed).
				Ints("day_offsets_tried", result.DayOffsetsTried).
				Msg("US screener used session offset")
		} else {
			s.logger.Warn().Msg("US screener returned 0 tickers; falling back to defaults if configured")
		}
	}

	if len(usTickers) == 0 && len(s.cfg.Screener.USDefaults) > 0 {
		usTickers = append(usTickers, s.cfg.Screener.USDefaults...)
		if limit > 0 && len(usTickers) > limit {
			usTickers = usTickers[:limit]
		}
		s.logger.Info().Int("count", len(usTickers)).Msg("US defaults list used")
	} else if len(usTickers) == 0 {
		s.logger.Warn().Msg("US screener produced no tickers and no defaults configured; US universe skipped")
	}

	if only {
		st.tickers = mergeUnique(usTickers, st.tickers)
	} else {
		st.tickers = mergeUnique(st.tickers, usTickers)
	}
	return len(usTickers)
}

// refreshUSHolidays pulls the next 30 days of the US exchange calendar
// when the run touches US symbols. A 404 means no entries, not an
// error; other failures degrade to the built-in calendar.
func (s *Service) refreshUSHolidays(ctx context.Context, st *runState) {
	if s.client == nil {
		return
	}
	touchesUS := s.cfg.Universe.HasMarket("US")
	for _, currency := range st.currencies {
		if currency == "USD" {
			touchesUS = true
			break
		}
	}
	if !touchesUS {
		return
	}

	now := s.now()
	rows, err := s.client.OverseasHolidays(ctx, now, now.AddDate(0, 0, 30))
	if err != nil {
		if kis.IsNotFound(err) {
			s.logger.Info().Msg("US holiday API returned no entries for the window")
			return
		}
		s.logger.Warn().Err(err).Msg("failed to refresh US holidays")
		return
	}

	added, err := s.holidays.Merge("US", rows)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to merge US holidays")
		return
	}
	s.logger.Info().Int("rows", len(rows)).Int("added", added).Msg("US holidays refreshed")
}

func (s *Service) collectMarketData(ctx context.Context, st *runState) {
	collector := &feed.Collector{
		Primary:      s.client,
		Fallback:     s.fallback,
		Store:        s.store,
		Logger:       s.logger,
		ProviderName: s.cfg.Provider.Name,
	}
	if s.cfg.Provider.Name == "krx" {
		// KRX-primary runs fetch directly through the fallback source.
		collector.Primary = krxPrimary{s.fallback}
		collector.Fallback = nil
	}

	result := collector.Collect(ctx, st.tickers, max(s.cfg.Strategy.MinHistoryBars, 200))
	st.marketData = result.Data
	st.sources = result.Sources
	st.latestDates = result.LatestDates
	st.failures = append(st.failures, result.Failures...)
}

// krxPrimary adapts the domestic-only fallback to the primary candle
// interface for KRX-provider runs.
type krxPrimary struct {
	fallback feed.Fallback
}

func (k krxPrimary) DailyCandles(ctx context.Context, ticker string, count int, _ bool) ([]models.Candle, error) {
	if k.fallback == nil {
		return nil, fmt.Errorf("no market-data provider configured")
	}
	return k.fallback.DailyCandles(ctx, ticker, count)
}

func (k krxPrimary) OverseasDailyCandles(context.Context, string, string, int) ([]models.Candle, error) {
	return nil, fmt.Errorf("overseas symbols need the KIS provider")
}

func (s *Service) evaluateCandidates(st *runState) {
	for _, ticker := range st.tickers {
		candles := st.marketData[ticker]
		if len(candles) == 0 {
			continue
		}

		meta := s.metaFor(st, ticker)
		candles = s.truncateToEvalIndex(ticker, candles, meta)

		var result signals.BuyResult
		var holdReason string
		if s.cfg.Strategy.Mode == "sma_ema_hybrid" {
			result = signals.EvaluateHybridBuy(ticker, meta.Name, candles, meta, s.cfg.Strategy, s.cfg.Hybrid)
			holdReason = "Did not meet hybrid signal criteria"
		} else {
			result = signals.EvaluateCrossover(ticker, meta.Name, candles, meta, s.cfg.Strategy)
			holdReason = "Did not meet signal criteria"
		}

		if result.Candidate != nil {
			st.candidates = append(st.candidates, *result.Candidate)
		} else if result.Reason != "" && result.Reason != holdReason {
			st.fail(s.logger, "%s: %s", ticker, result.Reason)
		}
	}
}

func (s *Service) metaFor(st *runState, ticker string) models.TickerMeta {
	meta := models.TickerMeta{
		Currency:   st.currencies[ticker],
		DataSource: st.sources[ticker],
		UsdKrwRate: st.fxRate,
	}
	_, exchange := market.SplitTicker(ticker)
	meta.Exchange = exchange
	if row, ok := st.metaByTick[ticker]; ok {
		meta.Name = row.Name
		if row.Exchange != "" {
			meta.Exchange = row.Exchange
		}
	}
	return meta
}

// truncateToEvalIndex drops bars after the evaluation index so rules
// never read a partial or thin session.
func (s *Service) truncateToEvalIndex(ticker string, candles []models.Candle, meta models.TickerMeta) []models.Candle {
	marketCode := "KR"
	if market.IsOverseas(ticker) || strings.EqualFold(meta.Currency, "USD") {
		marketCode = "US"
	}
	session := market.Resolve(marketCode, s.now(), s.holidays)
	idx, ok := market.ChooseEvalIndex(candles, meta, session, s.cfg.EvalIndex)
	if !ok {
		return candles
	}
	return candles[:idx+1]
}

func (s *Service) decorateCandidates(st *runState) {
	sort.SliceStable(st.candidates, func(i, j int) bool {
		return st.candidates[i].ScoreValue > st.candidates[j].ScoreValue
	})

	for i := range st.candidates {
		candidate := &st.candidates[i]
		s.applyCurrencyDisplay(candidate, st)
		if !strings.EqualFold(candidate.Currency, "USD") {
			continue
		}

		dateKey := st.latestDates[candidate.Ticker]
		if entry, ok := s.holidays.Lookup("US", dateKey); ok && dateKey != "" {
			status := "Holiday"
			if entry.IsOpen {
				status = "Open"
			}
			if entry.Note != "" {
				status += " - " + entry.Note
			}
			candidate.MarketStatus = "US " + status
		} else {
			session := market.Resolve("US", s.now(), s.holidays)
			candidate.MarketStatus = "US market " + session.Status
		}
	}
}

// applyCurrencyDisplay rewrites the price column with its currency
// symbol, appending the converted won amount for USD candidates.
func (s *Service) applyCurrencyDisplay(candidate *models.Candidate, st *runState) {
	if candidate.Currency == "" {
		candidate.Currency = st.currencies[candidate.Ticker]
	}
	value := candidate.PriceValue
	if math.IsNaN(value) || value == 0 {
		return
	}

	if strings.EqualFold(candidate.Currency, "USD") {
		display := "$" + signals.FormatNumber(value, 2)
		if st.fxRate > 0 {
			converted := value * st.fxRate
			display += " (₩" + signals.FormatNumber(converted, 0) + ")"
			note := "1 USD ≈ ₩" + signals.FormatNumber(st.fxRate, 0)
			if st.fxNote != "" {
				note += " (" + st.fxNote + ")"
			}
			candidate.FxNote = note
		}
		candidate.Price = display
	} else {
		candidate.Price = "₩" + signals.FormatNumber(value, 0)
	}
}

func mergeUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	var merged []string
	for _, ticker := range append(append([]string(nil), base...), extra...) {
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true
		merged = append(merged, ticker)
	}
	return merged
}
