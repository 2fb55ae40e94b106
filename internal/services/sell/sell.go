// Package sell runs the portfolio review pipeline: holdings load,
// candle collection, sell-rule evaluation, and the markdown report.
package sell

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
	"github.com/mkkang/swingbot/internal/holdings"
	"github.com/mkkang/swingbot/internal/market"
	"github.com/mkkang/swingbot/internal/models"
	"github.com/mkkang/swingbot/internal/report"
	"github.com/mkkang/swingbot/internal/services/feed"
	"github.com/mkkang/swingbot/internal/signals"
	"github.com/mkkang/swingbot/internal/storage"
)

// Provider is the primary-client surface the sell run needs.
type Provider interface {
	feed.CandleSource
	CacheStatus() string
}

// Service wires the sell pipeline together.
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

// New builds a sell service over the configured storage directories.
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

type runState struct {
	positions   []models.Holding
	tickers     []string
	currencies  map[string]string
	failures    []string
	fatal       bool
	cacheHint   string
	fxRate      float64
	fxNote      string
	marketData  map[string][]models.Candle
	sources     map[string]string
	missingSeen map[string]bool
}

func (st *runState) fail(logger *common.Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	st.failures = append(st.failures, msg)
	logger.Warn().Msg(msg)
}

// Run executes one portfolio review. The report is written even on
// failure; the return value is the process exit code.
func (s *Service) Run(ctx context.Context) int {
	data, err := holdings.Load(s.cfg.Holdings.Path)
	if err != nil {
		s.logger.Error().Err(err).Msg("holdings loading failed")
		return 1
	}

	st := &runState{
		positions:   data.Holdings,
		tickers:     data.Tickers(),
		currencies:  make(map[string]string),
		missingSeen: make(map[string]bool),
	}
	if len(st.positions) == 0 {
		s.logger.Warn().Msg("no holdings configured, generating empty sell report")
	}

	for _, holding := range st.positions {
		st.currencies[holding.Ticker] = market.CurrencyFor(holding.Ticker, holding.EntryCurrency)
	}

	s.initProvider(st)

	if len(st.tickers) > 0 {
		resolution := fx.Resolve(ctx, s.cfg.FX, st.currencies, s.quoter, s.logger)
		st.fxRate = resolution.Rate
		st.fxNote = resolution.Note
		st.failures = append(st.failures, resolution.Messages...)
	}

	if !st.fatal {
		s.collectMarketData(ctx, st)
	}

	rows := s.evaluateHoldings(st)

	path, err := s.reports.WriteSell(report.SellReport{
		Provider:      s.cfg.Provider.Name,
		CacheHint:     st.cacheHint,
		SellMode:      s.cfg.Sell.Mode,
		SellModeNote:  s.sellModeNote(),
		ATRMultiplier: s.cfg.Sell.ATRMultiplier,
		TimeStopDays:  s.cfg.Sell.TimeStopDays,
		FXRate:        st.fxRate,
		FXNote:        st.fxNote,
		Rows:          rows,
		Failures:      st.failures,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to write sell report")
		return 1
	}
	s.logger.Info().Str("path", path).Msg("sell review complete")

	if st.fatal {
		return 1
	}
	return 0
}

func (s *Service) initProvider(st *runState) {
	switch s.cfg.Provider.Name {
	case "kis":
		if s.client == nil {
			client, err := kis.NewClient(s.cfg.Provider, s.logger, kis.WithTokenStore(s.store))
			if err != nil {
				msg := fmt.Sprintf("KIS credentials missing. Set KIS_APP_KEY, KIS_APP_SECRET, KIS_BASE_URL in the environment (%v)", err)
				st.failures = append(st.failures, msg)
				st.fatal = true
				s.logger.Error().Msg(msg)
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
	default:
		msg := fmt.Sprintf("Provider '%s' not supported for sell command", s.cfg.Provider.Name)
		st.failures = append(st.failures, msg)
		st.fatal = true
		s.logger.Error().Msg(msg)
	}
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
		collector.Primary = krxPrimary{s.fallback}
		collector.Fallback = nil
	}

	result := collector.Collect(ctx, st.tickers, max(s.cfg.Strategy.MinHistoryBars, 200))
	st.marketData = result.Data
	st.sources = result.Sources
	st.failures = append(st.failures, result.Failures...)
}

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

func (s *Service) evaluateHoldings(st *runState) []models.SellReportRow {
	var rows []models.SellReportRow

	for _, holding := range st.positions {
		candles := st.marketData[holding.Ticker]
		if len(candles) == 0 {
			if !st.missingSeen[holding.Ticker] {
				st.fail(s.logger, "%s: No market data available for sell evaluation", holding.Ticker)
				st.missingSeen[holding.Ticker] = true
			}
			continue
		}

		meta := models.TickerMeta{
			Currency:   st.currencies[holding.Ticker],
			DataSource: st.sources[holding.Ticker],
		}
		candles = s.truncateToEvalIndex(holding.Ticker, candles, meta)

		var evaluation models.SellEvaluation
		if s.cfg.Sell.Mode == "sma_ema_hybrid" {
			evaluation = signals.EvaluateHybridSell(holding, candles, s.cfg.HybridSel)
		} else {
			evaluation = signals.EvaluateSell(holding, candles, s.cfg.Sell)
		}

		rows = append(rows, s.buildRow(holding, candles, evaluation, st))
	}

	order := map[string]int{models.ActionSell: 0, models.ActionReview: 1, models.ActionHold: 2}
	sort.SliceStable(rows, func(i, j int) bool {
		oi, ok := order[rows[i].Action]
		if !ok {
			oi = 99
		}
		oj, ok := order[rows[j].Action]
		if !ok {
			oj = 99
		}
		if oi != oj {
			return oi < oj
		}
		return rows[i].Ticker < rows[j].Ticker
	})
	return rows
}

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

func (s *Service) buildRow(holding models.Holding, candles []models.Candle, evaluation models.SellEvaluation, st *runState) models.SellReportRow {
	var entryPrice *float64
	if holding.EntryPrice > 0 && !math.IsNaN(holding.EntryPrice) {
		v := holding.EntryPrice
		entryPrice = &v
	}

	lastPrice := pricePtr(evaluation.EvalPrice)
	if lastPrice == nil && len(candles) > 0 {
		lastPrice = pricePtr(float64(candles[len(candles)-1].Close))
	}

	var pnlPct *float64
	if entryPrice != nil && lastPrice != nil && *entryPrice != 0 {
		v := (*lastPrice - *entryPrice) / *entryPrice
		pnlPct = &v
	}

	evalDate := evaluation.EvalDate
	if evalDate == "" && len(candles) > 0 {
		evalDate = candles[len(candles)-1].Date
	}

	name := holding.Ticker
	return models.SellReportRow{
		Ticker:      holding.Ticker,
		Name:        name,
		Quantity:    holding.Quantity,
		EntryPrice:  entryPrice,
		EntryDate:   holding.EntryDate,
		LastPrice:   lastPrice,
		PnLPct:      pnlPct,
		Action:      evaluation.Action,
		Reasons:     evaluation.Reasons,
		StopPrice:   evaluation.StopPrice,
		TargetPrice: evaluation.TargetPrice,
		Notes:       holding.Notes,
		Currency:    strings.ToUpper(st.currencies[holding.Ticker]),
		EvalDate:    evalDate,
	}
}

func pricePtr(v float64) *float64 {
	if v == 0 || math.IsNaN(v) {
		return nil
	}
	return &v
}

// sellModeNote summarizes the hybrid thresholds for the report header.
func (s *Service) sellModeNote() string {
	if s.cfg.Sell.Mode != "sma_ema_hybrid" {
		return ""
	}
	h := s.cfg.HybridSel
	return fmt.Sprintf("profit partial ≥%.1f%%, target %.1f–%.1f%%, stop %.1f–%.1f%%",
		h.PartialProfitFloor*100,
		h.ProfitTargetLow*100, h.ProfitTargetHigh*100,
		h.StopLossPctMin*100, h.StopLossPctMax*100)
}
