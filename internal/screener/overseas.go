package screener

import (
	"context"
	"strconv"
	"strings"

	"github.com/mkkang/swingbot/internal/clients/kis"
	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
)

// OverseasRanker is the slice of the provider client the overseas
// screener needs.
type OverseasRanker interface {
	OverseasTradeVolumeRank(ctx context.Context, opts kis.OverseasRankOptions) ([]map[string]any, error)
	OverseasTradeValueRank(ctx context.Context, opts kis.OverseasRankOptions) ([]map[string]any, error)
	OverseasMarketCapRank(ctx context.Context, opts kis.OverseasRankOptions) ([]map[string]any, error)
}

// OverseasRequest filters one overseas screen run.
type OverseasRequest struct {
	Limit  int
	Metric string // volume | value | market_cap
	// Exchange pins a single exchange; empty rotates NAS, NYS, AMS.
	Exchange string
	// DayOffset is the preferred session offset (0 = today's ranks).
	DayOffset       int
	FallbackOffsets []int
}

// Overseas screens US exchanges through the provider rank listings,
// retrying older sessions when the preferred one has no ranks yet.
type Overseas struct {
	client OverseasRanker
	logger *common.Logger
}

// NewOverseas returns an overseas screener.
func NewOverseas(client OverseasRanker, logger *common.Logger) *Overseas {
	return &Overseas{client: client, logger: logger}
}

var exchangeAliases = map[string]string{
	"US":     "NAS",
	"NASDAQ": "NAS",
	"NASD":   "NAS",
	"NAS":    "NAS",
	"NYSE":   "NYS",
	"NYS":    "NYS",
	"AMEX":   "AMS",
	"AMS":    "AMS",
}

// NormalizeExchange maps ticker-suffix spellings to provider EXCD codes.
// Unknown codes pass through upper-cased.
func NormalizeExchange(exchange string) string {
	code := strings.ToUpper(strings.TrimSpace(exchange))
	if code == "" {
		return "NAS"
	}
	if mapped, ok := exchangeAliases[code]; ok {
		return mapped
	}
	return code
}

// Screen walks session offsets, then exchanges within each offset, and
// stops at the first offset that yields any ranked symbols so all picks
// come from one session's listings.
func (s *Overseas) Screen(ctx context.Context, req OverseasRequest) models.ScreenResult {
	result := models.ScreenResult{
		Source:        "kis_overseas_rank",
		DayOffsetUsed: -1,
		ByTicker:      make(map[string]models.RankRow),
	}
	if req.Limit <= 0 {
		return result
	}

	exchanges := []string{"NAS", "NYS", "AMS"}
	if req.Exchange != "" {
		exchanges = []string{NormalizeExchange(req.Exchange)}
	}

	offsets := []int{max(req.DayOffset, 0)}
	for _, offset := range req.FallbackOffsets {
		if offset < 0 {
			offset = 0
		}
		if !containsInt(offsets, offset) {
			offsets = append(offsets, offset)
		}
	}

	for _, offset := range offsets {
		result.DayOffsetsTried = append(result.DayOffsetsTried, offset)
		for _, exchange := range exchanges {
			remaining := req.Limit - len(result.Tickers)
			if remaining <= 0 {
				break
			}
			rows, err := s.fetchRank(ctx, req.Metric, exchange, remaining, offset)
			if err != nil {
				s.logger.Warn().Err(err).
					Str("exchange", exchange).
					Int("day_offset", offset).
					Msg("overseas rank fetch failed")
				continue
			}
			for _, row := range rows {
				symbol := symbolFromRow(row)
				if symbol == "" {
					continue
				}
				ticker := symbol
				if !strings.Contains(symbol, ".") {
					ticker = symbol + "." + exchange
				}
				if _, dup := result.ByTicker[ticker]; dup {
					continue
				}
				result.Tickers = append(result.Tickers, ticker)
				result.ByTicker[ticker] = rankRowFromRaw(ticker, exchange, row)
				if result.DayOffsetUsed < 0 {
					result.DayOffsetUsed = offset
				}
				if len(result.Tickers) >= req.Limit {
					break
				}
			}
			if len(result.Tickers) > 0 {
				break
			}
		}
		if len(result.Tickers) > 0 {
			break
		}
	}

	s.logger.Info().
		Int("selected", len(result.Tickers)).
		Int("day_offset_used", result.DayOffsetUsed).
		Ints("day_offsets_tried", result.DayOffsetsTried).
		Msg("overseas screener done")
	return result
}

func (s *Overseas) fetchRank(ctx context.Context, metric, exchange string, limit, dayOffset int) ([]map[string]any, error) {
	opts := kis.OverseasRankOptions{
		Exchange:  exchange,
		Limit:     limit,
		DayOffset: strconv.Itoa(dayOffset),
	}
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "market_cap", "marketcap":
		return s.client.OverseasMarketCapRank(ctx, opts)
	case "value", "amount", "trade_value":
		return s.client.OverseasTradeValueRank(ctx, opts)
	default:
		return s.client.OverseasTradeVolumeRank(ctx, opts)
	}
}

// symbolFromRow tolerates the symbol field variants across the rank
// listings.
func symbolFromRow(row map[string]any) string {
	for _, key := range []string{"SYMB", "symb", "rsym", "symbol", "ticker"} {
		if s, ok := row[key].(string); ok {
			if trimmed := strings.ToUpper(strings.TrimSpace(s)); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func rankRowFromRaw(ticker, exchange string, row map[string]any) models.RankRow {
	parsed := models.RankRow{
		Ticker:   ticker,
		Name:     rawString(row, "name", "knam", "enam"),
		Price:    rawNumber(row, "last", "price"),
		Volume:   rawNumber(row, "tvol", "vol", "volume"),
		Amount:   rawNumber(row, "tamt", "amt", "amount"),
		Exchange: exchange,
	}
	if parsed.Name == "" {
		parsed.Name = ticker
	}
	if parsed.Amount == 0 {
		parsed.Amount = parsed.Price * parsed.Volume
	}
	return parsed
}

func rawString(row map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := row[key].(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func rawNumber(row map[string]any, keys ...string) float64 {
	for _, key := range keys {
		switch v := row[key].(type) {
		case float64:
			return v
		case string:
			s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func containsInt(values []int, target int) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
