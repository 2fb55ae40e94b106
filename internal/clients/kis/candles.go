package kis

import (
	"context"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/mkkang/swingbot/internal/models"
)

const (
	trDomesticCandles = "FHKST03010100"
	trOverseasCandles = "HHDFS76240000"
)

// minCandleRangeDays bounds the query window so thin listings still
// return enough trading days.
const minCandleRangeDays = 240

// toPrice parses provider numerics: comma-grouped strings, plain
// numbers, or empty values (NaN).
func toPrice(v any) models.PriceValue {
	switch val := v.(type) {
	case nil:
		return models.PriceValue(math.NaN())
	case float64:
		return models.PriceValue(val)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(val), ",", "")
		if s == "" {
			return models.PriceValue(math.NaN())
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.PriceValue(math.NaN())
		}
		return models.PriceValue(f)
	default:
		return models.PriceValue(math.NaN())
	}
}

// normalizeCandleDate converts YYYYMMDD to YYYY-MM-DD.
func normalizeCandleDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) == 8 && !strings.Contains(raw, "-") {
		return raw[:4] + "-" + raw[4:6] + "-" + raw[6:]
	}
	return raw
}

// DailyCandles fetches domestic daily candles, oldest first, truncated
// to count bars.
func (c *Client) DailyCandles(ctx context.Context, ticker string, count int, adjusted bool) ([]models.Candle, error) {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return nil, &APIError{Message: "ticker is required"}
	}
	if count <= 0 {
		count = 120
	}

	if err := c.EnsureToken(ctx); err != nil {
		return nil, err
	}

	now := c.now()
	rangeDays := max(count*2, minCandleRangeDays)

	adjFlag := "0"
	if !adjusted {
		adjFlag = "1"
	}
	params := url.Values{
		"FID_COND_MRKT_DIV_CODE": {"J"},
		"FID_INPUT_ISCD":         {ticker},
		"FID_INPUT_DATE_1":       {now.AddDate(0, 0, -rangeDays).Format("20060102")},
		"FID_INPUT_DATE_2":       {now.Format("20060102")},
		"FID_PERIOD_DIV_CODE":    {"D"},
		"FID_ORG_ADJ_PRC":        {adjFlag},
	}

	data, _, err := c.getJSON(ctx,
		c.baseURL+"/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice",
		c.authHeaders(trDomesticCandles), params)
	if err != nil {
		return nil, err
	}

	candles := parseCandleRows(data, "output2", func(row map[string]any) models.Candle {
		return models.Candle{
			Date:   normalizeCandleDate(stringField(row, "stck_bsop_date")),
			Open:   toPrice(row["stck_oprc"]),
			High:   toPrice(row["stck_hgpr"]),
			Low:    toPrice(row["stck_lwpr"]),
			Close:  toPrice(row["stck_clpr"]),
			Volume: toPrice(row["acml_vol"]),
		}
	})
	return tailCandles(candles, count), nil
}

// OverseasDailyCandles fetches overseas daily candles for a symbol on
// an exchange (EXCD code), oldest first, truncated to count bars.
func (c *Client) OverseasDailyCandles(ctx context.Context, exchange, symbol string, count int) ([]models.Candle, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, &APIError{Message: "symbol is required"}
	}
	if count <= 0 {
		count = 120
	}

	if err := c.EnsureToken(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"AUTH": {""},
		"EXCD": {exchange},
		"SYMB": {symbol},
		"GUBN": {"0"},
		"BYMD": {""},
		"MODP": {"1"},
	}

	data, _, err := c.getJSON(ctx,
		c.baseURL+"/uapi/overseas-price/v1/quotations/dailyprice",
		c.authHeaders(trOverseasCandles), params)
	if err != nil {
		return nil, err
	}

	candles := parseCandleRows(data, "output2", func(row map[string]any) models.Candle {
		return models.Candle{
			Date:   normalizeCandleDate(stringField(row, "xymd")),
			Open:   toPrice(row["open"]),
			High:   toPrice(row["high"]),
			Low:    toPrice(row["low"]),
			Close:  toPrice(row["clos"]),
			Volume: toPrice(row["tvol"]),
		}
	})
	return tailCandles(candles, count), nil
}

func parseCandleRows(data map[string]any, key string, parse func(map[string]any) models.Candle) []models.Candle {
	items, _ := data[key].([]any)
	candles := make([]models.Candle, 0, len(items))
	for _, it := range items {
		row, ok := it.(map[string]any)
		if !ok || len(row) == 0 {
			continue
		}
		candle := parse(row)
		if candle.Date == "" {
			continue
		}
		candles = append(candles, candle)
	}
	// Provider returns most recent first.
	sort.Slice(candles, func(i, j int) bool { return candles[i].Date < candles[j].Date })
	return candles
}

func tailCandles(candles []models.Candle, count int) []models.Candle {
	if len(candles) > count {
		return candles[len(candles)-count:]
	}
	return candles
}
