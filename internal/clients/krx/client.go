// Package krx fetches end-of-day domestic candles from the public KRX
// market-data portal. It carries no credentials and serves as the
// fallback when the primary provider fails for a KR ticker.
package krx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
)

const defaultBaseURL = "http://data.krx.co.kr"

// UnavailableError marks failures callers should treat as "no fallback",
// not as a hard provider error.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("krx unavailable: %s", e.Reason)
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}

// Client queries the KRX market-data JSON endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	now        func() time.Time

	// isinCache maps short codes to full ISIN codes across calls.
	isinCache map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the portal base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient returns a portal client with defaults applied.
func NewClient(logger *common.Logger, opts ...Option) *Client {
	client := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
		now:        time.Now,
		isinCache:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// DailyCandles fetches daily OHLCV for a domestic short code, oldest
// first, truncated to count bars. Overseas tickers are unavailable here.
func (c *Client) DailyCandles(ctx context.Context, ticker string, count int) ([]models.Candle, error) {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return nil, &UnavailableError{Reason: "empty ticker"}
	}
	if strings.Contains(ticker, ".") {
		return nil, &UnavailableError{Reason: "domestic tickers only"}
	}
	if count <= 0 {
		count = 120
	}

	isin, err := c.resolveISIN(ctx, ticker)
	if err != nil {
		return nil, err
	}

	now := c.now()
	params := url.Values{
		"bld":         {"dbms/MDC/STAT/standard/MDCSTAT01701"},
		"isuCd":       {isin},
		"strtDd":      {now.AddDate(0, 0, -max(count*2, 240)).Format("20060102")},
		"endDd":       {now.Format("20060102")},
		"adjStkPrc":   {"2"},
		"share":       {"1"},
		"money":       {"1"},
		"csvxls_isNo": {"false"},
	}

	data, err := c.postJSON(ctx, params)
	if err != nil {
		return nil, err
	}

	rows, _ := data["output"].([]any)
	candles := make([]models.Candle, 0, len(rows))
	for _, it := range rows {
		row, ok := it.(map[string]any)
		if !ok {
			continue
		}
		date := normalizeDate(stringValue(row["TRD_DD"]))
		if date == "" {
			continue
		}
		candles = append(candles, models.Candle{
			Date:   date,
			Open:   parseNumber(row["TDD_OPNPRC"]),
			High:   parseNumber(row["TDD_HGPRC"]),
			Low:    parseNumber(row["TDD_LWPRC"]),
			Close:  parseNumber(row["TDD_CLSPRC"]),
			Volume: parseNumber(row["ACC_TRDVOL"]),
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Date < candles[j].Date })
	if len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	if len(candles) == 0 {
		return nil, &UnavailableError{Reason: fmt.Sprintf("no rows for %s", ticker)}
	}
	c.logger.Debug().Str("ticker", ticker).Int("candles", len(candles)).Msg("krx candles fetched")
	return candles, nil
}

// resolveISIN maps a 6-digit short code to the full ISIN the OHLCV
// endpoint requires, using the portal's issue finder.
func (c *Client) resolveISIN(ctx context.Context, ticker string) (string, error) {
	if isin, ok := c.isinCache[ticker]; ok {
		return isin, nil
	}

	params := url.Values{
		"bld":        {"dbms/comm/finder/finder_stkisu"},
		"mktsel":     {"ALL"},
		"searchText": {ticker},
	}
	data, err := c.postJSON(ctx, params)
	if err != nil {
		return "", err
	}

	rows, _ := data["block1"].([]any)
	for _, it := range rows {
		row, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if stringValue(row["short_code"]) == ticker {
			isin := stringValue(row["full_code"])
			if isin != "" {
				c.isinCache[ticker] = isin
				return isin, nil
			}
		}
	}
	return "", &UnavailableError{Reason: fmt.Sprintf("unknown ticker %s", ticker)}
}

func (c *Client) postJSON(ctx context.Context, params url.Values) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/comm/bldAttendant/getJsonData.cmd",
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.baseURL+"/contents/MDC/MDI/mdiLoader")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnavailableError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Reason: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UnavailableError{Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &UnavailableError{Reason: "malformed portal response"}
	}
	return data, nil
}

// normalizeDate converts the portal's 2025/01/02 dates to 2025-01-02.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "/", "-"))
	if len(raw) == 8 && !strings.Contains(raw, "-") {
		return raw[:4] + "-" + raw[4:6] + "-" + raw[6:]
	}
	return raw
}
