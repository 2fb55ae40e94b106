package kis

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mkkang/swingbot/internal/models"
)

const (
	trVolumeRank            = "FHPST01710000"
	trOverseasVolumeRank    = "HHDFS76310010"
	trOverseasValueRank     = "HHDFS76320010"
	trOverseasMarketCapRank = "HHDFS76350100"
)

// VolumeRankOptions filters the domestic volume rank listing.
type VolumeRankOptions struct {
	Limit         int
	Market        string // FID market division, default "J"
	DivisionCode  string
	BelongingCode string
	MinPrice      float64
	MaxPrice      float64
	MinVolume     float64
}

func fmtFilter(v float64) string {
	if v <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", int(v))
}

// VolumeRank fetches the domestic volume rank, following tr_cont
// pagination until limit rows are collected or the listing ends.
func (c *Client) VolumeRank(ctx context.Context, opts VolumeRankOptions) ([]models.RankRow, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}
	if opts.Market == "" {
		opts.Market = "J"
	}
	if opts.DivisionCode == "" {
		opts.DivisionCode = "0"
	}
	if opts.BelongingCode == "" {
		opts.BelongingCode = "3"
	}

	if err := c.EnsureToken(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"FID_COND_MRKT_DIV_CODE":  {opts.Market},
		"FID_COND_SCR_DIV_CODE":   {"20171"},
		"FID_INPUT_ISCD":          {"0000"},
		"FID_DIV_CLS_CODE":        {opts.DivisionCode},
		"FID_BLNG_CLS_CODE":       {opts.BelongingCode},
		"FID_TRGT_CLS_CODE":       {"000000000"},
		"FID_TRGT_EXLS_CLS_CODE":  {"0000000000"},
		"FID_INPUT_PRICE_1":       {fmtFilter(opts.MinPrice)},
		"FID_INPUT_PRICE_2":       {fmtFilter(opts.MaxPrice)},
		"FID_VOL_CNT":             {fmtFilter(opts.MinVolume)},
		"FID_INPUT_DATE_1":        {"0"},
	}

	var rows []models.RankRow
	trCont := ""

	for len(rows) < opts.Limit {
		headers := c.authHeaders(trVolumeRank)
		if trCont != "" {
			headers["tr_cont"] = trCont
		}

		data, respHeaders, err := c.getJSON(ctx,
			c.baseURL+"/uapi/domestic-stock/v1/quotations/volume-rank",
			headers, params)
		if err != nil {
			return nil, err
		}

		items, _ := data["output"].([]any)
		for _, it := range items {
			row, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if parsed, ok := parseRankRow(row); ok {
				rows = append(rows, parsed)
			}
		}

		if strings.TrimSpace(respHeaders.Get("tr_cont")) != "M" {
			break
		}
		trCont = "N"
	}

	if len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows, nil
}

// parseRankRow extracts one rank row, tolerating the field-name variants
// the provider uses across listings.
func parseRankRow(row map[string]any) (models.RankRow, bool) {
	ticker := stringField(row, "shrn_iscd", "mksc_shrn_iscd", "stck_shrn_iscd")
	if ticker == "" {
		return models.RankRow{}, false
	}
	name := stringField(row, "hts_kor_isnm", "stck_hnm", "kor_sec_name")
	if name == "" {
		name = ticker
	}

	price := float64(toPrice(firstField(row, "stck_prpr", "stck_prtp")))
	volume := float64(toPrice(firstField(row, "stck_cnt", "acml_vol", "acc_trdvol")))
	amount := float64(toPrice(firstField(row, "acml_tr_pbmn", "acc_trdprc", "acc_trdval")))
	price = zeroNaN(price)
	volume = zeroNaN(volume)
	amount = zeroNaN(amount)
	if amount == 0 {
		amount = price * volume
	}

	return models.RankRow{
		Ticker: ticker,
		Name:   name,
		Price:  price,
		Volume: volume,
		Amount: amount,
	}, true
}

func zeroNaN(v float64) float64 {
	if v != v {
		return 0
	}
	return v
}

// OverseasRankOptions filters the overseas rank listings.
type OverseasRankOptions struct {
	Exchange     string // EXCD, passed through verbatim
	Limit        int
	DayOffset    string // NDAY: "0" = today, "1" = previous session
	VolumeFilter string // VOL_RANG band
	PriceMin     float64
	PriceMax     float64
}

func (o OverseasRankOptions) params() url.Values {
	dayOffset := o.DayOffset
	if dayOffset == "" {
		dayOffset = "0"
	}
	volumeFilter := o.VolumeFilter
	if volumeFilter == "" {
		volumeFilter = "0"
	}
	return url.Values{
		"EXCD":     {o.Exchange},
		"NDAY":     {dayOffset},
		"VOL_RANG": {volumeFilter},
		"PRC1":     {fmtOverseasPrice(o.PriceMin)},
		"PRC2":     {fmtOverseasPrice(o.PriceMax)},
	}
}

// fmtOverseasPrice renders a price filter as a whole-number string,
// empty when unset or invalid.
func fmtOverseasPrice(v float64) string {
	if v <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", int(v))
}

// OverseasTradeVolumeRank fetches the overseas trade volume ranking.
func (c *Client) OverseasTradeVolumeRank(ctx context.Context, opts OverseasRankOptions) ([]map[string]any, error) {
	return c.fetchOverseasRankItems(ctx,
		c.baseURL+"/uapi/overseas-price/v1/ranking/trade-vol",
		trOverseasVolumeRank, opts)
}

// OverseasTradeValueRank fetches the overseas trade value ranking.
func (c *Client) OverseasTradeValueRank(ctx context.Context, opts OverseasRankOptions) ([]map[string]any, error) {
	return c.fetchOverseasRankItems(ctx,
		c.baseURL+"/uapi/overseas-price/v1/ranking/trade-pbmn",
		trOverseasValueRank, opts)
}

// OverseasMarketCapRank fetches the overseas market cap ranking.
func (c *Client) OverseasMarketCapRank(ctx context.Context, opts OverseasRankOptions) ([]map[string]any, error) {
	return c.fetchOverseasRankItems(ctx,
		c.baseURL+"/uapi/overseas-price/v1/ranking/market-cap",
		trOverseasMarketCapRank, opts)
}

// fetchOverseasRankItems pages through an overseas ranking. The provider
// signals continuation with a tr_cont=M response header; follow-ups send
// tr_cont=N plus the KEYB cursor echoed in output1.
func (c *Client) fetchOverseasRankItems(ctx context.Context, rawURL, trID string, opts OverseasRankOptions) ([]map[string]any, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}

	if err := c.EnsureToken(ctx); err != nil {
		return nil, err
	}

	params := opts.params()
	var rows []map[string]any
	trCont := ""

	for len(rows) < opts.Limit {
		headers := c.authHeaders(trID)
		if trCont != "" {
			headers["tr_cont"] = trCont
		}

		data, respHeaders, err := c.getJSON(ctx, rawURL, headers, params)
		if err != nil {
			return nil, err
		}

		items, _ := data["output2"].([]any)
		for _, it := range items {
			if row, ok := it.(map[string]any); ok && len(row) > 0 {
				rows = append(rows, row)
			}
		}

		if strings.TrimSpace(respHeaders.Get("tr_cont")) != "M" {
			break
		}
		trCont = "N"
		if out1, ok := data["output1"].(map[string]any); ok {
			if cursor := stringField(out1, "keyb", "KEYB"); cursor != "" {
				params.Set("KEYB", cursor)
			}
		}
	}

	if len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows, nil
}
