package kis

import (
	"context"
	"net/url"
	"strings"
	"time"
)

const trOverseasHolidays = "CTOS5011R"

// maxHolidayPages bounds pagination; the listing covers a few weeks per
// page.
const maxHolidayPages = 10

// OverseasHolidays fetches exchange holiday rows between from and to.
// Rows are returned raw for the calendar merge to interpret. A 404 means
// the provider has no entries for the window; callers should treat it as
// empty via IsNotFound.
func (c *Client) OverseasHolidays(ctx context.Context, from, to time.Time) ([]map[string]any, error) {
	if err := c.EnsureToken(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"TRAD_DT":     {from.Format("20060102")},
		"CTX_AREA_FK": {""},
		"CTX_AREA_NK": {""},
	}
	endDate := to.Format("20060102")

	var rows []map[string]any
	trCont := ""

	for page := 0; page < maxHolidayPages; page++ {
		headers := c.authHeaders(trOverseasHolidays)
		if trCont != "" {
			headers["tr_cont"] = trCont
		}

		data, respHeaders, err := c.getJSON(ctx,
			c.baseURL+"/uapi/overseas-stock/v1/quotations/countries-holiday",
			headers, params)
		if err != nil {
			return nil, err
		}

		pastWindow := false
		items, _ := data["output"].([]any)
		for _, it := range items {
			row, ok := it.(map[string]any)
			if !ok || len(row) == 0 {
				continue
			}
			date := strings.ReplaceAll(stringField(row, "trd_dt", "base_date", "bass_dt", "date", "locl_dt"), "-", "")
			if date != "" && date > endDate {
				pastWindow = true
				continue
			}
			rows = append(rows, row)
		}
		if pastWindow {
			break
		}

		if strings.TrimSpace(respHeaders.Get("tr_cont")) != "M" {
			break
		}
		trCont = "N"
		params.Set("CTX_AREA_FK", stringField(data, "ctx_area_fk"))
		params.Set("CTX_AREA_NK", stringField(data, "ctx_area_nk"))
	}

	return rows, nil
}
