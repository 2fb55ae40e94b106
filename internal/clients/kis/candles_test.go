package kis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candleServer(t *testing.T, payload map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			tokenResponse(w, 86400)
		case "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice":
			assert.Equal(t, trDomesticCandles, r.Header.Get("tr_id"))
			assert.Equal(t, "Bearer tok-123", r.Header.Get("authorization"))
			assert.Equal(t, "J", r.URL.Query().Get("FID_COND_MRKT_DIV_CODE"))
			json.NewEncoder(w).Encode(payload)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
}

func TestDailyCandlesParsesAndSorts(t *testing.T) {
	// Most recent first, with comma-grouped numbers and a blank volume.
	payload := map[string]any{
		"rt_cd": "0",
		"output2": []any{
			map[string]any{
				"stck_bsop_date": "20250103",
				"stck_oprc":      "71,000", "stck_hgpr": "72,500",
				"stck_lwpr": "70,800", "stck_clpr": "72,000", "acml_vol": "",
			},
			map[string]any{
				"stck_bsop_date": "20250102",
				"stck_oprc":      "70000", "stck_hgpr": "71000",
				"stck_lwpr": "69500", "stck_clpr": "70500", "acml_vol": "1200000",
			},
			map[string]any{},
		},
	}
	server := candleServer(t, payload)
	defer server.Close()

	client := newTestClient(t, server.URL)
	candles, err := client.DailyCandles(context.Background(), "005930", 120, true)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, "2025-01-02", candles[0].Date)
	assert.Equal(t, "2025-01-03", candles[1].Date)
	assert.Equal(t, 71000.0, float64(candles[1].Open))
	assert.Equal(t, 72000.0, float64(candles[1].Close))
	assert.True(t, candles[1].Volume.IsNaN())
	assert.Equal(t, 1200000.0, float64(candles[0].Volume))
}

func TestDailyCandlesTruncatesToCount(t *testing.T) {
	rows := make([]any, 5)
	for i := range rows {
		rows[i] = map[string]any{
			"stck_bsop_date": "2025010" + string(rune('1'+i)),
			"stck_oprc":      "100", "stck_hgpr": "101",
			"stck_lwpr": "99", "stck_clpr": "100", "acml_vol": "1000",
		}
	}
	server := candleServer(t, map[string]any{"rt_cd": "0", "output2": rows})
	defer server.Close()

	client := newTestClient(t, server.URL)
	candles, err := client.DailyCandles(context.Background(), "005930", 3, true)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, "2025-01-03", candles[0].Date)
	assert.Equal(t, "2025-01-05", candles[2].Date)
}

func TestDailyCandlesBusinessError(t *testing.T) {
	server := candleServer(t, map[string]any{
		"rt_cd":  "1",
		"msg_cd": "EGW00123",
		"msg1":   "기간이 만료된 token 입니다",
	})
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.DailyCandles(context.Background(), "005930", 120, true)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "EGW00123", apiErr.Code)
	assert.Contains(t, apiErr.Message, "token")
}

func TestDailyCandlesRequiresTicker(t *testing.T) {
	client := newTestClient(t, "http://localhost:0")
	_, err := client.DailyCandles(context.Background(), "  ", 120, true)
	require.Error(t, err)
}

func TestOverseasDailyCandles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			tokenResponse(w, 86400)
		case "/uapi/overseas-price/v1/quotations/dailyprice":
			assert.Equal(t, trOverseasCandles, r.Header.Get("tr_id"))
			assert.Equal(t, "NAS", r.URL.Query().Get("EXCD"))
			assert.Equal(t, "AAPL", r.URL.Query().Get("SYMB"))
			json.NewEncoder(w).Encode(map[string]any{
				"rt_cd": "0",
				"output2": []any{
					map[string]any{"xymd": "20250103", "open": "184.5", "high": "186.0", "low": "183.2", "clos": "185.1", "tvol": "50000000"},
					map[string]any{"xymd": "20250102", "open": "183.0", "high": "184.8", "low": "182.5", "clos": "184.2", "tvol": "46000000"},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	candles, err := client.OverseasDailyCandles(context.Background(), "NAS", "AAPL", 120)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "2025-01-02", candles[0].Date)
	assert.Equal(t, 185.1, float64(candles[1].Close))
}
