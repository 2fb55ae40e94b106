package kis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeRankParsesRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			tokenResponse(w, 86400)
		case "/uapi/domestic-stock/v1/quotations/volume-rank":
			assert.Equal(t, trVolumeRank, r.Header.Get("tr_id"))
			assert.Equal(t, "20171", r.URL.Query().Get("FID_COND_SCR_DIV_CODE"))
			assert.Equal(t, "1000", r.URL.Query().Get("FID_INPUT_PRICE_1"))
			json.NewEncoder(w).Encode(map[string]any{
				"rt_cd": "0",
				"output": []any{
					map[string]any{
						"mksc_shrn_iscd": "005930", "hts_kor_isnm": "삼성전자",
						"stck_prpr": "71,000", "acml_vol": "12,000,000",
						"acml_tr_pbmn": "852,000,000,000",
					},
					map[string]any{
						// No turnover field: amount falls back to price*volume.
						"mksc_shrn_iscd": "000660", "hts_kor_isnm": "SK하이닉스",
						"stck_prpr": "200000", "acml_vol": "1000",
					},
					map[string]any{"hts_kor_isnm": "no ticker"},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	rows, err := client.VolumeRank(context.Background(), VolumeRankOptions{Limit: 10, MinPrice: 1000})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "005930", rows[0].Ticker)
	assert.Equal(t, "삼성전자", rows[0].Name)
	assert.Equal(t, 71000.0, rows[0].Price)
	assert.Equal(t, 852000000000.0, rows[0].Amount)

	assert.Equal(t, "000660", rows[1].Ticker)
	assert.Equal(t, 200000.0*1000, rows[1].Amount)
}

func TestVolumeRankTruncatesToLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			tokenResponse(w, 86400)
			return
		}
		items := make([]any, 5)
		for i := range items {
			items[i] = map[string]any{
				"mksc_shrn_iscd": "00000" + string(rune('1'+i)),
				"stck_prpr":      "1000", "acml_vol": "100",
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"rt_cd": "0", "output": items})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	rows, err := client.VolumeRank(context.Background(), VolumeRankOptions{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestOverseasRankPagination(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			tokenResponse(w, 86400)
		case "/uapi/overseas-price/v1/ranking/trade-vol":
			assert.Equal(t, trOverseasVolumeRank, r.Header.Get("tr_id"))
			assert.Equal(t, "NAS", r.URL.Query().Get("EXCD"))
			assert.Equal(t, "1", r.URL.Query().Get("NDAY"))

			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				assert.Empty(t, r.Header.Get("tr_cont"))
				assert.Empty(t, r.URL.Query().Get("KEYB"))
				w.Header().Set("tr_cont", "M")
				json.NewEncoder(w).Encode(map[string]any{
					"rt_cd":   "0",
					"output1": map[string]any{"keyb": "cursor-1"},
					"output2": []any{
						map[string]any{"symb": "AAPL", "name": "Apple Inc."},
						map[string]any{"symb": "TSLA", "name": "Tesla Inc."},
					},
				})
				return
			}
			assert.Equal(t, "N", r.Header.Get("tr_cont"))
			assert.Equal(t, "cursor-1", r.URL.Query().Get("KEYB"))
			json.NewEncoder(w).Encode(map[string]any{
				"rt_cd":   "0",
				"output2": []any{map[string]any{"symb": "NVDA", "name": "NVIDIA Corp."}},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	rows, err := client.OverseasTradeVolumeRank(context.Background(), OverseasRankOptions{
		Exchange:  "NAS",
		Limit:     10,
		DayOffset: "1",
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "NVDA", rows[2]["symb"])
}

func TestOverseasRankPriceFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			tokenResponse(w, 86400)
			return
		}
		// Price bounds are whole-number strings, empty when unset.
		assert.Equal(t, "12", r.URL.Query().Get("PRC1"))
		assert.Equal(t, "250", r.URL.Query().Get("PRC2"))
		assert.Equal(t, "0", r.URL.Query().Get("VOL_RANG"))
		json.NewEncoder(w).Encode(map[string]any{
			"rt_cd":   "0",
			"output2": []any{map[string]any{"symb": "AMD"}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	rows, err := client.OverseasTradeValueRank(context.Background(), OverseasRankOptions{
		Exchange: "NAS",
		Limit:    5,
		PriceMin: 12.75,
		PriceMax: 250.2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "", fmtOverseasPrice(0))
	assert.Equal(t, "", fmtOverseasPrice(-3))
}

func TestOverseasRankZeroLimit(t *testing.T) {
	client := newTestClient(t, "http://localhost:0")
	rows, err := client.OverseasMarketCapRank(context.Background(), OverseasRankOptions{Exchange: "NYS"})
	require.NoError(t, err)
	assert.Nil(t, rows)
}
