package models

// TickerMeta is the per-ticker context threaded from screeners through to
// the evaluators. Absent fields keep their zero value and are treated as
// unknown by consumers.
type TickerMeta struct {
	Currency     string  `json:"currency,omitempty"`    // "KRW" or "USD"
	Exchange     string  `json:"exchange,omitempty"`    // KIS EXCD code for overseas tickers
	DataSource   string  `json:"data_source,omitempty"` // "kis" or "krx"
	Name         string  `json:"name,omitempty"`
	SecurityType string  `json:"security_type,omitempty"`
	IsETF        bool    `json:"is_etf,omitempty"`
	UsdKrwRate   float64 `json:"usd_krw_rate,omitempty"`
}

// RankRow is one parsed row from a rank/screener listing.
type RankRow struct {
	Ticker   string  `json:"ticker"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Volume   float64 `json:"volume"`
	Amount   float64 `json:"amount"` // trade value; price*volume when the source omits it
	Exchange string  `json:"exchange,omitempty"`
}

// ScreenResult is the outcome of one screener run.
type ScreenResult struct {
	Tickers []string `json:"tickers"`
	Source  string   `json:"source"`
	// DayOffsetUsed is -1 when no rank query produced rows.
	DayOffsetUsed   int                `json:"day_offset_used"`
	DayOffsetsTried []int              `json:"day_offsets_tried,omitempty"`
	ByTicker        map[string]RankRow `json:"by_ticker,omitempty"`
	CacheStatus     string             `json:"cache_status,omitempty"`
}

// HolidayEntry records one exchange calendar date.
type HolidayEntry struct {
	Date   string `json:"-"`
	Note   string `json:"note,omitempty"`
	IsOpen bool   `json:"is_open"`
}

// Holding is one position from the holdings file.
type Holding struct {
	Ticker         string   `yaml:"ticker"`
	Quantity       float64  `yaml:"quantity"`
	EntryPrice     float64  `yaml:"entry_price"`
	EntryCurrency  string   `yaml:"entry_currency"`
	EntryDate      string   `yaml:"entry_date"`
	Strategy       string   `yaml:"strategy"`
	Notes          string   `yaml:"notes"`
	Tags           []string `yaml:"tags"`
	StopOverride   *float64 `yaml:"stop_override"`
	TargetOverride *float64 `yaml:"target_override"`
}
