package models

// Sell actions, ordered by urgency.
const (
	ActionSell   = "SELL"
	ActionReview = "REVIEW"
	ActionHold   = "HOLD"
)

// Candidate is one buy-side decision record. Display fields are
// pre-formatted strings; *_Value fields carry the raw numbers for
// sorting and currency conversion. Never mutated after creation.
type Candidate struct {
	Ticker       string  `json:"ticker"`
	Name         string  `json:"name"`
	Price        string  `json:"price"`
	PriceValue   float64 `json:"price_value"`
	EMA20        string  `json:"ema20"`
	EMA50        string  `json:"ema50"`
	RSI14        string  `json:"rsi14"`
	RSIValue     float64 `json:"rsi14_value"`
	ATR14        string  `json:"atr14"`
	Gap          string  `json:"gap"`
	PctChange    string  `json:"pct_change"`
	High         string  `json:"high"`
	Low          string  `json:"low"`
	RiskGuide    string  `json:"risk_guide"`
	ScoreValue   float64 `json:"score_value"`
	Setup        string  `json:"setup,omitempty"` // hybrid: "pullback" or "breakout"
	Currency     string  `json:"currency,omitempty"`
	FxNote       string  `json:"fx_note,omitempty"`
	MarketStatus string  `json:"market_status,omitempty"`
	EvalDate     string  `json:"eval_date,omitempty"`
}

// SellEvaluation is the sell-rule outcome for one holding. StopPrice and
// TargetPrice are nil when no level could be computed.
type SellEvaluation struct {
	Ticker      string
	Action      string
	Reasons     []string
	StopPrice   *float64
	TargetPrice *float64
	EvalPrice   float64
	EvalDate    string
	Adjusted    bool // evaluation index stepped back from the latest bar
}

// SellReportRow is one line of the sell report.
type SellReportRow struct {
	Ticker      string
	Name        string
	Quantity    float64
	EntryPrice  *float64
	EntryDate   string
	LastPrice   *float64
	PnLPct      *float64
	Action      string
	Reasons     []string
	StopPrice   *float64
	TargetPrice *float64
	Notes       string
	Currency    string
	EvalDate    string
}
