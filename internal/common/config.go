package common

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for swingbot.
type Config struct {
	Provider  ProviderConfig   `toml:"provider"`
	Storage   StorageConfig    `toml:"storage"`
	Universe  UniverseConfig   `toml:"universe"`
	Screener  ScreenerConfig   `toml:"screener"`
	Strategy  StrategyConfig   `toml:"strategy"`
	Hybrid    HybridBuyConfig  `toml:"hybrid"`
	Sell      SellConfig       `toml:"sell"`
	HybridSel HybridSellConfig `toml:"hybrid_sell"`
	EvalIndex EvalIndexConfig  `toml:"eval_index"`
	FX        FXConfig         `toml:"fx"`
	Holdings  HoldingsConfig   `toml:"holdings"`
	Logging   LoggingConfig    `toml:"logging"`
	Schedule  ScheduleConfig   `toml:"schedule"`
}

// ProviderConfig selects and configures the market-data provider.
// AppKey/AppSecret are environment-only; they exist here so a config file
// carrying them can be rejected (secrets never live in TOML).
type ProviderConfig struct {
	Name          string `toml:"name"` // "kis" or "krx"
	BaseURL       string `toml:"base_url"`
	AppKey        string `toml:"app_key"`
	AppSecret     string `toml:"app_secret"`
	Env           string `toml:"env"` // "real"/"demo"; inferred from base URL when empty
	Timeout       string `toml:"timeout"`
	MaxAttempts   int    `toml:"max_attempts"`
	MinIntervalMS int    `toml:"min_interval_ms"`
}

// GetTimeout parses and returns the per-request timeout.
func (c *ProviderConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// ResolveEnv returns the configured environment, inferring demo from a
// vts (paper-trading) base URL.
func (c *ProviderConfig) ResolveEnv() string {
	if c.Env != "" {
		return c.Env
	}
	if strings.Contains(strings.ToLower(c.BaseURL), "vts") {
		return "demo"
	}
	return "real"
}

// StorageConfig holds cache and report directories.
type StorageConfig struct {
	DataDir   string `toml:"data_dir"`
	ReportDir string `toml:"report_dir"`
}

// UniverseConfig controls which tickers a scan evaluates.
type UniverseConfig struct {
	WatchlistPath string   `toml:"watchlist_path"`
	Markets       []string `toml:"markets"` // "KR", "US"
	ScanLimit     int      `toml:"scan_limit"`
}

// HasMarket reports whether the given market code is enabled.
func (c *UniverseConfig) HasMarket(code string) bool {
	for _, m := range c.Markets {
		if strings.EqualFold(m, code) {
			return true
		}
	}
	return false
}

// ScreenerConfig controls universe screening.
type ScreenerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Limit           int      `toml:"limit"`
	Only            bool     `toml:"only"`
	CacheTTLMinutes int      `toml:"cache_ttl_minutes"`
	USMode          string   `toml:"us_mode"`   // "kis" or "defaults"
	USMetric        string   `toml:"us_metric"` // volume | value | market_cap
	USLimit         int      `toml:"us_limit"`
	USDefaults      []string `toml:"us_defaults"`
}

// StrategyConfig holds buy-side thresholds shared by both rule variants.
type StrategyConfig struct {
	Mode              string  `toml:"mode"` // "crossover" or "sma_ema_hybrid"
	MinHistoryBars    int     `toml:"min_history_bars"`
	MinPrice          float64 `toml:"min_price"`
	USMinPrice        float64 `toml:"us_min_price"`
	MinDollarVolume   float64 `toml:"min_dollar_volume"`
	USMinDollarVolume float64 `toml:"us_min_dollar_volume"`
	ExcludeETFETN     bool    `toml:"exclude_etf_etn"`
	MaxGapPct         float64 `toml:"max_gap_pct"`
	RSLookbackDays    int     `toml:"rs_lookback_days"`
	RSBenchmarkReturn float64 `toml:"rs_benchmark_return"`
}

// HybridBuyConfig tunes the hybrid SMA/EMA buy evaluator.
type HybridBuyConfig struct {
	SMATrendPeriod        int     `toml:"sma_trend_period"`
	EMAShortPeriod        int     `toml:"ema_short_period"`
	EMAMidPeriod          int     `toml:"ema_mid_period"`
	RSIPeriod             int     `toml:"rsi_period"`
	RSIZoneLow            float64 `toml:"rsi_zone_low"`
	RSIZoneHigh           float64 `toml:"rsi_zone_high"`
	RSIOversoldLow        float64 `toml:"rsi_oversold_low"`
	RSIOversoldHigh       float64 `toml:"rsi_oversold_high"`
	PullbackMaxBars       int     `toml:"pullback_max_bars"`
	BreakoutMinBars       int     `toml:"breakout_consolidation_min_bars"`
	BreakoutMaxBars       int     `toml:"breakout_consolidation_max_bars"`
	VolumeLookbackDays    int     `toml:"volume_lookback_days"`
	UseSMA60Filter        bool    `toml:"use_sma60_filter"`
	SMA60Period           int     `toml:"sma60_period"`
	KRBreakoutConfirm     bool    `toml:"kr_breakout_requires_confirmation"`
}

// SellConfig tunes the generic sell evaluator.
type SellConfig struct {
	Mode            string  `toml:"mode"` // "generic" or "sma_ema_hybrid"
	ATRMultiplier   float64 `toml:"atr_multiplier"`
	TimeStopDays    int     `toml:"time_stop_days"`
	RequireSMA200   bool    `toml:"require_sma200"`
	EMAShort        int     `toml:"ema_short"`
	EMALong         int     `toml:"ema_long"`
	RSIPeriod       int     `toml:"rsi_period"`
	RSIFloor        float64 `toml:"rsi_floor"`
	RSIFloorAlt     float64 `toml:"rsi_floor_alt"`
	MinBars         int     `toml:"min_bars"`
}

// HybridSellConfig tunes the tiered profit-taking sell evaluator.
type HybridSellConfig struct {
	ProfitTargetLow     float64 `toml:"profit_target_low"`
	ProfitTargetHigh    float64 `toml:"profit_target_high"`
	PartialProfitFloor  float64 `toml:"partial_profit_floor"`
	EMAShortPeriod      int     `toml:"ema_short_period"`
	EMAMidPeriod        int     `toml:"ema_mid_period"`
	SMATrendPeriod      int     `toml:"sma_trend_period"`
	RSIPeriod           int     `toml:"rsi_period"`
	StopLossPctMin      float64 `toml:"stop_loss_pct_min"`
	StopLossPctMax      float64 `toml:"stop_loss_pct_max"`
	FailedBreakoutDrop  float64 `toml:"failed_breakout_drop_pct"`
	MinBars             int     `toml:"min_bars"`
	TimeStopDays        int     `toml:"time_stop_days"`
	TimeStopGraceDays   int     `toml:"time_stop_grace_days"`
	TimeStopProfitFloor float64 `toml:"time_stop_profit_floor"`
}

// EvalIndexConfig tunes the thin-volume heuristic of evaluation-index
// selection.
type EvalIndexConfig struct {
	VolumeLookback int     `toml:"volume_lookback"`
	ThinRatio      float64 `toml:"thin_ratio"`
	VolumeFloor    float64 `toml:"volume_floor"`
}

// FXConfig controls USD/KRW display conversion.
type FXConfig struct {
	Mode      string  `toml:"mode"` // "auto", "fixed", "off"
	FixedRate float64 `toml:"fixed_rate"`
}

// HoldingsConfig locates the holdings file for the sell command.
type HoldingsConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// ScheduleConfig holds cron expressions for the schedule command.
type ScheduleConfig struct {
	ScanCron string `toml:"scan_cron"`
	SellCron string `toml:"sell_cron"`
}

// NewDefaultConfig returns a Config with the shipped defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:        "kis",
			Timeout:     "10s",
			MaxAttempts: 3,
		},
		Storage: StorageConfig{
			DataDir:   "data",
			ReportDir: "reports",
		},
		Universe: UniverseConfig{
			WatchlistPath: "watchlist.txt",
			Markets:       []string{"KR"},
			ScanLimit:     30,
		},
		Screener: ScreenerConfig{
			Limit:           20,
			CacheTTLMinutes: 30,
			USMode:          "kis",
			USMetric:        "volume",
		},
		Strategy: StrategyConfig{
			Mode:           "crossover",
			MinHistoryBars: 60,
			ExcludeETFETN:  true,
			MaxGapPct:      0.03,
		},
		Hybrid: HybridBuyConfig{
			SMATrendPeriod:     20,
			EMAShortPeriod:     20,
			EMAMidPeriod:       50,
			RSIPeriod:          14,
			RSIZoneLow:         40,
			RSIZoneHigh:        60,
			RSIOversoldLow:     30,
			RSIOversoldHigh:    45,
			PullbackMaxBars:    5,
			BreakoutMinBars:    10,
			BreakoutMaxBars:    40,
			VolumeLookbackDays: 20,
			SMA60Period:        60,
		},
		Sell: SellConfig{
			Mode:          "generic",
			ATRMultiplier: 2.0,
			TimeStopDays:  20,
			EMAShort:      20,
			EMALong:       50,
			RSIPeriod:     14,
			RSIFloor:      45,
			RSIFloorAlt:   40,
			MinBars:       60,
		},
		HybridSel: HybridSellConfig{
			ProfitTargetLow:     0.04,
			ProfitTargetHigh:    0.08,
			PartialProfitFloor:  0.025,
			EMAShortPeriod:      20,
			EMAMidPeriod:        50,
			SMATrendPeriod:      20,
			RSIPeriod:           14,
			StopLossPctMin:      0.02,
			StopLossPctMax:      0.03,
			FailedBreakoutDrop:  0.02,
			MinBars:             60,
			TimeStopDays:        20,
			TimeStopGraceDays:   5,
			TimeStopProfitFloor: 0.02,
		},
		EvalIndex: EvalIndexConfig{
			VolumeLookback: 5,
			ThinRatio:      0.2,
			VolumeFloor:    1000,
		},
		FX: FXConfig{
			Mode:      "auto",
			FixedRate: 1350,
		},
		Holdings: HoldingsConfig{
			Path: "holdings.yaml",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from .env plus TOML files with
// environment overrides. Later files override earlier ones. Credentials
// are accepted only from the environment.
func LoadConfig(paths ...string) (*Config, error) {
	// Best-effort .env load; existing environment wins.
	_ = godotenv.Load()

	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		if config.Provider.AppKey != "" || config.Provider.AppSecret != "" {
			return nil, fmt.Errorf("config file %s contains provider credentials; set KIS_APP_KEY/KIS_APP_SECRET in the environment instead", path)
		}
	}

	applyEnvOverrides(config)
	config.Provider.BaseURL = NormalizeBaseURL(config.Provider.BaseURL)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("DATA_PROVIDER"); v != "" {
		config.Provider.Name = strings.ToLower(v)
	}
	if v := os.Getenv("KIS_BASE_URL"); v != "" {
		config.Provider.BaseURL = v
	}
	if v := os.Getenv("KIS_APP_KEY"); v != "" {
		config.Provider.AppKey = v
	}
	if v := os.Getenv("KIS_APP_SECRET"); v != "" {
		config.Provider.AppSecret = v
	}
	if v := os.Getenv("KIS_MIN_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Provider.MinIntervalMS = n
		}
	}
	if v := os.Getenv("SWINGBOT_DATA_DIR"); v != "" {
		config.Storage.DataDir = v
	}
	if v := os.Getenv("SWINGBOT_REPORT_DIR"); v != "" {
		config.Storage.ReportDir = v
	}
	if v := os.Getenv("SWINGBOT_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("SCREEN_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Universe.ScanLimit = n
		}
	}
	if v := os.Getenv("SCREENER_ENABLED"); v != "" {
		config.Screener.Enabled = parseBool(v)
	}
	if v := os.Getenv("SCREENER_ONLY"); v != "" {
		config.Screener.Only = parseBool(v)
	}
	if v := os.Getenv("SCREENER_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Screener.Limit = n
		}
	}
	if v := os.Getenv("USD_KRW_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.FX.Mode = "fixed"
			config.FX.FixedRate = f
		}
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// NormalizeBaseURL defaults the scheme and the provider port (9443 real,
// 29443 paper) when the URL omits them.
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Hostname() == "" {
		return strings.TrimRight(raw, "/")
	}

	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	if port == "" {
		if strings.Contains(host, "openapivts") {
			port = "29443"
		} else {
			port = "9443"
		}
	}

	netloc := parsed.Hostname()
	if port != "80" && port != "443" {
		netloc = parsed.Hostname() + ":" + port
	}
	return strings.TrimRight(parsed.Scheme+"://"+netloc, "/")
}

// LoadWatchlist reads one ticker per line, skipping blanks and comments.
// A missing file yields an empty universe, not an error.
func LoadWatchlist(path string) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var tickers []string
	for _, line := range strings.Split(string(data), "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		tickers = append(tickers, t)
	}
	return tickers
}
