package config

import "strings"

// Config is the full service configuration. Loaded once at startup and
// re-loaded on file change; consumers hold the immutable snapshot they
// started with (see Watcher).
type Config struct {
	App      AppConfig      `yaml:"app"`
	Trading  TradingConfig  `yaml:"trading"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Risk     RiskConfig     `yaml:"risk"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	AI       AIConfig       `yaml:"ai"`
	Notify   NotifyConfig   `yaml:"notify"`
	Store    StoreConfig    `yaml:"store"`
}

type AppConfig struct {
	Env        string `yaml:"env"`
	LogLevel   string `yaml:"log_level"`
	HTTPAddr   string `yaml:"http_addr"`
	LLMLogPath string `yaml:"llm_log_path"`
}

// TradingConfig covers the watchlist, the simulated account and the
// scheduling cadence of the decision/risk loops.
type TradingConfig struct {
	Watchlist            []string `yaml:"watchlist"`
	InitialCash          float64  `yaml:"initial_cash"`
	AnalysisIntervalSec  int      `yaml:"analysis_interval_seconds"`
	RiskCheckIntervalSec int      `yaml:"risk_check_interval_seconds"`
	MonitorIntervalSec   int      `yaml:"monitor_interval_seconds"`
	// Trading window, local exchange time "HH:MM".
	MarketOpen  string `yaml:"market_open"`
	MarketClose string `yaml:"market_close"`
	LunchStart  string `yaml:"lunch_start"`
	LunchEnd    string `yaml:"lunch_end"`
	// Cron spec for the end-of-day report (robfig/cron, minute granularity).
	DailyReportCron    string  `yaml:"daily_report_cron"`
	Timezone           string  `yaml:"timezone"`
	SlippageRate       float64 `yaml:"slippage_rate"`
	CommissionPerShare float64 `yaml:"commission_per_share"`
	CommissionMin      float64 `yaml:"commission_min"`
}

type PipelineConfig struct {
	MaxDebateRounds   int `yaml:"max_debate_rounds"`
	MaxRiskRounds     int `yaml:"max_risk_discussion_rounds"`
	MaxRecursionLimit int `yaml:"max_recursion_limit"`
	StageRetries      int `yaml:"stage_retries"`
	// Minimum gap between runs for the same symbol when triggered by
	// monitor alerts, to keep alert storms from spawning runs back to back.
	MinRunIntervalSec int `yaml:"min_run_interval_seconds"`
}

type RiskConfig struct {
	MaxPositionPerStock  float64 `yaml:"max_position_per_stock"`
	MaxPortfolioRisk     float64 `yaml:"max_portfolio_risk"`
	MaxDailyLoss         float64 `yaml:"max_daily_loss"`
	StopLossRatio        float64 `yaml:"stop_loss_ratio"`
	TakeProfitRatio      float64 `yaml:"take_profit_ratio"`
	MaxOrdersPerDay      int     `yaml:"max_orders_per_day"`
	MinOrderIntervalSec  int     `yaml:"min_order_interval_seconds"`
	DefaultPositionValue float64 `yaml:"default_position_value"`
}

type MonitorConfig struct {
	Enabled            bool    `yaml:"enabled"`
	PriceChangePct     float64 `yaml:"price_change_pct"`
	VolumeSpikeRatio   float64 `yaml:"volume_spike_ratio"`
	GapPct             float64 `yaml:"gap_pct"`
	BaselineWindow     int     `yaml:"baseline_window"`
	TriggerPipelineRun bool    `yaml:"trigger_pipeline_run"`
	AlertBuffer        int     `yaml:"alert_buffer"`
}

// AIConfig binds agent roles to chat models. Every role named in Roles
// must reference a model id from Models; unknown roles fail validation.
type AIConfig struct {
	Models []ModelConfig     `yaml:"models"`
	Roles  map[string]string `yaml:"roles"`
	// Global ceiling on concurrent provider calls across a stage.
	MaxParallelCalls int    `yaml:"max_parallel_calls"`
	PromptsPath      string `yaml:"prompts_path"`
	// Requests per second allowed against providers, 0 disables limiting.
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
}

type ModelConfig struct {
	ID             string  `yaml:"id"`
	Provider       string  `yaml:"provider"`
	APIURL         string  `yaml:"api_url"`
	APIKey         string  `yaml:"api_key"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

// ModelByID returns the model config for the given id.
func (a *AIConfig) ModelByID(id string) (ModelConfig, bool) {
	id = strings.TrimSpace(id)
	for _, m := range a.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// ModelForRole resolves a role to its bound model config.
func (a *AIConfig) ModelForRole(role string) (ModelConfig, bool) {
	id, ok := a.Roles[strings.TrimSpace(role)]
	if !ok {
		return ModelConfig{}, false
	}
	return a.ModelByID(id)
}
