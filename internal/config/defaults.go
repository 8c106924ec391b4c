package config

const (
	defaultLogLevel           = "info"
	defaultHTTPAddr           = ":9984"
	defaultInitialCash        = 100000
	defaultAnalysisInterval   = 1800
	defaultRiskCheckInterval  = 300
	defaultMonitorInterval    = 60
	defaultMarketOpen         = "09:30"
	defaultMarketClose        = "15:00"
	defaultLunchStart         = "11:30"
	defaultLunchEnd           = "13:00"
	defaultDailyReportCron    = "30 15 * * *"
	defaultSlippageRate       = 0.001
	defaultCommissionPerShare = 0.0003
	defaultCommissionMin      = 5.0
	defaultDebateRounds       = 2
	defaultRiskRounds         = 1
	defaultRecursionLimit     = 12
	defaultStageRetries       = 2
	defaultMinRunInterval     = 300
	defaultMaxPositionPerStk  = 0.2
	defaultMaxPortfolioRisk   = 0.8
	defaultMaxDailyLoss       = 0.05
	defaultStopLossRatio      = 0.05
	defaultTakeProfitRatio    = 0.10
	defaultMaxOrdersPerDay    = 20
	defaultMinOrderInterval   = 300
	defaultPriceChangePct     = 3.0
	defaultVolumeSpikeRatio   = 2.0
	defaultGapPct             = 2.0
	defaultBaselineWindow     = 20
	defaultAlertBuffer        = 64
	defaultMaxParallelCalls   = 4
	defaultModelTimeout       = 120
	defaultStorePath          = "data/quorum.db"
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Trading.applyDefaults()
	c.Pipeline.applyDefaults()
	c.Risk.applyDefaults()
	c.Monitor.applyDefaults()
	c.AI.applyDefaults()
	c.Store.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a.LogLevel == "" {
		a.LogLevel = defaultLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultHTTPAddr
	}
}

func (t *TradingConfig) applyDefaults() {
	if t.InitialCash <= 0 {
		t.InitialCash = defaultInitialCash
	}
	if t.AnalysisIntervalSec <= 0 {
		t.AnalysisIntervalSec = defaultAnalysisInterval
	}
	if t.RiskCheckIntervalSec <= 0 {
		t.RiskCheckIntervalSec = defaultRiskCheckInterval
	}
	if t.MonitorIntervalSec <= 0 {
		t.MonitorIntervalSec = defaultMonitorInterval
	}
	if t.MarketOpen == "" {
		t.MarketOpen = defaultMarketOpen
	}
	if t.MarketClose == "" {
		t.MarketClose = defaultMarketClose
	}
	if t.LunchStart == "" {
		t.LunchStart = defaultLunchStart
	}
	if t.LunchEnd == "" {
		t.LunchEnd = defaultLunchEnd
	}
	if t.DailyReportCron == "" {
		t.DailyReportCron = defaultDailyReportCron
	}
	if t.SlippageRate <= 0 {
		t.SlippageRate = defaultSlippageRate
	}
	if t.CommissionPerShare <= 0 {
		t.CommissionPerShare = defaultCommissionPerShare
	}
	if t.CommissionMin <= 0 {
		t.CommissionMin = defaultCommissionMin
	}
}

func (p *PipelineConfig) applyDefaults() {
	if p.MaxDebateRounds <= 0 {
		p.MaxDebateRounds = defaultDebateRounds
	}
	if p.MaxRiskRounds <= 0 {
		p.MaxRiskRounds = defaultRiskRounds
	}
	if p.MaxRecursionLimit <= 0 {
		p.MaxRecursionLimit = defaultRecursionLimit
	}
	if p.StageRetries <= 0 {
		p.StageRetries = defaultStageRetries
	}
	if p.MinRunIntervalSec <= 0 {
		p.MinRunIntervalSec = defaultMinRunInterval
	}
}

func (r *RiskConfig) applyDefaults() {
	if r.MaxPositionPerStock <= 0 {
		r.MaxPositionPerStock = defaultMaxPositionPerStk
	}
	if r.MaxPortfolioRisk <= 0 {
		r.MaxPortfolioRisk = defaultMaxPortfolioRisk
	}
	if r.MaxDailyLoss <= 0 {
		r.MaxDailyLoss = defaultMaxDailyLoss
	}
	if r.StopLossRatio <= 0 {
		r.StopLossRatio = defaultStopLossRatio
	}
	if r.TakeProfitRatio <= 0 {
		r.TakeProfitRatio = defaultTakeProfitRatio
	}
	if r.MaxOrdersPerDay <= 0 {
		r.MaxOrdersPerDay = defaultMaxOrdersPerDay
	}
	if r.MinOrderIntervalSec <= 0 {
		r.MinOrderIntervalSec = defaultMinOrderInterval
	}
	if r.DefaultPositionValue <= 0 {
		r.DefaultPositionValue = 10000
	}
}

func (m *MonitorConfig) applyDefaults() {
	if m.PriceChangePct <= 0 {
		m.PriceChangePct = defaultPriceChangePct
	}
	if m.VolumeSpikeRatio <= 0 {
		m.VolumeSpikeRatio = defaultVolumeSpikeRatio
	}
	if m.GapPct <= 0 {
		m.GapPct = defaultGapPct
	}
	if m.BaselineWindow <= 0 {
		m.BaselineWindow = defaultBaselineWindow
	}
	if m.AlertBuffer <= 0 {
		m.AlertBuffer = defaultAlertBuffer
	}
}

func (a *AIConfig) applyDefaults() {
	if a.MaxParallelCalls <= 0 {
		a.MaxParallelCalls = defaultMaxParallelCalls
	}
	for i := range a.Models {
		if a.Models[i].TimeoutSeconds <= 0 {
			a.Models[i].TimeoutSeconds = defaultModelTimeout
		}
		if a.Models[i].Temperature <= 0 {
			a.Models[i].Temperature = 0.5
		}
	}
	if a.Roles == nil {
		a.Roles = make(map[string]string)
	}
	// Unbound roles inherit the first configured model.
	if len(a.Models) > 0 {
		first := a.Models[0].ID
		for _, role := range AllRoles() {
			if _, ok := a.Roles[role]; !ok {
				a.Roles[role] = first
			}
		}
	}
}

func (s *StoreConfig) applyDefaults() {
	if s.Path == "" {
		s.Path = defaultStorePath
	}
}
