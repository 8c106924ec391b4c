package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfigInvalid wraps every validation failure so callers can match
// the class without parsing messages.
var ErrConfigInvalid = errors.New("config invalid")

func invalidf(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, v...))
}

func validate(c *Config) error {
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Pipeline.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if len(t.Watchlist) == 0 {
		return invalidf("trading.watchlist requires at least one symbol")
	}
	for _, s := range t.Watchlist {
		if strings.TrimSpace(s) == "" {
			return invalidf("trading.watchlist contains an empty symbol")
		}
	}
	for key, val := range map[string]string{
		"trading.market_open":  t.MarketOpen,
		"trading.market_close": t.MarketClose,
		"trading.lunch_start":  t.LunchStart,
		"trading.lunch_end":    t.LunchEnd,
	} {
		if _, err := time.Parse("15:04", val); err != nil {
			return invalidf("%s must be HH:MM, got %q", key, val)
		}
	}
	if t.Timezone != "" {
		if _, err := time.LoadLocation(t.Timezone); err != nil {
			return invalidf("trading.timezone %q: %v", t.Timezone, err)
		}
	}
	return nil
}

func (p *PipelineConfig) validate() error {
	if p.MaxDebateRounds < 1 || p.MaxDebateRounds > 10 {
		return invalidf("pipeline.max_debate_rounds must be in [1,10]")
	}
	if p.MaxRiskRounds < 1 || p.MaxRiskRounds > 10 {
		return invalidf("pipeline.max_risk_discussion_rounds must be in [1,10]")
	}
	if p.MaxRecursionLimit < 1 {
		return invalidf("pipeline.max_recursion_limit must be >= 1")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxPositionPerStock <= 0 || r.MaxPositionPerStock > 1 {
		return invalidf("risk.max_position_per_stock must be in (0,1]")
	}
	if r.MaxPortfolioRisk <= 0 || r.MaxPortfolioRisk > 1 {
		return invalidf("risk.max_portfolio_risk must be in (0,1]")
	}
	if r.MaxDailyLoss <= 0 || r.MaxDailyLoss >= 1 {
		return invalidf("risk.max_daily_loss must be in (0,1)")
	}
	if r.StopLossRatio <= 0 || r.StopLossRatio >= 1 {
		return invalidf("risk.stop_loss_ratio must be in (0,1)")
	}
	if r.TakeProfitRatio <= 0 {
		return invalidf("risk.take_profit_ratio must be > 0")
	}
	return nil
}

func (a *AIConfig) validate() error {
	if len(a.Models) == 0 {
		return invalidf("ai.models requires at least one model")
	}
	seen := make(map[string]struct{}, len(a.Models))
	for _, m := range a.Models {
		if strings.TrimSpace(m.ID) == "" {
			return invalidf("ai.models contains entry without id")
		}
		if _, dup := seen[m.ID]; dup {
			return invalidf("ai.models duplicate id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
		if strings.TrimSpace(m.Model) == "" {
			return invalidf("ai.models.%s missing model name", m.ID)
		}
		if strings.TrimSpace(m.APIURL) == "" {
			return invalidf("ai.models.%s missing api_url", m.ID)
		}
	}
	for role, id := range a.Roles {
		if !IsKnownRole(role) {
			return invalidf("ai.roles contains unknown role %q", role)
		}
		if _, ok := seen[id]; !ok {
			return invalidf("ai.roles.%s references unconfigured model %q", role, id)
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return invalidf("notify.telegram enabled but missing bot_token or chat_id")
		}
	}
	return nil
}
