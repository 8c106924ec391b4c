package config

// Agent role identifiers. The roster is a closed set: a role key in
// ai.roles that is not listed here fails validation at load time.
const (
	RoleMarketAnalyst       = "market_analyst"
	RoleFundamentalsAnalyst = "fundamentals_analyst"
	RoleNewsAnalyst         = "news_analyst"
	RoleSentimentAnalyst    = "sentiment_analyst"
	RoleBullResearcher      = "bull_researcher"
	RoleBearResearcher      = "bear_researcher"
	RoleResearchManager     = "research_manager"
	RoleTrader              = "trader"
	RoleRiskyAnalyst        = "risky_analyst"
	RoleSafeAnalyst         = "safe_analyst"
	RoleNeutralAnalyst      = "neutral_analyst"
	RolePortfolioManager    = "portfolio_manager"
)

// AnalystRoles is the default parallel-analysis roster.
var AnalystRoles = []string{
	RoleMarketAnalyst,
	RoleFundamentalsAnalyst,
	RoleNewsAnalyst,
	RoleSentimentAnalyst,
}

var knownRoles = map[string]struct{}{
	RoleMarketAnalyst:       {},
	RoleFundamentalsAnalyst: {},
	RoleNewsAnalyst:         {},
	RoleSentimentAnalyst:    {},
	RoleBullResearcher:      {},
	RoleBearResearcher:      {},
	RoleResearchManager:     {},
	RoleTrader:              {},
	RoleRiskyAnalyst:        {},
	RoleSafeAnalyst:         {},
	RoleNeutralAnalyst:      {},
	RolePortfolioManager:    {},
}

// IsKnownRole reports whether role belongs to the closed roster.
func IsKnownRole(role string) bool {
	_, ok := knownRoles[role]
	return ok
}

// AllRoles returns every role in the closed roster.
func AllRoles() []string {
	out := make([]string, 0, len(knownRoles))
	for r := range knownRoles {
		out = append(out, r)
	}
	return out
}
