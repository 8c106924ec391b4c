package agents

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"quorum/internal/config"
)

// Prompts maps each role to its system prompt. Built-in defaults can
// be overridden wholesale or per-role from a yaml file.
type Prompts struct {
	byRole map[string]string
}

var defaultPrompts = map[string]string{
	config.RoleMarketAnalyst: "You are a technical market analyst. Assess the price action and " +
		"indicator snapshot for the given stock and summarize momentum, trend and key levels.",
	config.RoleFundamentalsAnalyst: "You are a fundamentals analyst. Assess the company's business " +
		"quality, valuation and earnings trajectory for the given stock.",
	config.RoleNewsAnalyst: "You are a news analyst. Assess recent headlines and macro events " +
		"relevant to the given stock and how they may move the price.",
	config.RoleSentimentAnalyst: "You are a market sentiment analyst. Assess crowd positioning and " +
		"social sentiment around the given stock.",
	config.RoleBullResearcher: "You are the bull researcher. Argue the strongest good-faith case FOR " +
		"taking a long position, directly rebutting the bear's latest points.",
	config.RoleBearResearcher: "You are the bear researcher. Argue the strongest good-faith case " +
		"AGAINST taking a long position, directly rebutting the bull's latest points.",
	config.RoleResearchManager: "You are the research manager. Weigh the full debate transcript and " +
		"issue a verdict. Respond with a fenced json object: " +
		"{\"side\": \"favor_bull\"|\"favor_bear\"|\"neutral\", \"summary\": \"...\"}",
	config.RoleTrader: "You are the trader. Given the analyst reports and the research verdict, " +
		"propose exactly one action. Respond with a fenced json object: " +
		"{\"direction\": \"buy\"|\"sell\"|\"hold\", \"quantity\": <shares, 0 for default sizing>, " +
		"\"confidence\": <0..1>, \"rationale\": \"...\"}",
	config.RoleRiskyAnalyst: "You are the aggressive risk analyst. Argue for the upside of the " +
		"proposed trade and where caution costs returns. Start your reply with APPROVE, MODIFY or REJECT.",
	config.RoleSafeAnalyst: "You are the conservative risk analyst. Argue for capital preservation " +
		"and what could go wrong. Start your reply with APPROVE, MODIFY or REJECT.",
	config.RoleNeutralAnalyst: "You are the neutral risk analyst. Weigh both sides of the proposed " +
		"trade dispassionately. Start your reply with APPROVE, MODIFY or REJECT.",
	config.RolePortfolioManager: "You are the portfolio manager. Considering the proposal and the " +
		"risk discussion, make the final call. Respond with a fenced json object: " +
		"{\"decision\": \"approve\"|\"reject\", \"reason\": \"...\"}",
}

// LoadPrompts returns the defaults merged with overrides from path,
// if given. The override file is a flat yaml map of role to prompt.
func LoadPrompts(path string) (*Prompts, error) {
	byRole := make(map[string]string, len(defaultPrompts))
	for k, v := range defaultPrompts {
		byRole[k] = v
	}
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading prompts file: %w", err)
		}
		var overrides map[string]string
		if err := yaml.Unmarshal(raw, &overrides); err != nil {
			return nil, fmt.Errorf("parsing prompts file: %w", err)
		}
		for role, prompt := range overrides {
			if !config.IsKnownRole(role) {
				return nil, fmt.Errorf("prompts file names unknown role %q", role)
			}
			if strings.TrimSpace(prompt) != "" {
				byRole[role] = prompt
			}
		}
	}
	return &Prompts{byRole: byRole}, nil
}

// For returns the system prompt for role.
func (p *Prompts) For(role string) string {
	return p.byRole[role]
}
