package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
trading:
  watchlist: ["NVDA", "AAPL"]
ai:
  models:
    - id: main
      provider: openai
      api_url: https://api.openai.com/v1
      model: gpt-4o-mini
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"NVDA", "AAPL"}, cfg.Trading.Watchlist)
	assert.Equal(t, float64(defaultInitialCash), cfg.Trading.InitialCash)
	assert.Equal(t, defaultMarketOpen, cfg.Trading.MarketOpen)
	assert.Equal(t, defaultLunchStart, cfg.Trading.LunchStart)
	assert.Equal(t, defaultDebateRounds, cfg.Pipeline.MaxDebateRounds)
	assert.Equal(t, defaultRecursionLimit, cfg.Pipeline.MaxRecursionLimit)
	assert.Equal(t, defaultMaxOrdersPerDay, cfg.Risk.MaxOrdersPerDay)

	// Every role in the closed roster is bound to the first model.
	for _, role := range AllRoles() {
		assert.Equal(t, "main", cfg.AI.Roles[role], "role %s", role)
	}
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	yaml := minimalYAML + `
  roles:
    chief_astrologer: main
`
	_, err := Load(writeTemp(t, yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigInvalid)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestLoadRejectsUnboundModelReference(t *testing.T) {
	yaml := minimalYAML + `
  roles:
    trader: missing_model
`
	_, err := Load(writeTemp(t, yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestLoadRejectsEmptyWatchlist(t *testing.T) {
	yaml := `
trading:
  watchlist: []
ai:
  models:
    - id: main
      provider: openai
      api_url: https://api.openai.com/v1
      model: gpt-4o-mini
`
	_, err := Load(writeTemp(t, yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestLoadRejectsBadWindow(t *testing.T) {
	yaml := minimalYAML + `
  max_parallel_calls: 2
`
	cfg, err := Load(writeTemp(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.AI.MaxParallelCalls)

	bad := `
trading:
  watchlist: ["NVDA"]
  market_open: "930"
ai:
  models:
    - id: main
      provider: openai
      api_url: https://api.openai.com/v1
      model: gpt-4o-mini
`
	_, err = Load(writeTemp(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market_open")
}

func TestLoadResolvesAPIKeyFromEnv(t *testing.T) {
	t.Setenv("QUORUM_TEST_KEY", "sk-test-1234")
	yaml := `
trading:
  watchlist: ["NVDA"]
ai:
  models:
    - id: main
      provider: openai
      api_url: https://api.openai.com/v1
      model: gpt-4o-mini
      api_key_env: QUORUM_TEST_KEY
`
	cfg, err := Load(writeTemp(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "sk-test-1234", cfg.AI.Models[0].APIKey)
}

func TestRiskBoundsValidated(t *testing.T) {
	yaml := minimalYAML + `
risk:
  max_daily_loss: 1.5
`
	_, err := Load(writeTemp(t, yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigInvalid)
	assert.Contains(t, err.Error(), "max_daily_loss")
}
