package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
exchange:
  rest_endpoint: https://api-testnet.bybit.com
  http_timeout: 5s
execution:
  fill_timeout: 30s
  poll_interval: 250ms
modes:
  - id: scalper
    family: speculative
    max_leverage: 25
    default_leverage: 10
    allowed_symbols: [BTCUSDT]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api-testnet.bybit.com", cfg.Exchange.RESTEndpoint)
	assert.Equal(t, 5*time.Second, cfg.Exchange.HTTPTimeout)
	assert.Equal(t, 30*time.Second, cfg.Execution.FillTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Execution.PollInterval)
	// untouched defaults survive
	assert.Equal(t, 2, cfg.Execution.CloseMaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.Safety.CounterTTL)
	require.Len(t, cfg.Modes, 1)
	assert.Equal(t, 25, cfg.Modes[0].MaxLeverage)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Modes[0].AllowedSymbols)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "env-key")
	t.Setenv("BYBIT_API_SECRET", "env-secret")
	t.Setenv("SERVER_PORT", "9090")
	path := writeConfig(t, "exchange:\n  api_key: file-key\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
	assert.Equal(t, "env-secret", cfg.Exchange.APISecret)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestValidateRejectsBadTimings(t *testing.T) {
	cfg := Default()
	cfg.Execution.PollInterval = cfg.Execution.FillTimeout
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Execution.FillTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Modes = append(cfg.Modes, Default().Modes...)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
