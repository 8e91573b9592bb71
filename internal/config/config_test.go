package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const brokerYAML = `
broker:
  api_url: https://broker.example.com/
  api_key: key
  api_secret: secret
`

func TestLoad_IncludesAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broker.yaml", brokerYAML)
	root := writeFile(t, dir, "root.yaml", `
include:
  - broker.yaml
store:
  path: `+filepath.Join(dir, "ledger.db")+`
`)

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "https://broker.example.com", cfg.Broker.APIURL)
	assert.Equal(t, cfg.Broker.APIURL, cfg.Broker.EventsURL)
	assert.Equal(t, defaultBrokerTimeout, cfg.Broker.TimeoutSeconds)
	assert.Equal(t, defaultAccountHeader, cfg.App.AccountHeader)
	assert.True(t, cfg.Ledger.EnforceBalance)
	assert.True(t, cfg.Ledger.EnforceHoldings)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, defaultTradeStreamPath, cfg.Reconcile.TradeStreamPath)
	assert.Equal(t, defaultTransferStreamPath, cfg.Reconcile.TransferStreamPath)
	assert.True(t, defaultPlatformPercent.Equal(cfg.Commission.Defaults.Platform))
	assert.True(t, defaultAgentPercent.Equal(cfg.Commission.Defaults.ReferringAgent))
	assert.False(t, cfg.Reconcile.DeadLetterFile())
}

func TestLoad_ExplicitFalseIsKept(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.yaml", brokerYAML+`
ledger:
  enforce_balance: false
  enforce_holdings: false
reconcile:
  enabled: false
`)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.False(t, cfg.Ledger.EnforceBalance)
	assert.False(t, cfg.Ledger.EnforceHoldings)
	assert.False(t, cfg.Reconcile.Enabled)
}

func TestLoad_CommissionDefaultsAreDecimal(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.yaml", brokerYAML+`
commission:
  defaults:
    platform: 0.0123456789012345
    referring_agent: "0.15"
`)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "0.0123456789012345", cfg.Commission.Defaults.Platform.String())
	assert.Equal(t, "0.15", cfg.Commission.Defaults.ReferringAgent.String())
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.yaml", brokerYAML)
	t.Setenv("TRADEDESK_BROKER_API_KEY", "from-env")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Broker.APIKey)
	assert.Equal(t, "secret", cfg.Broker.APISecret)
}

func TestLoad_Rejects(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		dir := t.TempDir()
		root := writeFile(t, dir, "root.yaml", "broker:\n  api_url: https://broker.example.com\n")
		_, err := Load(root)
		assert.ErrorContains(t, err, "api_key")
	})

	t.Run("commission default out of range", func(t *testing.T) {
		dir := t.TempDir()
		root := writeFile(t, dir, "root.yaml", brokerYAML+`
commission:
  defaults:
    platform: 1.5
`)
		_, err := Load(root)
		assert.ErrorContains(t, err, "commission.defaults.platform")
	})

	t.Run("commission default not a number", func(t *testing.T) {
		dir := t.TempDir()
		root := writeFile(t, dir, "root.yaml", brokerYAML+`
commission:
  defaults:
    referring_agent: ten percent
`)
		_, err := Load(root)
		assert.ErrorContains(t, err, "decimal")
	})

	t.Run("unknown dead letter driver", func(t *testing.T) {
		dir := t.TempDir()
		root := writeFile(t, dir, "root.yaml", brokerYAML+`
reconcile:
  dead_letter_driver: redis
`)
		_, err := Load(root)
		assert.ErrorContains(t, err, "dead_letter_driver")
	})

	t.Run("include cycle", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
		writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")
		_, err := Load(filepath.Join(dir, "a.yaml"))
		assert.ErrorContains(t, err, "include cycle")
	})
}
