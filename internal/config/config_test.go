package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "alice", cfg.Pipeline.DefaultSender)
	assert.Equal(t, "bob", cfg.Pipeline.DefaultRecipient)
	assert.Equal(t, "ETH", cfg.Pipeline.DefaultAsset)
	assert.Equal(t, 2*time.Second, cfg.Confirmation.PollInterval.Std())
	assert.Equal(t, 30*time.Second, cfg.Confirmation.Timeout.Std())
	assert.Equal(t, 18, cfg.Assets["ETH"].Decimals)
	assert.Equal(t, USDCMainnet, cfg.Assets["USDC"].Contract)
	assert.Equal(t, UniswapV2Router, cfg.Directory.Contracts["uniswap v2 router"])
	assert.Equal(t, []string{".eth"}, cfg.Directory.NameSuffixes)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "chainpilot.yaml", `
pipeline:
  default_sender: carol
  default_recipient: dave
confirmation:
  poll_interval: 500ms
  timeout: 10
assets:
  dai:
    decimals: 18
    contract: "0x6B175474E89094C44Da98b954EedeAC495271d0F"
docs:
  driver: sqlite
  index_path: docs.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "carol", cfg.Pipeline.DefaultSender)
	assert.Equal(t, 500*time.Millisecond, cfg.Confirmation.PollInterval.Std())
	assert.Equal(t, 10*time.Second, cfg.Confirmation.Timeout.Std())
	assert.Contains(t, cfg.Assets, "DAI")
	assert.Contains(t, cfg.Assets, "ETH")
	assert.Equal(t, filepath.Join(filepath.Dir(path), "docs.db"), cfg.Docs.IndexPath)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "chainpilot.json", `{
  "tool_provider": {"endpoint": "http://10.0.0.2:8546/tools", "call_timeout": "3s"},
  "llm": {"provider": "anthropic"}
}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.2:8546/tools", cfg.ToolProvider.Endpoint)
	assert.Equal(t, 3*time.Second, cfg.ToolProvider.CallTimeout.Std())
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.LLM.Anthropic.APIKeyEnv)
}

func TestLoadRejectsInconsistentValues(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
pipeline:
  default_sender: alice
  default_recipient: ALICE
confirmation:
  poll_interval: 1m
  timeout: 5s
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
	assert.Contains(t, err.Error(), "default_recipient")
}

func TestLoadRequiresPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestResolveSecretFromEnv(t *testing.T) {
	t.Setenv("TEST_BRAVE_KEY", "brave-secret")
	cfg := WebSearchConfig{APIKeyEnv: "TEST_BRAVE_KEY"}
	assert.Equal(t, "brave-secret", cfg.ResolveAPIKey())

	cfg.APIKey = "inline"
	assert.Equal(t, "inline", cfg.ResolveAPIKey())
}

func TestServerAuthAndAlerts(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "disabled", cfg.Server.Auth.Mode)
	assert.Equal(t, "warning", cfg.Alerts.MinSeverity)
	assert.Equal(t, "CHAINPILOT_SLACK_WEBHOOK", cfg.Alerts.SlackWebhookEnv)

	path := writeFile(t, "auth.yaml", `
server:
  address: 127.0.0.1:9090
  auth:
    mode: token
    tokens:
      - name: ci
        token_env: TEST_CHAINPILOT_TOKEN
        permissions: ["commands:read"]
alerts:
  min_severity: critical
`)
	t.Setenv("TEST_CHAINPILOT_TOKEN", "ci-secret")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Server.Auth.Tokens, 1)
	assert.Equal(t, "ci-secret", cfg.Server.Auth.Tokens[0].ResolveToken())
	assert.Equal(t, "critical", cfg.Alerts.MinSeverity)

	path = writeFile(t, "auth-bad.yaml", `
server:
  auth:
    mode: token
`)
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.auth.mode")
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "chainpilot.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Docs.Driver)
	assert.Equal(t, 5*time.Second, cfg.TaskQueue.Redis.BlockWait.Std())
	assert.Equal(t, UniswapV2Router, cfg.Directory.Contracts["uniswap v2 router"])
	assert.True(t, filepath.IsAbs(cfg.Runtime.DataDir) || filepath.Base(cfg.Runtime.DataDir) == "data")
}
