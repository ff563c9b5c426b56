package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const yamlFixture = `
chains:
  - chain_id: 1
    name: ethereum
    start_block: 100
    providers:
      - name: primary
        url: https://rpc.example/eth
    contracts:
      - address: "0xcontract"
        name: Token
        symbol: TKN
        decimals: 18
        active: true
db:
  path: /tmp/indexer.db
`

const jsonFixture = `{
  "chains": [{
    "chain_id": 1,
    "name": "ethereum",
    "start_block": 100,
    "providers": [{"name": "primary", "url": "https://rpc.example/eth"}],
    "contracts": [{"address": "0xcontract", "name": "Token", "symbol": "TKN", "decimals": 18, "active": true}]
  }],
  "db": {"path": "/tmp/indexer.db"}
}`

const tomlFixture = `
[[chains]]
chain_id = 1
name = "ethereum"
start_block = 100

[[chains.providers]]
name = "primary"
url = "https://rpc.example/eth"

[[chains.contracts]]
address = "0xcontract"
name = "Token"
symbol = "TKN"
decimals = 18
active = true

[db]
path = "/tmp/indexer.db"
`

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func validateLoaded(t *testing.T, cfg *Config) {
	t.Helper()
	require.Len(t, cfg.Chains, 1)
	require.Equal(t, uint64(1), cfg.Chains[0].ChainID)
	require.Equal(t, "0xcontract", cfg.Chains[0].Contracts[0].Address)
	require.Equal(t, "/tmp/indexer.db", cfg.DB.Path)
	require.Equal(t, "WAL", cfg.DB.JournalMode, "ApplyDefaults should have run")
	require.Equal(t, 10*time.Second, cfg.Engine.PollingInterval, "ApplyDefaults should have run")
}

func TestLoadFromFileYAML(t *testing.T) {
	cfg, err := LoadFromFile(writeFixture(t, "config.yaml", yamlFixture))
	require.NoError(t, err)
	validateLoaded(t, cfg)
}

func TestLoadFromFileJSON(t *testing.T) {
	cfg, err := LoadFromFile(writeFixture(t, "config.json", jsonFixture))
	require.NoError(t, err)
	validateLoaded(t, cfg)
}

func TestLoadFromFileTOML(t *testing.T) {
	cfg, err := LoadFromFile(writeFixture(t, "config.toml", tomlFixture))
	require.NoError(t, err)
	validateLoaded(t, cfg)
}

func TestLoadFromFileUnsupportedExtension(t *testing.T) {
	_, err := LoadFromFile(writeFixture(t, "config.ini", "unused"))
	require.Error(t, err)
}

func TestLoadFromFileEnvOverride(t *testing.T) {
	t.Setenv("REALTIME_THRESHOLD", "7")
	cfg, err := LoadFromFile(writeFixture(t, "config.yaml", yamlFixture))
	require.NoError(t, err)
	require.Equal(t, uint64(7), cfg.Engine.RealtimeThreshold)
}

func TestLoadFromFileInvalidConfig(t *testing.T) {
	_, err := LoadFromFile(writeFixture(t, "config.yaml", "chains: []\n"))
	require.Error(t, err)
}
