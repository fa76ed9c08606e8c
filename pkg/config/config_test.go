package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
service_name = "optionvault"

[http]
port = 8081

[database]
driver = "memory"

[vault]
owner = "0x00000000000000000000000000000000000000a1"
account = "0x00000000000000000000000000000000000000a2"
staking_account = "0x00000000000000000000000000000000000000a3"
asset = "DPX"

[[vault.genesis]]
address = "0x00000000000000000000000000000000000000b1"
amount = "1000"
allowance = "1000"

[pricing]
model = "black_scholes"
volatility = 0.6
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "optionvault", cfg.ServiceName)
	assert.Equal(t, 8081, cfg.HTTP.Port)
	assert.Equal(t, 50051, cfg.GRPC.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, int32(18), cfg.Vault.AssetDecimals)
	require.Len(t, cfg.Vault.Genesis, 1)
	assert.Equal(t, "1000", cfg.Vault.Genesis[0].Amount)
	assert.Equal(t, "black_scholes", cfg.Pricing.Model)
	assert.InDelta(t, 0.6, cfg.Pricing.Volatility, 1e-9)
	assert.Equal(t, "100", cfg.Oracle.StaticPrice)
	assert.Equal(t, "0.0.0.0:8081", cfg.HTTP.Addr())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("APP_HTTP_PORT", "9001")
	t.Setenv("APP_VAULT_ASSET", "ETH")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.HTTP.Port)
	assert.Equal(t, "ETH", cfg.Vault.Asset)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, sampleTOML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "sqlite" }, "unsupported database driver"},
		{"mysql without dsn", func(c *Config) { c.Database.Driver = "mysql" }, "DSN is required"},
		{"bad owner", func(c *Config) { c.Vault.Owner = "alice" }, "vault.owner"},
		{"bad genesis", func(c *Config) { c.Vault.Genesis[0].Address = "0x1" }, "vault.genesis[0]"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka brokers"},
		{"zero volatility", func(c *Config) { c.Pricing.Volatility = 0 }, "volatility"},
		{"unknown model", func(c *Config) { c.Pricing.Model = "binomial" }, "unsupported pricing model"},
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }, "invalid HTTP port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("OPTIONVAULT_TEST_KEY", "x")
	assert.Equal(t, "x", GetEnv("OPTIONVAULT_TEST_KEY", "y"))
	assert.Equal(t, "y", GetEnv("OPTIONVAULT_TEST_ABSENT", "y"))
}
