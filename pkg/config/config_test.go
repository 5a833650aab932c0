package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, `
server:
  listen: ":9000"
database:
  driver: sqlite
  sqlite:
    path: /tmp/original.db
model:
  base_url: http://original.local/v1
  price_per_token: 0.00001
worker:
  poll_interval: 5s
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":9000", cfg.Server.Listen)
				assert.Equal(t, "/tmp/original.db", cfg.Database.SQLite.Path)
				assert.Equal(t, "http://original.local/v1", cfg.Model.BaseURL)
				assert.InDelta(t, 0.00001, cfg.Model.PricePerToken, 1e-12)
				assert.Equal(t, 5*time.Second, cfg.Worker.PollInterval)
			},
		},
		{
			name: "string override - listen",
			envVars: map[string]string{
				"AGENTEVAL_SERVER_LISTEN": ":7000",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":7000", cfg.Server.Listen)
			},
		},
		{
			name: "nested override - sqlite path",
			envVars: map[string]string{
				"AGENTEVAL_DATABASE_SQLITE_PATH": "/data/env.db",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/data/env.db", cfg.Database.SQLite.Path)
			},
		},
		{
			name: "duration override - poll interval",
			envVars: map[string]string{
				"AGENTEVAL_WORKER_POLL_INTERVAL": "250ms",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
			},
		},
		{
			name: "key not present in yaml - api key",
			envVars: map[string]string{
				"AGENTEVAL_MODEL_API_KEY": "sk-env",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "sk-env", cfg.Model.APIKey)
			},
		},
		{
			name: "boolean override - export s3 enabled",
			envVars: map[string]string{
				"AGENTEVAL_EXPORT_S3_ENABLED": "true",
				"AGENTEVAL_EXPORT_S3_BUCKET":  "runs",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Export.S3.Enabled)
				assert.Equal(t, "runs", cfg.Export.S3.Bucket)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")

			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, DefaultDatabaseDriver, cfg.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Database.SQLite.Path)
	assert.Equal(t, DefaultPollInterval, cfg.Worker.PollInterval)
	assert.Equal(t, DefaultModelTimeout, cfg.Model.Timeout)
	assert.Equal(t, DefaultSimulatorModel, cfg.Model.SimulatorModel)
	assert.InDelta(t, DefaultPricePerToken, cfg.Model.PricePerToken, 1e-12)
	assert.Equal(t, DefaultExportPrefix, cfg.Export.S3.Prefix)
	assert.Empty(t, cfg.Model.APIKey)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ExplicitZeroPriceIsKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, "model:\n  price_per_token: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Model.PricePerToken)

	t.Setenv("AGENTEVAL_MODEL_PRICE_PER_TOKEN", "0")

	cfg, err = Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.Model.PricePerToken)
}

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.InDelta(t, DefaultPricePerToken, cfg.Model.PricePerToken, 1e-12)
}

func TestLoad_OpenAIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-fallback", cfg.Model.APIKey)

	t.Setenv("AGENTEVAL_MODEL_API_KEY", "sk-explicit")

	cfg, err = Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-explicit", cfg.Model.APIKey)
}

func TestLoad_MergesFilesInOrder(t *testing.T) {
	base := writeConfig(t, `
server:
  listen: ":8001"
database:
  driver: postgres
  postgres:
    host: db.local
    port: 5432
    database: evals
`)
	override := writeConfig(t, `
server:
  listen: ":8002"
`)

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, ":8002", cfg.Server.Listen)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.local", cfg.Database.Postgres.Host)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: yaml: content:"))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.applyDefaults()

		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errSubstr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *Config) {},
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Database.Driver = "oracle" },
			errSubstr: "unsupported driver",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
			},
			errSubstr: "postgres.host",
		},
		{
			name: "mysql configured",
			mutate: func(c *Config) {
				c.Database.Driver = "mysql"
				c.Database.MySQL.Host = "localhost"
				c.Database.MySQL.Database = "evals"
			},
		},
		{
			name: "rate limit without tiers",
			mutate: func(c *Config) {
				c.Server.RateLimit.Enabled = true
			},
			errSubstr: "requests_per_minute",
		},
		{
			name: "basic auth without users",
			mutate: func(c *Config) {
				c.Auth.Basic.Enabled = true
			},
			errSubstr: "at least one user",
		},
		{
			name: "basic auth user missing password",
			mutate: func(c *Config) {
				c.Auth.Basic.Enabled = true
				c.Auth.Basic.Users = []BasicAuthUser{{Username: "admin"}}
			},
			errSubstr: "username and password",
		},
		{
			name:      "negative price",
			mutate:    func(c *Config) { c.Model.PricePerToken = -1 },
			errSubstr: "price_per_token",
		},
		{
			name: "both export backends",
			mutate: func(c *Config) {
				c.Export.Local = LocalExportConfig{Enabled: true, Dir: "/tmp"}
				c.Export.S3.Enabled = true
				c.Export.S3.Bucket = "b"
			},
			errSubstr: "only one of local or s3",
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.Export.S3.Enabled = true
			},
			errSubstr: "export.s3.bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errSubstr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := &Config{}
	cfg.Model.APIKey = "sk-secret"
	cfg.Database.Postgres.Password = "pg"
	cfg.Auth.Basic.Users = []BasicAuthUser{{Username: "admin", Password: "pw"}}

	out := cfg.Redacted()

	assert.Equal(t, "********", out.Model.APIKey)
	assert.Equal(t, "********", out.Database.Postgres.Password)
	assert.Empty(t, out.Database.MySQL.Password)
	assert.Equal(t, "admin", out.Auth.Basic.Users[0].Username)
	assert.Equal(t, "********", out.Auth.Basic.Users[0].Password)

	// The original is untouched.
	assert.Equal(t, "sk-secret", cfg.Model.APIKey)
	assert.Equal(t, "pw", cfg.Auth.Basic.Users[0].Password)
}
