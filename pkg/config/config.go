package config

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// AGENTEVAL_DATABASE_DRIVER overrides database.driver.
	EnvPrefix = "AGENTEVAL"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8000"

	// DefaultDatabaseDriver is the default database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "agenteval.db"

	// DefaultPollInterval is the default pause between worker polls.
	DefaultPollInterval = 2 * time.Second

	// DefaultModelTimeout bounds a single chat-completion request.
	DefaultModelTimeout = 2 * time.Minute

	// DefaultPricePerToken is the placeholder cost estimate in USD.
	DefaultPricePerToken = 0.000002

	// DefaultSimulatorModel is the agent model that never calls the API.
	DefaultSimulatorModel = "offline-simulator"

	// DefaultExportPrefix is the default key prefix for exported runs.
	DefaultExportPrefix = "agenteval"
)

// Config is the root configuration for agenteval.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Model    ModelConfig    `yaml:"model" mapstructure:"model"`
	Worker   WorkerConfig   `yaml:"worker" mapstructure:"worker"`
	Export   ExportConfig   `yaml:"export,omitempty" mapstructure:"export"`
}

// ModelConfig configures the chat-completion client.
type ModelConfig struct {
	APIKey         string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL        string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	PricePerToken  float64       `yaml:"price_per_token" mapstructure:"price_per_token"`
	SimulatorModel string        `yaml:"simulator_model" mapstructure:"simulator_model"`
}

// WorkerConfig configures the run-processing poller.
type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// ExportConfig configures where exported run documents are written.
// Only one backend may be enabled at a time.
type ExportConfig struct {
	Local LocalExportConfig `yaml:"local,omitempty" mapstructure:"local"`
	S3    S3ExportConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
}

// LocalExportConfig writes run documents below a local directory.
type LocalExportConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
	// Owner is an optional "UID:GID" applied to created files.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// S3ExportConfig uploads run documents to S3-compatible storage.
type S3ExportConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// Load reads and merges configuration files in order, then applies
// environment overrides and defaults. With no paths only environment
// variables and defaults are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Zero is a valid price, so its default lives in viper rather than
	// in applyDefaults.
	v.SetDefault("model.price_per_token", DefaultPricePerToken)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so every
	// leaf key is bound explicitly.
	bindEnvKeys(v, "", reflect.TypeOf(Config{}))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func bindEnvKeys(v *viper.Viper, prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct &&
			field.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnvKeys(v, key, field.Type)

			continue
		}

		_ = v.BindEnv(key)
	}
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}

	if c.Database.MySQL.Charset == "" {
		c.Database.MySQL.Charset = "utf8mb4"
	}

	if c.Model.APIKey == "" {
		c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if c.Model.Timeout == 0 {
		c.Model.Timeout = DefaultModelTimeout
	}

	if c.Model.SimulatorModel == "" {
		c.Model.SimulatorModel = DefaultSimulatorModel
	}

	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = DefaultPollInterval
	}

	if c.Export.S3.Prefix == "" {
		c.Export.S3.Prefix = DefaultExportPrefix
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.Read.RequestsPerMinute <= 0 ||
			c.Server.RateLimit.Write.RequestsPerMinute <= 0 {
			return fmt.Errorf(
				"server.rate_limit: requests_per_minute must be positive for read and write tiers",
			)
		}
	}

	if c.Auth.Basic.Enabled {
		if len(c.Auth.Basic.Users) == 0 {
			return fmt.Errorf("auth.basic: at least one user is required when enabled")
		}

		for i, u := range c.Auth.Basic.Users {
			if u.Username == "" || u.Password == "" {
				return fmt.Errorf("auth.basic.users[%d]: username and password are required", i)
			}
		}
	}

	if c.Model.Timeout < 0 {
		return fmt.Errorf("model.timeout must not be negative")
	}

	if c.Model.PricePerToken < 0 {
		return fmt.Errorf("model.price_per_token must not be negative")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}

	return c.Export.Validate()
}

// Validate checks that at most one export backend is enabled and that
// the enabled backend is complete.
func (e *ExportConfig) Validate() error {
	if e.Local.Enabled && e.S3.Enabled {
		return fmt.Errorf("export: only one of local or s3 may be enabled")
	}

	if e.Local.Enabled && e.Local.Dir == "" {
		return fmt.Errorf("export.local.dir is required when enabled")
	}

	if e.S3.Enabled && e.S3.Bucket == "" {
		return fmt.Errorf("export.s3.bucket is required when enabled")
	}

	return nil
}

// Redacted returns a copy of the configuration with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c

	out.Model.APIKey = mask(out.Model.APIKey)
	out.Database.Postgres.Password = mask(out.Database.Postgres.Password)
	out.Database.MySQL.Password = mask(out.Database.MySQL.Password)
	out.Export.S3.SecretAccessKey = mask(out.Export.S3.SecretAccessKey)

	users := make([]BasicAuthUser, len(c.Auth.Basic.Users))
	for i, u := range c.Auth.Basic.Users {
		users[i] = BasicAuthUser{Username: u.Username, Password: mask(u.Password)}
	}

	out.Auth.Basic.Users = users

	return &out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}

	return "********"
}
