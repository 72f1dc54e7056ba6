// Package config loads the YAML configuration for syncctl: connection
// settings for the source (SQL Server) and target (PostgreSQL) databases,
// logging options, and the local history store location.
package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/datakeel/mssql-pg-sync/internal/logging"
)

// SourceConfig holds SQL Server connection settings.
type SourceConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Encrypt         *bool  `yaml:"encrypt"`           // TLS encryption (default: true)
	TrustServerCert bool   `yaml:"trust_server_cert"` // trust server certificate (default: false)
	MaxConns        int    `yaml:"max_conns"`
}

// TargetConfig holds PostgreSQL connection settings.
type TargetConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"` // disable, require, verify-ca, verify-full
	MaxConns int    `yaml:"max_conns"`
}

// LoggingConfig controls log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// HistoryConfig controls the local run-history store.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// SlackConfig holds webhook notification settings for sync workers.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// SyncConfig holds defaults for batch migration and incremental sync.
type SyncConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// Config is the root configuration.
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Target  TargetConfig  `yaml:"target"`
	Logging LoggingConfig `yaml:"logging"`
	History HistoryConfig `yaml:"history"`
	Slack   SlackConfig   `yaml:"slack"`
	Sync    SyncConfig    `yaml:"sync"`
}

// Load reads and parses the configuration file, applying defaults and
// password overrides from the environment (SOURCE_PASSWORD, TARGET_PASSWORD).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Source.Port == 0 {
		c.Source.Port = 1433
	}
	if c.Source.MaxConns == 0 {
		c.Source.MaxConns = 4
	}
	if c.Target.Port == 0 {
		c.Target.Port = 5432
	}
	if c.Target.SSLMode == "" {
		c.Target.SSLMode = "require"
	}
	if c.Target.MaxConns == 0 {
		c.Target.MaxConns = 4
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.History.Path == "" {
		c.History.Path = "syncctl-history.db"
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 1000
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SOURCE_PASSWORD"); v != "" {
		c.Source.Password = v
	}
	if v := os.Getenv("TARGET_PASSWORD"); v != "" {
		c.Target.Password = v
	}
}

func (c *Config) validate() error {
	if c.Source.Host == "" {
		return fmt.Errorf("source.host is required")
	}
	if c.Source.Database == "" {
		return fmt.Errorf("source.database is required")
	}
	if c.Target.Host == "" {
		return fmt.Errorf("target.host is required")
	}
	if c.Target.Database == "" {
		return fmt.Errorf("target.database is required")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// SourceDSN builds the go-mssqldb connection string. Credentials and the
// database name are URL-encoded so special characters survive.
func (c *Config) SourceDSN() string {
	encrypt := "true"
	if c.Source.Encrypt != nil && !*c.Source.Encrypt {
		encrypt = "disable"
	}
	q := url.Values{}
	q.Set("database", c.Source.Database)
	q.Set("encrypt", encrypt)
	if c.Source.TrustServerCert {
		q.Set("trustservercertificate", "true")
	}
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.Source.User, c.Source.Password),
		Host:     fmt.Sprintf("%s:%d", c.Source.Host, c.Source.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// TargetDSN builds the pgx connection string.
func (c *Config) TargetDSN() string {
	q := url.Values{}
	q.Set("sslmode", c.Target.SSLMode)
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Target.User, c.Target.Password),
		Host:     fmt.Sprintf("%s:%d", c.Target.Host, c.Target.Port),
		Path:     "/" + c.Target.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}
