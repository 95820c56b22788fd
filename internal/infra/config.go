package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration of the gateway process.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Database DatabaseConfig `mapstructure:"database"`
	FS       FSConfig       `mapstructure:"fs"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	SQL      SQLConfig      `mapstructure:"sql"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig describes the transport-facing listeners.
type ServerConfig struct {
	Actor        string        `mapstructure:"actor"`
	HTTPAddr     string        `mapstructure:"http_addr"`
	GRPCAddr     string        `mapstructure:"grpc_addr"`
	StdioEnabled bool          `mapstructure:"stdio_enabled"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PolicyConfig points at the on-disk policy document.
type PolicyConfig struct {
	ConfigPath string `mapstructure:"config_path"`
}

// AuditConfig controls the audit logger's sinks. QueueSize, BatchSize and
// FlushEvery are decoded but not applied: the Postgres sink uses its own
// fixed queue size, batch size and flush interval.
type AuditConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	FilePath    string        `mapstructure:"file_path"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	QueueSize   int           `mapstructure:"queue_size"`
	BatchSize   int           `mapstructure:"batch_size"`
	FlushEvery  time.Duration `mapstructure:"flush_every"`
}

// DatabaseConfig is decoded from the "database" section but not read by
// cmd/gatewayd: the audit trail connects through AuditConfig.PostgresDSN
// and the sql connector through SQLConfig.DSN.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// FSConfig mirrors fsconn.Config for viper unmarshaling.
type FSConfig struct {
	AllowedPaths []string `mapstructure:"allowed_paths"`
	DeniedPaths  []string `mapstructure:"denied_paths"`
	MaxFileSize  int64    `mapstructure:"max_file_size"`
}

// HTTPConfig mirrors httpconn.Config for viper unmarshaling.
type HTTPConfig struct {
	AllowedDomains     []string `mapstructure:"allowed_domains"`
	DeniedDomains      []string `mapstructure:"denied_domains"`
	MaxResponseBytes   int64    `mapstructure:"max_response_bytes"`
	TimeoutMs          int64    `mapstructure:"timeout_ms"`
	RateLimitPerSecond float64  `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int      `mapstructure:"rate_limit_burst"`
}

// SQLConfig mirrors sqlconn.Config for viper unmarshaling.
type SQLConfig struct {
	DSN            string `mapstructure:"dsn"`
	QueryTimeoutMs int64  `mapstructure:"query_timeout_ms"`
	MaxRows        int    `mapstructure:"max_rows"`
	MaxOpenConns   int32  `mapstructure:"max_open_conns"`
	MaxRetries     uint   `mapstructure:"max_retries"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig merges config file, environment, and defaults into a Config.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.actor", "gateway")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.stdio_enabled", false)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("policy.config_path", "./configs/policy.yaml")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.file_path", "")
	v.SetDefault("audit.postgres_dsn", "")
	v.SetDefault("audit.queue_size", 10000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_every", 500*time.Millisecond)

	v.SetDefault("database.max_conns", 10)

	v.SetDefault("fs.max_file_size", 10*1024*1024)

	v.SetDefault("http.max_response_bytes", 5*1024*1024)
	v.SetDefault("http.timeout_ms", 10000)
	v.SetDefault("http.rate_limit_per_second", 10.0)
	v.SetDefault("http.rate_limit_burst", 5)

	v.SetDefault("sql.dsn", "")
	v.SetDefault("sql.query_timeout_ms", 5000)
	v.SetDefault("sql.max_rows", 1000)
	v.SetDefault("sql.max_open_conns", 10)
	v.SetDefault("sql.max_retries", 3)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
