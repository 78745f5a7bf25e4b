package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`
	Downstream DownstreamConfig `mapstructure:"downstream"`
	Importer   ImporterConfig   `mapstructure:"importer"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Target     TargetConfig     `mapstructure:"target"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
// Parameters: none.
// Returns:
//   - string: DSN for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type UpstreamConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxPerSecond float64       `mapstructure:"max_per_second"`
	MinGapMs     int           `mapstructure:"min_gap_ms"`
}

type MirrorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type DownstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ImporterConfig struct {
	TenantID          string        `mapstructure:"tenant_id"`
	BatchSize         int           `mapstructure:"batch_size"`
	GroupSize         int           `mapstructure:"group_size"`
	DispatchInterval  time.Duration `mapstructure:"dispatch_interval"`
	StalenessMinutes  int           `mapstructure:"staleness_minutes"`
	RecoveryInterval  time.Duration `mapstructure:"recovery_interval"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
	Filter            FilterConfig  `mapstructure:"filter"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
}

type FilterConfig struct {
	AllowDigital    bool     `mapstructure:"allow_digital"`
	LayoutAllowlist []string `mapstructure:"layout_allowlist"`
	MaxPriceUSD     float64  `mapstructure:"max_price_usd"`
}

type SnapshotConfig struct {
	Backend  string           `mapstructure:"backend"`
	Dir      string           `mapstructure:"dir"`
	TTL      time.Duration    `mapstructure:"ttl"`
	S3       SnapshotS3Config `mapstructure:"s3"`
}

type SnapshotS3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

type TargetConfig struct {
	AttributeIDs    map[string]string `mapstructure:"attribute_ids"`
	CategoryID      string            `mapstructure:"category_id"`
	ChannelIDs      []string          `mapstructure:"channel_ids"`
	WarehouseID     string            `mapstructure:"warehouse_id"`
	DefaultPriceUSD float64           `mapstructure:"default_price_usd"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/cardsync.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("upstream.base_url", "https://api.cardcatalog.example")
	v.SetDefault("upstream.timeout", 30*time.Second)
	v.SetDefault("upstream.max_per_second", 10)
	v.SetDefault("upstream.min_gap_ms", 100)
	v.SetDefault("mirror.enabled", true)
	v.SetDefault("mirror.base_url", "https://mirror.cardbulk.example")
	v.SetDefault("downstream.timeout", 60*time.Second)
	v.SetDefault("importer.tenant_id", "default")
	v.SetDefault("importer.batch_size", 25)
	v.SetDefault("importer.group_size", 4)
	v.SetDefault("importer.dispatch_interval", 5*time.Second)
	v.SetDefault("importer.staleness_minutes", 30)
	v.SetDefault("importer.recovery_interval", 10*time.Minute)
	v.SetDefault("importer.breaker.failure_threshold", 5)
	v.SetDefault("importer.breaker.cooldown", 30*time.Second)
	v.SetDefault("importer.breaker.max_retries", 3)
	v.SetDefault("importer.breaker.retry_backoff", 500*time.Millisecond)
	v.SetDefault("importer.filter.allow_digital", false)
	v.SetDefault("importer.filter.layout_allowlist", []string{})
	v.SetDefault("importer.filter.max_price_usd", 0)
	v.SetDefault("snapshot.backend", "local")
	v.SetDefault("snapshot.dir", "./data/snapshots")
	v.SetDefault("snapshot.ttl", 24*time.Hour)
	v.SetDefault("target.default_price_usd", 0.25)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("downstream.token", "DOWNSTREAM_TOKEN")
	v.BindEnv("mirror.api_key", "MIRROR_API_KEY")
	v.BindEnv("snapshot.s3.access_key", "SNAPSHOT_S3_ACCESS_KEY")
	v.BindEnv("snapshot.s3.secret_key", "SNAPSHOT_S3_SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
