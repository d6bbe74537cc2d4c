package config

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Approval       ApprovalConfig       `mapstructure:"approval"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Batch          BatchConfig          `mapstructure:"batch"`
	Identity       IdentityConfig       `mapstructure:"identity"`
	Lark           LarkConfig           `mapstructure:"lark"`
	AMQP           AMQPConfig           `mapstructure:"amqp"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Logger         LoggerConfig         `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// StorageConfig holds document storage configuration
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
	BaseURL string `mapstructure:"base_url"`
}

// ApprovalConfig holds the threshold used until a treasurer saves one
type ApprovalConfig struct {
	DefaultThreshold      string `mapstructure:"default_threshold"`
	DoubleApprovalEnabled bool   `mapstructure:"double_approval_enabled"`
}

// ReconciliationConfig holds matching thresholds
type ReconciliationConfig struct {
	AmountTolerance  float64 `mapstructure:"amount_tolerance"`
	AmountWeight     float64 `mapstructure:"amount_weight"`
	KeywordWeight    float64 `mapstructure:"keyword_weight"`
	DateWeight       float64 `mapstructure:"date_weight"`
	DateWindowDays   int     `mapstructure:"date_window_days"`
	AutoLinkScore    float64 `mapstructure:"auto_link_score"`
	ReviewScore      float64 `mapstructure:"review_score"`
	ReferencePattern string  `mapstructure:"reference_pattern"`
}

// BatchConfig holds bulk operation settings
type BatchConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
}

// IdentityConfig maps roles to capabilities and members to roles
type IdentityConfig struct {
	Roles   map[string][]string     `mapstructure:"roles"`
	Members map[string]MemberConfig `mapstructure:"members"`
}

// MemberConfig describes one club member
type MemberConfig struct {
	Roles      []string `mapstructure:"roles"`
	LarkOpenID string   `mapstructure:"lark_open_id"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// AMQPConfig holds event broker configuration
type AMQPConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URL         string        `mapstructure:"url"`
	Exchange    string        `mapstructure:"exchange"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads an optional .env file, then the YAML file at configPath, then
// TREASURY_* environment overrides. An empty configPath uses defaults only.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TREASURY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_upload_bytes", 20<<20)

	// Database defaults
	v.SetDefault("database.path", "data/treasury.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Storage defaults
	v.SetDefault("storage.base_dir", "data/documents")
	v.SetDefault("storage.base_url", "/files")

	// Approval defaults
	v.SetDefault("approval.default_threshold", "650")
	v.SetDefault("approval.double_approval_enabled", true)

	// Reconciliation defaults
	v.SetDefault("reconciliation.amount_tolerance", 0.10)
	v.SetDefault("reconciliation.amount_weight", 70)
	v.SetDefault("reconciliation.keyword_weight", 20)
	v.SetDefault("reconciliation.date_weight", 10)
	v.SetDefault("reconciliation.date_window_days", 60)
	v.SetDefault("reconciliation.auto_link_score", 85)
	v.SetDefault("reconciliation.review_score", 35)
	v.SetDefault("reconciliation.reference_pattern", `(?:^|\D)(\d{4}-\d{5})(?:\D|$)`)

	v.SetDefault("batch.chunk_size", 500)

	v.SetDefault("lark.enabled", false)
	v.SetDefault("amqp.enabled", false)
	v.SetDefault("amqp.exchange", "treasury.events")
	v.SetDefault("amqp.dial_timeout", 10*time.Second)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds credentials to their conventional variable names
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("amqp.url", "AMQP_URL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	threshold, err := decimal.NewFromString(c.Approval.DefaultThreshold)
	if err != nil {
		return fmt.Errorf("approval.default_threshold: %w", err)
	}
	if threshold.IsNegative() {
		return fmt.Errorf("approval.default_threshold must not be negative")
	}

	r := c.Reconciliation
	if r.AmountTolerance <= 0 {
		return fmt.Errorf("reconciliation.amount_tolerance must be positive")
	}
	if r.ReviewScore > r.AutoLinkScore {
		return fmt.Errorf("reconciliation.review_score must not exceed auto_link_score")
	}
	if _, err := regexp.Compile(r.ReferencePattern); err != nil {
		return fmt.Errorf("reconciliation.reference_pattern: %w", err)
	}

	if c.Batch.ChunkSize <= 0 {
		return fmt.Errorf("batch.chunk_size must be positive")
	}

	for id, member := range c.Identity.Members {
		for _, role := range member.Roles {
			if _, ok := c.Identity.Roles[role]; !ok {
				return fmt.Errorf("identity.members.%s: unknown role %q", id, role)
			}
		}
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}
	if c.AMQP.Enabled && c.AMQP.URL == "" {
		return fmt.Errorf("amqp.url is required")
	}

	return nil
}

// ApprovalThreshold parses the configured default threshold. Validate has
// already checked it.
func (c ApprovalConfig) ApprovalThreshold() decimal.Decimal {
	d, _ := decimal.NewFromString(c.DefaultThreshold)
	return d
}
