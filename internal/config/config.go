package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/certfolio/verification-engine/internal/imaging"
	"github.com/certfolio/verification-engine/internal/llm"
	"github.com/certfolio/verification-engine/internal/logging"
	"github.com/certfolio/verification-engine/internal/ocr"
	"github.com/certfolio/verification-engine/internal/verification"
)

// EnvPrefix prefixes every environment override, e.g. CERTVERIFY_SERVER_PORT
const EnvPrefix = "CERTVERIFY"

// Config represents the verification service configuration
type Config struct {
	Environment  string              `mapstructure:"environment"`
	Server       ServerConfig        `mapstructure:"server"`
	Logging      logging.Config      `mapstructure:"logging"`
	Database     DatabaseConfig      `mapstructure:"database"`
	Redis        RedisConfig         `mapstructure:"redis"`
	Kafka        KafkaConfig         `mapstructure:"kafka"`
	Verification verification.Config `mapstructure:"verification"`
	Issuers      IssuersConfig       `mapstructure:"issuers"`
	OCR          ocr.Config          `mapstructure:"ocr"`
	Imaging      imaging.Config      `mapstructure:"imaging"`
	LLM          llm.Config          `mapstructure:"llm"`
	Security     SecurityConfig      `mapstructure:"security"`
	Monitoring   MonitoringConfig    `mapstructure:"monitoring"`
	Bulk         BulkConfig          `mapstructure:"bulk"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EnableCORS      bool          `mapstructure:"enable_cors"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	TTL          time.Duration `mapstructure:"ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds Kafka producer configuration
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Async        bool          `mapstructure:"async"`
}

// IssuersConfig holds issuer registry configuration
type IssuersConfig struct {
	RegistryFile   string  `mapstructure:"registry_file"`
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold"`
}

// SecurityConfig holds API authentication configuration
type SecurityConfig struct {
	EnableAuth bool   `mapstructure:"enable_auth"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	JWTIssuer  string `mapstructure:"jwt_issuer"`
}

// MonitoringConfig holds metrics configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	Namespace   string `mapstructure:"namespace"`
}

// BulkConfig bounds bulk verification requests
type BulkConfig struct {
	MaxItems    int           `mapstructure:"max_items"`
	Concurrency int           `mapstructure:"concurrency"`
	ItemTimeout time.Duration `mapstructure:"item_timeout"`
}

// Load reads configuration from defaults, the optional YAML file at path
// and CERTVERIFY_* environment variables, in increasing precedence
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.max_body_bytes", 5<<20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.json", true)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "certfolio")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.ttl", "24h")
	v.SetDefault("redis.key_prefix", "certverify:outcome:")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "certificates.verified")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "1s")
	v.SetDefault("kafka.required_acks", 1)
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("kafka.async", false)

	// Verification defaults
	vc := verification.DefaultConfig()
	v.SetDefault("verification.enable_escalation", vc.EnableEscalation)
	v.SetDefault("verification.image_warning_threshold", vc.ImageWarningThreshold)
	v.SetDefault("verification.matching.case_sensitive", vc.Matching.CaseSensitive)
	v.SetDefault("verification.matching.name_found_threshold", vc.Matching.NameFoundThreshold)
	v.SetDefault("verification.weights.title", vc.Weights.Title)
	v.SetDefault("verification.weights.issuer", vc.Weights.Issuer)
	v.SetDefault("verification.weights.issue_date", vc.Weights.IssueDate)
	v.SetDefault("verification.weights.credential_id", vc.Weights.CredentialID)
	v.SetDefault("verification.weights.credential_url", vc.Weights.CredentialURL)
	v.SetDefault("verification.weights.credential_url_with_id", vc.Weights.CredentialURLWithID)
	v.SetDefault("verification.weights.holder_name", vc.Weights.HolderName)
	v.SetDefault("verification.weights.holder_name_with_id", vc.Weights.HolderNameWithID)
	v.SetDefault("verification.blend.text", vc.Blend.Text)
	v.SetDefault("verification.blend.image", vc.Blend.Image)
	v.SetDefault("verification.basic_thresholds.verified", vc.BasicThresholds.Verified)
	v.SetDefault("verification.basic_thresholds.rejected", vc.BasicThresholds.Rejected)
	v.SetDefault("verification.escalated_thresholds.verified", vc.EscalatedThresholds.Verified)
	v.SetDefault("verification.escalated_thresholds.rejected", vc.EscalatedThresholds.Rejected)
	v.SetDefault("verification.escalation_band.lower", vc.EscalationBand.Lower)
	v.SetDefault("verification.escalation_band.upper", vc.EscalationBand.Upper)

	// Issuer registry defaults
	v.SetDefault("issuers.registry_file", "")
	v.SetDefault("issuers.fuzzy_threshold", 0.85)

	// OCR defaults
	v.SetDefault("ocr.endpoint", "")
	v.SetDefault("ocr.api_key", "")
	v.SetDefault("ocr.timeout", "30s")
	v.SetDefault("ocr.max_text_bytes", 1<<20)
	v.SetDefault("ocr.retry.attempts", 3)
	v.SetDefault("ocr.retry.initial_delay", "1s")

	// Imaging defaults
	ic := imaging.DefaultConfig()
	v.SetDefault("imaging.enabled", ic.Enabled)
	v.SetDefault("imaging.timeout", ic.Timeout.String())
	v.SetDefault("imaging.max_bytes", ic.MaxBytes)
	v.SetDefault("imaging.issue_threshold", ic.IssueThreshold)
	v.SetDefault("imaging.retry.attempts", ic.Retry.Attempts)
	v.SetDefault("imaging.retry.initial_delay", ic.Retry.InitialDelay.String())

	// LLM defaults
	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 800)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.retry.attempts", 3)
	v.SetDefault("llm.retry.initial_delay", "2s")

	// Security defaults
	v.SetDefault("security.enable_auth", false)
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_issuer", "certfolio")

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.namespace", "certverify")

	// Bulk defaults
	v.SetDefault("bulk.max_items", 50)
	v.SetDefault("bulk.concurrency", 4)
	v.SetDefault("bulk.item_timeout", "60s")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if err := validateVerification(c.Verification); err != nil {
		return err
	}

	if c.Issuers.FuzzyThreshold <= 0 || c.Issuers.FuzzyThreshold > 1 {
		return fmt.Errorf("issuer fuzzy threshold must be within (0, 1]")
	}

	if c.Imaging.IssueThreshold < 0 || c.Imaging.IssueThreshold > 1 {
		return fmt.Errorf("image issue threshold must be between 0 and 1")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("Kafka brokers are required")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("Kafka topic is required")
		}
	}

	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("llm API key is required when llm is enabled")
	}

	if c.Security.EnableAuth && c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required when auth is enabled")
	}

	if c.Bulk.MaxItems <= 0 {
		return fmt.Errorf("bulk max items must be positive")
	}

	if c.Bulk.Concurrency <= 0 {
		return fmt.Errorf("bulk concurrency must be positive")
	}

	return nil
}

func validateVerification(v verification.Config) error {
	for name, t := range map[string]verification.Thresholds{
		"basic":     v.BasicThresholds,
		"escalated": v.EscalatedThresholds,
	} {
		if t.Rejected < 0 || t.Verified > 100 || t.Rejected >= t.Verified {
			return fmt.Errorf("%s thresholds must satisfy 0 <= rejected < verified <= 100", name)
		}
	}

	if v.EscalationBand.Lower >= v.EscalationBand.Upper {
		return fmt.Errorf("escalation band lower bound must be below upper bound")
	}

	if v.Blend.Text < 0 || v.Blend.Image < 0 || math.Abs(v.Blend.Text+v.Blend.Image-1) > 1e-6 {
		return fmt.Errorf("blend weights must be non-negative and sum to 1")
	}

	w := v.Weights
	for _, weight := range []float64{w.Title, w.Issuer, w.IssueDate, w.CredentialID, w.CredentialURL, w.CredentialURLWithID, w.HolderName, w.HolderNameWithID} {
		if weight < 0 {
			return fmt.Errorf("field weights must be non-negative")
		}
	}

	if v.Matching.NameFoundThreshold < 0 || v.Matching.NameFoundThreshold > 100 {
		return fmt.Errorf("name found threshold must be between 0 and 100")
	}

	return nil
}

// DatabaseDSN returns the database connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.Username,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
