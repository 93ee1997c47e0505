package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from a .env file or environment variables.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Export    ExportConfig    `mapstructure:"export"`
	AI        AIConfig        `mapstructure:"ai"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	FedaPay   FedaPayConfig   `mapstructure:"fedapay"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port        int    `mapstructure:"port"`
	FrontendURL string `mapstructure:"frontend_url"`
	// CORSOrigins is a comma separated allow list; empty allows every origin.
	CORSOrigins string `mapstructure:"cors_origins"`
}

// AllowedOrigins splits CORSOrigins into a clean slice.
func (a APIConfig) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(a.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds the Redis connection used by the token blacklist, rate limits, pub/sub and asynq.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr joins host and port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	PublicEndpoint  string `mapstructure:"public_endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
}

// AuthConfig controls token signing and login throttling.
type AuthConfig struct {
	JWTSecret             string        `mapstructure:"jwt_secret"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `mapstructure:"refresh_token_ttl"`
	LoginRateLimitPerHour int           `mapstructure:"login_rate_limit_per_hour"`
	LoginLockThreshold    int           `mapstructure:"login_lock_threshold"`
	LoginLockTTL          time.Duration `mapstructure:"login_lock_ttl"`
	CookieDomain          string        `mapstructure:"cookie_domain"`
}

// TemplatesConfig points at the on-disk template bundles.
type TemplatesConfig struct {
	Dir string `mapstructure:"dir"`
}

// ExportConfig controls where exported documents land and how PDFs are produced.
type ExportConfig struct {
	OutputDir    string        `mapstructure:"output_dir"`
	PublicPrefix string        `mapstructure:"public_prefix"`
	PDFBackend   string        `mapstructure:"pdf_backend"`
	PDFTimeout   time.Duration `mapstructure:"pdf_timeout"`
	ChromePath   string        `mapstructure:"chrome_path"`
}

// AIConfig selects the content generation provider. An empty key disables generation.
type AIConfig struct {
	Provider     string        `mapstructure:"provider"`
	OpenAIAPIKey string        `mapstructure:"openai_api_key"`
	OpenAIModel  string        `mapstructure:"openai_model"`
	GeminiAPIKey string        `mapstructure:"gemini_api_key"`
	GeminiModel  string        `mapstructure:"gemini_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// StripeConfig contains Stripe credentials and the premium price.
type StripeConfig struct {
	SecretKey      string `mapstructure:"secret_key"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
	PremiumPriceID string `mapstructure:"premium_price_id"`
}

// Enabled reports whether the Stripe API key is present.
func (s StripeConfig) Enabled() bool { return strings.TrimSpace(s.SecretKey) != "" }

// FedaPayConfig contains FedaPay credentials.
type FedaPayConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	Environment   string `mapstructure:"environment"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Currency      string `mapstructure:"currency"`
	DefaultAmount int64  `mapstructure:"default_amount"`
}

// Enabled reports whether the FedaPay API key is present.
func (f FedaPayConfig) Enabled() bool { return strings.TrimSpace(f.SecretKey) != "" }

// WorkerConfig tunes the asynq worker process.
type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	// MetricsAddr serves /metrics for the worker; empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads an optional .env file and then the environment (with defaults).
func Load() (*Config, error) {
	envFile := os.Getenv("CVTOR_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8000)
	v.SetDefault("api.frontend_url", "http://localhost:5000")
	v.SetDefault("api.cors_origins", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "cvtor")
	v.SetDefault("database.user", "cvtor")
	v.SetDefault("database.password", "cvtor")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "cvtor")
	v.SetDefault("auth.access_token_ttl", 30*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.login_rate_limit_per_hour", 10)
	v.SetDefault("auth.login_lock_threshold", 5)
	v.SetDefault("auth.login_lock_ttl", 15*time.Minute)
	v.SetDefault("templates.dir", "templates")
	v.SetDefault("export.output_dir", "exports")
	v.SetDefault("export.public_prefix", "/static")
	v.SetDefault("export.pdf_backend", "rod")
	v.SetDefault("export.pdf_timeout", 60*time.Second)
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.openai_model", "gpt-4o-mini")
	v.SetDefault("ai.gemini_model", "gemini-1.5-flash")
	v.SetDefault("ai.timeout", 60*time.Second)
	v.SetDefault("fedapay.environment", "sandbox")
	v.SetDefault("fedapay.currency", "XOF")
	v.SetDefault("fedapay.default_amount", 5000)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.metrics_addr", ":9091")
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                       "API_PORT",
		"api.frontend_url":               "FRONTEND_URL",
		"api.cors_origins":               "CORS_ORIGINS",
		"database.host":                  "DATABASE_HOST",
		"database.port":                  "DATABASE_PORT",
		"database.name":                  "POSTGRES_DB",
		"database.user":                  "POSTGRES_USER",
		"database.password":              "POSTGRES_PASSWORD",
		"database.sslmode":               "DATABASE_SSLMODE",
		"redis.host":                     "REDIS_HOST",
		"redis.port":                     "REDIS_PORT",
		"minio.endpoint":                 "MINIO_ENDPOINT",
		"minio.public_endpoint":          "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":            "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":        "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                  "MINIO_USE_SSL",
		"minio.bucket":                   "MINIO_BUCKET",
		"minio.region":                   "MINIO_REGION",
		"auth.jwt_secret":                "JWT_SECRET",
		"auth.access_token_ttl":          "ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":         "REFRESH_TOKEN_TTL",
		"auth.login_rate_limit_per_hour": "LOGIN_RATE_LIMIT_PER_HOUR",
		"auth.login_lock_threshold":      "LOGIN_LOCK_THRESHOLD",
		"auth.login_lock_ttl":            "LOGIN_LOCK_TTL",
		"auth.cookie_domain":             "COOKIE_DOMAIN",
		"templates.dir":                  "TEMPLATES_DIR",
		"export.output_dir":              "EXPORT_OUTPUT_DIR",
		"export.public_prefix":           "EXPORT_PUBLIC_PREFIX",
		"export.pdf_backend":             "PDF_BACKEND",
		"export.pdf_timeout":             "PDF_TIMEOUT",
		"export.chrome_path":             "CHROME_PATH",
		"ai.provider":                    "AI_PROVIDER",
		"ai.openai_api_key":              "OPENAI_API_KEY",
		"ai.openai_model":                "OPENAI_MODEL",
		"ai.gemini_api_key":              "GEMINI_API_KEY",
		"ai.gemini_model":                "GEMINI_MODEL",
		"ai.timeout":                     "AI_TIMEOUT",
		"stripe.secret_key":              "STRIPE_SECRET_KEY",
		"stripe.webhook_secret":          "STRIPE_WEBHOOK_SECRET",
		"stripe.premium_price_id":        "STRIPE_PREMIUM_PRICE_ID",
		"fedapay.secret_key":             "FEDAPAY_SECRET_KEY",
		"fedapay.environment":            "FEDAPAY_ENVIRONMENT",
		"fedapay.webhook_secret":         "FEDAPAY_WEBHOOK_SECRET",
		"fedapay.currency":               "FEDAPAY_CURRENCY",
		"fedapay.default_amount":         "FEDAPAY_DEFAULT_AMOUNT",
		"worker.concurrency":             "WORKER_CONCURRENCY",
		"worker.metrics_addr":            "WORKER_METRICS_ADDR",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		return errors.New("jwt secret must be at least 32 characters")
	}
	if cfg.Auth.AccessTokenTTL <= 0 || cfg.Auth.RefreshTokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if cfg.Templates.Dir == "" {
		return errors.New("templates dir is required")
	}
	if cfg.Export.OutputDir == "" {
		return errors.New("export output dir is required")
	}
	switch cfg.Export.PDFBackend {
	case "rod", "chromedp":
	default:
		return fmt.Errorf("unknown pdf backend %q", cfg.Export.PDFBackend)
	}
	if cfg.Export.PDFTimeout <= 0 {
		return errors.New("pdf timeout must be positive")
	}
	switch cfg.AI.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	switch cfg.FedaPay.Environment {
	case "sandbox", "live":
	default:
		return fmt.Errorf("unknown fedapay environment %q", cfg.FedaPay.Environment)
	}
	if cfg.FedaPay.Enabled() && strings.TrimSpace(cfg.FedaPay.WebhookSecret) == "" {
		return errors.New("FEDAPAY_WEBHOOK_SECRET is required when FEDAPAY_SECRET_KEY is set")
	}
	return nil
}
