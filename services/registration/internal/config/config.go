package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

const (
	defaultPort            = "8080"
	defaultBucket          = "pitch-files"
	defaultMaxUploadBytes  = 20 << 20
	defaultSimulationDelay = 1000
	defaultSubmitRate      = 5
	defaultSearchRate      = 20
	defaultAdminTokenTTL   = 3600
)

// StorageConfig describes the blob bucket for pitch files.
type StorageConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"accessKey"`
	SecretKey     string `yaml:"secretKey"`
	Bucket        string `yaml:"bucket"`
	UseSSL        bool   `yaml:"useSSL"`
	PublicBaseURL string `yaml:"publicBaseURL"`
}

// SimulationConfig tunes the in-process store used without credentials.
type SimulationConfig struct {
	// DelayMillis is nil when unset so that an explicit 0 disables the delay.
	DelayMillis   *int `yaml:"delayMillis"`
	RetainInserts bool `yaml:"retainInserts"`
}

// Delay returns the artificial insert latency.
func (s SimulationConfig) Delay() time.Duration {
	if s.DelayMillis == nil {
		return defaultSimulationDelay * time.Millisecond
	}
	return time.Duration(*s.DelayMillis) * time.Millisecond
}

// SMTPConfig configures confirmation e-mails. Empty host disables them.
type SMTPConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	From          string `yaml:"from"`
	SkipTLSVerify bool   `yaml:"skipTLSVerify"`
}

// AMQPConfig configures registration event publishing. Empty URL disables it.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// AdminConfig configures the admin export. Empty password hash disables it.
type AdminConfig struct {
	PasswordHash    string `yaml:"passwordHash"`
	TokenSecret     string `yaml:"tokenSecret"`
	TokenTTLSeconds int    `yaml:"tokenTTLSeconds"`
}

// EventConfig carries event details used in confirmation messages.
type EventConfig struct {
	Name  string `yaml:"name"`
	Date  string `yaml:"date"`
	Venue string `yaml:"venue"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                     string           `yaml:"port"`
	LogLevel                 string           `yaml:"logLevel"`
	CORSOrigin               string           `yaml:"corsOrigin"`
	DatabaseURL              string           `yaml:"databaseURL"`
	DatabaseMaxConns         int              `yaml:"databaseMaxConns"`
	Storage                  StorageConfig    `yaml:"storage"`
	MaxUploadBytes           int64            `yaml:"maxUploadBytes"`
	Simulation               SimulationConfig `yaml:"simulation"`
	RedisAddr                string           `yaml:"redisAddr"`
	RedisPassword            string           `yaml:"redisPassword"`
	SubmitRateLimitPerMinute int              `yaml:"submitRateLimitPerMinute"`
	SearchRateLimitPerMinute int              `yaml:"searchRateLimitPerMinute"`
	TrustedProxies           []string         `yaml:"trustedProxies"`
	SMTP                     SMTPConfig       `yaml:"smtp"`
	AMQP                     AMQPConfig       `yaml:"amqp"`
	Admin                    AdminConfig      `yaml:"admin"`
	Event                    EventConfig      `yaml:"event"`
}

// LiveStore reports whether both the store endpoint and the access key are
// configured. Anything less routes every store call to the simulation.
func (c FileConfig) LiveStore() bool {
	return strings.TrimSpace(c.DatabaseURL) != "" &&
		strings.TrimSpace(c.Storage.Endpoint) != "" &&
		strings.TrimSpace(c.Storage.AccessKey) != ""
}

// Load reads .env, then the YAML file at path, then environment overrides.
// A missing config file is not an error; defaults and env apply.
func Load(path string) (FileConfig, error) {
	_ = godotenv.Load()
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// PathFromEnv returns REGISTRATION_CONFIG or the default path.
func PathFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("REGISTRATION_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.CORSOrigin, "CORS_ORIGIN")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.Storage.Endpoint, "STORAGE_ENDPOINT")
	setString(&cfg.Storage.AccessKey, "STORAGE_ACCESS_KEY")
	setString(&cfg.Storage.SecretKey, "STORAGE_SECRET_KEY")
	setString(&cfg.Storage.Bucket, "STORAGE_BUCKET")
	setString(&cfg.Storage.PublicBaseURL, "STORAGE_PUBLIC_BASE_URL")
	if v := os.Getenv("STORAGE_USE_SSL"); v == "true" {
		cfg.Storage.UseSSL = true
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SIMULATION_DELAY_MILLIS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.DelayMillis = &n
		}
	}
	if v := os.Getenv("SIMULATION_RETAIN_INSERTS"); v == "true" {
		cfg.Simulation.RetainInserts = true
	}
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setInt(&cfg.SubmitRateLimitPerMinute, "SUBMIT_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.SearchRateLimitPerMinute, "SEARCH_RATE_LIMIT_PER_MINUTE")
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	setString(&cfg.SMTP.Host, "SMTP_HOST")
	setInt(&cfg.SMTP.Port, "SMTP_PORT")
	setString(&cfg.SMTP.Username, "SMTP_USER")
	setString(&cfg.SMTP.Password, "SMTP_PASS")
	setString(&cfg.SMTP.From, "SMTP_FROM")
	if v := os.Getenv("SMTP_SKIP_TLS_VERIFY"); v == "1" || v == "true" {
		cfg.SMTP.SkipTLSVerify = true
	}
	setString(&cfg.AMQP.URL, "AMQP_URL")
	setString(&cfg.AMQP.Exchange, "AMQP_EXCHANGE")
	setString(&cfg.Admin.PasswordHash, "ADMIN_PASSWORD_HASH")
	setString(&cfg.Admin.TokenSecret, "ADMIN_TOKEN_SECRET")
	setInt(&cfg.Admin.TokenTTLSeconds, "ADMIN_TOKEN_TTL_SECONDS")
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = defaultBucket
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.SubmitRateLimitPerMinute == 0 {
		cfg.SubmitRateLimitPerMinute = defaultSubmitRate
	}
	if cfg.SearchRateLimitPerMinute == 0 {
		cfg.SearchRateLimitPerMinute = defaultSearchRate
	}
	if cfg.Admin.TokenTTLSeconds == 0 {
		cfg.Admin.TokenTTLSeconds = defaultAdminTokenTTL
	}
}

func validateConfig(cfg FileConfig) error {
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return fmt.Errorf("config: port must be numeric, got %q", cfg.Port)
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be positive")
	}
	if cfg.Simulation.DelayMillis != nil && *cfg.Simulation.DelayMillis < 0 {
		return errors.New("config: simulation.delayMillis must not be negative")
	}
	if cfg.SubmitRateLimitPerMinute < 0 || cfg.SearchRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must not be negative")
	}
	if cfg.LiveStore() && strings.TrimSpace(cfg.Storage.SecretKey) == "" {
		return errors.New("config: storage.secretKey is required when storage.accessKey is set")
	}
	if cfg.Admin.PasswordHash != "" && len(strings.TrimSpace(cfg.Admin.TokenSecret)) < 32 {
		return errors.New("config: admin.tokenSecret (>= 32 bytes) is required when admin.passwordHash is set")
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.From == "" {
		return errors.New("config: smtp.from is required when smtp.host is set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
