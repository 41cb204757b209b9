package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Security SecurityConfig
	CORS     CORSConfig
	Logging  LoggingConfig
	Storage  StorageConfig
	Mail     MailConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL      string // Full PostgreSQL URL
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port          int
	Host          string
	MaxAudioBytes int64
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig holds security-related settings
type SecurityConfig struct {
	JWTSecret         string
	JWTTTL            time.Duration
	AuthRatePerMinute int
	AuthRateBurst     int
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	AllowedOrigins []string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// StorageConfig describes the audio object store and its local cache.
type StorageConfig struct {
	CacheDir       string
	CacheMaxAge    time.Duration
	SweepInterval  time.Duration
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKeyID  string
	S3SecretKey    string
	S3UsePathStyle bool
}

// MailConfig points at the HTTP mail relay used for password recovery.
type MailConfig struct {
	RelayURL string
	Sender   string
	SiteHost string
}

// LoadDatabase reads only the database section. Tools that just need a
// connection, such as migrations, use it instead of Load.
func LoadDatabase() (DatabaseConfig, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := cfg.loadDatabase(); err != nil {
		return DatabaseConfig{}, fmt.Errorf("load database config: %w", err)
	}
	if cfg.Database.URL == "" {
		return DatabaseConfig{}, errors.New("DATABASE_URL is required (or DB_HOST, DB_USER, DB_NAME)")
	}
	return cfg.Database, nil
}

// Load reads configuration from environment variables, after merging an
// optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := cfg.loadDatabase(); err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}
	if err := cfg.loadServer(); err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	if err := cfg.loadSecurity(); err != nil {
		return nil, fmt.Errorf("load security config: %w", err)
	}
	cfg.loadCORS()
	cfg.loadLogging()
	if err := cfg.loadStorage(); err != nil {
		return nil, fmt.Errorf("load storage config: %w", err)
	}
	cfg.loadMail()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadDatabase() error {
	c.Database.URL = os.Getenv("DATABASE_URL")
	if c.Database.URL != "" {
		return nil
	}

	c.Database.Host = getEnvOrDefault("DB_HOST", "localhost")
	c.Database.User = os.Getenv("DB_USER")
	c.Database.Password = os.Getenv("DB_PASSWORD")
	c.Database.Name = getEnvOrDefault("DB_NAME", "songsserver")
	c.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return fmt.Errorf("invalid DB_PORT: %w", err)
	}
	c.Database.Port = port

	if c.Database.Host != "" && c.Database.User != "" && c.Database.Name != "" {
		u := url.URL{
			Scheme:   "postgresql",
			User:     url.UserPassword(c.Database.User, c.Database.Password),
			Host:     net.JoinHostPort(c.Database.Host, strconv.Itoa(c.Database.Port)),
			Path:     "/" + c.Database.Name,
			RawQuery: url.Values{"sslmode": {c.Database.SSLMode}}.Encode(),
		}
		c.Database.URL = u.String()
	}
	return nil
}

func (c *Config) loadServer() error {
	port, err := strconv.Atoi(getEnvOrDefault("PORT", "2403"))
	if err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}
	c.Server.Port = port
	c.Server.Host = getEnvOrDefault("HOST", "127.0.0.1")

	maxAudio, err := strconv.ParseInt(getEnvOrDefault("MAX_AUDIO_BYTES", "52428800"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid MAX_AUDIO_BYTES: %w", err)
	}
	c.Server.MaxAudioBytes = maxAudio
	return nil
}

func (c *Config) loadSecurity() error {
	c.Security.JWTSecret = os.Getenv("JWT_SECRET")
	if path := os.Getenv("JWT_SECRET_FILE"); c.Security.JWTSecret == "" && path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read JWT_SECRET_FILE: %w", err)
		}
		c.Security.JWTSecret = strings.TrimSpace(string(raw))
	}

	ttl, err := time.ParseDuration(getEnvOrDefault("JWT_TTL", "720h"))
	if err != nil {
		return fmt.Errorf("invalid JWT_TTL: %w", err)
	}
	c.Security.JWTTTL = ttl

	perMinute, err := strconv.Atoi(getEnvOrDefault("AUTH_RATE_PER_MINUTE", "30"))
	if err != nil {
		return fmt.Errorf("invalid AUTH_RATE_PER_MINUTE: %w", err)
	}
	burst, err := strconv.Atoi(getEnvOrDefault("AUTH_RATE_BURST", "10"))
	if err != nil {
		return fmt.Errorf("invalid AUTH_RATE_BURST: %w", err)
	}
	c.Security.AuthRatePerMinute = perMinute
	c.Security.AuthRateBurst = burst
	return nil
}

func (c *Config) loadCORS() {
	c.CORS.AllowedOrigins = splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))
}

func (c *Config) loadLogging() {
	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", "info")
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", "json")
}

func (c *Config) loadStorage() error {
	c.Storage.CacheDir = getEnvOrDefault("CACHE_PATH", "cache/audio")

	maxAge, err := time.ParseDuration(getEnvOrDefault("CACHE_MAX_AGE", "1h"))
	if err != nil {
		return fmt.Errorf("invalid CACHE_MAX_AGE: %w", err)
	}
	c.Storage.CacheMaxAge = maxAge

	interval, err := time.ParseDuration(getEnvOrDefault("CACHE_SWEEP_INTERVAL", "1h"))
	if err != nil {
		return fmt.Errorf("invalid CACHE_SWEEP_INTERVAL: %w", err)
	}
	c.Storage.SweepInterval = interval

	c.Storage.S3Endpoint = os.Getenv("S3_ENDPOINT")
	c.Storage.S3Region = getEnvOrDefault("S3_REGION", "ru-msk")
	c.Storage.S3Bucket = getEnvOrDefault("S3_BUCKET", "songsserver")
	c.Storage.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	c.Storage.S3SecretKey = os.Getenv("S3_SECRET_ACCESS_KEY")
	c.Storage.S3UsePathStyle = strings.EqualFold(getEnvOrDefault("S3_PATH_STYLE", "true"), "true")
	return nil
}

func (c *Config) loadMail() {
	c.Mail.RelayURL = os.Getenv("MAIL_RELAY_URL")
	c.Mail.Sender = getEnvOrDefault("MAIL_SENDER", "noreply@localhost")
	c.Mail.SiteHost = getEnvOrDefault("SITE_HOST", "localhost")
}

// Validate checks that all required configuration is present and valid
func (c *Config) Validate() error {
	var problems []string

	if c.Database.URL == "" {
		problems = append(problems, "DATABASE_URL is required (or DB_HOST, DB_USER, DB_NAME)")
	}

	if c.Security.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	} else if len(c.Security.JWTSecret) < 16 {
		problems = append(problems, "JWT_SECRET must be at least 16 characters")
	}
	if c.Security.JWTTTL <= 0 {
		problems = append(problems, "JWT_TTL must be positive")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, "PORT must be between 1 and 65535")
	}
	if c.Server.MaxAudioBytes <= 0 {
		problems = append(problems, "MAX_AUDIO_BYTES must be positive")
	}
	if c.Security.AuthRatePerMinute < 0 || c.Security.AuthRateBurst < 0 {
		problems = append(problems, "AUTH_RATE_PER_MINUTE and AUTH_RATE_BURST must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		problems = append(problems, "LOG_LEVEL must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		problems = append(problems, "LOG_FORMAT must be one of: json, text")
	}

	if c.Storage.CacheDir == "" {
		problems = append(problems, "CACHE_PATH is required")
	}
	if c.Storage.CacheMaxAge <= 0 || c.Storage.SweepInterval <= 0 {
		problems = append(problems, "CACHE_MAX_AGE and CACHE_SWEEP_INTERVAL must be positive")
	}
	if c.Storage.S3Bucket == "" {
		problems = append(problems, "S3_BUCKET is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}

	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
