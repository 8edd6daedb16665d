// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the HTTP
// surface, logging, the credential store, the Telegram transport, the
// shortening provider, and observability.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Credential store backends accepted by STORE_BACKEND.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreMemory = "memory"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "shortlink-relay")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// TelegramConfig holds the Bot API transport settings.
type TelegramConfig struct {
	Enabled     bool          // TELEGRAM_ENABLED
	BotToken    string        // TELEGRAM_BOT_TOKEN
	APIBaseURL  string        // TELEGRAM_API_BASE_URL
	PollTimeout time.Duration // TELEGRAM_POLL_TIMEOUT (long polling)
}

// ShortenerConfig holds the remote shortening provider settings.
type ShortenerConfig struct {
	APIURL       string        // SHORTENER_API_URL
	Timeout      time.Duration // SHORTENER_TIMEOUT, per request
	ProviderName string        // SHORTENER_PROVIDER_NAME, shown in replies
}

// BotConfig holds message routing and presentation knobs.
type BotConfig struct {
	PostMarker        string // POST_MARKER
	TrimTrailingPunct bool   // URL_TRIM_TRAILING_PUNCT
	WelcomePhotoURL   string // WELCOME_PHOTO_URL
	AdminChatURL      string // WELCOME_ADMIN_URL
	PaymentProofURL   string // WELCOME_PAYMENT_PROOF_URL
	TokenPageURL      string // WELCOME_TOKEN_URL
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogRedact      bool   // scrub PII from access logs (RedactingLogger)
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Credential store
	StoreBackend  string // sqlite|file|memory
	DBPath        string // SQLite path
	StoreFilePath string // JSON image path for the file backend

	Telegram  TelegramConfig
	Shortener ShortenerConfig
	Bot       BotConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults and normalization, and
// validates the result. Unparsable values fall back to their default; all
// validation problems are reported together.
func Load() (Config, error) {
	cfg := Config{
		Port:              envString("PORT", "8000"),
		ReadTimeout:       envDuration("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: envDuration("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      envDuration("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       envDuration("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    envInt("MAX_HEADER_BYTES", 1<<20),
		GinMode:           normalizeGinMode(envString("GIN_MODE", "release")),

		LogLevel:       normalizeLogLevel(envString("LOG_LEVEL", "info")),
		LogPretty:      envBool("LOG_PRETTY", false),
		LogRedact:      envBool("LOG_REDACT", true),
		SwaggerEnabled: envBool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(envString("API_BASE_PATH", "/api/v1")),

		StoreBackend:  strings.ToLower(strings.TrimSpace(envString("STORE_BACKEND", StoreSQLite))),
		DBPath:        envString("DB_PATH", "app.db"),
		StoreFilePath: envString("STORE_FILE_PATH", "database.json"),

		Telegram: TelegramConfig{
			Enabled:     envBool("TELEGRAM_ENABLED", envString("TELEGRAM_BOT_TOKEN", "") != ""),
			BotToken:    envString("TELEGRAM_BOT_TOKEN", ""),
			APIBaseURL:  strings.TrimRight(envString("TELEGRAM_API_BASE_URL", "https://api.telegram.org"), "/"),
			PollTimeout: envDuration("TELEGRAM_POLL_TIMEOUT", 30*time.Second),
		},
		Shortener: ShortenerConfig{
			APIURL:       envString("SHORTENER_API_URL", "https://indiaearnx.com/api"),
			Timeout:      envDuration("SHORTENER_TIMEOUT", 15*time.Second),
			ProviderName: envString("SHORTENER_PROVIDER_NAME", "IndiaEarnX"),
		},
		Bot: BotConfig{
			PostMarker:        envString("POST_MARKER", "t.me/"),
			TrimTrailingPunct: envBool("URL_TRIM_TRAILING_PUNCT", false),
			WelcomePhotoURL:   envString("WELCOME_PHOTO_URL", ""),
			AdminChatURL:      envString("WELCOME_ADMIN_URL", ""),
			PaymentProofURL:   envString("WELCOME_PAYMENT_PROOF_URL", ""),
			TokenPageURL:      envString("WELCOME_TOKEN_URL", ""),
		},

		CORS: CORSConfig{AllowedOrigins: envList("CORS_ALLOWED_ORIGINS")},
		Security: SecurityConfig{
			EnableHSTS: envBool("ENABLE_HSTS", false),
			HSTSMaxAge: envDuration("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: envDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			Endpoint:    envString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: envString("OTEL_SERVICE_NAME", "shortlink-relay"),
			SampleRatio: envFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	_, levelErr := zerolog.ParseLevel(c.LogLevel)
	check(levelErr == nil && c.LogLevel != "" && c.LogLevel != "disabled",
		"LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, panic")
	check(!blank(c.Port), "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.StoreBackend {
	case StoreSQLite:
		check(!blank(c.DBPath), "DB_PATH must not be empty")
	case StoreFile:
		check(!blank(c.StoreFilePath), "STORE_FILE_PATH must not be empty")
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q must be one of: sqlite, file, memory", c.StoreBackend))
	}

	check(!c.Telegram.Enabled || !blank(c.Telegram.BotToken),
		"TELEGRAM_BOT_TOKEN must be set when TELEGRAM_ENABLED is true")
	check(c.Telegram.PollTimeout > 0, "TELEGRAM_POLL_TIMEOUT must be > 0")
	check(isHTTPURL(c.Telegram.APIBaseURL), "TELEGRAM_API_BASE_URL must be an absolute http(s) URL")
	check(isHTTPURL(c.Shortener.APIURL), "SHORTENER_API_URL must be an absolute http(s) URL")
	check(c.Shortener.Timeout > 0, "SHORTENER_TIMEOUT must be > 0")
	check(!blank(c.Bot.PostMarker), "POST_MARKER must not be empty")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

func normalizeLogLevel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return "warn"
	}
	return s
}

func normalizeGinMode(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "debug", "release", "test":
		return s
	}
	return "release"
}

// normalizeBasePath returns p with one leading slash and no trailing slash;
// blank input becomes "/".
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
