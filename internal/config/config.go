// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// insecureKey is the development fallback for ENCRYPTION_KEY.
const insecureKey = "0000000000000000000000000000000000000000000000000000000000000000"

// Export backends.
const (
	BackendFS    = "fs"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
	BackendAzure = "azure"
)

// AuthConfig holds operator authentication settings.
type AuthConfig struct {
	IssuerURL string   // OIDC issuer URL; enables OIDC validation when set
	Audience  string   // required aud claim
	JWTSecret string   // HS256 shared secret for local/dev tokens
	APIKeys   []string // "name=key" pairs for service operators
}

// OIDCEnabled returns true when an external identity provider is configured.
func (a *AuthConfig) OIDCEnabled() bool {
	return a.IssuerURL != ""
}

// ExportConfig selects and configures the bundle store.
type ExportConfig struct {
	Backend string // fs (default), s3, gcs or azure
	Dir     string // root directory for the fs backend
	Bucket  string // bucket or container for object-store backends

	S3KeyID    string
	S3Secret   string
	S3Endpoint string
	S3Region   string

	GCSKeyFile string

	AzureAccountName string
	AzureAccountKey  string
}

// Config holds the configuration of the guardian server.
type Config struct {
	MetaDBPath    string // path to the SQLite database
	ListenAddr    string // HTTP listen address (default ":8080")
	LogLevel      string // debug, info, warn, error (default "info")
	Env           string // "development" (default) or "production"
	PolicyPath    string // DSAR policy YAML
	DataDir       string // root of the finding sources
	EncryptionKey string // 64-char hex AES-256 key for finding values at rest
	SeedDemo      bool   // seed the demo subject record on startup

	RateLimitRPS   float64
	RateLimitBurst int

	CORSAllowedOrigins []string

	SLACheckSchedule string // cron spec for the overdue-run report

	Auth   AuthConfig
	Export ExportConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:       envOr("META_DB_PATH", "gdpr_guardian.sqlite"),
		ListenAddr:       envOr("LISTEN_ADDR", ":8080"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		Env:              os.Getenv("ENV"),
		PolicyPath:       envOr("POLICY_PATH", "config/policy.yaml"),
		DataDir:          envOr("DATA_DIR", "data"),
		EncryptionKey:    os.Getenv("ENCRYPTION_KEY"),
		SeedDemo:         parseBoolEnvDefault("SEED_DEMO", true),
		SLACheckSchedule: envOr("SLA_CHECK_SCHEDULE", "@every 1h"),
		Auth: AuthConfig{
			IssuerURL: os.Getenv("AUTH_ISSUER_URL"),
			Audience:  os.Getenv("AUTH_AUDIENCE"),
			JWTSecret: os.Getenv("JWT_SECRET"),
			APIKeys:   splitList(os.Getenv("OPERATOR_API_KEYS")),
		},
		Export: ExportConfig{
			Backend:          strings.ToLower(envOr("EXPORT_BACKEND", BackendFS)),
			Dir:              envOr("EXPORT_DIR", "out"),
			Bucket:           os.Getenv("EXPORT_BUCKET"),
			S3KeyID:          os.Getenv("S3_KEY_ID"),
			S3Secret:         os.Getenv("S3_SECRET"),
			S3Endpoint:       os.Getenv("S3_ENDPOINT"),
			S3Region:         os.Getenv("S3_REGION"),
			GCSKeyFile:       os.Getenv("GCS_KEY_FILE"),
			AzureAccountName: os.Getenv("AZURE_ACCOUNT_NAME"),
			AzureAccountKey:  os.Getenv("AZURE_ACCOUNT_KEY"),
		},
		RateLimitRPS:       100,
		RateLimitBurst:     200,
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("RATE_LIMIT_RPS must be a positive number, got %q", v)
		}
		cfg.RateLimitRPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("RATE_LIMIT_BURST must be a positive integer, got %q", v)
		}
		cfg.RateLimitBurst = n
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if err := cfg.Export.validate(); err != nil {
		return nil, err
	}
	if cfg.Auth.IssuerURL != "" && cfg.Auth.Audience == "" {
		return nil, fmt.Errorf("AUTH_AUDIENCE is required when AUTH_ISSUER_URL is set")
	}

	if !cfg.Auth.OIDCEnabled() && cfg.Auth.JWTSecret == "" && len(cfg.Auth.APIKeys) == 0 {
		cfg.Auth.JWTSecret = "dev-secret-change-in-production"
		cfg.Warnings = append(cfg.Warnings, "no operator authentication configured, using insecure JWT_SECRET default")
	}
	if cfg.EncryptionKey == "" {
		cfg.EncryptionKey = insecureKey
		cfg.Warnings = append(cfg.Warnings, "ENCRYPTION_KEY not set, finding values are sealed with an insecure default key")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if !cfg.Auth.OIDCEnabled() {
			return nil, fmt.Errorf("OIDC must be configured in production (set AUTH_ISSUER_URL)")
		}
		if cfg.EncryptionKey == insecureKey {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
		if cfg.SeedDemo {
			cfg.Warnings = append(cfg.Warnings, "SEED_DEMO is ignored in production")
			cfg.SeedDemo = false
		}
	}

	return cfg, nil
}

func (e *ExportConfig) validate() error {
	switch e.Backend {
	case BackendFS:
		return nil
	case BackendS3:
		if e.Bucket == "" || e.S3KeyID == "" || e.S3Secret == "" || e.S3Region == "" {
			return fmt.Errorf("EXPORT_BACKEND=s3 requires EXPORT_BUCKET, S3_KEY_ID, S3_SECRET and S3_REGION")
		}
	case BackendGCS:
		if e.Bucket == "" || e.GCSKeyFile == "" {
			return fmt.Errorf("EXPORT_BACKEND=gcs requires EXPORT_BUCKET and GCS_KEY_FILE")
		}
	case BackendAzure:
		if e.Bucket == "" || e.AzureAccountName == "" || e.AzureAccountKey == "" {
			return fmt.Errorf("EXPORT_BACKEND=azure requires EXPORT_BUCKET, AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY")
		}
	default:
		return fmt.Errorf("unknown EXPORT_BACKEND %q (want fs, s3, gcs or azure)", e.Backend)
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "0", "false", "no", "off":
		return false
	case "1", "true", "yes", "on":
		return true
	default:
		return defaultVal
	}
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Environment variables take precedence.
		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes matching surrounding double or single quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
