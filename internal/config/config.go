package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultAccessTokenTTL  = time.Hour
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultSandboxDelay    = 6 * time.Second
	defaultAPIURL          = "http://localhost:8080"
)

// Config holds the API server configuration
type Config struct {
	DatabaseURL      string
	Port             string
	JWTSecret        string
	ConfirmationSalt string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	DevMode          bool
	LogLevel         string
	LogFormat        string
	Gateway          GatewayConfig
}

// GatewayConfig configures the payment gateway the server pushes STK requests to.
// An empty URL selects the sandbox gateway, which is only allowed in dev mode.
type GatewayConfig struct {
	URL            string
	APIKey         string
	CallbackURL    string
	CallbackSecret string
	SandboxDelay   time.Duration
}

// Sandbox reports whether the in-process sandbox gateway should be used
func (g GatewayConfig) Sandbox() bool {
	return g.URL == ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:            "8080", // default port
		AccessTokenTTL:  defaultAccessTokenTTL,
		RefreshTokenTTL: defaultRefreshTokenTTL,
		LogLevel:        "info",
		LogFormat:       "json",
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	if u, err := url.Parse(databaseURL); err == nil {
		host := u.Hostname()
		if host == "" {
			host = "localhost"
		}
		port := u.Port()
		if port == "" {
			port = "5432"
		}
		user := u.User.Username()
		if user == "" {
			user = "(none)"
		}
		log.Debug().
			Str("host", host).
			Str("port", port).
			Str("db", strings.TrimPrefix(u.Path, "/")).
			Str("user", user).
			Msg("database target")
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	cfg.JWTSecret = jwtSecret

	salt := os.Getenv("CONFIRMATION_SALT")
	if salt == "" {
		return nil, fmt.Errorf("CONFIRMATION_SALT environment variable is required")
	}
	cfg.ConfirmationSalt = salt

	var err error
	if cfg.AccessTokenTTL, err = durationEnv("ACCESS_TOKEN_TTL", cfg.AccessTokenTTL); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = durationEnv("REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return nil, fmt.Errorf("REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL")
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	cfg.Gateway = GatewayConfig{
		URL:            strings.TrimRight(os.Getenv("GATEWAY_URL"), "/"),
		APIKey:         os.Getenv("GATEWAY_API_KEY"),
		CallbackURL:    os.Getenv("GATEWAY_CALLBACK_URL"),
		CallbackSecret: os.Getenv("GATEWAY_CALLBACK_SECRET"),
		SandboxDelay:   defaultSandboxDelay,
	}
	if cfg.Gateway.SandboxDelay, err = durationEnv("GATEWAY_SANDBOX_DELAY", cfg.Gateway.SandboxDelay); err != nil {
		return nil, err
	}
	if cfg.Gateway.Sandbox() {
		if !cfg.DevMode {
			return nil, fmt.Errorf("GATEWAY_URL is required unless DEV_MODE=true")
		}
	} else {
		if cfg.Gateway.CallbackURL == "" {
			return nil, fmt.Errorf("GATEWAY_CALLBACK_URL is required when GATEWAY_URL is set")
		}
		if cfg.Gateway.CallbackSecret == "" {
			return nil, fmt.Errorf("GATEWAY_CALLBACK_SECRET is required when GATEWAY_URL is set")
		}
	}

	return cfg, nil
}

// ClientConfig holds the storefront CLI configuration
type ClientConfig struct {
	APIURL   string
	Home     string
	LogLevel string
}

// SessionDBPath is the on-device store holding the session cache and provider tokens
func (c ClientConfig) SessionDBPath() string {
	return filepath.Join(c.Home, "session.db")
}

// LoadClient reads the CLI configuration from environment variables
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		APIURL:   defaultAPIURL,
		LogLevel: "warn",
	}
	if apiURL := os.Getenv("STOREFRONT_API_URL"); apiURL != "" {
		if _, err := url.ParseRequestURI(apiURL); err != nil {
			return nil, fmt.Errorf("invalid STOREFRONT_API_URL: %w", err)
		}
		cfg.APIURL = strings.TrimRight(apiURL, "/")
	}

	cfg.Home = os.Getenv("STOREFRONT_HOME")
	if cfg.Home == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		cfg.Home = filepath.Join(dir, "storefront")
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
