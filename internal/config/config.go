package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jw6ventures/calassist/internal/schedule"
)

type Config struct {
	ListenAddr string
	BaseURL    string
	LogLevel   string
	// TraceExporter selects the OpenTelemetry exporter: "" (none) or "stdout".
	TraceExporter string

	DB struct {
		DSN string
	}

	OAuth struct {
		ClientID     string
		ClientSecret string
		IssuerURL    string
		DiscoveryURL string
		RedirectPath string
	}

	Session struct {
		Secret string
	}

	// AllowAnonymous serves unauthenticated requests from a shared
	// anonymous bucket instead of redirecting to the identity provider.
	AllowAnonymous bool

	LLM struct {
		BaseURL     string
		APIKey      string
		Model       string
		VisionModel string
		Timeout     time.Duration
		Temperature float64
	}

	Schedule struct {
		Location      *time.Location
		Window        schedule.Window
		ExcludeAllDay bool
	}

	Google struct {
		ClientID      string
		ClientSecret  string
		RedirectPath  string
		SyncStatePath string
	}

	PrometheusEnabled bool
	TrustedProxies    []string
}

// GoogleEnabled reports whether Google Calendar import is configured.
func (c *Config) GoogleEnabled() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.BaseURL = strings.TrimRight(getenvDefault("APP_BASE_URL", "http://localhost:8080"), "/")
	cfg.LogLevel = getenvDefault("APP_LOG_LEVEL", "info")
	cfg.TraceExporter = os.Getenv("APP_TRACE_EXPORTER")
	cfg.DB.DSN = os.Getenv("APP_DB_DSN")

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.OAuth.ClientID = os.Getenv("APP_OAUTH_CLIENT_ID")
	cfg.OAuth.ClientSecret = os.Getenv("APP_OAUTH_CLIENT_SECRET")
	cfg.OAuth.IssuerURL = os.Getenv("APP_OAUTH_ISSUER_URL")
	cfg.OAuth.DiscoveryURL = os.Getenv("APP_OAUTH_DISCOVERY_URL")
	cfg.OAuth.RedirectPath = getenvDefault("APP_OAUTH_REDIRECT_PATH", "/auth/callback")
	cfg.Session.Secret = os.Getenv("APP_SESSION_SECRET")
	cfg.AllowAnonymous = getenvBool("APP_ALLOW_ANONYMOUS", false)
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	cfg.LLM.BaseURL = strings.TrimRight(getenvDefault("APP_LLM_BASE_URL", "https://api.openai.com/v1"), "/")
	cfg.LLM.APIKey = os.Getenv("APP_LLM_API_KEY")
	cfg.LLM.Model = getenvDefault("APP_LLM_MODEL", "gpt-4o-mini")
	cfg.LLM.VisionModel = getenvDefault("APP_LLM_VISION_MODEL", cfg.LLM.Model)

	var err error
	if cfg.LLM.Timeout, err = getenvDuration("APP_LLM_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.LLM.Temperature, err = getenvFloat("APP_LLM_TEMPERATURE", 0.7); err != nil {
		return nil, err
	}

	tz := getenvDefault("APP_TIMEZONE", "UTC")
	if cfg.Schedule.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	if cfg.Schedule.Window.StartHour, err = getenvInt("APP_DAY_START_HOUR", 9); err != nil {
		return nil, err
	}
	if cfg.Schedule.Window.EndHour, err = getenvInt("APP_DAY_END_HOUR", 17); err != nil {
		return nil, err
	}
	if err := cfg.Schedule.Window.Validate(); err != nil {
		return nil, fmt.Errorf("APP_DAY_START_HOUR/APP_DAY_END_HOUR: %w", err)
	}
	cfg.Schedule.ExcludeAllDay = getenvBool("APP_COMPARE_EXCLUDE_ALL_DAY", true)

	cfg.Google.ClientID = os.Getenv("APP_GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = os.Getenv("APP_GOOGLE_CLIENT_SECRET")
	cfg.Google.RedirectPath = getenvDefault("APP_GOOGLE_REDIRECT_PATH", "/google/callback")
	cfg.Google.SyncStatePath = getenvDefault("APP_GOOGLE_SYNC_STATE_PATH", "data/sync-state.bolt")

	if cfg.DB.DSN == "" {
		return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	if !cfg.AllowAnonymous {
		if cfg.OAuth.ClientID == "" || cfg.OAuth.ClientSecret == "" {
			return nil, fmt.Errorf("oauth configuration is required: client id and secret")
		}
		if cfg.OAuth.DiscoveryURL == "" && cfg.OAuth.IssuerURL == "" {
			return nil, errors.New("APP_OAUTH_DISCOVERY_URL or APP_OAUTH_ISSUER_URL is required")
		}
	}
	if cfg.Session.Secret == "" {
		return nil, errors.New("APP_SESSION_SECRET is required")
	}
	if len(cfg.Session.Secret) < 32 {
		return nil, fmt.Errorf("APP_SESSION_SECRET must be at least 32 characters long (got %d)", len(cfg.Session.Secret))
	}
	if cfg.LLM.APIKey == "" {
		return nil, errors.New("APP_LLM_API_KEY is required")
	}
	if (cfg.Google.ClientID == "") != (cfg.Google.ClientSecret == "") {
		return nil, errors.New("APP_GOOGLE_CLIENT_ID and APP_GOOGLE_CLIENT_SECRET must be set together")
	}

	if len(cfg.TrustedProxies) == 0 {
		slog.Warn("no APP_TRUSTED_PROXIES configured; forwarded headers from any peer will be trusted")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
