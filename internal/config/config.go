package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/leadfunnel/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Brevo      BrevoConfig      `yaml:"brevo" mapstructure:"brevo"`
	Sheets     SheetsConfig     `yaml:"sheets" mapstructure:"sheets"`
	Meta       MetaConfig       `yaml:"meta" mapstructure:"meta"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Funnel     FunnelConfig     `yaml:"funnel" mapstructure:"funnel"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	PublicBaseURL    string   `yaml:"public_base_url" mapstructure:"public_base_url"`
	ReadTimeoutSecs  int      `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs int      `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
	AllowedOrigins   []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// BrevoConfig configures the CRM.
type BrevoConfig struct {
	APIKey    string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	ListID    int64   `yaml:"list_id" mapstructure:"list_id"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SheetsConfig configures the Google Sheets lead log.
type SheetsConfig struct {
	SpreadsheetID   string  `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	CredentialsJSON string  `yaml:"credentials_json" mapstructure:"credentials_json"`
	CredentialsFile string  `yaml:"credentials_file" mapstructure:"credentials_file"`
	SheetName       string  `yaml:"sheet_name" mapstructure:"sheet_name"`
	RateLimit       float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MetaConfig configures the Conversions API.
type MetaConfig struct {
	PixelID          string `yaml:"pixel_id" mapstructure:"pixel_id"`
	AccessToken      string `yaml:"access_token" mapstructure:"access_token"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	APIVersion       string `yaml:"api_version" mapstructure:"api_version"`
	DefaultSourceURL string `yaml:"default_source_url" mapstructure:"default_source_url"`
}

// SessionConfig configures funnel session storage and the session cookie.
type SessionConfig struct {
	Driver       string `yaml:"driver" mapstructure:"driver"` // memory, sqlite, postgres
	DatabaseURL  string `yaml:"database_url" mapstructure:"database_url"`
	TTLHours     int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	CookieName   string `yaml:"cookie_name" mapstructure:"cookie_name"`
	CookieSecure bool   `yaml:"cookie_secure" mapstructure:"cookie_secure"`
}

// FunnelConfig configures funnel behavior.
type FunnelConfig struct {
	CountryCode string `yaml:"country_code" mapstructure:"country_code"`
	VideoID     string `yaml:"video_id" mapstructure:"video_id"`
	// Routes overrides the page path of a step, keyed by step name.
	Routes map[string]string `yaml:"routes" mapstructure:"routes"`
}

// ResilienceConfig configures the integration circuit breakers.
type ResilienceConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// CRMConfigured reports whether a Brevo API key is set.
func (c *Config) CRMConfigured() bool { return c.Brevo.APIKey != "" }

// SheetsConfigured reports whether the lead log has a spreadsheet and credentials.
func (c *Config) SheetsConfigured() bool {
	return c.Sheets.SpreadsheetID != "" && (c.Sheets.CredentialsJSON != "" || c.Sheets.CredentialsFile != "")
}

// MetaConfigured reports whether both pixel id and access token are set.
func (c *Config) MetaConfigured() bool {
	return c.Meta.PixelID != "" && c.Meta.AccessToken != ""
}

// Validate checks the fields required by the given mode. Every problem is
// reported in a single error wrapping model.ErrConfiguration.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Server.PublicBaseURL == "" {
			errs = append(errs, "server.public_base_url is required")
		}
		errs = append(errs, c.validateSession()...)
		if c.Sheets.SpreadsheetID != "" && !c.SheetsConfigured() {
			errs = append(errs, "sheets.credentials_json or sheets.credentials_file is required")
		}
		if (c.Meta.PixelID == "") != (c.Meta.AccessToken == "") {
			errs = append(errs, "meta.pixel_id and meta.access_token must be set together")
		}
		if c.Resilience.FailureThreshold < 0 || c.Resilience.ResetTimeoutSecs < 0 {
			errs = append(errs, "resilience values must be >= 0")
		}
	case "sheet":
		if c.Sheets.SpreadsheetID == "" {
			errs = append(errs, "sheets.spreadsheet_id is required")
		}
		if c.Sheets.CredentialsJSON == "" && c.Sheets.CredentialsFile == "" {
			errs = append(errs, "sheets.credentials_json or sheets.credentials_file is required")
		}
	case "session":
		errs = append(errs, c.validateSession()...)
	default:
		return eris.Wrapf(model.ErrConfiguration, "config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Wrapf(model.ErrConfiguration, "config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateSession() []string {
	var errs []string
	switch c.Session.Driver {
	case "", "memory", "sqlite":
	case "postgres":
		if c.Session.DatabaseURL == "" {
			errs = append(errs, "session.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("session.driver %q is not one of memory, sqlite, postgres", c.Session.Driver))
	}
	if c.Session.TTLHours < 0 {
		errs = append(errs, "session.ttl_hours must be >= 0")
	}
	return errs
}

// Load reads configuration from config.yaml, then LEADFUNNEL_* environment
// variables, falling back to defaults.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. An empty path searches the
// working directory for an optional config.yaml; a named file must exist.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	// Environment
	v.SetEnvPrefix("LEADFUNNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout_secs", 15)
	v.SetDefault("server.write_timeout_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("brevo.base_url", "https://api.brevo.com/v3")
	v.SetDefault("brevo.list_id", 49)
	v.SetDefault("brevo.rate_limit", 10)
	v.SetDefault("sheets.sheet_name", "Sheet1")
	v.SetDefault("sheets.rate_limit", 1)
	v.SetDefault("meta.base_url", "https://graph.facebook.com")
	v.SetDefault("meta.api_version", "v18.0")
	v.SetDefault("meta.default_source_url", "https://xperiencewave.com/vsltraining")
	v.SetDefault("session.driver", "memory")
	v.SetDefault("session.ttl_hours", 72)
	v.SetDefault("session.cookie_name", "lf_session")
	v.SetDefault("funnel.country_code", model.DefaultCountryCode)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)

	// Keys without a meaningful default are registered so env-only values
	// reach Unmarshal.
	for _, key := range []string{
		"brevo.api_key",
		"sheets.spreadsheet_id",
		"sheets.credentials_json",
		"sheets.credentials_file",
		"meta.pixel_id",
		"meta.access_token",
		"session.database_url",
		"funnel.video_id",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("session.cookie_secure", false)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
