package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix is the prefix for every environment variable the application reads.
const EnvPrefix = "EDUCATION"

// Well-known environment names.
const (
	EnvironmentDevelopment = "Development"
	EnvironmentStaging     = "Staging"
	EnvironmentProduction  = "Production"
)

// Supported database providers.
const (
	ProviderSQLite   = "sqlite"
	ProviderPostgres = "postgres"
)

const connectionStringsKey = "connection_strings"

// Config holds all configuration for the Education web application
type Config struct {
	// Environment selects environment-specific behavior ("Development", "Production", ...)
	Environment string `mapstructure:"environment"`

	// ConnectionStrings maps a connection name to its DSN. Viper lowercases keys,
	// so always use GetConnectionString for lookups.
	ConnectionStrings map[string]string `mapstructure:"connection_strings"`

	Database struct {
		Provider        string        `mapstructure:"provider"`
		MaxOpenConns    int           `mapstructure:"max_open_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
		LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	} `mapstructure:"database"`

	Server struct {
		// URLs is a semicolon separated list of listen URLs, e.g. "http://localhost:5000;https://localhost:5001"
		URLs      string `mapstructure:"urls"`
		HTTPSPort int    `mapstructure:"https_port"`
		TLS       struct {
			CertFile string `mapstructure:"cert_file"`
			KeyFile  string `mapstructure:"key_file"`
		} `mapstructure:"tls"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		MetricsAddr     string        `mapstructure:"metrics_addr"` // empty disables the metrics listener
	} `mapstructure:"server"`

	HSTS struct {
		MaxAge            time.Duration `mapstructure:"max_age"`
		IncludeSubdomains bool          `mapstructure:"include_subdomains"`
		Preload           bool          `mapstructure:"preload"`
	} `mapstructure:"hsts"`

	Identity struct {
		CookieName     string        `mapstructure:"cookie_name"`
		CookieSecret   string        `mapstructure:"cookie_secret"`
		CookieExpiry   time.Duration `mapstructure:"cookie_expiry"`
		BcryptCost     int           `mapstructure:"bcrypt_cost"`
		LoginRateLimit struct {
			RequestsPerMinute int `mapstructure:"requests_per_minute"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"login_rate_limit"`
		PrincipalCache struct {
			Size int           `mapstructure:"size"`
			TTL  time.Duration `mapstructure:"ttl"`
		} `mapstructure:"principal_cache"`
	} `mapstructure:"identity"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvironmentProduction)

	v.SetDefault("database.provider", ProviderSQLite)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("server.urls", "http://localhost:5000")
	v.SetDefault("server.https_port", 0) // 0 = derive from server.urls
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.metrics_addr", "")

	v.SetDefault("hsts.max_age", 365*24*time.Hour)
	v.SetDefault("hsts.include_subdomains", true)
	v.SetDefault("hsts.preload", false)

	v.SetDefault("identity.cookie_name", ".Education.Identity")
	v.SetDefault("identity.cookie_secret", "") // empty = ephemeral key per process
	v.SetDefault("identity.cookie_expiry", 14*24*time.Hour)
	v.SetDefault("identity.bcrypt_cost", bcrypt.DefaultCost)
	v.SetDefault("identity.login_rate_limit.requests_per_minute", 10)
	v.SetDefault("identity.login_rate_limit.burst", 5)
	v.SetDefault("identity.principal_cache.size", 1024)
	v.SetDefault("identity.principal_cache.ttl", 30*time.Minute)

	v.SetDefault("logging.level", "info")
}

// loadFromEnv wires EDUCATION_* environment variables into v.
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("environment", EnvPrefix+"_ENVIRONMENT")
	_ = v.BindEnv("server.urls", EnvPrefix+"_URLS")
	_ = v.BindEnv("identity.cookie_secret", EnvPrefix+"_IDENTITY_COOKIE_SECRET")

	// Connection names are open-ended, so AutomaticEnv cannot discover them.
	envPrefix := EnvPrefix + "_CONNECTION_STRINGS_"
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if name != "" {
			v.Set(connectionStringsKey+"."+name, value)
		}
	}
}

// NewViper returns a viper instance with defaults and environment bindings applied.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)
	return v
}

// LoadConfig loads configuration from the config file (explicit or discovered),
// environment variables and any flags already bound to v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	if explicit := v.GetString("config"); explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", explicit, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetConnectionString returns the named connection string, or "" when it is absent.
// Names match case-insensitively.
func (c *Config) GetConnectionString(name string) string {
	if cs, ok := c.ConnectionStrings[name]; ok {
		return strings.TrimSpace(cs)
	}
	for key, cs := range c.ConnectionStrings {
		if strings.EqualFold(key, name) {
			return strings.TrimSpace(cs)
		}
	}
	return ""
}

// IsDevelopment reports whether the configured environment is Development (case-insensitive).
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, EnvironmentDevelopment)
}

// ListenURLs returns the parsed server.urls entries.
func (c *Config) ListenURLs() []*url.URL {
	var urls []*url.URL
	for _, raw := range strings.Split(c.Server.URLs, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

// GetHTTPSPort returns the port HTTPS redirection should target, or 0 when unknown.
func (c *Config) GetHTTPSPort() int {
	if c.Server.HTTPSPort > 0 {
		return c.Server.HTTPSPort
	}
	for _, u := range c.ListenURLs() {
		if u.Scheme != "https" {
			continue
		}
		if port := u.Port(); port != "" {
			var p int
			if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
				return p
			}
		}
		return 443
	}
	return 0
}

// validateConfig validates configuration values
func validateConfig(config *Config) error {
	if strings.TrimSpace(config.Environment) == "" {
		return fmt.Errorf("%w: environment must not be empty", ErrInvalidConfig)
	}

	config.Database.Provider = strings.ToLower(strings.TrimSpace(config.Database.Provider))
	switch config.Database.Provider {
	case ProviderSQLite, ProviderPostgres:
	default:
		return fmt.Errorf("%w: database.provider %q is not supported (use %q or %q)",
			ErrInvalidConfig, config.Database.Provider, ProviderSQLite, ProviderPostgres)
	}
	if config.Database.MaxOpenConns < 1 {
		return fmt.Errorf("%w: database.max_open_conns must be at least 1", ErrInvalidConfig)
	}
	switch config.Database.LogLevel {
	case "silent", "error", "warn", "info":
	default:
		return fmt.Errorf("%w: database.log_level %q must be one of silent, error, warn, info", ErrInvalidConfig, config.Database.LogLevel)
	}

	urls := config.ListenURLs()
	if len(urls) == 0 {
		return fmt.Errorf("%w: server.urls must contain at least one URL", ErrInvalidConfig)
	}
	for _, u := range urls {
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%w: server.urls entry %q must use http or https", ErrInvalidConfig, u.String())
		}
		if u.Host == "" {
			return fmt.Errorf("%w: server.urls entry %q has no host", ErrInvalidConfig, u.String())
		}
		if u.Scheme == "https" && (config.Server.TLS.CertFile == "" || config.Server.TLS.KeyFile == "") {
			return fmt.Errorf("%w: server.urls entry %q requires server.tls.cert_file and server.tls.key_file", ErrInvalidConfig, u.String())
		}
	}
	if config.Server.HTTPSPort < 0 || config.Server.HTTPSPort > 65535 {
		return fmt.Errorf("%w: server.https_port %d out of range", ErrInvalidConfig, config.Server.HTTPSPort)
	}
	if config.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: server.shutdown_timeout must be positive", ErrInvalidConfig)
	}

	if config.HSTS.MaxAge < 0 {
		return fmt.Errorf("%w: hsts.max_age must not be negative", ErrInvalidConfig)
	}

	if config.Identity.CookieName == "" {
		return fmt.Errorf("%w: identity.cookie_name must not be empty", ErrInvalidConfig)
	}
	if secret := config.Identity.CookieSecret; secret != "" && len(secret) < 32 {
		return fmt.Errorf("%w: identity.cookie_secret must be at least 32 bytes", ErrInvalidConfig)
	}
	if config.Identity.BcryptCost < bcrypt.MinCost || config.Identity.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("%w: identity.bcrypt_cost must be between %d and %d", ErrInvalidConfig, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if config.Identity.LoginRateLimit.RequestsPerMinute < 1 || config.Identity.LoginRateLimit.Burst < 1 {
		return fmt.Errorf("%w: identity.login_rate_limit values must be at least 1", ErrInvalidConfig)
	}
	if config.Identity.PrincipalCache.Size < 1 {
		return fmt.Errorf("%w: identity.principal_cache.size must be at least 1", ErrInvalidConfig)
	}

	if _, err := zapcore.ParseLevel(config.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %v", ErrInvalidConfig, err)
	}

	return nil
}
