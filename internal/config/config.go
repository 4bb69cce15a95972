package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("authgate version %s, commit %s, built at %s", version, commit, date)
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Provider ProviderConfig `mapstructure:"provider"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Session  SessionConfig  `mapstructure:"session"`
	Routes   RoutesConfig   `mapstructure:"routes"`
}

type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	BaseURL      string   `mapstructure:"base_url"`
	Timeout      string   `mapstructure:"timeout"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type LoggingConfig struct {
	Level             string `mapstructure:"level"`
	Format            string `mapstructure:"format"`
	Color             bool   `mapstructure:"color"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	OutputPath        string `mapstructure:"output_path"`
	AppendToFile      bool   `mapstructure:"append_to_file"`
	DisableConsole    bool   `mapstructure:"disable_console"`
}

// ProviderConfig describes the OIDC identity provider the gateway
// authenticates against (a Keycloak realm in the reference deployment).
type ProviderConfig struct {
	IssuerURL          string   `mapstructure:"issuer_url"`
	ClientID           string   `mapstructure:"client_id"`
	ClientSecret       string   `mapstructure:"client_secret"`
	Scopes             []string `mapstructure:"scopes"`
	RedirectURL        string   `mapstructure:"redirect_url"`
	PostLogoutURL      string   `mapstructure:"post_logout_url"`
	TokenEndpointRPS   float64  `mapstructure:"token_endpoint_rps"`
	TokenEndpointBurst int      `mapstructure:"token_endpoint_burst"`
}

// BackendConfig points at the audit platform's REST API.
type BackendConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	APIPrefix   string `mapstructure:"api_prefix"`
	ProfilePath string `mapstructure:"profile_path"`
}

type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreRedis  StoreBackend = "redis"
)

type SessionConfig struct {
	Store         StoreBackend `mapstructure:"store"`
	RedisAddr     string       `mapstructure:"redis_addr"`
	RedisPassword string       `mapstructure:"redis_password"`
	RedisDB       int          `mapstructure:"redis_db"`
	CookieName    string       `mapstructure:"cookie_name"`
	CookieSecret  string       `mapstructure:"cookie_secret"`
	// MirrorCookie is the non-HttpOnly cookie carrying a copy of the access
	// token for server-side route evaluation by the front end.
	MirrorCookie string        `mapstructure:"mirror_cookie"`
	TTL          time.Duration `mapstructure:"ttl"`
	// DebounceWindow is how long the supervisor waits after observing an
	// authorization failure before re-checking the store and committing a
	// logout redirect. The window exists to let an in-flight refresh land
	// first; treat it as tunable, the default carries no semantic meaning.
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	// ErrorRedirectDelay is how long the callback error page is shown
	// before navigating back to the login entry point.
	ErrorRedirectDelay time.Duration `mapstructure:"error_redirect_delay"`
	// GuestPathPrefixes are paths whose authorization lifecycle is managed
	// elsewhere (invitation-link flows); the supervisor never acts on them.
	GuestPathPrefixes []string `mapstructure:"guest_path_prefixes"`
}

type RoutesConfig struct {
	// File is an optional YAML file mapping roles to landing routes. When
	// empty the built-in defaults apply.
	File  string `mapstructure:"file"`
	Login string `mapstructure:"login"`
}

// Load reads configuration from config.yaml, environment variables and
// bound flags, in that order of precedence.
func Load() (*Config, error) {
	viper.SetEnvPrefix("AUTHGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	setDefaults()

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/authgate")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Loading additional config files
	if _, err := os.Stat("/config/config.yaml"); err == nil {
		viper.SetConfigFile("/config/config.yaml")
		// Merge /config/config.yaml (overrides overlapping keys)
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the keys that have no usable default.
func (c *Config) Validate() error {
	if c.Provider.IssuerURL == "" {
		return fmt.Errorf("provider.issuer_url is required, please adjust the config or pass --provider.issuer_url or AUTHGATE_PROVIDER_ISSUER_URL environment variable")
	}
	if c.Provider.ClientID == "" {
		return fmt.Errorf("provider.client_id is required, please adjust the config or pass --provider.client_id or AUTHGATE_PROVIDER_CLIENT_ID environment variable")
	}
	if c.Provider.RedirectURL == "" {
		return fmt.Errorf("provider.redirect_url is required, please adjust the config or pass --provider.redirect_url or AUTHGATE_PROVIDER_REDIRECT_URL environment variable")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required, please adjust the config or pass --backend.base_url or AUTHGATE_BACKEND_BASE_URL environment variable")
	}
	if c.Session.Store == StoreRedis && c.Session.RedisAddr == "" {
		return fmt.Errorf("session.redis_addr is required when session.store is %q", StoreRedis)
	}
	if c.Session.CookieSecret == "" {
		return fmt.Errorf("session.cookie_secret is required, please adjust the config or pass AUTHGATE_SESSION_COOKIE_SECRET environment variable")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 4180)
	viper.SetDefault("server.timeout", "30s")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
	viper.SetDefault("logging.color", true)
	viper.SetDefault("provider.scopes", []string{"openid", "profile", "email"})
	viper.SetDefault("provider.token_endpoint_rps", 5.0)
	viper.SetDefault("provider.token_endpoint_burst", 10)
	viper.SetDefault("backend.api_prefix", "/api")
	viper.SetDefault("backend.profile_path", "/api/users/me")
	viper.SetDefault("session.store", string(StoreMemory))
	viper.SetDefault("session.cookie_name", "authgate_session")
	viper.SetDefault("session.mirror_cookie", "authgate_access_token")
	viper.SetDefault("session.ttl", "12h")
	viper.SetDefault("session.debounce_window", "3s")
	viper.SetDefault("session.error_redirect_delay", "3s")
	viper.SetDefault("routes.login", "/login")
}
