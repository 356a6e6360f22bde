package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/idp/server"
)

const envPrefix = "IDP"

// Config is the complete CLI configuration. Every key can be set in the
// config file, or through the environment as IDP_<SECTION>_<KEY>.
type Config struct {
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
	Listen        string `mapstructure:"listen"`
	SigningKey    string `mapstructure:"signing_key"`
	ClientsFile   string `mapstructure:"clients_file"`
	EncryptionKey string `mapstructure:"encryption_key"`

	Log       LogConfig        `mapstructure:"log"`
	Login     LoginConfig      `mapstructure:"login"`
	Logout    LogoutConfig     `mapstructure:"logout"`
	Tokens    TokenConfig      `mapstructure:"tokens"`
	Storage   StorageConfig    `mapstructure:"storage"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	API       APIConfig        `mapstructure:"api"`
	Audit     AuditConfig      `mapstructure:"audit"`
	Providers []ProviderConfig `mapstructure:"providers"`
	Users     []UserConfig     `mapstructure:"users"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LoginConfig struct {
	AllowLocal        bool          `mapstructure:"allow_local"`
	AllowRemember     bool          `mapstructure:"allow_remember"`
	RememberDuration  time.Duration `mapstructure:"remember_duration"`
	AllowRegistration bool          `mapstructure:"allow_registration"`
	RequirePKCE       bool          `mapstructure:"require_pkce"`
	AllowInsecureHTTP bool          `mapstructure:"allow_insecure_http"`
	LockoutFailures   int           `mapstructure:"lockout_failures"`
}

type LogoutConfig struct {
	ShowPrompt        bool `mapstructure:"show_prompt"`
	AutomaticRedirect bool `mapstructure:"automatic_redirect"`
}

type TokenConfig struct {
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	IDTokenTTL     time.Duration `mapstructure:"id_token_ttl"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
}

type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Valkey   ValkeyConfig   `mapstructure:"valkey"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type ValkeyConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RateLimitConfig struct {
	Rate              int  `mapstructure:"rate"`
	Burst             int  `mapstructure:"burst"`
	TrustProxy        bool `mapstructure:"trust_proxy"`
	TrustedProxyCount int  `mapstructure:"trusted_proxy_count"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type APIConfig struct {
	Mount         bool   `mapstructure:"mount"`
	Listen        string `mapstructure:"listen"`
	RequiredScope string `mapstructure:"required_scope"`
	PublicKey     string `mapstructure:"public_key"`
	// ValidateAudience makes the resource API reject tokens whose aud claim
	// does not name the configured audience.
	ValidateAudience bool `mapstructure:"validate_audience"`
}

type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ProviderConfig configures an upstream OpenID Connect scheme.
type ProviderConfig struct {
	Scheme       string   `mapstructure:"scheme"`
	DisplayName  string   `mapstructure:"display_name"`
	IssuerURL    string   `mapstructure:"issuer_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

// UserConfig seeds a local user and its profile record at startup.
type UserConfig struct {
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	DisplayName string `mapstructure:"display_name"`
	Address     string `mapstructure:"address"`
	Contact     string `mapstructure:"contact"`
}

func setDefaults(v *viper.Viper) {
	defaults := server.DefaultConfig()

	v.SetDefault("issuer", "http://localhost:5000")
	v.SetDefault("audience", "api1")
	v.SetDefault("listen", ":5000")
	v.SetDefault("signing_key", "idp-signing-key.pem")
	v.SetDefault("clients_file", "")
	v.SetDefault("encryption_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("login.allow_local", defaults.AllowLocalLogin)
	v.SetDefault("login.allow_remember", defaults.AllowRememberLogin)
	v.SetDefault("login.remember_duration", time.Duration(defaults.RememberMeLoginDuration)*time.Second)
	v.SetDefault("login.allow_registration", defaults.AllowRegistration)
	v.SetDefault("login.require_pkce", defaults.RequirePKCE)
	v.SetDefault("login.allow_insecure_http", false)
	v.SetDefault("login.lockout_failures", defaults.LockoutMaxFailures)

	v.SetDefault("logout.show_prompt", defaults.ShowLogoutPrompt)
	v.SetDefault("logout.automatic_redirect", defaults.AutomaticRedirectAfterSignOut)

	v.SetDefault("tokens.access_token_ttl", time.Duration(defaults.AccessTokenTTL)*time.Second)
	v.SetDefault("tokens.id_token_ttl", time.Duration(defaults.IDTokenTTL)*time.Second)
	v.SetDefault("tokens.session_ttl", time.Duration(defaults.SessionTTL)*time.Second)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.valkey.address", "")
	v.SetDefault("storage.valkey.password", "")
	v.SetDefault("storage.valkey.db", 0)
	v.SetDefault("storage.valkey.key_prefix", "")
	v.SetDefault("storage.postgres.dsn", "")

	v.SetDefault("rate_limit.rate", 10)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.trust_proxy", false)
	v.SetDefault("rate_limit.trusted_proxy_count", 1)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("api.mount", true)
	v.SetDefault("api.listen", ":5001")
	v.SetDefault("api.required_scope", "api1")
	v.SetDefault("api.public_key", "")
	v.SetDefault("api.validate_audience", false)

	v.SetDefault("audit.enabled", true)
}

// loadEnvFile loads a .env file into the process environment. A missing file
// is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the optional config file, applies environment overrides
// and decodes the result.
func loadConfig(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// serverConfig maps the CLI configuration onto the core configuration.
func (c *Config) serverConfig() *server.Config {
	sc := server.DefaultConfig()
	sc.Issuer = c.Issuer
	sc.Audience = c.Audience
	sc.AllowLocalLogin = c.Login.AllowLocal
	sc.AllowRememberLogin = c.Login.AllowRemember
	sc.RememberMeLoginDuration = int64(c.Login.RememberDuration.Seconds())
	sc.AllowRegistration = c.Login.AllowRegistration
	sc.RequirePKCE = c.Login.RequirePKCE
	sc.AllowInsecureHTTP = c.Login.AllowInsecureHTTP
	sc.LockoutMaxFailures = c.Login.LockoutFailures
	sc.ShowLogoutPrompt = c.Logout.ShowPrompt
	sc.AutomaticRedirectAfterSignOut = c.Logout.AutomaticRedirect
	sc.AccessTokenTTL = int64(c.Tokens.AccessTokenTTL.Seconds())
	sc.IDTokenTTL = int64(c.Tokens.IDTokenTTL.Seconds())
	sc.SessionTTL = int64(c.Tokens.SessionTTL.Seconds())
	return sc
}

type clientsFile struct {
	Clients []server.ClientRegistration `yaml:"clients"`
}

// loadClients reads the static client catalog. An empty path yields the
// built-in catalog.
func loadClients(path string) ([]server.ClientRegistration, error) {
	if path == "" {
		return server.DefaultClients(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read clients file: %w", err)
	}

	var f clientsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse clients file: %w", err)
	}
	if len(f.Clients) == 0 {
		return nil, fmt.Errorf("clients file %s defines no clients", path)
	}
	return f.Clients, nil
}
