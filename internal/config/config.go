// Package config loads the SDK configuration.
//
// Sources, highest priority first:
//  1. an explicit path (the --config flag);
//  2. CONFIG_PATH;
//  3. ./frollo.yaml;
//  4. environment variables only.
//
// Environment variables always overlay values read from a file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const defaultConfigFile = "frollo.yaml"

// Grant types the SDK can be configured to log in with.
const (
	GrantPassword          = "password"
	GrantAuthorizationCode = "authorization_code"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"

	// StoreCloudflareKV is only available in the Workers build.
	StoreCloudflareKV = "cloudflare_kv"
)

type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	OAuth    OAuthConfig   `yaml:"oauth"`
	API      APIConfig     `yaml:"api"`
	App      AppConfig     `yaml:"app"`
	Network  NetworkConfig `yaml:"network"`
	Store    StoreConfig   `yaml:"store"`
	Cipher   CipherConfig  `yaml:"cipher"`
	Proxy    ProxyConfig   `yaml:"proxy"`
}

// OAuthConfig describes the authorization server.
type OAuthConfig struct {
	ClientID         string   `yaml:"client_id" env:"FROLLO_CLIENT_ID"`
	Domain           string   `yaml:"domain" env:"FROLLO_DOMAIN"`
	TokenURL         string   `yaml:"token_url" env:"FROLLO_TOKEN_URL"`
	RevokeURL        string   `yaml:"revoke_url" env:"FROLLO_REVOKE_URL"`
	AuthorizationURL string   `yaml:"authorization_url" env:"FROLLO_AUTHORIZATION_URL"`
	RedirectURL      string   `yaml:"redirect_url" env:"FROLLO_REDIRECT_URL"`
	Audience         string   `yaml:"audience" env:"FROLLO_AUDIENCE"`
	Scopes           []string `yaml:"scopes" env:"FROLLO_SCOPES" env-default:"offline_access,email,openid"`
	GrantType        string   `yaml:"grant_type" env:"FROLLO_GRANT_TYPE" env-default:"password"`
}

// APIConfig describes the resource server and the paths that need special auth handling.
type APIConfig struct {
	ServerURL      string   `yaml:"server_url" env:"FROLLO_SERVER_URL"`
	LoginPaths     []string `yaml:"login_paths" env:"FROLLO_LOGIN_PATHS" env-default:"user/login,user/migrate"`
	OTPPaths       []string `yaml:"otp_paths" env:"FROLLO_OTP_PATHS" env-default:"user/register,user/reset"`
	RefreshPaths   []string `yaml:"refresh_paths" env:"FROLLO_REFRESH_PATHS" env-default:"device/refresh"`
	MaxAuthRetries int      `yaml:"max_auth_retries" env:"FROLLO_MAX_AUTH_RETRIES" env-default:"1"`
}

// AppConfig supplies the standard headers attached to every request.
type AppConfig struct {
	APIVersion      string `yaml:"api_version" env:"FROLLO_API_VERSION" env-default:"2.18"`
	BundleID        string `yaml:"bundle_id" env:"FROLLO_BUNDLE_ID" env-default:"us.frollo.sdk"`
	DeviceVersion   string `yaml:"device_version" env:"FROLLO_DEVICE_VERSION" env-default:"linux"`
	SoftwareVersion string `yaml:"software_version" env:"FROLLO_SOFTWARE_VERSION" env-default:"SDK3.0.0-B1"`
	UserAgent       string `yaml:"user_agent" env:"FROLLO_USER_AGENT" env-default:"frollo-sdk-go/3.0.0"`
}

// NetworkConfig tunes the HTTP layer.
type NetworkConfig struct {
	Timeout           time.Duration `yaml:"timeout" env:"FROLLO_HTTP_TIMEOUT" env-default:"60s"`
	RateLimitDelay    time.Duration `yaml:"rate_limit_delay" env:"FROLLO_RATE_LIMIT_DELAY" env-default:"3s"`
	RateLimitMaxCount int           `yaml:"rate_limit_max_count" env:"FROLLO_RATE_LIMIT_MAX_COUNT" env-default:"10"`
	ExpiryMargin      time.Duration `yaml:"expiry_margin" env:"FROLLO_EXPIRY_MARGIN" env-default:"5m"`

	// DefaultTokenLifetime applies when a token response has neither
	// expires_in nor a JWT exp claim.
	DefaultTokenLifetime time.Duration `yaml:"default_token_lifetime" env:"FROLLO_DEFAULT_TOKEN_LIFETIME" env-default:"30m"`
}

// StoreConfig selects where encrypted tokens are persisted.
type StoreConfig struct {
	Kind     string `yaml:"kind" env:"FROLLO_STORE" env-default:"file"`
	Path     string `yaml:"path" env:"FROLLO_STORE_PATH"`
	RedisURL string `yaml:"redis_url" env:"FROLLO_REDIS_URL" env-default:"redis://localhost:6379/0"`
	Prefix   string `yaml:"prefix" env:"FROLLO_STORE_PREFIX" env-default:"frollo:creds:"`
}

// CipherConfig holds the key material for the software token cipher.
type CipherConfig struct {
	Secret string `yaml:"secret" env:"FROLLO_TOKEN_SECRET"`
}

// ProxyConfig configures the local forwarding proxy.
type ProxyConfig struct {
	Host        string `yaml:"host" env:"PROXY_HOST" env-default:"127.0.0.1"`
	Port        string `yaml:"port" env:"PORT" env-default:"9877"`
	AdminAPIKey string `yaml:"admin_api_key" env:"ADMIN_API_KEY"`
}

func (p ProxyConfig) Addr() string { return net.JoinHostPort(p.Host, p.Port) }

// MustLoad panics when the configuration cannot be loaded or is invalid.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration following the documented precedence and validates it.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	var cfg Config

	fromFile := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return &cfg, nil
	}

	if path != "" {
		return fromFile(path)
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return fromFile(envPath)
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return fromFile(defaultConfigFile)
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, %s or env vars: %w", defaultConfigFile, err)
	}
	return &cfg, nil
}

// Validate checks the fields the auth pipeline cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if c.OAuth.ClientID == "" {
		errs = append(errs, errors.New("oauth.client_id is required"))
	}
	for name, raw := range map[string]string{
		"oauth.token_url":  c.OAuth.TokenURL,
		"api.server_url":   c.API.ServerURL,
		"oauth.revoke_url": c.OAuth.RevokeURL,
	} {
		if raw == "" {
			if name != "oauth.revoke_url" {
				errs = append(errs, fmt.Errorf("%s is required", name))
			}
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q is not an absolute URL", name, raw))
		}
	}

	switch c.OAuth.GrantType {
	case GrantPassword:
	case GrantAuthorizationCode:
		if c.OAuth.AuthorizationURL == "" || c.OAuth.RedirectURL == "" {
			errs = append(errs, errors.New("authorization_code grant needs oauth.authorization_url and oauth.redirect_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported oauth.grant_type %q", c.OAuth.GrantType))
	}

	switch c.Store.Kind {
	case StoreMemory, StoreFile, StoreRedis, StoreCloudflareKV:
	default:
		errs = append(errs, fmt.Errorf("unsupported store.kind %q", c.Store.Kind))
	}

	if c.API.MaxAuthRetries < 0 {
		errs = append(errs, errors.New("api.max_auth_retries must not be negative"))
	}
	if c.Network.RateLimitMaxCount < 1 {
		errs = append(errs, errors.New("network.rate_limit_max_count must be at least 1"))
	}

	return errors.Join(errs...)
}

// EnvKeys lists every environment variable Config reads. Runtimes without a
// process environment use it to copy their bindings into os env before Load.
func EnvKeys() []string {
	var keys []string
	collectEnvKeys(reflect.TypeOf(Config{}), &keys)
	return keys
}

func collectEnvKeys(t reflect.Type, keys *[]string) {
	for i := range t.NumField() {
		f := t.Field(i)
		if f.Type.Kind() == reflect.Struct {
			collectEnvKeys(f.Type, keys)
			continue
		}
		if tag := f.Tag.Get("env"); tag != "" {
			for _, k := range strings.Split(tag, ",") {
				*keys = append(*keys, strings.TrimSpace(k))
			}
		}
	}
}
