// Package config loads pkcectl settings from flags, AUTHPKCE_ environment
// variables and an optional YAML file, and resolves provider endpoints
// through OIDC discovery.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gobeyondidentity/authpkce/pkg/scheduler"
	"github.com/gobeyondidentity/authpkce/pkg/session"
	"github.com/gobeyondidentity/authpkce/pkg/storage"
)

// Setting names. Each is also a flag name and, upper-cased with '-'
// replaced by '_', the suffix of an AUTHPKCE_ environment variable.
const (
	KeyConfig           = "config"
	KeyIssuer           = "issuer"
	KeyClientID         = "client-id"
	KeyAuthURL          = "auth-url"
	KeyTokenURL         = "token-url"
	KeyUserinfoURL      = "userinfo-url"
	KeyLogoutURL        = "logout-url"
	KeyScope            = "scope"
	KeyRedirectURI      = "redirect-uri"
	KeyPlatformEndpoint = "platform-endpoint"
	KeyDB               = "db"
	KeySeal             = "seal"
	KeyAutoRefresh      = "auto-refresh"
	KeyRefreshThreshold = "refresh-threshold"
	KeyTickInterval     = "tick-interval"
	KeyHTTPTimeout      = "http-timeout"
	KeyCallbackTimeout  = "callback-timeout"
	KeyLogLevel         = "log-level"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "AUTHPKCE"

// Defaults
const (
	DefaultScope           = "openid profile email"
	DefaultHTTPTimeout     = 30 * time.Second
	DefaultCallbackTimeout = 5 * time.Minute
	DefaultLogLevel        = "warn"
)

// ErrNoIssuer is returned by Resolve when endpoints are missing and no
// issuer is configured to discover them from.
var ErrNoIssuer = errors.New("issuer is not set, endpoints cannot be discovered")

// Config is the resolved pkcectl configuration.
type Config struct {
	Issuer      string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	AuthURL     string `json:"auth_url" yaml:"auth_url"`
	TokenURL    string `json:"token_url" yaml:"token_url"`
	UserinfoURL string `json:"userinfo_url,omitempty" yaml:"userinfo_url,omitempty"`
	LogoutURL   string `json:"logout_url,omitempty" yaml:"logout_url,omitempty"`
	Scope       string `json:"scope" yaml:"scope"`
	RedirectURI string `json:"redirect_uri" yaml:"redirect_uri"`

	// PlatformEndpoint is the base URL that relative `pkcectl call` paths resolve against.
	PlatformEndpoint string `json:"platform_endpoint,omitempty" yaml:"platform_endpoint,omitempty"`

	DB   string `json:"db" yaml:"db"`
	Seal bool   `json:"seal" yaml:"seal"`

	AutoRefresh      bool          `json:"auto_refresh" yaml:"auto_refresh"`
	RefreshThreshold time.Duration `json:"refresh_threshold" yaml:"refresh_threshold"`
	TickInterval     time.Duration `json:"tick_interval" yaml:"tick_interval"`
	HTTPTimeout      time.Duration `json:"http_timeout" yaml:"http_timeout"`
	CallbackTimeout  time.Duration `json:"callback_timeout" yaml:"callback_timeout"`
	LogLevel         string        `json:"log_level" yaml:"log_level"`

	// File is the config file that was read, if any.
	File string `json:"file,omitempty" yaml:"file,omitempty"`
}

// RegisterFlags adds every setting to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(KeyConfig, "", "Config file (default: $XDG_CONFIG_HOME/authpkce/config.yaml)")
	flags.String(KeyIssuer, "", "OIDC issuer URL; missing endpoints are discovered from it")
	flags.String(KeyClientID, "", "OAuth client ID")
	flags.String(KeyAuthURL, "", "Authorization endpoint")
	flags.String(KeyTokenURL, "", "Token endpoint")
	flags.String(KeyUserinfoURL, "", "Userinfo endpoint")
	flags.String(KeyLogoutURL, "", "End-session endpoint")
	flags.String(KeyScope, DefaultScope, "Requested scopes, space separated")
	flags.String(KeyRedirectURI, session.DefaultRedirectURI, "Loopback redirect URI")
	flags.String(KeyPlatformEndpoint, "", "Base URL for relative 'call' paths")
	flags.String(KeyDB, "", "Database path (default: $XDG_DATA_HOME/authpkce/authpkce.db)")
	flags.Bool(KeySeal, false, "Encrypt stored values at rest")
	flags.Bool(KeyAutoRefresh, false, "Refresh tokens automatically before they expire")
	flags.Duration(KeyRefreshThreshold, scheduler.DefaultThreshold, "Auto-refresh when the token expires within this window")
	flags.Duration(KeyTickInterval, scheduler.DefaultInterval, "Expiry countdown interval")
	flags.Duration(KeyHTTPTimeout, DefaultHTTPTimeout, "Timeout for each HTTP request")
	flags.Duration(KeyCallbackTimeout, DefaultCallbackTimeout, "How long login waits for the redirect")
	flags.String(KeyLogLevel, DefaultLogLevel, "Log level: debug, info, warn, error")
}

// Bind connects v to flags and the environment. Flags win over the
// environment, which wins over the config file.
func Bind(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %s: %w", f.Name, err))
		}
	})
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return errors.Join(errs...)
}

// Load reads the config file, if any, and returns the merged settings.
func Load(v *viper.Viper) (*Config, error) {
	file, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Issuer:           strings.TrimRight(strings.TrimSpace(v.GetString(KeyIssuer)), "/"),
		ClientID:         strings.TrimSpace(v.GetString(KeyClientID)),
		AuthURL:          strings.TrimSpace(v.GetString(KeyAuthURL)),
		TokenURL:         strings.TrimSpace(v.GetString(KeyTokenURL)),
		UserinfoURL:      strings.TrimSpace(v.GetString(KeyUserinfoURL)),
		LogoutURL:        strings.TrimSpace(v.GetString(KeyLogoutURL)),
		Scope:            strings.TrimSpace(v.GetString(KeyScope)),
		RedirectURI:      strings.TrimSpace(v.GetString(KeyRedirectURI)),
		PlatformEndpoint: strings.TrimRight(strings.TrimSpace(v.GetString(KeyPlatformEndpoint)), "/"),
		DB:               strings.TrimSpace(v.GetString(KeyDB)),
		Seal:             v.GetBool(KeySeal),
		AutoRefresh:      v.GetBool(KeyAutoRefresh),
		RefreshThreshold: v.GetDuration(KeyRefreshThreshold),
		TickInterval:     v.GetDuration(KeyTickInterval),
		HTTPTimeout:      v.GetDuration(KeyHTTPTimeout),
		CallbackTimeout:  v.GetDuration(KeyCallbackTimeout),
		LogLevel:         strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		File:             file,
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = session.DefaultRedirectURI
	}
	if cfg.DB == "" {
		cfg.DB = storage.DefaultPath()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = DefaultCallbackTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	return cfg, nil
}

// Validate reports every missing or malformed setting. Endpoints may be
// absent when an issuer is set; call Resolve first to fill them.
func (c *Config) Validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("client-id is required"))
	}
	if c.Issuer == "" {
		if c.AuthURL == "" {
			errs = append(errs, errors.New("auth-url is required when issuer is not set"))
		}
		if c.TokenURL == "" {
			errs = append(errs, errors.New("token-url is required when issuer is not set"))
		}
	}
	for key, raw := range map[string]string{
		KeyIssuer:           c.Issuer,
		KeyAuthURL:          c.AuthURL,
		KeyTokenURL:         c.TokenURL,
		KeyUserinfoURL:      c.UserinfoURL,
		KeyLogoutURL:        c.LogoutURL,
		KeyPlatformEndpoint: c.PlatformEndpoint,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL: %q", key, raw))
		}
	}
	if u, err := url.Parse(c.RedirectURI); err != nil || u.Scheme != "http" || u.Port() == "" {
		errs = append(errs, fmt.Errorf("redirect-uri must be an http loopback URL with a port: %q", c.RedirectURI))
	}
	if c.RefreshThreshold < 0 {
		errs = append(errs, errors.New("refresh-threshold must not be negative"))
	}
	if c.TickInterval < 0 {
		errs = append(errs, errors.New("tick-interval must not be negative"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log-level must be debug, info, warn or error: %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// NeedsDiscovery reports whether any endpoint is left for Resolve to fill.
func (c *Config) NeedsDiscovery() bool {
	return c.AuthURL == "" || c.TokenURL == "" || c.UserinfoURL == "" || c.LogoutURL == ""
}

// providerClaims are discovery fields go-oidc does not expose directly.
type providerClaims struct {
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// Resolve fills missing endpoints from the issuer's discovery document.
// Configured endpoints are never overwritten. Without an issuer it is a
// no-op when the required endpoints are present and ErrNoIssuer otherwise.
func (c *Config) Resolve(ctx context.Context, client *http.Client) error {
	if !c.NeedsDiscovery() {
		return nil
	}
	if c.Issuer == "" {
		if c.AuthURL == "" || c.TokenURL == "" {
			return ErrNoIssuer
		}
		return nil
	}

	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	provider, err := oidc.NewProvider(ctx, c.Issuer)
	if err != nil {
		return fmt.Errorf("discover %s: %w", c.Issuer, err)
	}

	ep := provider.Endpoint()
	if c.AuthURL == "" {
		c.AuthURL = ep.AuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = ep.TokenURL
	}
	if c.UserinfoURL == "" {
		c.UserinfoURL = provider.UserInfoEndpoint()
	}
	if c.LogoutURL == "" {
		var pc providerClaims
		if err := provider.Claims(&pc); err != nil {
			return fmt.Errorf("decode discovery document: %w", err)
		}
		c.LogoutURL = pc.EndSessionEndpoint
	}
	return nil
}

// Session returns the session manager configuration.
func (c *Config) Session() session.Config {
	return session.Config{
		ClientID:         c.ClientID,
		AuthURL:          c.AuthURL,
		TokenURL:         c.TokenURL,
		UserinfoURL:      c.UserinfoURL,
		LogoutURL:        c.LogoutURL,
		RedirectURI:      c.RedirectURI,
		Scope:            c.Scope,
		AutoRefresh:      c.AutoRefresh,
		RefreshThreshold: c.RefreshThreshold,
		TickInterval:     c.TickInterval,
	}
}

// ResolveURL resolves a `call` target. Absolute URLs are returned as is;
// anything else is joined to the platform endpoint.
func (c *Config) ResolveURL(target string) (string, error) {
	if u, err := url.Parse(target); err == nil && u.Scheme != "" && u.Host != "" {
		return target, nil
	}
	if c.PlatformEndpoint == "" {
		return "", fmt.Errorf("%q is not an absolute URL and platform-endpoint is not set", target)
	}
	return c.PlatformEndpoint + "/" + strings.TrimLeft(target, "/"), nil
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/authpkce/config.yaml.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = os.TempDir()
		}
	}
	return filepath.Join(dir, "authpkce", "config.yaml")
}

// readConfigFile reads the explicit config file, or the default one when it
// exists. A missing explicit file is an error; a missing default is not.
func readConfigFile(v *viper.Viper) (string, error) {
	path := strings.TrimSpace(v.GetString(KeyConfig))
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	expanded, err := expandPath(path)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", path, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	v.SetConfigFile(expanded)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}
