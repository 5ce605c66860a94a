package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "DEVMATCH"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "devmatch.db"
	defaultLogLevel       = "info"
	defaultIntentTTL      = 30 * time.Minute
	defaultGitHubAPIURL   = "https://api.github.com"
	defaultOAuthProviders = "github"
)

// AppConfig captures runtime configuration for the auth backend.
type AppConfig struct {
	HTTPAddress          string
	AuthProviderURL      string
	AuthProviderAPIKey   string
	AuthProviderJWTKey   string
	OAuthRedirectURL     string
	DatabasePath         string
	GitHubAppID          string
	GitHubPrivateKeyPath string
	GitHubAPIURL         string
	SignupIntentTTL      time.Duration
	LogLevel             string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("signup.intent_ttl_minutes", int(defaultIntentTTL.Minutes()))
	configViper.SetDefault("github.api_url", defaultGitHubAPIURL)
	configViper.SetDefault("oauth.providers", defaultOAuthProviders)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		AuthProviderURL:      configViper.GetString("provider.url"),
		AuthProviderAPIKey:   configViper.GetString("provider.api_key"),
		AuthProviderJWTKey:   configViper.GetString("provider.jwt_secret"),
		OAuthRedirectURL:     configViper.GetString("oauth.redirect_url"),
		DatabasePath:         configViper.GetString("database.path"),
		GitHubAppID:          configViper.GetString("github.app_id"),
		GitHubPrivateKeyPath: configViper.GetString("github.private_key_path"),
		GitHubAPIURL:         configViper.GetString("github.api_url"),
		SignupIntentTTL:      time.Duration(configViper.GetInt("signup.intent_ttl_minutes")) * time.Minute,
		LogLevel:             configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthProviderURL) == "" {
		return fmt.Errorf("provider.url is required")
	}
	if strings.TrimSpace(c.AuthProviderAPIKey) == "" {
		return fmt.Errorf("provider.api_key is required")
	}
	if strings.TrimSpace(c.AuthProviderJWTKey) == "" {
		return fmt.Errorf("provider.jwt_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
