// Package config loads ServerConfig from a YAML file via Viper, with
// environment-variable overrides under the MCPCORE_ prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig bundles every setting a running server needs beyond its
// registered tools/resources/prompts.
type ServerConfig struct {
	Server      ServerSection      `mapstructure:"server"`
	RateLimit   RateLimitSection   `mapstructure:"rate_limit"`
	Auth        AuthSection        `mapstructure:"auth"`
}

type ServerSection struct {
	HTTPAddr string `mapstructure:"http_addr"`
	// SSEFallbackAddr is a comma-separated list of addresses to bind, in
	// order, if HTTPAddr is already in use.
	SSEFallbackAddr string        `mapstructure:"sse_fallback_addr"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
}

type RateLimitSection struct {
	Enabled        bool          `mapstructure:"enabled"`
	MaxRequests    int           `mapstructure:"max_requests"`
	WindowDuration time.Duration `mapstructure:"window_duration"`
	Global         bool          `mapstructure:"global"`
	RedisAddr      string        `mapstructure:"redis_addr"`
}

type AuthSection struct {
	Mode                 string `mapstructure:"mode"` // "none", "static", "oauth"
	IntrospectionURL     string `mapstructure:"introspection_url"`
	ClientID             string `mapstructure:"client_id"`
	ClientSecret         string `mapstructure:"client_secret"`
	RedisAddr            string `mapstructure:"redis_addr"`
}

func (c *ServerConfig) setDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.SessionTimeout == 0 {
		c.Server.SessionTimeout = time.Hour
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 100
	}
	if c.RateLimit.WindowDuration == 0 {
		c.RateLimit.WindowDuration = time.Minute
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "none"
	}
}

// Load reads configFile (if non-empty) or searches standard locations for
// mcpcore.yaml/.yml, applies MCPCORE_-prefixed environment overrides, and
// unmarshals into a ServerConfig with defaults filled in.
func Load(configFile string) (*ServerConfig, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("mcpcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mcpcore")
	}

	v.SetEnvPrefix("MCPCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: failed to read config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	cfg.setDefaults()
	return &cfg, nil
}
