package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the registry server.
// Values come from knotty-server.yaml and KNOTTY_SERVER_* environment
// variables, with CLI flags applied on top by the command.
type ServerConfig struct {
	// Network
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`

	// Storage
	DatabaseURL string `mapstructure:"database_url"`

	// Logging
	LogLevel string `mapstructure:"log_level"`

	// Auth
	JWTSecret       string `mapstructure:"jwt_secret"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`

	// Registry behavior
	DefaultOwnerRole string `mapstructure:"default_owner_role"`
}

// LoadServerConfig reads knotty-server.yaml + env (KNOTTY_SERVER_*)
// into ServerConfig. configPath, when non-empty, takes precedence over
// the search path.
func LoadServerConfig(configPath string) (*ServerConfig, error) {
	v := viper.New()

	v.SetDefault("host", "")
	v.SetDefault("port", 8080)
	v.SetDefault("read_timeout", 0)
	v.SetDefault("write_timeout", 0)

	v.SetDefault("database_url", "")

	v.SetDefault("log_level", "info")

	v.SetDefault("jwt_secret", "change-me")
	v.SetDefault("token_ttl_minutes", 120)

	v.SetDefault("default_owner_role", "owner")

	v.SetConfigName("knotty-server")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/knotty")
	}
	v.SetEnvPrefix("KNOTTY_SERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal server config: %w", err)
	}
	return &cfg, nil
}

func (c *ServerConfig) GetAddr() string {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Sprintf(":%d", c.Port)
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *ServerConfig) TokenTTL() time.Duration {
	min := c.TokenTTLMinutes
	if min <= 0 {
		min = 120
	}
	return time.Duration(min) * time.Minute
}
