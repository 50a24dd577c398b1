package main

import (
	"github.com/spf13/cobra"

	"github.com/knotty-dev/knotty/internal/server"
)

var logger = server.GetLogger()

func main() {
	rootCmd := &cobra.Command{
		Use:   "knotty-server",
		Short: "Knotty package registry server",
		Long:  `A package registry server exposing namespaces, packages, versions and tags over a JSON API.`,
		Run: func(cmd *cobra.Command, args []string) {
			server.RunServer(loadConfigWithOverrides(cmd))
		},
	}

	rootCmd.Flags().String("config", "", "Path to config file (highest precedence)")
	rootCmd.Flags().IntP("port", "p", 8080, "Server port")
	rootCmd.Flags().String("host", "", "Server host (empty for all interfaces)")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("database-url", "", "Postgres connection URL")
	rootCmd.Flags().String("jwt-secret", "", "Secret for signing bearer tokens")
	rootCmd.Flags().Int("token-ttl-minutes", 120, "Bearer token TTL in minutes")
	rootCmd.Flags().String("default-owner-role", "owner", "Role name given to a namespace creator")
	rootCmd.Flags().Int("read-timeout", 0, "HTTP read timeout in seconds")
	rootCmd.Flags().Int("write-timeout", 0, "HTTP write timeout in seconds")

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Command execution failed", "err", err)
	}
}

// loadConfigWithOverrides loads configuration with CLI flag overrides.
func loadConfigWithOverrides(cmd *cobra.Command) *server.ServerConfig {
	configPath := ""
	if cmd.Flags().Changed("config") {
		configPath, _ = cmd.Flags().GetString("config")
	}

	cfg, err := server.LoadServerConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", "err", err)
	}

	overrideString := func(target *string, flag string) {
		if cmd.Flags().Changed(flag) {
			if v, _ := cmd.Flags().GetString(flag); v != "" {
				*target = v
			}
		}
	}
	overrideInt := func(target *int, flag string) {
		if cmd.Flags().Changed(flag) {
			*target, _ = cmd.Flags().GetInt(flag)
		}
	}

	overrideInt(&cfg.Port, "port")
	overrideString(&cfg.Host, "host")
	overrideString(&cfg.LogLevel, "log-level")
	overrideString(&cfg.DatabaseURL, "database-url")
	overrideString(&cfg.JWTSecret, "jwt-secret")
	overrideInt(&cfg.TokenTTLMinutes, "token-ttl-minutes")
	overrideString(&cfg.DefaultOwnerRole, "default-owner-role")
	overrideInt(&cfg.ReadTimeout, "read-timeout")
	overrideInt(&cfg.WriteTimeout, "write-timeout")

	return cfg
}
