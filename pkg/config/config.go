package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds the server's runtime configuration, populated from
// flags, environment variables (SYNCD_ prefix), and defaults, in that
// precedence order.
type Config struct {
	Host        string
	Port        int
	DatabaseURL string
	AdminAPIKey string
	CORSOrigins []string
	LogLevel    string
	LogJSON     bool
}

// BindFlags registers the flags Load reads from onto cmd's flag set.
func BindFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "0.0.0.0", "Address to bind the HTTP and WebSocket listeners")
	cmd.Flags().Int("port", 8080, "Port to listen on")
	cmd.Flags().String("database-url", "", "Postgres connection string (required)")
	cmd.Flags().String("admin-api-key", "", "Admin API key, required for tenant/credential management")
	cmd.Flags().StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().Bool("log-json", false, "Output logs in JSON format")
}

// Load reads configuration from cmd's flags, falling back to
// SYNCD_-prefixed environment variables for any flag not set on the
// command line, and to the flag defaults after that.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("syncd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	cfg := Config{
		Host:        v.GetString("host"),
		Port:        v.GetInt("port"),
		DatabaseURL: v.GetString("database-url"),
		AdminAPIKey: v.GetString("admin-api-key"),
		CORSOrigins: v.GetStringSlice("cors-origins"),
		LogLevel:    v.GetString("log-level"),
		LogJSON:     v.GetBool("log-json"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database-url is required (flag --database-url or SYNCD_DATABASE_URL)")
	}
	if cfg.AdminAPIKey == "" {
		return Config{}, fmt.Errorf("admin-api-key is required (flag --admin-api-key or SYNCD_ADMIN_API_KEY)")
	}

	return cfg, nil
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
