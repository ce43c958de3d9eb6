package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("app.logLevel", "info")
	v.SetDefault("server.wsAddress", ":3000")
	v.SetDefault("server.httpAddress", ":3001")
	v.SetDefault("server.statsLogInterval", "5m")
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.sendQueueSize", 256)
	v.SetDefault("auth.dbPath", "users.db")
	v.SetDefault("auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("auth.seedTestUser", true)
	v.SetDefault("admin.secret", "admin123")
	v.SetDefault("bubbles.sweepInterval", "1h")
	v.SetDefault("bubbles.defaultRadiusMeters", 5000)
	v.SetDefault("bubbles.defaultTTL", "1h")
	v.SetDefault("backup.path", "bubbles_backup.json")
	v.SetDefault("backup.interval", "10m")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("MOMENTMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
