package config

import "time"

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Transport TransportConfig
	Auth      AuthConfig
	Admin     AdminConfig
	Bubbles   BubbleConfig `mapstructure:"bubbles"`
	Backup    BackupConfig `mapstructure:"backup"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	// WSAddress serves the client websocket endpoint, HTTPAddress the
	// out-of-band admin API. Two listeners, matching the original split.
	WSAddress        string        `mapstructure:"wsAddress"`
	HTTPAddress      string        `mapstructure:"httpAddress"`
	StatsLogInterval time.Duration `mapstructure:"statsLogInterval"`
}

type TransportConfig struct {
	ReadTimeout   time.Duration `mapstructure:"readTimeout"`
	SendQueueSize int           `mapstructure:"sendQueueSize"`
}

type AuthConfig struct {
	DBPath       string `mapstructure:"dbPath"`
	JWTSecret    string `mapstructure:"jwtSecret"`
	SeedTestUser bool   `mapstructure:"seedTestUser"`
}

type AdminConfig struct {
	Secret string `mapstructure:"secret"`
}

type BubbleConfig struct {
	SweepInterval       time.Duration `mapstructure:"sweepInterval"`
	DefaultRadiusMeters float64       `mapstructure:"defaultRadiusMeters"`
	DefaultTTL          time.Duration `mapstructure:"defaultTTL"`
}

type BackupConfig struct {
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
}
