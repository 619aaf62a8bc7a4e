package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// AdmissionKnock requires an existing member to approve every joiner of a
// non-empty room; AdmissionOpen admits any join immediately.
const (
	AdmissionKnock = "knock"
	AdmissionOpen  = "open"
)

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	AdmissionPolicy string        `mapstructure:"admission_policy"`
	JoinRateLimit   int           `mapstructure:"join_rate_limit"`
	JoinRateWindow  time.Duration `mapstructure:"join_rate_window"`
	MeshLimit       int           `mapstructure:"mesh_limit"`
	STUNURLs        []string      `mapstructure:"stun_urls"`
	ServerURL       string        `mapstructure:"server_url"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 5000)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 1<<20) // SDP plus inline file chat payloads
	v.SetDefault("ping_period", "54s")
	v.SetDefault("admission_policy", AdmissionKnock)
	v.SetDefault("join_rate_limit", 5)
	v.SetDefault("join_rate_window", "10s")
	v.SetDefault("mesh_limit", 4)
	v.SetDefault("stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("server_url", "ws://localhost:5000/ws")

	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.AdmissionPolicy != AdmissionKnock && cfg.AdmissionPolicy != AdmissionOpen {
		return nil, fmt.Errorf("unknown admission_policy %q", cfg.AdmissionPolicy)
	}
	return &cfg, nil
}
