package config

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the user-facing parlor configuration, loaded from
// ~/.parlor/config.yaml when present.
type Config struct {
	Switch  Switch  `mapstructure:"switch"`
	Capture Capture `mapstructure:"capture"`
	Log     Log     `mapstructure:"log"`
	Serve   Serve   `mapstructure:"serve"`
}

// Switch controls automatic profile switching when a session's profile gets
// rate limited.
type Switch struct {
	// Auto enables hot-swapping a rate-limited session onto another profile.
	Auto bool `mapstructure:"auto"`
	// Policy selects the replacement tie-break: "recent" prefers the most
	// recently used eligible profile, "default-first" prefers the default.
	Policy string `mapstructure:"policy"`
}

// Capture tunes the session-identifier capture protocol.
type Capture struct {
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	MaxProbes     int           `mapstructure:"max_probes"`
}

// Log controls log output.
type Log struct {
	Level string `mapstructure:"level"`
	// File enables the rotating file sink; empty logs to stderr only.
	File string `mapstructure:"file"`
}

// Serve holds HTTP server settings.
type Serve struct {
	Addr string `mapstructure:"addr"`
}

// Load loads the configuration from the state dir or returns defaults.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(Runtime.StateDir)
	viper.SetEnvPrefix("parlor")
	viper.AutomaticEnv()

	setDefaults()

	// Try to read config file, but don't fail if it doesn't exist
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("switch.auto", true)
	viper.SetDefault("switch.policy", "recent")

	viper.SetDefault("capture.initial_delay", 2*time.Second)
	viper.SetDefault("capture.probe_interval", 1*time.Second)
	viper.SetDefault("capture.max_probes", 10)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", filepath.Join(Runtime.StateDir, "logs", "parlor.log"))

	viper.SetDefault("serve.addr", "127.0.0.1:6886")
}
