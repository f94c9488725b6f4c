// Package config merges config file, environment variables, and flags for
// the curvelaunchd daemon.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	ListenAddr  string
	MetricsAddr string
	PgDSN       string
	Identity    string
	BufferSize  uint
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
// Precedence is flags over env over file.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CURVELAUNCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8546")
	v.SetDefault("metrics", ":9090")
	v.SetDefault("buffer-size", uint(64))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		ListenAddr:  v.GetString("listen"),
		MetricsAddr: v.GetString("metrics"),
		PgDSN:       v.GetString("pg-dsn"),
		Identity:    v.GetString("identity"),
		BufferSize:  v.GetUint("buffer-size"),
		LogLevel:    v.GetString("log-level"),
	}

	return cfg, nil
}
