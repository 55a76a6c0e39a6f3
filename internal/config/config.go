package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/wheelibin/sets/internal/constants"
)

type Config struct {
	ListenAddress string        `json:"listenAddress"`
	DatabasePath  string        `json:"databasePath"`
	TickInterval  time.Duration `json:"tickInterval"`
	LogLevel      string        `json:"logLevel"`
	// when set, logs go to this file with rotation instead of stderr
	LogFile string `json:"logFile"`
	// bearer token required for the owner-only configuration routes,
	// empty disables the check
	OwnerToken string `json:"ownerToken"`
}

func ReadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath("/etc/setsd/")
	viper.AddConfigPath("$HOME/.config/setsd/")
	viper.AddConfigPath(".")

	viper.SetDefault("listenAddress", ":8196")
	viper.SetDefault("databasePath", "setsd.db")
	viper.SetDefault("tickInterval", constants.TickInterval)
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logFile", "")
	viper.SetDefault("ownerToken", "")

	if err := viper.ReadInConfig(); err != nil {
		// a missing config file is fine, the defaults cover it
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := Config{
		ListenAddress: viper.GetString("listenAddress"),
		DatabasePath:  viper.GetString("databasePath"),
		TickInterval:  viper.GetDuration("tickInterval"),
		LogLevel:      viper.GetString("logLevel"),
		LogFile:       viper.GetString("logFile"),
		OwnerToken:    viper.GetString("ownerToken"),
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = constants.TickInterval
	}

	return &cfg, nil
}
