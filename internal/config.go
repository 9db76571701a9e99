package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		PageSize        int   `mapstructure:"page_size"`
		SyncWrites      bool  `mapstructure:"sync_writes"`
		CheckpointBytes int64 `mapstructure:"checkpoint_bytes"`
	} `mapstructure:"storage"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// LoadConfig reads the YAML config at path; an empty path yields defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("app_name", "gridbase")
	v.SetDefault("storage.page_size", 4096)
	v.SetDefault("storage.sync_writes", true)
	v.SetDefault("storage.checkpoint_bytes", 4<<20)
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
