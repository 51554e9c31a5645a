package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

// PagestoreConfig is the recognized configuration surface: the database
// file path and the frame cache capacity.
type PagestoreConfig struct {
	Storage struct {
		File      string `mapstructure:"file"`
		MaxFrames int    `mapstructure:"max_frames"`
	} `mapstructure:"storage"`
}

func LoadConfig(path string) (*PagestoreConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("storage.max_frames", 128)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg PagestoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Storage.File == "" {
		return nil, fmt.Errorf("config: storage.file is required")
	}
	if cfg.Storage.MaxFrames < 1 {
		return nil, fmt.Errorf("config: storage.max_frames must be >= 1, got %d", cfg.Storage.MaxFrames)
	}

	return &cfg, nil
}
