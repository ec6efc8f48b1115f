package models

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Collection modes, each served by its own provider endpoint. Forecast data
// is not a mode: forecast rows carry future timestamps, which normalization
// rejects, so a forecast run could never store anything.
const (
	ModeHourly    = "hourly"
	ModeSubHourly = "sub_hourly"
)

type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKeys        []string      `mapstructure:"api_keys"`
	Mode           string        `mapstructure:"mode"`  // hourly (default) or sub_hourly
	Units          string        `mapstructure:"units"` // "M" metric (default) or "I" imperial
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DaysPerRequest int           `mapstructure:"days_per_request"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, sqlite or memory
	DSN    string `mapstructure:"dsn"`
}

type KafkaConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BrokerList string `mapstructure:"broker_list"`
	Topic      string `mapstructure:"topic"`
}

type ArchiveConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Folder       string `mapstructure:"folder"`
	CloudStorage bool   `mapstructure:"cloud_storage"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
}

type Config struct {
	Provider         ProviderConfig `mapstructure:"provider"`
	Locations        []Location     `mapstructure:"locations"`
	PollInterval     time.Duration  `mapstructure:"poll_interval"`
	ConcurrencyLimit int            `mapstructure:"concurrency_limit"`
	OldestDate       time.Time      `mapstructure:"oldest_date"`
	Storage          StorageConfig  `mapstructure:"storage"`
	Kafka            KafkaConfig    `mapstructure:"kafka"`
	Archive          ArchiveConfig  `mapstructure:"archive"`
	CSVFolder        string         `mapstructure:"csv_folder"`
	TrackerPath      string         `mapstructure:"tracker_path"`
	Continuous       bool           `mapstructure:"continuous"`
}

// LoadConfig initializes and reads the configuration using Viper
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Default config location
		viper.AddConfigPath(".")
		viper.SetConfigName("weathermine")
		viper.SetConfigType("json")
	}

	viper.SetEnvPrefix("weathermine")
	viper.AutomaticEnv() // Read in environment variables that match

	viper.SetDefault("provider.base_url", "https://api.weatherbit.io/v2.0")
	viper.SetDefault("provider.mode", ModeHourly)
	viper.SetDefault("provider.units", "M")
	viper.SetDefault("provider.max_attempts", 5)
	viper.SetDefault("provider.base_delay", "1s")
	viper.SetDefault("provider.max_delay", "30s")
	viper.SetDefault("provider.request_timeout", "30s")
	viper.SetDefault("provider.days_per_request", 28)
	viper.SetDefault("poll_interval", "1h")
	viper.SetDefault("concurrency_limit", 4)
	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.dsn", "weathermine.db")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	decoderConfigOption := viper.DecoderConfigOption(func(config *mapstructure.DecoderConfig) {
		config.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			config.DecodeHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToTimeDurationHookFunc(),
		)
	})
	if err := viper.Unmarshal(&config, decoderConfigOption); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}

	// Each mode backfills at its own pace, so checkpoints are kept apart.
	if config.TrackerPath == "" {
		config.TrackerPath = fmt.Sprintf("tracker/date_tracker_%s.json", config.Provider.Mode)
	}

	return &config, nil
}

// Validate checks what a collection run cannot proceed without. Any problem
// is reported as a ConfigInvalid pipeline error.
func (cfg *Config) Validate() error {
	var problems []string
	if cfg.Provider.BaseURL == "" {
		problems = append(problems, "provider.base_url is required")
	}
	if len(cfg.Provider.APIKeys) == 0 {
		problems = append(problems, "provider.api_keys must list at least one key")
	}
	if cfg.Provider.MaxAttempts < 1 {
		problems = append(problems, "provider.max_attempts must be at least 1")
	}
	switch cfg.Provider.Mode {
	case "", ModeHourly, ModeSubHourly:
	default:
		problems = append(problems, fmt.Sprintf("unknown provider mode %q", cfg.Provider.Mode))
	}
	if cfg.ConcurrencyLimit < 1 {
		problems = append(problems, "concurrency_limit must be at least 1")
	}
	if len(cfg.Locations) == 0 {
		problems = append(problems, "at least one location is required")
	}
	for _, loc := range cfg.Locations {
		if err := loc.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	switch cfg.Storage.Driver {
	case "postgres", "sqlite", "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown storage driver %q", cfg.Storage.Driver))
	}
	if len(problems) > 0 {
		return NewPipelineError(PipelineConfigInvalid,
			fmt.Errorf("%d problem(s): %v", len(problems), problems))
	}
	return nil
}

// ChunkSize returns the per-request window size used to page long backfills.
func (cfg *Config) ChunkSize() time.Duration {
	days := cfg.Provider.DaysPerRequest
	if days < 1 {
		days = 28
	}
	return time.Duration(days) * 24 * time.Hour
}
