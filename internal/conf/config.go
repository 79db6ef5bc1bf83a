package conf

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	MongoDB MongoConfig
	Scan    ScanConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port string
}

type MongoConfig struct {
	URI      string
	Database string
}

// ScanConfig tunes the sweep scheduler and the prober.
type ScanConfig struct {
	// Schedule is a cron spec for periodic sweeps.
	Schedule string
	// Concurrency bounds parallel probes within a sweep.
	Concurrency int
	// ProbesPerSecond paces probe launches.
	ProbesPerSecond float64 `mapstructure:"probes_per_second"`
	// ProbeTimeout bounds a single dial+handshake.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	// SweepTimeout bounds a whole sweep.
	SweepTimeout time.Duration `mapstructure:"sweep_timeout"`
}

type LogConfig struct {
	Level string
}

// LoadConfig reads config.yaml from dir (default ./config), with environment
// variables taking precedence over file values. A missing file is not an
// error; defaults cover every key.
func LoadConfig(dir string) (*Config, error) {
	if dir == "" {
		dir = "./config"
	}
	viper.AddConfigPath(dir)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("server.port", ":8080")
	viper.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongodb.database", "certwatch")
	viper.SetDefault("scan.schedule", "@every 12h")
	viper.SetDefault("scan.concurrency", 10)
	viper.SetDefault("scan.probes_per_second", 5.0)
	viper.SetDefault("scan.probe_timeout", 15*time.Second)
	viper.SetDefault("scan.sweep_timeout", 30*time.Minute)
	viper.SetDefault("log.level", "info")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
