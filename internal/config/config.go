package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// Config is the outboxd daemon configuration.
type Config struct {
	Log     LogConfig      `mapstructure:"log"`
	MySQL   DatabaseConfig `mapstructure:"mysql"`
	Crawler CrawlerConfig  `mapstructure:"crawler"`
	Sweeper SweeperConfig  `mapstructure:"sweeper"`
	Pruner  PrunerConfig   `mapstructure:"pruner"`
	Kafka   KafkaConfig    `mapstructure:"kafka"`
	Topics  []TopicConfig  `mapstructure:"topics"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type CrawlerConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	RetryBatchSize    int           `mapstructure:"retry_batch_size"`
	SubscriberTimeout time.Duration `mapstructure:"subscriber_timeout"`
}

type SweeperConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	ClaimTimeout time.Duration `mapstructure:"claim_timeout"`
}

type PrunerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
}

type KafkaConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	BootstrapServers string `mapstructure:"bootstrap_servers"`
	Topic            string `mapstructure:"topic"`
	SubscriptionID   string `mapstructure:"subscription_id"`
}

// TopicConfig declares one member of the closed topic set. Quarantine-eligible
// topics park events permanently on delivery failure.
type TopicConfig struct {
	Name       string `mapstructure:"name"`
	Quarantine bool   `mapstructure:"quarantine"`
}

// Load reads the embedded defaults, merges the user YAML file if provided,
// and applies environment overrides (OUTBOXD_*).
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("OUTBOXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
