package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppPort           int    `mapstructure:"APP_PORT"`
	DatabasePath      string `mapstructure:"DATABASE_PATH"`
	RepositoryBackend string `mapstructure:"REPOSITORY_BACKEND"`
	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	GeneratorURL      string `mapstructure:"GENERATOR_URL"`
	GeneratorModel    string `mapstructure:"GENERATOR_MODEL"`
	TitleModel        string `mapstructure:"TITLE_MODEL"`
	HistoryWindow     int    `mapstructure:"HISTORY_WINDOW"`
	CancelFlushWaitMS int    `mapstructure:"CANCEL_FLUSH_WAIT_MS"`
	CancelGraceMS     int    `mapstructure:"CANCEL_GRACE_MS"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("APP_PORT", 8000)
	viper.SetDefault("DATABASE_PATH", "/data/sessions.db")
	viper.SetDefault("REPOSITORY_BACKEND", "sqlite")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("GENERATOR_URL", "http://generator:11434")
	viper.SetDefault("GENERATOR_MODEL", "")
	viper.SetDefault("TITLE_MODEL", "")
	viper.SetDefault("HISTORY_WINDOW", 10)
	// The flush wait bounds how long a canceled job waits for the backend to
	// flush its terminal telemetry block; the grace value is the point of no
	// return where the stream is severed outright.
	viper.SetDefault("CANCEL_FLUSH_WAIT_MS", 700)
	viper.SetDefault("CANCEL_GRACE_MS", 1000)
	viper.SetDefault("LOG_LEVEL", "INFO")

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./backend")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

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

// CancelFlushWait is the bounded wait for a server-flushed telemetry block
// after a cancellation request.
func (c *Config) CancelFlushWait() time.Duration {
	return time.Duration(c.CancelFlushWaitMS) * time.Millisecond
}

// CancelGrace is the total grace period before the stream is hard-aborted.
func (c *Config) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceMS) * time.Millisecond
}
