package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the chat server runtime parameters.
type Config struct {
	ListenAddress       string        `mapstructure:"listen_address"`
	LogLevel            string        `mapstructure:"log_level"`
	MongoURI            string        `mapstructure:"mongo_uri"`
	MongoDatabase       string        `mapstructure:"mongo_database"`
	RedisAddress        string        `mapstructure:"redis_address"`
	SessionTTL          time.Duration `mapstructure:"session_ttl"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

const (
	defaultListenAddress       = "localhost:9090"
	defaultLogLevel            = "info"
	defaultMongoURI            = "mongodb://localhost:27017"
	defaultMongoDatabase       = "fitchat"
	defaultRedisAddress        = "localhost:6379"
	defaultSessionTTL          = 24 * time.Hour
	defaultShutdownGracePeriod = 10 * time.Second
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with FITCHAT_ and override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FITCHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("mongo_uri", defaultMongoURI)
	v.SetDefault("mongo_database", defaultMongoDatabase)
	v.SetDefault("redis_address", defaultRedisAddress)
	v.SetDefault("session_ttl", defaultSessionTTL.String())
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	for _, d := range []struct {
		key  string
		dst  *time.Duration
		dflt time.Duration
	}{
		{"session_ttl", &cfg.SessionTTL, defaultSessionTTL},
		{"shutdown_grace_period", &cfg.ShutdownGracePeriod, defaultShutdownGracePeriod},
	} {
		if v.IsSet(d.key) {
			dur, err := time.ParseDuration(v.GetString(d.key))
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = dur
		} else {
			*d.dst = d.dflt
		}
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = defaultMongoDatabase
	}

	return cfg, nil
}
