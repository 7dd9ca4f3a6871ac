// Package config loads server configuration from a YAML file and
// environment variables.
package config

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/tradeforge/strategy-engine/pkg/types"
)

// Config is the full configuration tree for the server binary.
type Config struct {
	LogLevel string             `mapstructure:"log_level"`
	Server   types.ServerConfig `mapstructure:"server"`
	Engine   types.EngineConfig `mapstructure:"engine"`
	Data     types.DataConfig   `mapstructure:"data"`
}

// Load reads configuration from the given file (optional) and from the
// environment. Environment variables use the STRATEGYENGINE_ prefix
// with underscores for nesting, e.g. STRATEGYENGINE_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("engine.default_commission", "0.001")
	v.SetDefault("engine.default_risk_free_rate", 0.0)
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.queue_size", 64)
	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.fetcher.enabled", false)
	v.SetDefault("data.fetcher.base_url", "https://api.binance.com")
	v.SetDefault("data.fetcher.request_timeout", 15*time.Second)
	v.SetDefault("data.fetcher.requests_per_sec", 5)
	v.SetDefault("data.fetcher.max_retries", 3)

	v.SetEnvPrefix("STRATEGYENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		decimalDecodeHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decimalDecodeHook converts string and numeric config values into
// decimal.Decimal fields.
func decimalDecodeHook() mapstructure.DecodeHookFunc {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(v)
		case float64:
			return decimal.NewFromFloat(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}
