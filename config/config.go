package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	PandocBin        string        `mapstructure:"PANDOC_BIN"`
	PandocArgs       string        `mapstructure:"PANDOC_ARGS"`
	ConvertTimeout   time.Duration `mapstructure:"CONVERT_TIMEOUT"`
	DataRoot         string        `mapstructure:"DATA_ROOT"`
	DBPath           string        `mapstructure:"DB_PATH"`
	MaxInputSize     int64         `mapstructure:"MAX_INPUT_SIZE"`
	MaxConcurrency   int           `mapstructure:"MAX_CONCURRENCY"`
	AutoDispatch     bool          `mapstructure:"AUTO_DISPATCH"`
	PollInterval     time.Duration `mapstructure:"POLL_INTERVAL"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	Port             string        `mapstructure:"PORT"`
	BaseURL          string        `mapstructure:"BASE"`
}

// stringToDurationHookFunc lets duration settings be written as Go duration
// strings ("60s", "1m30s") in both YAML and environment variables.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc lets size settings be written as human-readable
// strings ("20MB", "1GB").
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a size string, let other parsers handle it.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Defaults are strings where a decode hook handles them.
	vp.SetDefault("PANDOC_BIN", "pandoc")
	vp.SetDefault("PANDOC_ARGS", "")
	vp.SetDefault("CONVERT_TIMEOUT", "60s")
	vp.SetDefault("DATA_ROOT", "")
	vp.SetDefault("DB_PATH", "")
	vp.SetDefault("MAX_INPUT_SIZE", "20MB")
	vp.SetDefault("MAX_CONCURRENCY", 4)
	vp.SetDefault("AUTO_DISPATCH", true)
	vp.SetDefault("POLL_INTERVAL", "5s")
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")

	vp.SetConfigName("docconvert_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/docconvert/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("DOCCONVERT")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
