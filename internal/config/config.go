package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"eventWatch/internal/model"
)

// ErrInvalid is returned when the merged configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix is the prefix for environment overrides, e.g. EVENTWATCH_RPC.
const EnvPrefix = "EVENTWATCH"

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Contract         string        `validate:"required,eth_addr"`
	Event            string        `validate:"required"`
	AvgBlockSeconds  uint64        `validate:"gt=0"`
	LookbackSeconds  uint64
	Storage          string        `validate:"required"`
	RPCURL           string        `validate:"required,url"`
	ABIPath          string
	Interval         time.Duration `validate:"gt=0"`
	Once             bool
	BatchSize        uint64        `validate:"gt=0"`
	MaxRetries       int           `validate:"gte=0"`
	RetryBackoff     time.Duration `validate:"gte=0"`
	RPCHTTPRetries   int           `validate:"gte=0"`
	TimestampWorkers int           `validate:"gte=1"`
	RedisPrefix      string
	MetricsAddr      string        `validate:"omitempty,hostname_port"`
	LogLevel         string        `validate:"oneof=debug info warn error"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load merges config file, environment variables, and flags into Config and validates it.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("event", model.EventTokensBought)
	v.SetDefault("avg-block-seconds", uint64(2))
	v.SetDefault("lookback-seconds", uint64(86400))
	v.SetDefault("storage", "./data/events.jsonl")
	v.SetDefault("interval", 60*time.Second)
	v.SetDefault("once", false)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("rpc-http-retries", 2)
	v.SetDefault("timestamp-workers", 4)
	v.SetDefault("redis-prefix", "eventwatch")
	v.SetDefault("metrics-addr", "")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Contract:         strings.TrimSpace(v.GetString("contract")),
		Event:            strings.TrimSpace(v.GetString("event")),
		AvgBlockSeconds:  v.GetUint64("avg-block-seconds"),
		LookbackSeconds:  v.GetUint64("lookback-seconds"),
		Storage:          strings.TrimSpace(v.GetString("storage")),
		RPCURL:           strings.TrimSpace(v.GetString("rpc")),
		ABIPath:          v.GetString("abi"),
		Interval:         v.GetDuration("interval"),
		Once:             v.GetBool("once"),
		BatchSize:        v.GetUint64("batch-size"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		RPCHTTPRetries:   v.GetInt("rpc-http-retries"),
		TimestampWorkers: v.GetInt("timestamp-workers"),
		RedisPrefix:      v.GetString("redis-prefix"),
		MetricsAddr:      v.GetString("metrics-addr"),
		LogLevel:         strings.ToLower(v.GetString("log-level")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints. Every failure is reported, joined under ErrInvalid.
func (c Config) Validate() error {
	errs := []error{}

	var fieldErrs validator.ValidationErrors
	if err := validate.Struct(c); err != nil {
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fmt.Errorf("%s: value %q fails %q", fe.Field(), fmt.Sprint(fe.Value()), fe.Tag()))
		}
	}

	if c.Event != "" && !model.SupportedEvent(c.Event) {
		errs = append(errs, fmt.Errorf("event: unsupported event %q", c.Event))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalid}, errs...)...)
}
