package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

type config struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	UpstreamURL string        `mapstructure:"upstream_url"`
	LogLevel    string        `mapstructure:"log_level"`
	AdminToken  string        `mapstructure:"admin_token"`
	SkipToken   string        `mapstructure:"skip_token"`
	PresetsFile string        `mapstructure:"presets_file"`
	SweepEvery  time.Duration `mapstructure:"sweep_every"`

	RateEnabled   bool   `mapstructure:"rate_enabled"`
	RatePreset    string `mapstructure:"rate_preset"`
	RateKeyHeader string `mapstructure:"rate_key_header"`
	TrustXFF      bool   `mapstructure:"trust_xff"`

	ConcurrencyMax     int           `mapstructure:"concurrency_max"`
	ConcurrencyTimeout time.Duration `mapstructure:"concurrency_timeout"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`

	RateStatsEnabled       bool          `mapstructure:"rate_stats_enabled"`
	RateStatsRedisAddr     string        `mapstructure:"rate_stats_redis_addr"`
	RateStatsRedisPassword string        `mapstructure:"rate_stats_redis_password"`
	RateStatsRedisDB       int           `mapstructure:"rate_stats_redis_db"`
	RateStatsPrefix        string        `mapstructure:"rate_stats_prefix"`
	RateStatsTTL           time.Duration `mapstructure:"rate_stats_ttl"`
	RateStatsBucket        string        `mapstructure:"rate_stats_bucket"`
	RateStatsTrackKeys     bool          `mapstructure:"rate_stats_track_keys"`

	Routes []routeConfig `mapstructure:"routes"`
}

// routeConfig binds a path prefix to a preset. Only read from the config file.
type routeConfig struct {
	Prefix    string `mapstructure:"prefix"`
	Preset    string `mapstructure:"preset"`
	KeyHeader string `mapstructure:"keyHeader"`
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("upstream_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("admin_token", "")
	v.SetDefault("skip_token", "")
	v.SetDefault("presets_file", "")
	v.SetDefault("sweep_every", 2*time.Minute)

	v.SetDefault("rate_enabled", true)
	v.SetDefault("rate_preset", "standard")
	v.SetDefault("rate_key_header", "")
	v.SetDefault("trust_xff", false)

	v.SetDefault("concurrency_max", 100)
	v.SetDefault("concurrency_timeout", time.Duration(0))

	v.SetDefault("metrics_enabled", true)

	v.SetDefault("rate_stats_enabled", false)
	v.SetDefault("rate_stats_redis_addr", "")
	v.SetDefault("rate_stats_redis_password", "")
	v.SetDefault("rate_stats_redis_db", 0)
	v.SetDefault("rate_stats_prefix", "admission:stats")
	v.SetDefault("rate_stats_ttl", 24*time.Hour)
	v.SetDefault("rate_stats_bucket", "minute")
	v.SetDefault("rate_stats_track_keys", false)

	// LISTEN_ADDR, UPSTREAM_URL, RATE_PRESET...
	v.AutomaticEnv()
	return v
}

func loadConfig(v *viper.Viper, file string) (config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	if u, err := url.Parse(c.UpstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid UPSTREAM_URL %q", c.UpstreamURL)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if c.RateStatsEnabled && strings.TrimSpace(c.RateStatsRedisAddr) == "" {
		return errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if c.ConcurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if c.RateEnabled && strings.TrimSpace(c.RatePreset) == "" {
		return errors.New("RATE_PRESET is required when RATE_ENABLED=true")
	}

	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		p := strings.TrimSuffix(r.Prefix, "/")
		switch {
		case !strings.HasPrefix(r.Prefix, "/"):
			return fmt.Errorf("routes[%d]: prefix %q must start with /", i, r.Prefix)
		case p == "":
			return fmt.Errorf("routes[%d]: use RATE_PRESET for the root route", i)
		case strings.ContainsAny(p, "{}*"):
			return fmt.Errorf("routes[%d]: prefix %q must be a literal path", i, r.Prefix)
		case strings.TrimSpace(r.Preset) == "":
			return fmt.Errorf("routes[%d]: preset is required", i)
		case seen[p]:
			return fmt.Errorf("routes[%d]: duplicate prefix %q", i, r.Prefix)
		}
		seen[p] = true
	}
	return nil
}
