package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"stockadvisor/internal/logging"
	"stockadvisor/internal/market"
	"stockadvisor/internal/pricecheck"
	"stockadvisor/internal/provider"
	"stockadvisor/internal/provider/catalog"
	"stockadvisor/internal/resolver"
	"stockadvisor/internal/symbol"
)

type Server struct {
	Port            string        `mapstructure:"port" validate:"required,numeric"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// MaxBatch caps symbols per batch request.
	MaxBatch int `mapstructure:"max_batch" validate:"gt=0,lte=500"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix"`
}

type Cache struct {
	Backend    string        `mapstructure:"backend" validate:"oneof=memory redis"`
	TTL        time.Duration `mapstructure:"ttl" validate:"gt=0"`
	IndicesTTL time.Duration `mapstructure:"indices_ttl" validate:"gt=0"`
	MaxItems   int           `mapstructure:"max_items" validate:"gte=0"`
	Redis      Redis         `mapstructure:"redis"`
}

type Engine struct {
	RetrySources     int           `mapstructure:"retry_sources" validate:"gte=0,lte=10"`
	RetryInitial     time.Duration `mapstructure:"retry_initial" validate:"gt=0"`
	RetryMultiplier  float64       `mapstructure:"retry_multiplier" validate:"gte=1"`
	RetryMax         time.Duration `mapstructure:"retry_max" validate:"gtefield=RetryInitial"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
	BatchConcurrency int           `mapstructure:"batch_concurrency" validate:"gt=0"`
	UserAgent        string        `mapstructure:"user_agent"`
	SessionTTL       time.Duration `mapstructure:"session_ttl" validate:"gt=0"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
}

type Bounds struct {
	Min float64 `mapstructure:"min" validate:"gt=0"`
	Max float64 `mapstructure:"max" validate:"gtfield=Min"`
}

type Validation struct {
	Min       float64           `mapstructure:"min" validate:"gt=0"`
	Max       float64           `mapstructure:"max" validate:"gtfield=Min"`
	BandRatio float64           `mapstructure:"band_ratio" validate:"gte=0"`
	Overrides map[string]Bounds `mapstructure:"overrides" validate:"dive"`
}

type Fallback struct {
	SeedFile string `mapstructure:"seed_file"`
}

type Market struct {
	Holidays []string      `mapstructure:"holidays" validate:"dive,datetime=2006-01-02"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// MaxPerMinute applies to each index source.
	MaxPerMinute int `mapstructure:"max_per_minute" validate:"gte=0"`
}

type Kafka struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic" validate:"required_if=Enabled true"`
	GroupID  string   `mapstructure:"group_id"`
	ClientID string   `mapstructure:"client_id"`
}

type Config struct {
	Server     Server                      `mapstructure:"server"`
	Logging    logging.Config              `mapstructure:"logging"`
	Cache      Cache                       `mapstructure:"cache"`
	Engine     Engine                      `mapstructure:"engine"`
	Sources    map[string]catalog.Settings `mapstructure:"sources" validate:"dive"`
	Validation Validation                  `mapstructure:"validation"`
	Fallback   Fallback                    `mapstructure:"fallback"`
	Market     Market                      `mapstructure:"market"`
	Kafka      Kafka                       `mapstructure:"kafka"`
}

// envAliases binds short, conventional variable names in addition to the
// automatic SECTION_KEY form.
var envAliases = map[string][]string{
	"server.port":                   {"PORT"},
	"logging.level":                 {"LOG_LEVEL"},
	"sources.alpha_vantage.api_key": {"ALPHA_VANTAGE_API_KEY"},
	"sources.twelve_data.api_key":   {"TWELVE_DATA_API_KEY"},
	"sources.finnhub.api_key":       {"FINNHUB_API_KEY"},
	"cache.redis.addr":              {"REDIS_ADDR", "REDIS_URL"},
	"kafka.brokers":                 {"KAFKA_BROKERS"},
	"fallback.seed_file":            {"FALLBACK_SEED_FILE"},
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_batch", 100)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", false)

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.indices_ttl", 5*time.Minute)
	v.SetDefault("cache.max_items", 10000)
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "advisor")

	// Engine defaults
	eo := resolver.DefaultOptions()
	v.SetDefault("engine.retry_sources", eo.RetrySources)
	v.SetDefault("engine.retry_initial", eo.RetryInitial)
	v.SetDefault("engine.retry_multiplier", eo.RetryMultiplier)
	v.SetDefault("engine.retry_max", eo.RetryMax)
	v.SetDefault("engine.fetch_timeout", eo.FetchTimeout)
	v.SetDefault("engine.batch_concurrency", eo.BatchConcurrency)
	v.SetDefault("engine.user_agent", "")
	v.SetDefault("engine.session_ttl", 5*time.Minute)
	v.SetDefault("engine.http_timeout", 15*time.Second)

	// Source defaults, one key per field so env overrides resolve
	for id, s := range catalog.DefaultSettings() {
		p := "sources." + string(id) + "."
		v.SetDefault(p+"enabled", s.Enabled)
		v.SetDefault(p+"api_key", s.APIKey)
		v.SetDefault(p+"max_per_minute", s.MaxPerMinute)
		v.SetDefault(p+"max_per_day", s.MaxPerDay)
		v.SetDefault(p+"min_interval", s.MinInterval)
		v.SetDefault(p+"timeout", s.Timeout)
		v.SetDefault(p+"base_url", s.BaseURL)
	}

	// Validation defaults
	v.SetDefault("validation.min", pricecheck.DefaultGlobal.Min.InexactFloat64())
	v.SetDefault("validation.max", pricecheck.DefaultGlobal.Max.InexactFloat64())
	v.SetDefault("validation.band_ratio", 0.0)

	v.SetDefault("fallback.seed_file", "")

	v.SetDefault("market.holidays", []string{})
	v.SetDefault("market.timeout", 10*time.Second)
	v.SetDefault("market.max_per_minute", 30)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "advisor.fallback-prices")
	v.SetDefault("kafka.group_id", "stockadvisor")
	v.SetDefault("kafka.client_id", "stockadvisor")
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key}, names...)
		args = append(args, strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return v, nil
}

// Default returns the built-in configuration with no file or environment
// applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return &cfg
}

// Load reads configuration from path, or from $CONFIG_FILE, or from
// config.{yaml,json} in the working directory, then applies environment
// overrides and validates. A missing implicit file is not an error; a
// missing explicit one is.
func Load(path string) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = splitCSV(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return errors.New("invalid config: cache.redis.addr is required for the redis backend")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("invalid config: kafka.brokers is required when kafka is enabled")
	}
	return nil
}

// SourceSettings returns per-source settings keyed by source id.
func (c *Config) SourceSettings() map[provider.SourceID]catalog.Settings {
	out := catalog.DefaultSettings()
	for id, s := range c.Sources {
		out[provider.SourceID(id)] = s
	}
	return out
}

// EngineOptions maps the engine section to resolver options.
func (c *Config) EngineOptions() resolver.Options {
	return resolver.Options{
		CacheTTL:         c.Cache.TTL,
		RetrySources:     orDisabled(c.Engine.RetrySources),
		RetryInitial:     c.Engine.RetryInitial,
		RetryMultiplier:  c.Engine.RetryMultiplier,
		RetryMax:         c.Engine.RetryMax,
		FetchTimeout:     c.Engine.FetchTimeout,
		BatchConcurrency: c.Engine.BatchConcurrency,
	}
}

// orDisabled maps a configured 0 to the resolver's "no retry pass" value.
func orDisabled(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// Validator builds the price validator: configured global range, built-in
// overrides with configured ones merged over them.
func (c *Config) Validator() *pricecheck.Validator {
	v := pricecheck.New()
	v.Global = pricecheck.Bounds{
		Min: decimal.NewFromFloat(c.Validation.Min),
		Max: decimal.NewFromFloat(c.Validation.Max),
	}
	for k, b := range c.Validation.Overrides {
		base, _ := symbol.Split(symbol.Normalize(k))
		v.Overrides[base] = pricecheck.Bounds{Min: decimal.NewFromFloat(b.Min), Max: decimal.NewFromFloat(b.Max)}
	}
	v.BandRatio = c.Validation.BandRatio
	return v
}

// Hours returns the trading session with configured holidays.
func (c *Config) Hours() market.Hours {
	h := market.DefaultHours()
	h.Holidays = market.HolidaySet(c.Market.Holidays)
	return h
}

func splitCSV(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
