package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/market-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Lotus      LotusConfig      `yaml:"lotus" mapstructure:"lotus"`
	Reputation HTTPSourceConfig `yaml:"reputation" mapstructure:"reputation"`
	Indexer    HTTPSourceConfig `yaml:"indexer" mapstructure:"indexer"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Seed       SeedConfig       `yaml:"seed" mapstructure:"seed"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the durable cache backend.
type StoreConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	MemoryEntries int    `yaml:"memory_entries" mapstructure:"memory_entries"`
	MaxConns      int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns      int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RefreshConfig configures the refresh loop of one source.
type RefreshConfig struct {
	Enabled       bool `yaml:"enabled" mapstructure:"enabled"`
	TTLMins       int  `yaml:"ttl_mins" mapstructure:"ttl_mins"`
	BatchSize     int  `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency   int  `yaml:"concurrency" mapstructure:"concurrency"`
	IntervalMs    int  `yaml:"interval_ms" mapstructure:"interval_ms"`
	MaxIntervalMs int  `yaml:"max_interval_ms" mapstructure:"max_interval_ms"`
}

// TTL returns the refresh TTL.
func (c RefreshConfig) TTL() time.Duration { return time.Duration(c.TTLMins) * time.Minute }

// Interval returns the shortest idle sleep.
func (c RefreshConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// MaxInterval returns the longest idle sleep.
func (c RefreshConfig) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalMs) * time.Millisecond
}

// SourcesConfig holds one RefreshConfig per enrichment source.
type SourcesConfig struct {
	Ask        RefreshConfig `yaml:"ask" mapstructure:"ask"`
	Power      RefreshConfig `yaml:"power" mapstructure:"power"`
	Reputation RefreshConfig `yaml:"reputation" mapstructure:"reputation"`
	Index      RefreshConfig `yaml:"index" mapstructure:"index"`
}

// For returns the settings of src.
func (s SourcesConfig) For(src model.Source) RefreshConfig {
	switch src {
	case model.SourceAsk:
		return s.Ask
	case model.SourcePower:
		return s.Power
	case model.SourceReputation:
		return s.Reputation
	default:
		return s.Index
	}
}

// LotusConfig points at the chain-state JSON-RPC endpoints.
type LotusConfig struct {
	PrimaryURL  string `yaml:"primary_url" mapstructure:"primary_url"`
	FallbackURL string `yaml:"fallback_url" mapstructure:"fallback_url"`
	Token       string `yaml:"token" mapstructure:"token"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// HTTPSourceConfig configures an HTTP enrichment API.
type HTTPSourceConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	FallbackURL string  `yaml:"fallback_url" mapstructure:"fallback_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
}

// ResilienceConfig configures circuit breakers and download retries.
type ResilienceConfig struct {
	BreakerThreshold  int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	RetryAttempts     int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs    int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs int `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
}

// SeedConfig lists the static inputs of the initial load.
type SeedConfig struct {
	AnnotationsURL string   `yaml:"annotations_url" mapstructure:"annotations_url"`
	RetrievalsURL  string   `yaml:"retrievals_url" mapstructure:"retrievals_url"`
	MinerListURLs  []string `yaml:"miner_list_urls" mapstructure:"miner_list_urls"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	ViewsFile   string   `yaml:"views_file" mapstructure:"views_file"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StallAfterSecs       int     `yaml:"stall_after_secs" mapstructure:"stall_after_secs"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml, if present, and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// looks for an optional config.yaml in the working directory; an explicit
// path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "serve", "select" and "cache".
func (c *Config) Validate(mode string) error {
	var errs error
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = multierr.Append(errs, eris.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = multierr.Append(errs, eris.New("store.database_url is required for postgres"))
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = multierr.Append(errs, eris.New("server.port must be > 0"))
		}
		if c.Lotus.PrimaryURL == "" {
			errs = multierr.Append(errs, eris.New("lotus.primary_url is required"))
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = multierr.Append(errs, eris.New("monitoring.failure_rate_threshold must be between 0 and 1"))
		}
		fallthrough
	case "select":
		for _, src := range model.AllSources {
			rc := c.Sources.For(src)
			if !rc.Enabled {
				continue
			}
			if rc.TTLMins <= 0 {
				errs = multierr.Append(errs, eris.Errorf("sources.%s.ttl_mins must be > 0", src))
			}
			if rc.BatchSize < 1 {
				errs = multierr.Append(errs, eris.Errorf("sources.%s.batch_size must be >= 1", src))
			}
			if rc.Concurrency < 1 || rc.Concurrency > 100 {
				errs = multierr.Append(errs, eris.Errorf("sources.%s.concurrency must be between 1 and 100", src))
			}
		}
	case "cache":
	default:
		errs = multierr.Append(errs, eris.Errorf("unknown mode %q", mode))
	}
	return errs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "market-cache.db")
	v.SetDefault("store.memory_entries", 4096)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.views_file", "views.yaml")
	v.SetDefault("server.cors_origins", []string{"*"})

	ttls := map[model.Source]int{
		model.SourceAsk:        30,
		model.SourcePower:      60,
		model.SourceReputation: 360,
		model.SourceIndex:      120,
	}
	for src, ttl := range ttls {
		prefix := "sources." + string(src) + "."
		v.SetDefault(prefix+"enabled", true)
		v.SetDefault(prefix+"ttl_mins", ttl)
		v.SetDefault(prefix+"batch_size", 5)
		v.SetDefault(prefix+"concurrency", 5)
		v.SetDefault(prefix+"interval_ms", 500)
		v.SetDefault(prefix+"max_interval_ms", 1000)
	}

	v.SetDefault("lotus.primary_url", "https://api.node.glif.io/rpc/v1")
	v.SetDefault("lotus.fallback_url", "https://api.chain.love/rpc/v1")
	v.SetDefault("lotus.timeout_secs", 10)
	v.SetDefault("reputation.base_url", "https://api.filrep.io/api/v1")
	v.SetDefault("reputation.timeout_secs", 10)
	v.SetDefault("reputation.rate_limit", 5.0)
	v.SetDefault("reputation.burst", 5)
	v.SetDefault("indexer.base_url", "https://cid.contact")
	v.SetDefault("indexer.timeout_secs", 10)
	v.SetDefault("indexer.rate_limit", 10.0)
	v.SetDefault("indexer.burst", 10)

	v.SetDefault("resilience.breaker_threshold", 5)
	v.SetDefault("resilience.breaker_reset_secs", 30)
	v.SetDefault("resilience.retry_attempts", 3)
	v.SetDefault("resilience.retry_backoff_ms", 500)
	v.SetDefault("resilience.retry_max_backoff_ms", 10000)

	v.SetDefault("seed.annotations_url",
		"https://raw.githubusercontent.com/jimpick/workshop-client-testnet/spacerace/src/annotations-spacerace-slingshot-medium.json")
	v.SetDefault("seed.retrievals_url",
		"https://raw.githubusercontent.com/jimpick/filecoin-wiki-test/master/wiki-small-blocks-combined-128/retrievals/retrieval-success-miners.json")
	v.SetDefault("seed.timeout_secs", 30)

	v.SetDefault("monitoring.check_interval_secs", 60)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.stall_after_secs", 120)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
