package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/logging"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/scoring"
)

// EnvPrefix prefixes every environment override, e.g. CORRIDORWATCH_DATABASE_DSN.
const EnvPrefix = "CORRIDORWATCH"

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Horizon     HorizonConfig     `mapstructure:"horizon"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Contract    ContractConfig    `mapstructure:"contract"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Shutdown    ShutdownConfig    `mapstructure:"shutdown"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN runs
// the pipeline on the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig selects the read-through cache. An empty RedisURL uses an
// in-process cache.
type CacheConfig struct {
	RedisURL  string        `mapstructure:"redis_url"`
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// HorizonConfig covers ledger data access.
type HorizonConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PageLimit      int           `mapstructure:"page_limit"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// RateLimitConfig is shared by every outbound RPC client.
type RateLimitConfig struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	QueueSize         int           `mapstructure:"queue_size"`
	MaxRetryAfter     time.Duration `mapstructure:"max_retry_after"`
}

// AggregationConfig tunes the hourly engine.
type AggregationConfig struct {
	MaxHoursPerRun    int               `mapstructure:"max_hours_per_run"`
	MaxRetries        int               `mapstructure:"max_retries"`
	RetryBackoff      time.Duration     `mapstructure:"retry_backoff"`
	MaxBackoff        time.Duration     `mapstructure:"max_backoff"`
	StartHour         string            `mapstructure:"start_hour"`
	LockKey           int64             `mapstructure:"lock_key"`
	LiquiditySampling bool              `mapstructure:"liquidity_sampling"`
	DepthConcurrency  int               `mapstructure:"depth_concurrency"`
	DepthLevels       int               `mapstructure:"depth_levels"`
	USDPrices         map[string]string `mapstructure:"usd_prices"`
}

// ScoringConfig weights the reliability score.
type ScoringConfig struct {
	SuccessWeight      float64 `mapstructure:"success_weight"`
	VolumeWeight       float64 `mapstructure:"volume_weight"`
	SpeedWeight        float64 `mapstructure:"speed_weight"`
	DiversityWeight    float64 `mapstructure:"diversity_weight"`
	VolumeReferenceUSD float64 `mapstructure:"volume_reference_usd"`
	LatencyTargetMs    float64 `mapstructure:"latency_target_ms"`
	DiversityReference int     `mapstructure:"diversity_reference"`
}

// SnapshotConfig governs snapshot epochs.
type SnapshotConfig struct {
	Window        time.Duration `mapstructure:"window"`
	SchemaVersion int           `mapstructure:"schema_version"`
	Interval      time.Duration `mapstructure:"interval"`
	Submit        bool          `mapstructure:"submit"`
	LockKey       int64         `mapstructure:"lock_key"`
}

// ContractConfig configures the Soroban attestation contract. An empty
// ContractID disables submission.
type ContractConfig struct {
	RPCURL            string        `mapstructure:"rpc_url"`
	ContractID        string        `mapstructure:"contract_id"`
	NetworkPassphrase string        `mapstructure:"network_passphrase"`
	SecretKey         string        `mapstructure:"secret_key"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	BaseFee           int64         `mapstructure:"base_fee"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// SchedulerConfig governs cadence alignment.
type SchedulerConfig struct {
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// ShutdownConfig bounds in-flight work after a stop signal.
type ShutdownConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Slack    SlackConfig    `mapstructure:"slack"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// SlackConfig describes the Slack channel.
type SlackConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	Channel string `mapstructure:"channel"`
	APIURL  string `mapstructure:"api_url"`
}

// MetricsConfig exposes Prometheus metrics. An empty address disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "corridorwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.key_prefix", "corridorwatch:")

	v.SetDefault("horizon.url", "https://horizon.stellar.org")
	v.SetDefault("horizon.request_timeout", "15s")
	v.SetDefault("horizon.page_limit", 200)
	v.SetDefault("horizon.user_agent", "")

	v.SetDefault("rate_limit.requests_per_minute", 300)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.queue_size", 50)
	v.SetDefault("rate_limit.max_retry_after", "60s")

	v.SetDefault("aggregation.max_hours_per_run", 24)
	v.SetDefault("aggregation.max_retries", 3)
	v.SetDefault("aggregation.retry_backoff", "2s")
	v.SetDefault("aggregation.max_backoff", "1m")
	v.SetDefault("aggregation.start_hour", "")
	v.SetDefault("aggregation.lock_key", int64(0x636f7272))
	v.SetDefault("aggregation.liquidity_sampling", false)
	v.SetDefault("aggregation.depth_concurrency", 4)
	v.SetDefault("aggregation.depth_levels", 20)

	weights := scoring.DefaultWeights()
	params := scoring.DefaultParams()
	v.SetDefault("scoring.success_weight", weights.SuccessRate)
	v.SetDefault("scoring.volume_weight", weights.Volume)
	v.SetDefault("scoring.speed_weight", weights.Speed)
	v.SetDefault("scoring.diversity_weight", weights.Diversity)
	v.SetDefault("scoring.volume_reference_usd", params.VolumeReferenceUSD)
	v.SetDefault("scoring.latency_target_ms", params.LatencyTargetMs)
	v.SetDefault("scoring.diversity_reference", params.DiversityReference)

	v.SetDefault("snapshot.window", "24h")
	v.SetDefault("snapshot.schema_version", 1)
	v.SetDefault("snapshot.interval", "1h")
	v.SetDefault("snapshot.submit", true)
	v.SetDefault("snapshot.lock_key", int64(0x736e6170)<<16)

	v.SetDefault("contract.rpc_url", "https://soroban-testnet.stellar.org")
	v.SetDefault("contract.network_passphrase", "Test SDF Network ; September 2015")
	v.SetDefault("contract.max_attempts", 5)
	v.SetDefault("contract.initial_backoff", "1s")
	v.SetDefault("contract.max_backoff", "30s")
	v.SetDefault("contract.poll_interval", "2s")
	v.SetDefault("contract.poll_timeout", "60s")
	v.SetDefault("contract.base_fee", 100)
	v.SetDefault("contract.request_timeout", "30s")

	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("shutdown.grace_period", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.slack.enabled", false)

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("export.max_rows", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Weights returns the configured scoring weights.
func (c *Config) Weights() scoring.Weights {
	return scoring.Weights{
		SuccessRate: c.Scoring.SuccessWeight,
		Volume:      c.Scoring.VolumeWeight,
		Speed:       c.Scoring.SpeedWeight,
		Diversity:   c.Scoring.DiversityWeight,
	}
}

// ScoringParams returns the configured normalisation reference points.
func (c *Config) ScoringParams() scoring.Params {
	return scoring.Params{
		VolumeReferenceUSD: c.Scoring.VolumeReferenceUSD,
		LatencyTargetMs:    c.Scoring.LatencyTargetMs,
		DiversityReference: c.Scoring.DiversityReference,
	}
}

// StartHour parses aggregation.start_hour; zero when unset.
func (c *Config) StartHour() (time.Time, error) {
	if strings.TrimSpace(c.Aggregation.StartHour) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.Aggregation.StartHour)
	if err != nil {
		return time.Time{}, fmt.Errorf("aggregation.start_hour: %w", err)
	}
	return t.UTC().Truncate(time.Hour), nil
}

// ContractEnabled reports whether snapshots can be attested on chain.
func (c *Config) ContractEnabled() bool {
	return c.Contract.ContractID != ""
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Horizon.URL == "" {
		return fmt.Errorf("horizon.url must be configured")
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be greater than zero")
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be greater than zero")
	}
	if c.RateLimit.QueueSize < 0 {
		return fmt.Errorf("rate_limit.queue_size cannot be negative")
	}
	if c.Aggregation.MaxHoursPerRun <= 0 {
		return fmt.Errorf("aggregation.max_hours_per_run must be greater than zero")
	}
	if c.Aggregation.MaxRetries < 0 {
		return fmt.Errorf("aggregation.max_retries cannot be negative")
	}
	if _, err := c.StartHour(); err != nil {
		return err
	}
	if err := c.Weights().Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if c.Snapshot.Window < time.Hour {
		return fmt.Errorf("snapshot.window must be at least 1h")
	}
	if c.Snapshot.Interval <= 0 {
		return fmt.Errorf("snapshot.interval must be greater than zero")
	}
	if c.ContractEnabled() {
		if c.Contract.RPCURL == "" {
			return fmt.Errorf("contract.rpc_url must be configured when contract_id is set")
		}
		if c.Contract.SecretKey == "" {
			return fmt.Errorf("contract.secret_key must be configured when contract_id is set")
		}
		if c.Contract.MaxAttempts <= 0 {
			return fmt.Errorf("contract.max_attempts must be greater than zero")
		}
	}
	if c.Shutdown.GracePeriod < 0 {
		return fmt.Errorf("shutdown.grace_period cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
	}
	if c.Alerting.Slack.Enabled {
		if c.Alerting.Slack.Token == "" || c.Alerting.Slack.Channel == "" {
			return fmt.Errorf("alerting.slack.token and alerting.slack.channel must be configured")
		}
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	return nil
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}
