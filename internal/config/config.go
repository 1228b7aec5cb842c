package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"arbwatch/internal/logging"
)

// Known source identifiers accepted in sources.enabled.
const (
	SourceOrca      = "orca"
	SourceRaydium   = "raydium"
	SourceJupiter   = "jupiter"
	SourceChainlink = "chainlink"
)

// DefaultAssets are the mints monitored when none are configured: JUP, wrapped
// SOL, BONK and RENDER.
var DefaultAssets = []string{
	"JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN",
	"So11111111111111111111111111111111111111112",
	"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
	"rndrizKT3MK1iimdxRdWabcF7Zg7AR5T4nud4EkHBof",
}

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Assets    []string        `mapstructure:"assets"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs tick cadence and leader election.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	ReportTimeout   time.Duration `mapstructure:"report_timeout"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StandbyRetry    time.Duration `mapstructure:"standby_retry"`
}

// SourcesConfig lists the price sources. Enabled order is slot order.
type SourcesConfig struct {
	Enabled        []string        `mapstructure:"enabled"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	MaxConcurrency int             `mapstructure:"max_concurrency"`
	MaxPrice       float64         `mapstructure:"max_price"`
	UserAgent      string          `mapstructure:"user_agent"`
	Jupiter        HTTPSource      `mapstructure:"jupiter"`
	Raydium        HTTPSource      `mapstructure:"raydium"`
	Orca           OrcaConfig      `mapstructure:"orca"`
	Chainlink      ChainlinkConfig `mapstructure:"chainlink"`
}

// HTTPSource covers a plain REST price API.
type HTTPSource struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OrcaConfig adds whirlpool list caching.
type OrcaConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	QuoteMint string        `mapstructure:"quote_mint"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ChainlinkConfig covers on-chain reference feeds.
type ChainlinkConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
	// Feeds are "asset=aggregator" pairs. A list keeps asset keys case-sensitive.
	Feeds   []string      `mapstructure:"feeds"`
	MaxAge  time.Duration `mapstructure:"max_age"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FeedMap parses Feeds into asset -> aggregator address.
func (c ChainlinkConfig) FeedMap() (map[string]string, error) {
	feeds := make(map[string]string, len(c.Feeds))
	for _, raw := range c.Feeds {
		asset, addr, ok := strings.Cut(strings.TrimSpace(raw), "=")
		asset, addr = strings.TrimSpace(asset), strings.TrimSpace(addr)
		if !ok || asset == "" || addr == "" {
			return nil, fmt.Errorf("sources.chainlink.feeds: %q must be asset=address", raw)
		}
		feeds[asset] = addr
	}
	return feeds, nil
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	MinSpread    float64        `mapstructure:"min_spread"`
	Cooldown     time.Duration  `mapstructure:"cooldown"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
	Discord      DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DiscordConfig 描述 Discord webhook 参数。
type DiscordConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// RedisConfig enables the Redis report sink when Addr is set.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Channel   string        `mapstructure:"channel"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// KafkaConfig enables the Kafka report sink when Brokers is set.
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	OnlyOpportunities bool     `mapstructure:"only_opportunities"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from a .env file, the config file, environment and defaults.
func Load(path string) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ARBWATCHER")
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
	cfg.normalize()

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
	v.SetDefault("app.name", "arbwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("assets", DefaultAssets)

	v.SetDefault("scheduler.interval", "1s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.report_timeout", "5s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0))
	v.SetDefault("scheduler.standby_retry", "10s")

	v.SetDefault("sources.enabled", []string{SourceOrca, SourceRaydium, SourceJupiter})
	v.SetDefault("sources.timeout", "5s")
	v.SetDefault("sources.max_concurrency", 0)
	v.SetDefault("sources.max_price", 0.0)
	v.SetDefault("sources.user_agent", "")
	v.SetDefault("sources.jupiter.base_url", "https://price.jup.ag/v6")
	v.SetDefault("sources.raydium.base_url", "https://api-v3.raydium.io")
	v.SetDefault("sources.orca.base_url", "https://api.mainnet.orca.so/v1")
	v.SetDefault("sources.orca.quote_mint", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	v.SetDefault("sources.orca.cache_ttl", "30s")
	v.SetDefault("sources.chainlink.max_age", "1h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 0.5)
	v.SetDefault("alerting.min_spread", 0.0)
	v.SetDefault("alerting.cooldown", "5m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.discord.enabled", false)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "arbwatcher.events")
	v.SetDefault("redis.key_prefix", "arbwatcher:")
	v.SetDefault("redis.ttl", "1m")

	v.SetDefault("kafka.topic", "arbwatcher.opportunities")
	v.SetDefault("kafka.only_opportunities", true)

	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("export.max_data_points", 100000)

	// keys without a meaningful default still need registering so that
	// AutomaticEnv picks them up during Unmarshal
	for _, key := range []string{
		"database.dsn",
		"redis.addr",
		"redis.password",
		"metrics.addr",
		"alerting.telegram.bot_token",
		"alerting.telegram.chat_id",
		"alerting.discord.webhook_url",
		"sources.chainlink.rpc_url",
	} {
		v.SetDefault(key, "")
	}
	for _, key := range []string{"jupiter", "raydium", "orca", "chainlink"} {
		v.SetDefault("sources."+key+".timeout", "0s")
	}
	v.SetDefault("sources.chainlink.feeds", []string{})
	v.SetDefault("kafka.brokers", []string{})
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

// normalize trims list entries and lower-cases source names.
func (c *Config) normalize() {
	c.Assets = trimAll(c.Assets)
	c.Sources.Enabled = trimAll(c.Sources.Enabled)
	for i, name := range c.Sources.Enabled {
		c.Sources.Enabled[i] = strings.ToLower(name)
	}
	c.Alerting.Channels = trimAll(c.Alerting.Channels)
	c.Kafka.Brokers = trimAll(c.Kafka.Brokers)
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("assets must list at least one asset")
	}
	if dup := firstDuplicate(c.Assets); dup != "" {
		return fmt.Errorf("assets: %s listed twice", dup)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.ReportTimeout < 0 {
		return fmt.Errorf("scheduler.report_timeout cannot be negative")
	}
	if len(c.Sources.Enabled) == 0 {
		return fmt.Errorf("sources.enabled must list at least one source")
	}
	if dup := firstDuplicate(c.Sources.Enabled); dup != "" {
		return fmt.Errorf("sources.enabled: %s listed twice", dup)
	}
	for _, name := range c.Sources.Enabled {
		switch name {
		case SourceOrca, SourceRaydium, SourceJupiter:
		case SourceChainlink:
			if c.Sources.Chainlink.RPCURL == "" {
				return fmt.Errorf("sources.chainlink.rpc_url 必须配置")
			}
			if _, err := c.Sources.Chainlink.FeedMap(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("sources.enabled: unknown source %q", name)
		}
	}
	if c.Sources.Timeout <= 0 {
		return fmt.Errorf("sources.timeout must be greater than zero")
	}
	if c.Sources.MaxConcurrency < 0 {
		return fmt.Errorf("sources.max_concurrency cannot be negative")
	}
	if c.Sources.MaxPrice < 0 {
		return fmt.Errorf("sources.max_price cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.MinSpread < 0 {
		return fmt.Errorf("alerting.min_spread cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Discord.Enabled && c.Alerting.Discord.WebhookURL == "" {
		return fmt.Errorf("alerting.discord.webhook_url 必须配置")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}
	if c.Metrics.Addr != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

func firstDuplicate(values []string) string {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			return v
		}
		seen[v] = struct{}{}
	}
	return ""
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
