package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Fundingflow FundingflowConfig `yaml:"fundingflow"`
	Feeds       FeedsConfig       `yaml:"feeds"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Universe    UniverseConfig    `yaml:"universe"`
	Scorer      ScorerConfig      `yaml:"scorer"`
	Server      ServerConfig      `yaml:"server"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type FundingflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ReconnectConfig tunes the exponential backoff used when a venue stream
// drops. Delays double from the base and are capped at the max; the backoff
// resets to the base after a successful connect.
type ReconnectConfig struct {
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

func (r ReconnectConfig) BaseDelay(def time.Duration) time.Duration {
	if r.BaseDelayMs <= 0 {
		return def
	}
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

func (r ReconnectConfig) MaxDelay(def time.Duration) time.Duration {
	if r.MaxDelayMs <= 0 {
		return def
	}
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type FeedsConfig struct {
	Binance     BinanceFeedConfig     `yaml:"binance"`
	Asterdex    AsterdexFeedConfig    `yaml:"asterdex"`
	Okx         OkxFeedConfig         `yaml:"okx"`
	Bybit       BybitFeedConfig       `yaml:"bybit"`
	Hyperliquid HyperliquidFeedConfig `yaml:"hyperliquid"`
	Kucoin      KucoinFeedConfig      `yaml:"kucoin"`
}

type BinanceFeedConfig struct {
	Enabled   bool            `yaml:"enabled"`
	WsURL     string          `yaml:"ws_url"`
	RestURL   string          `yaml:"rest_url"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

type AsterdexFeedConfig struct {
	Enabled   bool            `yaml:"enabled"`
	WsURL     string          `yaml:"ws_url"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

type OkxFeedConfig struct {
	Enabled        bool            `yaml:"enabled"`
	WsURL          string          `yaml:"ws_url"`
	PingIntervalMs int             `yaml:"ping_interval_ms"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
}

type BybitFeedConfig struct {
	Enabled        bool            `yaml:"enabled"`
	WsURL          string          `yaml:"ws_url"`
	PingIntervalMs int             `yaml:"ping_interval_ms"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
}

type HyperliquidFeedConfig struct {
	Enabled          bool            `yaml:"enabled"`
	WsURL            string          `yaml:"ws_url"`
	InfoURL          string          `yaml:"info_url"`
	PingIntervalMs   int             `yaml:"ping_interval_ms"`
	FundingRefreshMs int             `yaml:"funding_refresh_ms"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`
}

type KucoinFeedConfig struct {
	Enabled        bool            `yaml:"enabled"`
	RestURL        string          `yaml:"rest_url"`
	PollIntervalMs int             `yaml:"poll_interval_ms"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type MetadataConfig struct {
	RefreshMinutes int    `yaml:"refresh_minutes"`
	BinanceURL     string `yaml:"binance_url"`
	BybitURL       string `yaml:"bybit_url"`
	TimeoutMs      int    `yaml:"timeout_ms"`
}

type UniverseConfig struct {
	// Path to a YAML instrument list. Empty uses the embedded default list.
	Path string `yaml:"path"`
}

// PairConfig names one venue pair to score, by venue slug.
type PairConfig struct {
	A string `yaml:"a"`
	B string `yaml:"b"`
}

type ScorerConfig struct {
	IntervalMs             int          `yaml:"interval_ms"`
	TradeNotionalUSD       float64      `yaml:"trade_notional_usd"`
	TakerFeeRate           float64      `yaml:"taker_fee_rate"`
	FreshnessWindowSeconds int          `yaml:"freshness_window_seconds"`
	MinPriceRatio          float64      `yaml:"min_price_ratio"`
	MaxPriceRatio          float64      `yaml:"max_price_ratio"`
	Pairs                  []PairConfig `yaml:"pairs"`
}

func (s ScorerConfig) Interval() time.Duration {
	if s.IntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(s.IntervalMs) * time.Millisecond
}

func (s ScorerConfig) FreshnessWindow() time.Duration {
	if s.FreshnessWindowSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.FreshnessWindowSeconds) * time.Second
}

type ServerConfig struct {
	Enabled             bool   `yaml:"enabled"`
	ListenAddr          string `yaml:"listen_addr"`
	TopN                int    `yaml:"top_n"`
	BroadcastIntervalMs int    `yaml:"broadcast_interval_ms"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

const defaultConfigPath = "config/config.yml"

var configEnvPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, configEnvPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Scorer: ScorerConfig{
			IntervalMs:             1000,
			TradeNotionalUSD:       100,
			TakerFeeRate:           0.0005,
			FreshnessWindowSeconds: 300,
			MinPriceRatio:          0.01,
			MaxPriceRatio:          100,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override CloudWatch region from the environment if available
	if config.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Fundingflow.Name == "" {
		return fmt.Errorf("fundingflow.name is required")
	}
	if cfg.Fundingflow.Version == "" {
		return fmt.Errorf("fundingflow.version is required")
	}

	if cfg.Scorer.TradeNotionalUSD <= 0 {
		return fmt.Errorf("scorer.trade_notional_usd must be greater than 0")
	}
	if cfg.Scorer.TakerFeeRate < 0 {
		return fmt.Errorf("scorer.taker_fee_rate must not be negative")
	}
	if cfg.Scorer.MinPriceRatio <= 0 || cfg.Scorer.MaxPriceRatio <= cfg.Scorer.MinPriceRatio {
		return fmt.Errorf("scorer price ratio band is invalid")
	}
	if len(cfg.Scorer.Pairs) == 0 {
		return fmt.Errorf("scorer.pairs must name at least one venue pair")
	}
	for i, p := range cfg.Scorer.Pairs {
		if p.A == "" || p.B == "" {
			return fmt.Errorf("scorer.pairs[%d] must name two venues", i)
		}
		if p.A == p.B {
			return fmt.Errorf("scorer.pairs[%d] names the same venue twice", i)
		}
	}

	if cfg.Server.Enabled && cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required when the server is enabled")
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return fmt.Errorf("metrics.cloudwatch.namespace is required when CloudWatch is enabled")
	}

	return nil
}
