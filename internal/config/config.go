package config

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig                 `mapstructure:"app"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Redis      RedisConfig               `mapstructure:"redis"`
	NATS       NATSConfig                `mapstructure:"nats"`
	Trading    TradingConfig             `mapstructure:"trading"`
	Collector  CollectorConfig           `mapstructure:"collector"`
	Technical  TechnicalConfig           `mapstructure:"technical"`
	Strategy   StrategyConfig            `mapstructure:"strategy"`
	Risk       RiskConfig                `mapstructure:"risk"`
	Execution  ExecutionConfig           `mapstructure:"execution"`
	Exchanges  map[string]ExchangeConfig `mapstructure:"exchanges"`
	API        APIConfig                 `mapstructure:"api"`
	Monitoring MonitoringConfig          `mapstructure:"monitoring"`
	Alerts     AlertsConfig              `mapstructure:"alerts"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL/TimescaleDB settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// TradingConfig contains pipeline-wide trading settings
type TradingConfig struct {
	Mode           string   `mapstructure:"mode"`            // "paper" or "live"
	Symbols        []string `mapstructure:"symbols"`         // ["BTC/USDT", "ETH/USDT"]
	Exchange       string   `mapstructure:"exchange"`        // "binance"
	InitialCapital float64  `mapstructure:"initial_capital"` // paper trading bankroll
}

// CollectorConfig contains data collection settings
type CollectorConfig struct {
	Timeframe          string        `mapstructure:"timeframe"`            // "1m"
	Mode               string        `mapstructure:"mode"`                 // "streaming" or "polling"
	IntervalSeconds    int           `mapstructure:"interval_seconds"`     // polling cadence
	WSSilenceThreshold time.Duration `mapstructure:"ws_silence_threshold"` // stream watchdog
	CandleLimit        int           `mapstructure:"candle_limit"`         // candles per poll
}

// Interval returns the polling cadence as a duration.
func (c *CollectorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// TechnicalConfig contains technical analysis settings
type TechnicalConfig struct {
	WindowSize int `mapstructure:"window_size"` // rolling window capacity
	MinWindow  int `mapstructure:"min_window"`  // candles required before signalling
}

// StrategyConfig contains signal fusion settings
type StrategyConfig struct {
	FusionStrategy   string        `mapstructure:"fusion_strategy"` // bayesian, consensus, time_decay, hybrid
	MinSignals       int           `mapstructure:"min_signals"`
	SignalTimeout    time.Duration `mapstructure:"signal_timeout"`
	BufferMax        int           `mapstructure:"buffer_max"`
	MinConfidence    float64       `mapstructure:"min_confidence"`
	MinAgreement     float64       `mapstructure:"min_agreement"`
	DecisionInterval time.Duration `mapstructure:"decision_interval"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	BayesianWeight   float64       `mapstructure:"bayesian_weight"`
	ConsensusWeight  float64       `mapstructure:"consensus_weight"`
	TimeDecayWeight  float64       `mapstructure:"time_decay_weight"`
	AdaptiveWeights  bool          `mapstructure:"adaptive_weights"`
}

// RiskConfig contains risk management settings
type RiskConfig struct {
	MaxPortfolioRisk float64            `mapstructure:"max_portfolio_risk"` // 0.20
	MaxRiskPerTrade  float64            `mapstructure:"max_risk_per_trade"` // 0.01
	MaxPositionPct   float64            `mapstructure:"max_position_pct"`   // 0 = use account tiers
	MinRR            float64            `mapstructure:"min_rr"`             // 1.5
	MinConfidence    float64            `mapstructure:"min_confidence"`     // 0.6
	SizingMethod     string             `mapstructure:"sizing_method"`      // kelly, fixed, volatility, hybrid
	StopMethod       string             `mapstructure:"stop_method"`        // atr, percentage, volatility, support_resistance, trailing
	ATRMultiplier    float64            `mapstructure:"atr_k"`              // 2.0
	RewardRisk       float64            `mapstructure:"rr"`                 // 2.0
	FixedRiskPct     float64            `mapstructure:"fixed_risk_pct"`     // 0.02
	StopPct          float64            `mapstructure:"stop_pct"`           // percentage stop width
	TrailingActivate float64            `mapstructure:"activation_pct"`     // trailing stop activation
	ClusterCap       float64            `mapstructure:"cluster_cap"`        // correlation cluster risk cap
	MinLots          map[string]float64 `mapstructure:"min_lots"`           // overrides exchange info
}

// ExecutionConfig contains execution agent settings
type ExecutionConfig struct {
	MonitoringInterval time.Duration `mapstructure:"monitoring_interval"`
	MaxSlippagePct     float64       `mapstructure:"max_slippage_pct"`
	OrderTimeout       time.Duration `mapstructure:"order_timeout"`
	FillWaitTimeout    time.Duration `mapstructure:"fill_wait_timeout"`
	RetryMaxAttempts   int           `mapstructure:"retry_max_attempts"`
}

// ExchangeConfig contains exchange-specific settings
type ExchangeConfig struct {
	APIKey      string    `mapstructure:"api_key"`
	SecretKey   string    `mapstructure:"secret_key"`
	Testnet     bool      `mapstructure:"testnet"`
	RateLimitMS int       `mapstructure:"rate_limit_ms"`
	Fees        FeeConfig `mapstructure:"fees"`
}

// FeeConfig contains exchange fee structure
type FeeConfig struct {
	Maker        float64 `mapstructure:"maker"`         // maker fee fraction (0.001 = 0.1%)
	Taker        float64 `mapstructure:"taker"`         // taker fee fraction
	BaseSlippage float64 `mapstructure:"base_slippage"` // simulated base slippage fraction
	MarketImpact float64 `mapstructure:"market_impact"` // simulated impact per unit
	MaxSlippage  float64 `mapstructure:"max_slippage"`  // simulated slippage ceiling
}

// APIConfig contains the operations API settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// AlertsConfig contains alerting settings
type AlertsConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TRADEPIPE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Cooldown defaults to the decision interval when unset.
	if cfg.Strategy.Cooldown <= 0 {
		cfg.Strategy.Cooldown = cfg.Strategy.DecisionInterval
	}

	// Vault-backed secrets override file and environment values.
	if err := LoadSecretsFromVault(context.Background(), &cfg, GetVaultConfigFromEnv()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "TradePipe")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "tradepipe")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")

	// Trading defaults
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.symbols", []string{"BTC/USDT", "ETH/USDT"})
	v.SetDefault("trading.exchange", "binance")
	v.SetDefault("trading.initial_capital", 10000.0)

	// Collector defaults
	v.SetDefault("collector.timeframe", "1m")
	v.SetDefault("collector.mode", "polling")
	v.SetDefault("collector.interval_seconds", 30)
	v.SetDefault("collector.ws_silence_threshold", 90*time.Second)
	v.SetDefault("collector.candle_limit", 100)

	// Technical analysis defaults
	v.SetDefault("technical.window_size", 200)
	v.SetDefault("technical.min_window", 50)

	// Strategy defaults
	v.SetDefault("strategy.fusion_strategy", "hybrid")
	v.SetDefault("strategy.min_signals", 2)
	v.SetDefault("strategy.signal_timeout", 300*time.Second)
	v.SetDefault("strategy.buffer_max", 50)
	v.SetDefault("strategy.min_confidence", 0.6)
	v.SetDefault("strategy.min_agreement", 0.6)
	v.SetDefault("strategy.decision_interval", 60*time.Second)
	v.SetDefault("strategy.bayesian_weight", 0.4)
	v.SetDefault("strategy.consensus_weight", 0.3)
	v.SetDefault("strategy.time_decay_weight", 0.3)
	v.SetDefault("strategy.adaptive_weights", false)

	// Risk defaults
	v.SetDefault("risk.max_portfolio_risk", 0.20)
	v.SetDefault("risk.max_risk_per_trade", 0.01)
	v.SetDefault("risk.min_rr", 1.5)
	v.SetDefault("risk.min_confidence", 0.6)
	v.SetDefault("risk.sizing_method", "hybrid")
	v.SetDefault("risk.stop_method", "atr")
	v.SetDefault("risk.atr_k", 2.0)
	v.SetDefault("risk.rr", 2.0)
	v.SetDefault("risk.fixed_risk_pct", 0.02)
	v.SetDefault("risk.stop_pct", 0.02)
	v.SetDefault("risk.activation_pct", 0.01)
	v.SetDefault("risk.cluster_cap", 0.10)
	v.SetDefault("risk.max_position_pct", 0.0)

	// Execution defaults
	v.SetDefault("execution.monitoring_interval", 10*time.Second)
	v.SetDefault("execution.max_slippage_pct", 1.0)
	v.SetDefault("execution.order_timeout", 5*time.Second)
	v.SetDefault("execution.fill_wait_timeout", 30*time.Second)
	v.SetDefault("execution.retry_max_attempts", 5)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Exchange fee defaults (Binance-like structure)
	v.SetDefault("exchanges.binance.fees.maker", 0.001)
	v.SetDefault("exchanges.binance.fees.taker", 0.001)
	v.SetDefault("exchanges.binance.fees.base_slippage", 0.0005)
	v.SetDefault("exchanges.binance.fees.market_impact", 0.0001)
	v.SetDefault("exchanges.binance.fees.max_slippage", 0.003)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the operations API address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
