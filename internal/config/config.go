package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_trade_core/internal/domain"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange  ExchangeConfig             `yaml:"exchange"`
	Execution ExecutionConfig            `yaml:"execution"`
	Safety    SafetyConfig               `yaml:"safety"`
	Modes     []domain.TradingModeConfig `yaml:"modes"`
	Stream    StreamConfig               `yaml:"stream"`
	Logging   LoggingConfig              `yaml:"logging"`
	Server    ServerConfig               `yaml:"server"`
}

type ExchangeConfig struct {
	Name         string        `yaml:"name"`
	APIKey       string        `yaml:"api_key"`
	APISecret    string        `yaml:"api_secret"`
	RESTEndpoint string        `yaml:"rest_endpoint"`
	WSEndpoint   string        `yaml:"ws_endpoint"`
	RecvWindowMs int           `yaml:"recv_window_ms"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	RateBurst    int           `yaml:"rate_burst"`
}

type ExecutionConfig struct {
	FillTimeout        time.Duration `yaml:"fill_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	SettleDelay        time.Duration `yaml:"settle_delay"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	CloseMaxRetries    int           `yaml:"close_max_retries"`
	InstrumentTTL      time.Duration `yaml:"instrument_ttl"`
	TPPriceBufferPct   float64       `yaml:"tp_price_buffer_pct"`
	BreakevenBufferPct float64       `yaml:"breakeven_buffer_pct"`
}

type SafetyConfig struct {
	DBPath      string        `yaml:"db_path"`
	CounterTTL  time.Duration `yaml:"counter_ttl"`
	DefaultMode string        `yaml:"default_mode"`
}

type StreamConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Symbols      []string      `yaml:"symbols"`
	MaxTickerAge time.Duration `yaml:"max_ticker_age"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns the configuration used when a field is absent from the file.
func Default() Config {
	return Config{
		Exchange: ExchangeConfig{
			Name:         "bybit",
			RESTEndpoint: "https://api.bybit.com",
			WSEndpoint:   "wss://stream.bybit.com/v5/public/linear",
			RecvWindowMs: 5000,
			HTTPTimeout:  10 * time.Second,
			RateLimitRPS: 10,
			RateBurst:    10,
		},
		Execution: ExecutionConfig{
			FillTimeout:        20 * time.Second,
			PollInterval:       500 * time.Millisecond,
			SettleDelay:        500 * time.Millisecond,
			RetryDelay:         500 * time.Millisecond,
			CloseMaxRetries:    2,
			InstrumentTTL:      time.Hour,
			TPPriceBufferPct:   0.0005,
			BreakevenBufferPct: 0.001,
		},
		Safety: SafetyConfig{
			DBPath:      "data/core.db",
			CounterTTL:  24 * time.Hour,
			DefaultMode: "standard",
		},
		Stream: StreamConfig{
			MaxTickerAge: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads .env (if present), the YAML file at path, then environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("BYBIT_REST_ENDPOINT"); v != "" {
		c.Exchange.RESTEndpoint = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func (c *Config) Validate() error {
	durations := map[string]time.Duration{
		"exchange.http_timeout":    c.Exchange.HTTPTimeout,
		"execution.fill_timeout":   c.Execution.FillTimeout,
		"execution.poll_interval":  c.Execution.PollInterval,
		"execution.instrument_ttl": c.Execution.InstrumentTTL,
		"safety.counter_ttl":       c.Safety.CounterTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if c.Execution.PollInterval >= c.Execution.FillTimeout {
		return fmt.Errorf("config: execution.poll_interval must be shorter than fill_timeout")
	}
	if c.Execution.CloseMaxRetries < 0 {
		return fmt.Errorf("config: execution.close_max_retries must not be negative")
	}
	if c.Execution.TPPriceBufferPct < 0 || c.Execution.TPPriceBufferPct >= 0.05 {
		return fmt.Errorf("config: execution.tp_price_buffer_pct must be in [0, 0.05)")
	}
	if c.Exchange.RateLimitRPS <= 0 || c.Exchange.RateBurst <= 0 {
		return fmt.Errorf("config: exchange rate limit must be positive")
	}
	for _, m := range c.Modes {
		if m.ID == "" {
			return fmt.Errorf("config: mode without id")
		}
		if m.MaxLeverage <= 0 {
			return fmt.Errorf("config: mode %s: max_leverage must be positive", m.ID)
		}
	}
	return nil
}
