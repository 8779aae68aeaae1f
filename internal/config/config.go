package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DEX_"

// Config holds all runtime configuration for the exchange.
type Config struct {
	Port            int      `toml:"port"`
	LogLevel        string   `toml:"log_level"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	IdleTimeout     duration `toml:"idle_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`

	QuoteSymbol    string `toml:"quote_symbol"`
	Owner          string `toml:"owner"`
	CustodyAddress string `toml:"custody_address"`
	// DevFaucet backs custody with the in-memory bank and mounts /dev.
	DevFaucet       bool             `toml:"dev_faucet"`
	BootstrapTokens []BootstrapToken `toml:"bootstrap_tokens"`
	VWAPWindow      duration         `toml:"vwap_window"`
	WebhookTimeout  duration         `toml:"webhook_timeout"`
	// DataDir enables the pebble journal when non-empty.
	DataDir string `toml:"data_dir"`

	Redis    RedisConfig    `toml:"redis"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Postgres PostgresConfig `toml:"postgres"`
}

// BootstrapToken is a token registered at startup.
type BootstrapToken struct {
	Symbol string `toml:"symbol"`
	Handle string `toml:"handle"`
}

// RedisConfig enables the book snapshot cache when Addr is set.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// KafkaConfig enables the trade stream when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// PostgresConfig enables the trade archive when DSN is set.
type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	MaxConns int    `toml:"max_conns"`
}

// duration wraps time.Duration so TOML can decode strings like "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Port:            8080,
		LogLevel:        "info",
		ReadTimeout:     duration{5 * time.Second},
		WriteTimeout:    duration{10 * time.Second},
		IdleTimeout:     duration{60 * time.Second},
		ShutdownTimeout: duration{10 * time.Second},
		QuoteSymbol:     "DAI",
		CustodyAddress:  "0x000000000000000000000000000000000000dE01",
		VWAPWindow:      duration{5 * time.Minute},
		WebhookTimeout:  duration{5 * time.Second},
		Kafka:           KafkaConfig{Topic: "dex.trades"},
		Postgres:        PostgresConfig{MaxConns: 10},
	}
}

// Load builds a Config from the defaults, the TOML file at path (skipped
// when path is empty), a .env file if present, and DEX_* environment
// variables, in that order. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	setters := []func() error{
		func() error { return setInt(&cfg.Port, "PORT") },
		func() error { return setStr(&cfg.LogLevel, "LOG_LEVEL") },
		func() error { return setDuration(&cfg.ReadTimeout, "READ_TIMEOUT") },
		func() error { return setDuration(&cfg.WriteTimeout, "WRITE_TIMEOUT") },
		func() error { return setDuration(&cfg.IdleTimeout, "IDLE_TIMEOUT") },
		func() error { return setDuration(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT") },
		func() error { return setStr(&cfg.QuoteSymbol, "QUOTE_SYMBOL") },
		func() error { return setStr(&cfg.Owner, "OWNER") },
		func() error { return setStr(&cfg.CustodyAddress, "CUSTODY_ADDRESS") },
		func() error { return setBool(&cfg.DevFaucet, "DEV_FAUCET") },
		func() error { return setBootstrap(&cfg.BootstrapTokens, "BOOTSTRAP_TOKENS") },
		func() error { return setDuration(&cfg.VWAPWindow, "VWAP_WINDOW") },
		func() error { return setDuration(&cfg.WebhookTimeout, "WEBHOOK_TIMEOUT") },
		func() error { return setStr(&cfg.DataDir, "DATA_DIR") },
		func() error { return setStr(&cfg.Redis.Addr, "REDIS_ADDR") },
		func() error { return setStr(&cfg.Redis.Password, "REDIS_PASSWORD") },
		func() error { return setInt(&cfg.Redis.DB, "REDIS_DB") },
		func() error { return setStringSlice(&cfg.Kafka.Brokers, "KAFKA_BROKERS") },
		func() error { return setStr(&cfg.Kafka.Topic, "KAFKA_TOPIC") },
		func() error { return setStr(&cfg.Postgres.DSN, "POSTGRES_DSN") },
		func() error { return setInt(&cfg.Postgres.MaxConns, "POSTGRES_MAX_CONNS") },
	}
	for _, set := range setters {
		if err := set(); err != nil {
			return err
		}
	}
	return nil
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,32}$`)

// Validate returns an error describing the first invalid field.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d, must be between 1 and 65535", c.Port)
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level: %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	for _, d := range []struct {
		name string
		d    time.Duration
	}{
		{"read_timeout", c.ReadTimeout.Duration},
		{"write_timeout", c.WriteTimeout.Duration},
		{"idle_timeout", c.IdleTimeout.Duration},
		{"shutdown_timeout", c.ShutdownTimeout.Duration},
		{"vwap_window", c.VWAPWindow.Duration},
		{"webhook_timeout", c.WebhookTimeout.Duration},
	} {
		if d.d <= 0 {
			return fmt.Errorf("invalid %s: %v, must be positive", d.name, d.d)
		}
	}
	if !symbolPattern.MatchString(c.QuoteSymbol) {
		return fmt.Errorf("invalid quote_symbol: %q", c.QuoteSymbol)
	}
	if c.Owner != "" && !common.IsHexAddress(c.Owner) {
		return fmt.Errorf("invalid owner: %q is not an address", c.Owner)
	}
	if !common.IsHexAddress(c.CustodyAddress) {
		return fmt.Errorf("invalid custody_address: %q is not an address", c.CustodyAddress)
	}
	for _, t := range c.BootstrapTokens {
		if !symbolPattern.MatchString(t.Symbol) {
			return fmt.Errorf("invalid bootstrap_tokens: symbol %q", t.Symbol)
		}
		if !common.IsHexAddress(t.Handle) {
			return fmt.Errorf("invalid bootstrap_tokens: handle %q of %s", t.Handle, t.Symbol)
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("invalid kafka.topic: must be set when brokers are configured")
	}
	if c.Postgres.MaxConns < 0 {
		return fmt.Errorf("invalid postgres.max_conns: %d", c.Postgres.MaxConns)
	}
	return nil
}

// OwnerAddress is the token-registry owner, or the zero address when unset.
func (c *Config) OwnerAddress() common.Address {
	if c.Owner == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Owner)
}

// Custody is the address the exchange holds deposited funds under.
func (c *Config) Custody() common.Address {
	return common.HexToAddress(c.CustodyAddress)
}

func setStr(dst *string, key string) error {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *duration, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	dst.Duration = d
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}

func setStringSlice(dst *[]string, key string) error {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
	return nil
}

// setBootstrap parses "REP=0x...,GNT=0x...".
func setBootstrap(dst *[]BootstrapToken, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	var tokens []BootstrapToken
	for _, entry := range splitList(v) {
		symbol, handle, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("invalid %s%s: entry %q, want SYMBOL=HANDLE", EnvPrefix, key, entry)
		}
		tokens = append(tokens, BootstrapToken{
			Symbol: strings.TrimSpace(symbol),
			Handle: strings.TrimSpace(handle),
		})
	}
	*dst = tokens
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
