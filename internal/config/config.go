package config

import (
	"fmt"
	"strings"

	"github.com/0gfoundation/0g-pos-settlement/internal/fees"
	"github.com/0gfoundation/0g-pos-settlement/internal/order"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Redis      RedisConfig
	Server     ServerConfig
	Order      OrderConfig
	Fees       FeesConfig
	Settler    SettlerConfig
	Signatures SignaturesConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	GRPCPort int `mapstructure:"grpc_port"`
}

type OrderConfig struct {
	Scheme        string `mapstructure:"scheme"`
	Domain        string `mapstructure:"domain"`
	ChainID       uint64 `mapstructure:"chain_id"`
	EngineAddress string `mapstructure:"engine_address"`
}

type FeesConfig struct {
	DefaultFee     uint32 `mapstructure:"default_fee"`
	FeeLimit       uint32 `mapstructure:"fee_limit"`
	FeeReceiver    string `mapstructure:"fee_receiver"`
	ManagerAddress string `mapstructure:"manager_address"`
}

type SettlerConfig struct {
	BatchTimeoutSec int64 `mapstructure:"batch_timeout_sec"`
	MaxAttempts     int   `mapstructure:"max_attempts"`
	EventStreamLen  int64 `mapstructure:"event_stream_len"`
}

type SignaturesConfig struct {
	Disabled []string `mapstructure:"disabled"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("order.scheme", "rwp")
	v.SetDefault("fees.default_fee", 27)
	v.SetDefault("fees.fee_limit", 50)
	v.SetDefault("settler.batch_timeout_sec", 5)
	v.SetDefault("settler.max_attempts", 5)
	v.SetDefault("settler.event_stream_len", 100000)
	v.SetDefault("ratelimit.requests_per_minute", 600)
	v.SetDefault("ratelimit.burst", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"redis.addr":                    "REDIS_ADDR",
		"redis.password":                "REDIS_PASSWORD",
		"server.port":                   "PORT",
		"server.grpc_port":              "GRPC_PORT",
		"order.scheme":                  "ORDER_SCHEME",
		"order.domain":                  "ORDER_DOMAIN",
		"order.chain_id":                "CHAIN_ID",
		"order.engine_address":          "ENGINE_ADDRESS",
		"fees.default_fee":              "DEFAULT_FEE",
		"fees.fee_limit":                "FEE_LIMIT",
		"fees.fee_receiver":             "FEE_RECEIVER",
		"fees.manager_address":          "MANAGER_ADDRESS",
		"settler.batch_timeout_sec":     "SETTLER_BATCH_TIMEOUT_SEC",
		"settler.max_attempts":          "SETTLER_MAX_ATTEMPTS",
		"settler.event_stream_len":      "EVENT_STREAM_LEN",
		"signatures.disabled":           "SIGNATURE_METHODS_DISABLED",
		"ratelimit.requests_per_minute": "RATE_LIMIT_RPM",
		"ratelimit.burst":               "RATE_LIMIT_BURST",
		"log.level":                     "LOG_LEVEL",
		"log.file":                      "LOG_FILE",
		"log.max_size_mb":               "LOG_MAX_SIZE_MB",
		"log.max_backups":               "LOG_MAX_BACKUPS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Order.Domain, "ORDER_DOMAIN"},
		{c.Order.EngineAddress, "ENGINE_ADDRESS"},
		{c.Fees.FeeReceiver, "FEE_RECEIVER"},
		{c.Fees.ManagerAddress, "MANAGER_ADDRESS"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Order.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	for _, a := range []struct{ val, name string }{
		{c.Order.EngineAddress, "ENGINE_ADDRESS"},
		{c.Fees.FeeReceiver, "FEE_RECEIVER"},
		{c.Fees.ManagerAddress, "MANAGER_ADDRESS"},
	} {
		if !common.IsHexAddress(a.val) {
			return fmt.Errorf("invalid address in %s: %q", a.name, a.val)
		}
	}
	if err := c.FeeSettings().Validate(); err != nil {
		return fmt.Errorf("fee config: %w", err)
	}
	return nil
}

// Domain is the signing domain orders are verified under.
func (c *Config) Domain() order.Domain {
	return order.Domain{
		Name:    c.Order.Domain,
		ChainID: c.Order.ChainID,
		Engine:  common.HexToAddress(c.Order.EngineAddress),
	}
}

func (c *Config) Codec() order.Codec {
	return order.Codec{Scheme: c.Order.Scheme, Domain: c.Order.Domain}
}

// FeeSettings seeds the fee book on first start.
func (c *Config) FeeSettings() fees.Settings {
	return fees.Settings{
		DefaultFee:  c.Fees.DefaultFee,
		FeeLimit:    c.Fees.FeeLimit,
		FeeReceiver: common.HexToAddress(c.Fees.FeeReceiver),
		Manager:     common.HexToAddress(c.Fees.ManagerAddress),
	}
}
