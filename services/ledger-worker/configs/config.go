package configs

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/utils"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds application configuration for ledger-worker.
type Config struct {
	HTTPPort              string `mapstructure:"HTTP_PORT" validate:"required"`
	StoreDriver           string `mapstructure:"STORE_DRIVER" validate:"oneof=postgres memory"`
	NegativeBalancePolicy string `mapstructure:"NEGATIVE_BALANCE_POLICY" validate:"oneof=reject allow"`

	PrimaryDbAddr string `mapstructure:"PRIMARY_DB_ADDR" validate:"required_if=StoreDriver postgres"`
	ReadDbAddr    string `mapstructure:"READ_DB_ADDR"`
	MaxDbCons     int32  `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons     int32  `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=0,ltefield=MaxDbCons"`

	KafkaBrokers                string `mapstructure:"KAFKA_BROKERS" validate:"required"`
	KafkaConsumerGroup          string `mapstructure:"KAFKA_CONSUMER_GROUP" validate:"required"`
	KafkaWithdrawalTopic        string `mapstructure:"KAFKA_WITHDRAWAL_TOPIC" validate:"required"`
	KafkaPartition              int    `mapstructure:"KAFKA_PARTITION" validate:"min=1"`
	KafkaReplicationFactor      int    `mapstructure:"KAFKA_REPLICATION_FACTOR" validate:"min=1"`
	MaxWithdrawalConcurrentJobs int    `mapstructure:"MAX_WITHDRAWAL_CONCURRENT_JOBS" validate:"min=1"`

	RetryBaseBackoff time.Duration `mapstructure:"RETRY_BASE_BACKOFF" validate:"required"`
	MaxRetryBackoff  time.Duration `mapstructure:"MAX_RETRY_BACKOFF" validate:"required,gtefield=RetryBaseBackoff"`

	DepositPollInterval time.Duration `mapstructure:"DEPOSIT_POLL_INTERVAL" validate:"required"`
	RpcTimeout          time.Duration `mapstructure:"RPC_TIMEOUT" validate:"required"`
	RpcMaxRetries       uint64        `mapstructure:"RPC_MAX_RETRIES" validate:"max=10"`
	RpcRateLimitPerSec  int           `mapstructure:"RPC_RATE_LIMIT_PER_SEC" validate:"min=0"`
	RedisAddr           string        `mapstructure:"REDIS_ADDR"` // optional; enables cross-replica tick locks and RPC limits

	BtcRpcHost       string `mapstructure:"BTC_RPC_HOST"` // empty disables bitcoin deposit polling
	BtcRpcUser       string `mapstructure:"BTC_RPC_USER" validate:"required_with=BtcRpcHost"`
	BtcRpcPass       string `mapstructure:"BTC_RPC_PASS" validate:"required_with=BtcRpcHost"`
	BtcRpcTLS        bool   `mapstructure:"BTC_RPC_TLS"`
	BtcNetwork       string `mapstructure:"BTC_NETWORK" validate:"oneof=mainnet testnet testnet3 regtest signet simnet"`
	BtcConfThreshold int64  `mapstructure:"BTC_CONF_THRESHOLD"`

	EthRpcUrl          string `mapstructure:"ETH_RPC_URL" validate:"omitempty,url"` // empty disables ethereum deposit polling
	EthConfThreshold   int64  `mapstructure:"ETH_CONF_THRESHOLD"`
	Erc20Tokens        string `mapstructure:"ERC20_TOKENS"` // SYM:0xcontract:decimals,...
	Erc20ConfThreshold int64  `mapstructure:"ERC20_CONF_THRESHOLD"`
}

// TokenConfig is one entry of ERC20_TOKENS.
type TokenConfig struct {
	Symbol   string
	Contract string
	Decimals int32
}

// Load reads configuration from APP_* environment variables and an optional YAML file.
func Load(logger *zap.Logger) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("app") // Prefix for env vars
	v.AutomaticEnv()

	// Default values
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("NEGATIVE_BALANCE_POLICY", "reject")
	v.SetDefault("MAX_DB_CONNECTIONS", "10")
	v.SetDefault("MIN_DB_CONNECTIONS", "2")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "ledger-worker")
	v.SetDefault("KAFKA_WITHDRAWAL_TOPIC", "withdrawal_creation")
	v.SetDefault("KAFKA_PARTITION", "4")
	v.SetDefault("KAFKA_REPLICATION_FACTOR", "1")
	v.SetDefault("MAX_WITHDRAWAL_CONCURRENT_JOBS", "16")
	v.SetDefault("RETRY_BASE_BACKOFF", "500ms")
	v.SetDefault("MAX_RETRY_BACKOFF", "30s")
	v.SetDefault("DEPOSIT_POLL_INTERVAL", "10m")
	v.SetDefault("RPC_TIMEOUT", "10s")
	v.SetDefault("RPC_MAX_RETRIES", "3")
	v.SetDefault("RPC_RATE_LIMIT_PER_SEC", "0")
	v.SetDefault("BTC_NETWORK", "mainnet")

	// Optional: Read from config.yaml if exists
	if gin.ReleaseMode == gin.Mode() {
		v.SetConfigName("config.prod")
	} else if gin.TestMode == gin.Mode() {
		logger.Warn("running_in_test_mode")
		v.SetConfigName("config.test")
	} else {
		logger.Warn("running_in_development_mode")
		v.SetConfigName("config.dev")
	}
	v.SetConfigType("yaml")
	v.AddConfigPath("./services/ledger-worker/configs")
	_ = v.ReadInConfig() // Ignore if no file

	var cfg Config
	if err := utils.ParseStructEnv(v, &cfg); err != nil {
		return nil, err
	}

	// Validate after unmarshal
	validate := validator.New()
	validate.RegisterStructValidation(validateChainFamilies, Config{})
	if err := validate.Struct(&cfg); err != nil {
		return nil, utils.FormatConfigErrors(logger, err, cfg)
	}
	if _, err := cfg.Tokens(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateChainFamilies requires a confirmation threshold of at least 1 for every family whose
// node is configured. A missing threshold must never default to crediting unconfirmed deposits.
func validateChainFamilies(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	if cfg.BtcRpcHost != "" && cfg.BtcConfThreshold < 1 {
		sl.ReportError(cfg.BtcConfThreshold, "BtcConfThreshold", "BtcConfThreshold", "min", "1")
	}
	if cfg.EthRpcUrl != "" && cfg.EthConfThreshold < 1 {
		sl.ReportError(cfg.EthConfThreshold, "EthConfThreshold", "EthConfThreshold", "min", "1")
	}
	if cfg.EthRpcUrl != "" && strings.TrimSpace(cfg.Erc20Tokens) != "" && cfg.Erc20ConfThreshold < 1 {
		sl.ReportError(cfg.Erc20ConfThreshold, "Erc20ConfThreshold", "Erc20ConfThreshold", "min", "1")
	}
}

// BitcoinEnabled reports whether bitcoin deposits are polled.
func (c *Config) BitcoinEnabled() bool { return c.BtcRpcHost != "" }

// EthereumEnabled reports whether Ether and token deposits are polled.
func (c *Config) EthereumEnabled() bool { return c.EthRpcUrl != "" }

// Tokens parses ERC20_TOKENS.
func (c *Config) Tokens() ([]TokenConfig, error) {
	return ParseTokens(c.Erc20Tokens)
}

// ParseTokens parses a comma separated list of SYMBOL:0xcontract:decimals entries.
func ParseTokens(raw string) ([]TokenConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var tokens []TokenConfig
	seen := make(map[string]struct{})
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("APP_ERC20_TOKENS: entry %q is not SYMBOL:CONTRACT:DECIMALS", entry)
		}
		symbol := strings.ToUpper(strings.TrimSpace(parts[0]))
		contract := strings.TrimSpace(parts[1])
		if symbol == "" {
			return nil, fmt.Errorf("APP_ERC20_TOKENS: entry %q has an empty symbol", entry)
		}
		if _, dup := seen[symbol]; dup {
			return nil, fmt.Errorf("APP_ERC20_TOKENS: symbol %s listed twice", symbol)
		}
		if !common.IsHexAddress(contract) {
			return nil, fmt.Errorf("APP_ERC20_TOKENS: %s contract %q is not an address", symbol, contract)
		}
		decimals, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 32)
		if err != nil || decimals < 0 {
			return nil, fmt.Errorf("APP_ERC20_TOKENS: %s decimals %q is not a non-negative integer", symbol, parts[2])
		}
		seen[symbol] = struct{}{}
		tokens = append(tokens, TokenConfig{Symbol: symbol, Contract: contract, Decimals: int32(decimals)})
	}
	return tokens, nil
}
