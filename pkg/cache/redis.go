package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config describes the redis used for tick locks and shared RPC rate limits.
// Addr is either host:port or a redis:// / rediss:// URL.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	UseTLS   bool
	PoolSize int
	// OpTimeout bounds every read and write. Lock calls sit on the poll path so it stays short.
	OpTimeout time.Duration
}

func (c Config) options() (*redis.Options, error) {
	var opts *redis.Options
	if strings.HasPrefix(c.Addr, "redis://") || strings.HasPrefix(c.Addr, "rediss://") {
		parsed, err := redis.ParseURL(c.Addr)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: c.Addr, Username: c.Username, Password: c.Password, DB: c.DB}
	}

	timeout := c.OpTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	opts.DialTimeout = 3 * timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout
	opts.PoolSize = 8
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	opts.MaxRetries = 2
	opts.MinRetryBackoff = 25 * time.Millisecond
	opts.MaxRetryBackoff = 250 * time.Millisecond
	if c.UseTLS && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

// New connects and pings. The closer must run on shutdown.
func New(ctx context.Context, logger *zap.Logger, cfg Config) (*redis.Client, func(), error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	logger.Info("redis_connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	return client, func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis_close_failed", zap.Error(err))
		}
	}, nil
}

// Ping adapts a client to the readiness check signature.
func Ping(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
