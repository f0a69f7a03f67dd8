package cache

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection options. Zero durations and sizes take the defaults below.
type Config struct {
	Addr            string
	Username        string
	Password        string
	DB              int
	UseTLS          bool
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolSize        int
	MinIdleConns    int
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

func (cfg Config) options() *redis.Options {
	opts := &redis.Options{
		Addr:            cfg.Addr,
		Username:        cfg.Username,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     orDefault(cfg.DialTimeout, 3*time.Second),
		ReadTimeout:     orDefault(cfg.ReadTimeout, 2*time.Second),
		WriteTimeout:    orDefault(cfg.WriteTimeout, 2*time.Second),
		PoolSize:        orDefault(cfg.PoolSize, 10),
		MinIdleConns:    orDefault(cfg.MinIdleConns, 2),
		MaxRetries:      orDefault(cfg.MaxRetries, 3),
		MinRetryBackoff: orDefault(cfg.MinRetryBackoff, 50*time.Millisecond),
		MaxRetryBackoff: orDefault(cfg.MaxRetryBackoff, 500*time.Millisecond),
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// New returns a client that has answered PING, and a closer for shutdown.
func New(ctx context.Context, cfg Config) (*redis.Client, func(), error) {
	client := redis.NewClient(cfg.options())
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

func orDefault[T int | time.Duration](v, d T) T {
	if v > 0 {
		return v
	}
	return d
}
