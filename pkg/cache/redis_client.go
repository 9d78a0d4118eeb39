package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

// Options parametri di connessione Redis
type Options struct {
	Addr     string
	Password string
	DB       int
}

// RedisClient connessione Redis condivisa dai lock delle conversazioni
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient apre il pool e verifica che il server risponda entro ctx
func NewRedisClient(ctx context.Context, opts Options) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  connectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return &RedisClient{client: client}, nil
}

// Ping verifica la connessione
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close chiude il pool
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Client restituisce il client go-redis sottostante
func (r *RedisClient) Client() *redis.Client {
	return r.client
}
