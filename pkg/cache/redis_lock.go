package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultLockPrefix prefisso delle chiavi di lock
const DefaultLockPrefix = "operatoros:lock:"

// releaseScript cancella la chiave solo se contiene ancora il token del proprietario
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker lock distribuito non bloccante basato su SET NX PX.
// Il TTL limita la durata del lock se il processo proprietario muore.
type RedisLocker struct {
	client         *redis.Client
	prefix         string
	ttl            time.Duration
	releaseTimeout time.Duration
}

// NewRedisLocker crea un locker sul client indicato
func NewRedisLocker(client *RedisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{
		client:         client.Client(),
		prefix:         DefaultLockPrefix,
		ttl:            ttl,
		releaseTimeout: 3 * time.Second,
	}
}

// TryLock tenta di acquisire la chiave senza attendere.
// L'unlock restituito è idempotente e rilascia solo se il lock è ancora nostro.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	k := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), l.releaseTimeout)
			defer cancel()

			if err := releaseScript.Run(ctx, l.client, []string{k}, token).Err(); err != nil {
				log.Warn().
					Err(err).
					Str("key", k).
					Msg("Failed to release redis lock")
			}
		})
	}
	return unlock, true, nil
}

// TTL restituisce la durata massima del lock
func (l *RedisLocker) TTL() time.Duration {
	return l.ttl
}
