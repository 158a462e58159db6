package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still carries the holder's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TickLock is a best-effort mutual exclusion across replicas built on SET NX PX.
// A holder that outlives ttl loses the lock; callers size ttl above their worst-case run.
type TickLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewTickLock(client *redis.Client, prefix string, ttl time.Duration) *TickLock {
	return &TickLock{client: client, prefix: prefix, ttl: ttl}
}

// TryAcquire returns a release func when the lock was free, or ok=false when another holder has it.
func (l *TickLock) TryAcquire(ctx context.Context, name string) (release func(), ok bool, err error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	key := l.prefix + name
	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}
	release = func() {
		// the caller's ctx may already be cancelled at shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.New("tick lock: cannot read random token")
	}
	return hex.EncodeToString(b), nil
}
