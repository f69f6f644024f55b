package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes the lease key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends the lease TTL only if it still holds the caller's token.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using SET NX PX with a random
// token and Lua-guarded renew/release.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	renewSc  *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		renewSc:  redis.NewScript(renewLua),
	}
}

// Acquire obtains the lease for key. It returns domain.ErrLockHeld if another
// holder owns it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.NewString()
	lk := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, domain.ErrLockHeld)
	}
	return &lease{lm: lm, key: key, redisKey: lk, token: token, ttl: ttl}, nil
}

type lease struct {
	lm       *LockManager
	key      string
	redisKey string
	token    string
	ttl      time.Duration

	mu       sync.Mutex
	released bool
}

func (l *lease) Key() string { return l.key }

func (l *lease) Renew(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return fmt.Errorf("redis: renew lease %s: %w", l.key, domain.ErrLeaseLost)
	}
	n, err := l.lm.renewSc.Run(ctx, l.lm.c.rdb, []string{l.redisKey}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: renew lease %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: renew lease %s: %w", l.key, domain.ErrLeaseLost)
	}
	return nil
}

// Release is safe to call more than once.
func (l *lease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	if err := l.lm.unlockSc.Run(ctx, l.lm.c.rdb, []string{l.redisKey}, l.token).Err(); err != nil {
		return fmt.Errorf("redis: release lease %s: %w", l.key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
