// Package lock guards batch actions so a group is never processed by two
// batches at once. The guard spans the whole batch including its refresh.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Errors returned by guards.
var (
	ErrHeld     = errors.New("a batch is already running for this group")
	ErrEmptyKey = errors.New("lock key is required")
)

// DefaultTTL bounds how long a crashed holder can block a group.
const DefaultTTL = 2 * time.Minute

// Release gives up a held guard. It is safe to call more than once.
type Release func()

// Guard hands out exclusive, non-blocking holds on keys.
// Satisfied by *MemoryGuard and *RedisGuard.
type Guard interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Key builds the guard key of a batch on one group.
func Key(tenant, mode, group string) string {
	return strings.Join([]string{"kanban", "batch", tenant, mode, group}, ":")
}

// TenantKey is the tenant segment of Key. Unscoped callers share "default".
func TenantKey(id uuid.UUID) string {
	if id == uuid.Nil {
		return "default"
	}
	return id.String()
}

// --- In-process guard ---

// MemoryGuard is a Guard for single-instance deployments.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (Release, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return nil, ErrHeld
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// --- Redis guard ---

// RedisGuard is a Guard shared by every instance connected to the same Redis.
type RedisGuard struct {
	rs     *redsync.Redsync
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisGuard creates a guard on client. Holds expire after ttl even if
// never released.
func NewRedisGuard(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisGuard{
		rs:     redsync.New(goredis.NewPool(client)),
		ttl:    ttl,
		logger: logger,
	}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (Release, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}

	mutex := g.rs.NewMutex(key,
		redsync.WithExpiry(g.ttl),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The request context may already be done when the batch ends.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if ok, err := mutex.UnlockContext(ctx); err != nil || !ok {
				g.logger.Warn("release batch guard failed", zap.String("key", key), zap.Bool("held", ok), zap.Error(err))
			}
		})
	}, nil
}

func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	var taken *redsync.ErrTaken
	if errors.As(err, &taken) {
		return true
	}
	return strings.Contains(err.Error(), "lock already taken")
}
