package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func guards(t *testing.T) map[string]Guard {
	_, client := setupTestRedis(t)
	return map[string]Guard{
		"memory": NewMemoryGuard(),
		"redis":  NewRedisGuard(client, time.Minute, nil),
	}
}

func TestGuard_ExclusiveUntilReleased(t *testing.T) {
	for name, g := range guards(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key("t1", "supplier", "Acme")

			release, err := g.Acquire(ctx, key)
			require.NoError(t, err)

			_, err = g.Acquire(ctx, key)
			assert.ErrorIs(t, err, ErrHeld)

			other, err := g.Acquire(ctx, Key("t1", "supplier", "Globex"))
			require.NoError(t, err, "other groups are independent")
			other()

			release()
			release() // idempotent

			again, err := g.Acquire(ctx, key)
			require.NoError(t, err)
			again()
		})
	}
}

func TestGuard_EmptyKey(t *testing.T) {
	for name, g := range guards(t) {
		t.Run(name, func(t *testing.T) {
			_, err := g.Acquire(context.Background(), " ")
			assert.ErrorIs(t, err, ErrEmptyKey)
		})
	}
}

func TestGuard_OnlyOneConcurrentHolder(t *testing.T) {
	for name, g := range guards(t) {
		t.Run(name, func(t *testing.T) {
			var acquired int32
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := g.Acquire(context.Background(), "kanban:batch:x"); err == nil {
						atomic.AddInt32(&acquired, 1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), acquired)
		})
	}
}

func TestRedisGuard_ExpiresAfterTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	g := NewRedisGuard(client, 2*time.Second, nil)
	ctx := context.Background()

	_, err := g.Acquire(ctx, "kanban:batch:ttl")
	require.NoError(t, err)
	assert.True(t, mr.Exists("kanban:batch:ttl"))

	mr.FastForward(3 * time.Second)

	release, err := g.Acquire(ctx, "kanban:batch:ttl")
	require.NoError(t, err, "crashed holder must not block forever")
	release()
}

func TestKey(t *testing.T) {
	assert.Equal(t, "kanban:batch:t1:orderMethod:EMAIL", Key("t1", "orderMethod", "EMAIL"))
}

func TestTenantKey(t *testing.T) {
	assert.Equal(t, "default", TenantKey(uuid.Nil))
	id := uuid.New()
	assert.Equal(t, id.String(), TenantKey(id))
}
