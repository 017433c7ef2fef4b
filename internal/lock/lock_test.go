package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_Serializes(t *testing.T) {
	l := NewLocalWait(time.Second)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(ctx, "k")
		if err == nil {
			_ = r(ctx)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while key was held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, release(ctx))
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestLocal_Busy(t *testing.T) {
	l := NewLocalWait(20 * time.Millisecond)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrBusy)

	// Other keys are independent.
	r, err := l.Acquire(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, r(ctx))
}

func TestLocal_StaleRelease(t *testing.T) {
	l := NewLocalWait(20 * time.Millisecond)
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, r1(ctx))

	r2, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	// A second call of an old release must not free the new holder.
	require.NoError(t, r1(ctx))
	_, err = l.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrBusy)

	require.NoError(t, r2(ctx))
}

// --- Mock implementations ---

type mockRedis struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMockRedis() *mockRedis {
	return &mockRedis{keys: make(map[string]string)}
}

func (m *mockRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.keys[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (m *mockRedis) compareAndDelete(keys []string, args []any) *redis.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[keys[0]] != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(m.keys, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func (m *mockRedis) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args)
}

func (m *mockRedis) EvalSha(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args)
}

func (m *mockRedis) EvalRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args)
}

func (m *mockRedis) EvalShaRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args)
}

func (m *mockRedis) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (m *mockRedis) ScriptLoad(_ context.Context, _ string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func (m *mockRedis) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok
}

func TestRedis_AcquireRelease(t *testing.T) {
	client := newMockRedis()
	l := NewRedis(client, RedisOptions{Wait: 30 * time.Millisecond, Retry: 5 * time.Millisecond})
	ctx := context.Background()

	release, err := l.Acquire(ctx, "settlement:order:R1")
	require.NoError(t, err)
	assert.True(t, client.has("settlement:order:R1"))

	_, err = l.Acquire(ctx, "settlement:order:R1")
	require.ErrorIs(t, err, ErrBusy)

	require.NoError(t, release(ctx))
	assert.False(t, client.has("settlement:order:R1"))

	release, err = l.Acquire(ctx, "settlement:order:R1")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedis_ReleaseKeepsForeignToken(t *testing.T) {
	client := newMockRedis()
	l := NewRedis(client, RedisOptions{})
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	// Simulate expiry followed by another holder taking the key.
	client.mu.Lock()
	client.keys["k"] = "someone-else"
	client.mu.Unlock()

	require.NoError(t, release(ctx))
	assert.True(t, client.has("k"))
}

func TestRedis_ContextCanceled(t *testing.T) {
	client := newMockRedis()
	l := NewRedis(client, RedisOptions{Wait: time.Second, Retry: 10 * time.Millisecond})

	_, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
