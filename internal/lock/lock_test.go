package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNormalizeSortsDedupsAndSkipsHeld(t *testing.T) {
	held := map[string]struct{}{"account:1010": {}}
	got := normalize([]string{"stock:1:A", "account:2010", "", "account:1010", "account:2010"}, held)
	assert.Equal(t, []string{"account:2010", "stock:1:A"}, got)
}

func TestAcquireIsReentrant(t *testing.T) {
	l := NewLocal()
	ctx, release, err := l.Acquire(context.Background(), AccountKey("1010"), EntryKey("JE-1"))
	require.NoError(t, err)
	defer release()

	assert.True(t, Holds(ctx, AccountKey("1010")))

	done := make(chan struct{})
	go func() {
		inner, innerRelease, err := l.Acquire(ctx, AccountKey("1010"), AccountKey("2010"))
		assert.NoError(t, err)
		assert.True(t, Holds(inner, AccountKey("2010")))
		innerRelease()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested acquire deadlocked")
	}
}

func TestAcquireSerializesOverlappingKeys(t *testing.T) {
	l := NewLocal()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := l.Acquire(context.Background(), StockKey(1, "MAIN"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := NewLocal()
	_, release, err := l.Acquire(context.Background(), FiscalKey)
	require.NoError(t, err)
	release()
	release()

	_, again, err := l.Acquire(context.Background(), FiscalKey)
	require.NoError(t, err)
	again()
}

func TestRedisBackendFailsFast(t *testing.T) {
	addr := os.Getenv("STOCKLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STOCKLEDGER_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	l := newLocker(newRedisBackend(client, time.Second, zap.NewNop()), nil)
	_, release, err := l.Acquire(context.Background(), AccountKey("9999"))
	require.NoError(t, err)
	defer release()

	_, _, err = l.Acquire(context.Background(), AccountKey("9999"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrLockConflict))
}
