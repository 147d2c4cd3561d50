package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Close())

	mr.Close()
	_, err = New(context.Background(), ClientConfig{Addr: mr.Addr(), MaxRetries: -1})
	require.Error(t, err)
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "archive", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists(lockKey("archive")))

	unlock2, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	defer unlock2()
}

func TestLockExpires(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	stale, err := lm.Acquire(ctx, "archive", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)

	// The expired holder must not release the new holder's lock.
	stale()
	assert.True(t, mr.Exists(lockKey("archive")))
	fresh()
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := range 3 {
		ok, err := rl.Allow(ctx, "client", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "client", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(61 * time.Second)
	ok, err = rl.Allow(ctx, "client", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	sb := NewSignalBusWithMaxLen(c, 100)

	msgs, err := sb.StreamRead(ctx, domain.EventsStream, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(ctx, domain.EventsStream, []byte("one")))
	require.NoError(t, sb.StreamAppend(ctx, domain.EventsStream, []byte("two")))

	msgs, err = sb.StreamRead(ctx, domain.EventsStream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("one"), msgs[0].Payload)
	assert.Equal(t, []byte("two"), msgs[1].Payload)

	msgs, err = sb.StreamRead(ctx, domain.EventsStream, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("two"), msgs[0].Payload)
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sb := NewSignalBus(c)

	ch, err := sb.Subscribe(ctx, domain.EventsChannel)
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, domain.EventsChannel, []byte("hello")))

	select {
	case got := <-ch:
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMatchCache(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	mc := NewMatchCache(c, 10*time.Second)

	_, err := mc.Get(ctx, 7)
	require.ErrorIs(t, err, domain.ErrNotFound)

	view := domain.MatchView{
		Address: domain.Address{0x07},
		Balance: 20_000_000,
		MatchRecord: domain.MatchRecord{
			MatchID:     7,
			Depositor:   domain.Address{0xaa},
			Opponent:    domain.Address{0xbb},
			StakeAmount: 10_000_000,
			Status:      domain.MatchStatusInProgress,
			CreatedAt:   1_767_323_045,
		},
		Preview: &domain.Settlement{Pool: 20_000_000, Fee: 1_000_000, Payout: 19_000_000},
	}
	require.NoError(t, mc.Set(ctx, view))

	got, err := mc.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, view, got)

	require.NoError(t, mc.Invalidate(ctx, 7))
	_, err = mc.Get(ctx, 7)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, mc.Set(ctx, view))
	mr.FastForward(11 * time.Second)
	_, err = mc.Get(ctx, 7)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
