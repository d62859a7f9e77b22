package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dkeye/MeetRecorder/internal/config"
	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis creates a redis store backed by miniredis.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, newRedis(client, "test:", zerolog.Nop())
}

func backends(t *testing.T) map[string]core.Store {
	t.Helper()
	b, err := OpenBadgerInMemory()
	require.NoError(t, err)
	_, r := setupMiniRedis(t)

	stores := map[string]core.Store{
		"memory": NewMemory(),
		"badger": b,
		"redis":  r,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoreGetSetRemove(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var v bool
			ok, err := s.Get(ctx, KeyRecording, &v)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, KeyRecording, true))
			ok, err = s.Get(ctx, KeyRecording, &v)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.True(t, v)

			require.NoError(t, s.Set(ctx, KeyRecording, false))
			got, err := Bool(ctx, s, KeyRecording)
			require.NoError(t, err)
			assert.False(t, got)

			require.NoError(t, s.Remove(ctx, KeyRecording, "missing-key"))
			ok, err = s.Get(ctx, KeyRecording, &v)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreWatch(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ch, err := s.Watch(ctx)
			require.NoError(t, err)

			require.NoError(t, s.Set(ctx, KeyInMeeting, true))
			require.NoError(t, s.Remove(ctx, KeyInMeeting))

			var got []core.Change
			timeout := time.After(2 * time.Second)
			for len(got) < 2 {
				select {
				case c := <-ch:
					got = append(got, c)
				case <-timeout:
					t.Fatalf("expected 2 changes, got %d", len(got))
				}
			}
			assert.Equal(t, KeyInMeeting, got[0].Key)
			assert.JSONEq(t, `true`, string(got[0].Value))
			assert.True(t, got[1].Removed)

			cancel()
			assert.Eventually(t, func() bool {
				select {
				case _, ok := <-ch:
					return !ok
				default:
					return false
				}
			}, time.Second, 10*time.Millisecond)
		})
	}
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	ps, err := Permissions(ctx, s)
	require.NoError(t, err)
	assert.False(t, ps.Allowed(domain.PlatformMeet))

	_, err = SetPermission(ctx, s, domain.PlatformMeet, true)
	require.NoError(t, err)
	_, err = SetPermission(ctx, s, domain.PlatformZoom, true)
	require.NoError(t, err)
	_, err = SetPermission(ctx, s, domain.PlatformZoom, false)
	require.NoError(t, err)

	ps, err = Permissions(ctx, s)
	require.NoError(t, err)
	assert.True(t, ps.Allowed(domain.PlatformMeet))
	assert.False(t, ps.Allowed(domain.PlatformZoom))
}

func TestTimesAndReset(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	now := time.UnixMilli(time.Now().UnixMilli())
	require.NoError(t, SetTime(ctx, s, KeyRecordingStart, now))
	require.NoError(t, s.Set(ctx, KeyRecording, true))
	require.NoError(t, SetDuration(ctx, s, KeyLastSessionDuration, 90*time.Second))

	got, ok, err := Time(ctx, s, KeyRecordingStart)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, now.Equal(got))

	var secs int64
	_, err = s.Get(ctx, KeyLastSessionDuration, &secs)
	require.NoError(t, err)
	assert.EqualValues(t, 90, secs)

	require.NoError(t, ResetRecording(ctx, s))
	rec, err := Bool(ctx, s, KeyRecording)
	require.NoError(t, err)
	assert.False(t, rec)
	_, ok, err = Time(ctx, s, KeyRecordingStart)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadger(dir)
	require.NoError(t, err)
	_, err = SetPermission(ctx, s, domain.PlatformTeams, true)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir)
	require.NoError(t, err)
	defer s.Close()
	ps, err := Permissions(ctx, s)
	require.NoError(t, err)
	assert.True(t, ps.Allowed(domain.PlatformTeams))
}

func TestMemoryClosed(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Set(context.Background(), "k", 1), core.ErrStoreClosed)
}

func TestRedisPrefix(t *testing.T) {
	mr, s := setupMiniRedis(t)
	require.NoError(t, s.Set(context.Background(), KeyRecording, true))
	v, err := mr.Get("test:" + KeyRecording)
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}

func TestFactory(t *testing.T) {
	s, err := New(config.StoreConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = New(config.StoreConfig{Backend: "badger", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Badger{}, s)
	require.NoError(t, s.Close())

	mr := miniredis.RunT(t)
	s, err = New(config.StoreConfig{Backend: "redis", RedisAddr: mr.Addr(), Prefix: "x:"})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, s)
	require.NoError(t, s.Close())

	_, err = New(config.StoreConfig{Backend: "etcd"})
	assert.Error(t, err)
}
