package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/dkeye/MeetRecorder/internal/domain"
)

func Permissions(ctx context.Context, s core.Store) (domain.PermissionSet, error) {
	ps := domain.PermissionSet{}
	if _, err := s.Get(ctx, KeyPermissions, &ps); err != nil {
		return nil, fmt.Errorf("read permissions: %w", err)
	}
	return ps, nil
}

// SetPermission read-modify-writes the permission set. Concurrent grants may
// race; last writer wins.
func SetPermission(ctx context.Context, s core.Store, p domain.Platform, enabled bool) (domain.PermissionSet, error) {
	ps, err := Permissions(ctx, s)
	if err != nil {
		return nil, err
	}
	ps[p] = enabled
	if err := s.Set(ctx, KeyPermissions, ps); err != nil {
		return nil, fmt.Errorf("write permissions: %w", err)
	}
	return ps, nil
}

func Bool(ctx context.Context, s core.Store, key string) (bool, error) {
	var v bool
	if _, err := s.Get(ctx, key, &v); err != nil {
		return false, err
	}
	return v, nil
}

// Time reads a unix-millisecond timestamp.
func Time(ctx context.Context, s core.Store, key string) (time.Time, bool, error) {
	var ms int64
	ok, err := s.Get(ctx, key, &ms)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func SetTime(ctx context.Context, s core.Store, key string, t time.Time) error {
	return s.Set(ctx, key, t.UnixMilli())
}

// SetDuration stores whole seconds, the unit the UI displays.
func SetDuration(ctx context.Context, s core.Store, key string, d time.Duration) error {
	return s.Set(ctx, key, int64(d/time.Second))
}

func ResetRecording(ctx context.Context, s core.Store) error {
	return s.Remove(ctx, RecordingKeys...)
}
