package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestDoSucceedsWithinAttempts(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, nil)
	calls := 0
	err := p.Do(context.Background(), "test", func(_ context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return domain.ErrUnresponsive
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhausts(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, nil)
	calls := 0
	err := p.Do(context.Background(), "test", func(context.Context, int) error {
		calls++
		return fmt.Errorf("not ready: %w", domain.ErrUnresponsive)
	})
	assert.ErrorIs(t, err, domain.ErrUnresponsive)
	assert.Equal(t, 3, calls)
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, []string{"no_permission", "no_data"})
	calls := 0
	err := p.Do(context.Background(), "test", func(context.Context, int) error {
		calls++
		return domain.ErrNoData
	})
	assert.ErrorIs(t, err, domain.ErrNoData)
	assert.Equal(t, 1, calls)
	assert.True(t, p.IsPermanent(domain.ErrNoPermission))
	assert.False(t, p.IsPermanent(domain.ErrCaptureRejected))
}

func TestCaptureRejectedConfigurable(t *testing.T) {
	transient := NewPolicy(3, time.Millisecond, nil)
	permanent := NewPolicy(3, time.Millisecond, []string{"capture_rejected"})

	count := func(p Policy) int {
		calls := 0
		_ = p.Do(context.Background(), "test", func(context.Context, int) error {
			calls++
			return errors.New("tab capture denied")
		})
		return calls
	}
	assert.Equal(t, 3, count(transient))
	assert.Equal(t, 1, count(permanent))
}

func TestDoHonoursCancel(t *testing.T) {
	p := NewPolicy(3, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "test", func(context.Context, int) error {
			calls++
			return domain.ErrUnresponsive
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not stop on cancel")
	}
}
