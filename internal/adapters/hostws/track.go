package hostws

import (
	"context"
	"io"
	"sync"

	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/pion/webrtc/v4/pkg/media"
)

// track is a remote source fed by frames arriving from the host. When the
// reader falls behind the oldest frame is dropped.
type track[T any] struct {
	id     string
	kind   core.TrackKind
	ch     chan T
	ended  chan struct{}
	endMu  sync.Once
	stopMu sync.Once
	onStop func()
}

func newTrack[T any](id string, kind core.TrackKind, buffer int, onStop func()) *track[T] {
	return &track[T]{
		id:     id,
		kind:   kind,
		ch:     make(chan T, max(buffer, 1)),
		ended:  make(chan struct{}),
		onStop: onStop,
	}
}

func (t *track[T]) ID() string             { return t.id }
func (t *track[T]) Kind() core.TrackKind   { return t.kind }
func (t *track[T]) Ended() <-chan struct{} { return t.ended }

func (t *track[T]) Stop() {
	t.end()
	t.stopMu.Do(func() {
		if t.onStop != nil {
			t.onStop()
		}
	})
}

func (t *track[T]) end() { t.endMu.Do(func() { close(t.ended) }) }

// push queues v and reports whether an older frame had to be dropped.
func (t *track[T]) push(v T) (dropped bool) {
	select {
	case <-t.ended:
		return false
	default:
	}
	for {
		select {
		case t.ch <- v:
			return dropped
		default:
			select {
			case <-t.ch:
				dropped = true
			default:
			}
		}
	}
}

// next returns queued frames first, io.EOF once the track ended and drained.
func (t *track[T]) next(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-t.ch:
		return v, nil
	default:
	}
	select {
	case v := <-t.ch:
		return v, nil
	case <-t.ended:
		return zero, io.EOF
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type audioTrack struct {
	*track[core.AudioFrame]
	format core.AudioFormat
}

func (a *audioTrack) Format() core.AudioFormat { return a.format }

func (a *audioTrack) ReadFrame(ctx context.Context) (core.AudioFrame, error) { return a.next(ctx) }

type videoTrack struct {
	*track[media.Sample]
	format core.VideoFormat
}

func (v *videoTrack) Format() core.VideoFormat { return v.format }

func (v *videoTrack) ReadSample(ctx context.Context) (media.Sample, error) { return v.next(ctx) }
