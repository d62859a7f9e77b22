package hosttest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Constant sample values make the mix observable in tests.
const (
	TabLevel int16 = 1000
	MicLevel int16 = 2000

	SampleRate    = 48000
	FrameSamples  = 480
	videoDuration = 33 * time.Millisecond
)

// Track is the shared state of a synthetic source.
type Track struct {
	tab      domain.TabID
	kind     core.TrackKind
	id       string
	interval time.Duration
	level    int16
	channels int

	mu      sync.Mutex
	stopped bool
	ended   chan struct{}
	once    sync.Once
	n       int
}

func newTrack(tab domain.TabID, kind core.TrackKind, id string, interval time.Duration, level int16, channels int) *Track {
	return &Track{
		tab:      tab,
		kind:     kind,
		id:       id,
		interval: interval,
		level:    level,
		channels: channels,
		ended:    make(chan struct{}),
	}
}

func (t *Track) ID() string             { return t.id }
func (t *Track) Kind() core.TrackKind   { return t.kind }
func (t *Track) Ended() <-chan struct{} { return t.ended }

func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.end()
}

func (t *Track) end() { t.once.Do(func() { close(t.ended) }) }

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Track) wait(ctx context.Context) error {
	select {
	case <-t.ended:
		return io.EOF
	default:
	}
	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ended:
		return io.EOF
	case <-timer.C:
		return nil
	}
}

func (t *Track) next() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.n
	t.n++
	return n
}

type AudioTrack struct{ *Track }

func (a AudioTrack) Format() core.AudioFormat {
	return core.AudioFormat{SampleRate: SampleRate, Channels: a.channels}
}

func (a AudioTrack) ReadFrame(ctx context.Context) (core.AudioFrame, error) {
	if err := a.wait(ctx); err != nil {
		return core.AudioFrame{}, err
	}
	samples := make([]int16, FrameSamples*a.channels)
	for i := range samples {
		samples[i] = a.level
	}
	n := a.next()
	return core.AudioFrame{
		Samples:    samples,
		SampleRate: SampleRate,
		Channels:   a.channels,
		Timestamp:  time.Duration(n) * FrameSamples * time.Second / SampleRate,
	}, nil
}

type VideoTrack struct{ *Track }

func (v VideoTrack) Format() core.VideoFormat {
	return core.VideoFormat{Width: 640, Height: 480, Codec: "VP8"}
}

func (v VideoTrack) ReadSample(ctx context.Context) (media.Sample, error) {
	if err := v.wait(ctx); err != nil {
		return media.Sample{}, err
	}
	tag := byte(0x10)
	if v.next()%30 != 0 {
		tag |= 0x01
	}
	return media.Sample{
		Data:     []byte{tag, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x80, 0x02, 0xe0, 0x01},
		Duration: videoDuration,
	}, nil
}
