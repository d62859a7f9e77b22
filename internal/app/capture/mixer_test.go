package capture

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/dkeye/MeetRecorder/internal/hosttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMixIntoFoldsAndClamps(t *testing.T) {
	dst := core.AudioFrame{Samples: []int16{100, 100, math.MaxInt16 - 10, 0}, SampleRate: 48000, Channels: 2}
	mic := core.AudioFrame{Samples: []int16{50, 50}, SampleRate: 48000, Channels: 1}

	MixInto(dst, mic)
	assert.Equal(t, []int16{150, 150, math.MaxInt16, 50}, dst.Samples)
}

func TestMixIntoResamples(t *testing.T) {
	dst := core.AudioFrame{Samples: make([]int16, 4), SampleRate: 48000, Channels: 1}
	mic := core.AudioFrame{Samples: []int16{10, 20}, SampleRate: 24000, Channels: 1}

	MixInto(dst, mic)
	assert.Equal(t, []int16{10, 10, 20, 20}, dst.Samples)
}

func TestMixIntoIgnoresBadFormat(t *testing.T) {
	dst := core.AudioFrame{Samples: []int16{1, 2}, SampleRate: 48000, Channels: 1}
	MixInto(dst, core.AudioFrame{Samples: []int16{5}})
	assert.Equal(t, []int16{1, 2}, dst.Samples)
}

type frameLog struct {
	mu     sync.Mutex
	levels []int16
}

func (l *frameLog) write(f core.AudioFrame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(f.Samples) > 0 {
		l.levels = append(l.levels, f.Samples[0])
	}
	return nil
}

func (l *frameLog) snapshot() []int16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int16(nil), l.levels...)
}

func runMixer(t *testing.T, m *Mixer, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	done := make(chan struct{})
	if m.NeedsMicReader() {
		go func() { _ = m.RunMic(ctx) }()
	}
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	<-done
}

func TestMixerMutedMicIsSilent(t *testing.T) {
	h := hosttest.New()
	h.FrameInterval = time.Millisecond
	h.OpenTab(1)
	s, err := h.CaptureTab(context.Background(), 1)
	require.NoError(t, err)
	mic, err := h.Microphone(context.Background())
	require.NoError(t, err)

	var out frameLog
	m := NewMixer(s.Audio, mic, nil, out.write, 4)
	require.True(t, m.Muted(), "gain starts at zero")

	runMixer(t, m, 50*time.Millisecond)
	levels := out.snapshot()
	require.NotEmpty(t, levels)
	for _, l := range levels {
		assert.Equal(t, int16(hosttest.TabLevel), l)
	}
}

func TestMixerUnmutedAddsMic(t *testing.T) {
	h := hosttest.New()
	h.FrameInterval = time.Millisecond
	h.OpenTab(1)
	s, err := h.CaptureTab(context.Background(), 1)
	require.NoError(t, err)
	mic, err := h.Microphone(context.Background())
	require.NoError(t, err)

	var out frameLog
	var played int
	m := NewMixer(s.Audio, mic, func(core.AudioFrame) { played++ }, out.write, 4)
	m.SetMuted(false)

	runMixer(t, m, 80*time.Millisecond)
	assert.Contains(t, out.snapshot(), int16(hosttest.TabLevel+hosttest.MicLevel))
	assert.Positive(t, played)
}

func TestMixerPlaybackKeepsRawTabAudio(t *testing.T) {
	h := hosttest.New()
	h.FrameInterval = time.Millisecond
	h.OpenTab(1)
	s, err := h.CaptureTab(context.Background(), 1)
	require.NoError(t, err)
	mic, err := h.Microphone(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	var heard []int16
	m := NewMixer(s.Audio, mic, func(f core.AudioFrame) {
		mu.Lock()
		heard = append(heard, f.Samples[0])
		mu.Unlock()
	}, func(core.AudioFrame) error { return nil }, 4)
	m.SetMuted(false)

	runMixer(t, m, 30*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, heard)
	for _, l := range heard {
		assert.Equal(t, int16(hosttest.TabLevel), l)
	}
}

func TestMixerMicOnly(t *testing.T) {
	h := hosttest.New()
	h.FrameInterval = time.Millisecond
	mic, err := h.Microphone(context.Background())
	require.NoError(t, err)

	var out frameLog
	m := NewMixer(nil, mic, nil, out.write, 4)
	assert.True(t, m.HasAudio())
	assert.False(t, m.NeedsMicReader())
	assert.Equal(t, &core.AudioFormat{SampleRate: hosttest.SampleRate, Channels: 1}, m.Format())

	runMixer(t, m, 20*time.Millisecond)
	for _, l := range out.snapshot() {
		assert.Zero(t, l)
	}
}

func TestMixerWithoutAudio(t *testing.T) {
	m := NewMixer(nil, nil, nil, nil, 0)
	assert.False(t, m.HasAudio())
	assert.False(t, m.HasMicPath())
	assert.Nil(t, m.Format())
}
