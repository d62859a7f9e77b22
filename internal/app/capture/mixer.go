package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/dkeye/MeetRecorder/internal/core"
)

// errAudioWrite marks a failure of the recording sink, as opposed to a
// source that ended.
var errAudioWrite = errors.New("audio write failed")

// Mixer is the per-recording mix graph. Tab audio is split into a local
// playback path and the recording path; the microphone joins the recording
// path through a gain that is either 0 (muted) or 1.
type Mixer struct {
	tab   core.AudioTrack
	mic   core.AudioTrack
	play  func(core.AudioFrame)
	write func(core.AudioFrame) error

	unmuted  atomic.Bool
	micQueue chan core.AudioFrame
}

func NewMixer(tab, mic core.AudioTrack, play func(core.AudioFrame), write func(core.AudioFrame) error, micBuffer int) *Mixer {
	m := &Mixer{tab: tab, mic: mic, play: play, write: write}
	if mic != nil {
		m.micQueue = make(chan core.AudioFrame, max(micBuffer, 1))
	}
	return m
}

func (m *Mixer) HasAudio() bool   { return m.tab != nil || m.mic != nil }
func (m *Mixer) HasMicPath() bool { return m.mic != nil }

// NeedsMicReader reports whether the microphone is read separately from
// the tab clock.
func (m *Mixer) NeedsMicReader() bool { return m.tab != nil && m.mic != nil }

func (m *Mixer) SetMuted(muted bool) { m.unmuted.Store(!muted) }
func (m *Mixer) Muted() bool         { return !m.unmuted.Load() }

// Format is the format of the mixed output, nil when there is no audio.
func (m *Mixer) Format() *core.AudioFormat {
	switch {
	case m.tab != nil:
		f := m.tab.Format()
		return &f
	case m.mic != nil:
		f := m.mic.Format()
		return &f
	}
	return nil
}

// RunMic keeps the latest microphone frames queued, dropping the oldest.
func (m *Mixer) RunMic(ctx context.Context) error {
	for {
		f, err := m.mic.ReadFrame(ctx)
		if err != nil {
			return err
		}
		select {
		case m.micQueue <- f:
		default:
			select {
			case <-m.micQueue:
			default:
			}
			select {
			case m.micQueue <- f:
			default:
			}
		}
	}
}

// Run drives the graph from the tab clock, or from the microphone when the
// tab is silent. It returns when the driving source ends.
func (m *Mixer) Run(ctx context.Context) error {
	if m.tab == nil {
		return m.runMicOnly(ctx)
	}
	for {
		f, err := m.tab.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if m.play != nil {
			m.play(f)
		}
		out := core.AudioFrame{
			Samples:    append([]int16(nil), f.Samples...),
			SampleRate: f.SampleRate,
			Channels:   f.Channels,
			Timestamp:  f.Timestamp,
		}
		if m.mic != nil {
			select {
			case mf := <-m.micQueue:
				if !m.Muted() {
					MixInto(out, mf)
				}
			default:
			}
		}
		if err := m.write(out); err != nil {
			return fmt.Errorf("%w: %w", errAudioWrite, err)
		}
	}
}

func (m *Mixer) runMicOnly(ctx context.Context) error {
	for {
		f, err := m.mic.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if m.Muted() {
			f.Samples = make([]int16, len(f.Samples))
		}
		if err := m.write(f); err != nil {
			return fmt.Errorf("%w: %w", errAudioWrite, err)
		}
	}
}

// MixInto adds mic into dst in place. The microphone is folded to mono,
// resampled by nearest neighbour and added to every dst channel with
// saturation.
func MixInto(dst, mic core.AudioFrame) {
	if dst.Channels <= 0 || mic.Channels <= 0 || dst.SampleRate <= 0 || mic.SampleRate <= 0 {
		return
	}
	micFrames := mic.Frames()
	for i := 0; i < dst.Frames(); i++ {
		j := i * mic.SampleRate / dst.SampleRate
		if j >= micFrames {
			break
		}
		var sum int32
		for c := 0; c < mic.Channels; c++ {
			sum += int32(mic.Samples[j*mic.Channels+c])
		}
		mono := sum / int32(mic.Channels)
		for c := 0; c < dst.Channels; c++ {
			k := i*dst.Channels + c
			dst.Samples[k] = clamp16(int32(dst.Samples[k]) + mono)
		}
	}
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
