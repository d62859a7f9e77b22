package core

import (
	"context"
	"time"

	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/pion/webrtc/v4/pkg/media"
)

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

type AudioFormat struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
}

type VideoFormat struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Codec  string `json:"codec"`
}

// AudioFrame is interleaved signed 16-bit PCM.
type AudioFrame struct {
	Samples    []int16
	SampleRate int
	Channels   int
	Timestamp  time.Duration
}

// Frames returns the number of sample frames (samples per channel).
func (f AudioFrame) Frames() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Frames()) * time.Second / time.Duration(f.SampleRate)
}

type Track interface {
	ID() string
	Kind() TrackKind
	// Stop releases the underlying host resource. Safe to call more than once.
	Stop()
	// Ended is closed once the source stops producing (tab closed, device gone, Stop called).
	Ended() <-chan struct{}
}

type AudioTrack interface {
	Track
	Format() AudioFormat
	// ReadFrame blocks for the next frame; io.EOF after the track ended.
	ReadFrame(ctx context.Context) (AudioFrame, error)
}

type VideoTrack interface {
	Track
	Format() VideoFormat
	// ReadSample blocks for the next encoded frame; io.EOF after the track ended.
	ReadSample(ctx context.Context) (media.Sample, error)
}

// MediaStream is the tab's combined output. Audio may be nil for a silent tab.
type MediaStream struct {
	Video VideoTrack
	Audio AudioTrack
}

func (s MediaStream) Stop() {
	if s.Video != nil {
		s.Video.Stop()
	}
	if s.Audio != nil {
		s.Audio.Stop()
	}
}

// MediaDevices acquires capture sources from the host runtime.
type MediaDevices interface {
	CaptureTab(ctx context.Context, tab domain.TabID) (MediaStream, error)
	Microphone(ctx context.Context) (AudioTrack, error)
}

// Playback is the local pass-through path for tab audio while it is captured.
type Playback interface {
	Play(tab domain.TabID, f AudioFrame)
}

// Encoder is a streaming media encoder. Implementations must be safe for
// concurrent writers.
type Encoder interface {
	WriteVideo(s media.Sample) error
	WriteAudio(f AudioFrame) error
	// Flush returns the bytes produced since the previous flush, nil when there are none.
	Flush() ([]byte, error)
	// Close finishes the stream and returns the trailing bytes.
	Close() ([]byte, error)
	Extension() string
}

type EncoderFactory interface {
	NewEncoder(v VideoFormat, a *AudioFormat) (Encoder, error)
}
