package hosttest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/pion/webrtc/v4/pkg/media"
)

var (
	ErrEncoderClosed = errors.New("fake encoder closed")
	ErrEncoderWrite  = errors.New("fake encoder write failed")
)

// Encoder records what it is fed and emits one small fragment per flush
// that saw new media.
type Encoder struct {
	mu          sync.Mutex
	pending     int
	fragments   int
	videoFrames int
	audioFrames int
	audioLevels []int16
	// writes fail once this many frames of the kind were accepted; 0 never fails
	failVideoAfter int
	failAudioAfter int
	audioFormat    *core.AudioFormat
	closed         bool
}

func (e *Encoder) Extension() string { return "webm" }

func (e *Encoder) WriteVideo(media.Sample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEncoderClosed
	}
	if e.failVideoAfter > 0 && e.videoFrames >= e.failVideoAfter {
		return ErrEncoderWrite
	}
	e.videoFrames++
	e.pending++
	return nil
}

func (e *Encoder) WriteAudio(f core.AudioFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEncoderClosed
	}
	if e.failAudioAfter > 0 && e.audioFrames >= e.failAudioAfter {
		return ErrEncoderWrite
	}
	e.audioFrames++
	if len(f.Samples) > 0 {
		e.audioLevels = append(e.audioLevels, f.Samples[0])
	}
	e.pending++
	return nil
}

func (e *Encoder) take() []byte {
	if e.pending == 0 {
		return nil
	}
	e.fragments++
	frag := []byte(fmt.Sprintf("frag%d:%d;", e.fragments, e.pending))
	e.pending = 0
	return frag
}

func (e *Encoder) Flush() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.take(), nil
}

func (e *Encoder) Close() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEncoderClosed
	}
	e.closed = true
	return e.take(), nil
}

func (e *Encoder) VideoFrames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.videoFrames
}

// AudioLevels returns the first sample of every audio frame written.
func (e *Encoder) AudioLevels() []int16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int16(nil), e.audioLevels...)
}

func (e *Encoder) AudioFormat() *core.AudioFormat { return e.audioFormat }

type EncoderFactory struct {
	mu  sync.Mutex
	Err error
	// FailVideoAfter and FailAudioAfter make new encoders reject writes
	// after that many frames.
	FailVideoAfter int
	FailAudioAfter int
	encoders       []*Encoder
}

func (f *EncoderFactory) NewEncoder(_ core.VideoFormat, a *core.AudioFormat) (core.Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	e := &Encoder{audioFormat: a, failVideoAfter: f.FailVideoAfter, failAudioAfter: f.FailAudioAfter}
	f.encoders = append(f.encoders, e)
	return e, nil
}

func (f *EncoderFactory) Last() *Encoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.encoders) == 0 {
		return nil
	}
	return f.encoders[len(f.encoders)-1]
}
