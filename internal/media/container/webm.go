// Package container encodes captured media into a Matroska/WebM stream that
// is emitted as an ordered sequence of fragments.
package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	Extension = "webm"
	MimeType  = "video/webm"

	trackVideo = 1
	trackAudio = 2

	codecPCM = "A_PCM/INT/LIT"
)

var (
	ErrClosed           = errors.New("encoder closed")
	ErrUnsupportedCodec = errors.New("unsupported video codec")
)

var videoCodecs = map[string]string{
	"":    "V_VP8",
	"VP8": "V_VP8",
	"VP9": "V_VP9",
}

type Factory struct {
	// CloseWait bounds how long Close waits for the muxer to drain.
	CloseWait time.Duration
}

func (f Factory) NewEncoder(v core.VideoFormat, a *core.AudioFormat) (core.Encoder, error) {
	codec, ok := videoCodecs[strings.ToUpper(v.Codec)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, v.Codec)
	}
	tracks := []webm.TrackEntry{{
		Name:        "Video",
		TrackNumber: trackVideo,
		TrackUID:    uint64(time.Now().UnixNano()),
		CodecID:     codec,
		TrackType:   1,
		Video: &webm.Video{
			PixelWidth:  uint64(max(v.Width, 1)),
			PixelHeight: uint64(max(v.Height, 1)),
		},
	}}
	if a != nil {
		tracks = append(tracks, webm.TrackEntry{
			Name:        "Audio",
			TrackNumber: trackAudio,
			TrackUID:    uint64(time.Now().UnixNano()) + 1,
			CodecID:     codecPCM,
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: float64(a.SampleRate),
				Channels:          uint64(a.Channels),
			},
		})
	}

	out := newSink()
	writers, err := webm.NewSimpleBlockWriter(out, tracks)
	if err != nil {
		return nil, fmt.Errorf("create webm writer: %w", err)
	}
	enc := &Encoder{out: out, video: writers[0], closeWait: f.CloseWait}
	if enc.closeWait <= 0 {
		enc.closeWait = 2 * time.Second
	}
	if a != nil {
		enc.audio = writers[1]
	}
	return enc, nil
}

type Encoder struct {
	mu        sync.Mutex
	out       *sink
	video     webm.BlockWriteCloser
	audio     webm.BlockWriteCloser
	videoTS   time.Duration
	audioTS   time.Duration
	hasMedia  bool
	closed    bool
	closeWait time.Duration
}

func (e *Encoder) Extension() string { return Extension }

func (e *Encoder) WriteVideo(s media.Sample) error {
	if len(s.Data) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	// VP8 frame tag: a cleared low bit marks a key frame.
	keyframe := s.Data[0]&0x01 == 0
	if _, err := e.video.Write(keyframe, e.videoTS.Milliseconds(), s.Data); err != nil {
		return fmt.Errorf("write video block: %w", err)
	}
	e.videoTS += s.Duration
	e.hasMedia = true
	return nil
}

func (e *Encoder) WriteAudio(f core.AudioFrame) error {
	if len(f.Samples) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.audio == nil {
		return nil
	}
	pcm := make([]byte, 2*len(f.Samples))
	for i, v := range f.Samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v))
	}
	if _, err := e.audio.Write(true, e.audioTS.Milliseconds(), pcm); err != nil {
		return fmt.Errorf("write audio block: %w", err)
	}
	e.audioTS += f.Duration()
	e.hasMedia = true
	return nil
}

// Flush hands out the muxed bytes. The container header is held back until
// the first media block so a stream without media yields no fragments.
func (e *Encoder) Flush() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasMedia {
		return nil, nil
	}
	return e.out.take(), nil
}

func (e *Encoder) Close() ([]byte, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.closed = true
	var errs []error
	if e.audio != nil {
		errs = append(errs, e.audio.Close())
	}
	errs = append(errs, e.video.Close())
	hasMedia := e.hasMedia
	e.mu.Unlock()

	select {
	case <-e.out.done:
	case <-time.After(e.closeWait):
	}
	if !hasMedia {
		return nil, errors.Join(errs...)
	}
	return e.out.take(), errors.Join(errs...)
}

// sink collects muxer output in memory between flushes.
type sink struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	done chan struct{}
	once sync.Once
}

func newSink() *sink { return &sink{done: make(chan struct{})} }

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *sink) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *sink) take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Len() == 0 {
		return nil
	}
	out := bytes.Clone(s.buf.Bytes())
	s.buf.Reset()
	return out
}
