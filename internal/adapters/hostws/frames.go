package hostws

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Binary media frames: kind(1) | stream id(4, big endian) | timestamp µs(8,
// big endian) | payload. Audio payload is interleaved little-endian int16 PCM,
// video payload is one encoded frame.
const frameHeaderLen = 13

type FrameKind byte

const (
	FrameAudio    FrameKind = 'a'
	FrameVideo    FrameKind = 'v'
	FramePlayback FrameKind = 'p'
)

var ErrShortFrame = errors.New("media frame shorter than header")

type MediaFrame struct {
	Kind      FrameKind
	Stream    uint32
	Timestamp time.Duration
	Payload   []byte
}

func EncodeFrame(f MediaFrame) []byte {
	buf := make([]byte, frameHeaderLen+len(f.Payload))
	buf[0] = byte(f.Kind)
	binary.BigEndian.PutUint32(buf[1:5], f.Stream)
	binary.BigEndian.PutUint64(buf[5:13], uint64(f.Timestamp/time.Microsecond))
	copy(buf[frameHeaderLen:], f.Payload)
	return buf
}

func DecodeFrame(data []byte) (MediaFrame, error) {
	if len(data) < frameHeaderLen {
		return MediaFrame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data))
	}
	f := MediaFrame{
		Kind:      FrameKind(data[0]),
		Stream:    binary.BigEndian.Uint32(data[1:5]),
		Timestamp: time.Duration(binary.BigEndian.Uint64(data[5:13])) * time.Microsecond,
		Payload:   data[frameHeaderLen:],
	}
	switch f.Kind {
	case FrameAudio, FrameVideo, FramePlayback:
	default:
		return MediaFrame{}, fmt.Errorf("unknown frame kind %q", f.Kind)
	}
	return f, nil
}

func decodePCM(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func encodePCM(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
