package container

import (
	"bytes"
	"testing"
	"time"

	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

func vp8Frame(key bool) media.Sample {
	tag := byte(0x10)
	if !key {
		tag |= 0x01
	}
	return media.Sample{Data: []byte{tag, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x80, 0x02, 0xe0, 0x01}, Duration: 33 * time.Millisecond}
}

func TestEncoderFragments(t *testing.T) {
	enc, err := Factory{CloseWait: time.Second}.NewEncoder(
		core.VideoFormat{Width: 640, Height: 480, Codec: "vp8"},
		&core.AudioFormat{SampleRate: 48000, Channels: 2},
	)
	require.NoError(t, err)
	assert.Equal(t, "webm", enc.Extension())

	var out [][]byte
	for i := 0; i < 10; i++ {
		require.NoError(t, enc.WriteVideo(vp8Frame(i == 0)))
		require.NoError(t, enc.WriteAudio(core.AudioFrame{
			Samples: make([]int16, 960*2), SampleRate: 48000, Channels: 2,
		}))
		frag, err := enc.Flush()
		require.NoError(t, err)
		if len(frag) > 0 {
			out = append(out, frag)
		}
	}
	tail, err := enc.Close()
	require.NoError(t, err)
	out = append(out, tail)

	all := bytes.Join(out, nil)
	require.NotEmpty(t, all)
	assert.True(t, bytes.HasPrefix(all, ebmlMagic))
	assert.True(t, bytes.Contains(all, []byte("V_VP8")))
	assert.True(t, bytes.Contains(all, []byte(codecPCM)))

	assert.ErrorIs(t, enc.WriteVideo(vp8Frame(true)), ErrClosed)
	_, err = enc.Close()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEncoderWithoutMediaYieldsNothing(t *testing.T) {
	enc, err := Factory{CloseWait: time.Second}.NewEncoder(core.VideoFormat{Width: 2, Height: 2}, nil)
	require.NoError(t, err)

	frag, err := enc.Flush()
	require.NoError(t, err)
	assert.Nil(t, frag)

	tail, err := enc.Close()
	require.NoError(t, err)
	assert.Nil(t, tail)
}

func TestEncoderRejectsCodec(t *testing.T) {
	_, err := Factory{}.NewEncoder(core.VideoFormat{Codec: "H264"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}
