package rtc

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vp8Frame builds a single-packet VP8 frame: a payload descriptor with the
// start-of-partition bit followed by the frame body.
func vp8Frame(seq uint16, ts uint32, body byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      ts,
			Marker:         true,
			SSRC:           1,
		},
		Payload: []byte{0x10, 0x00, body, body, body},
	}
}

func packetSource(pkts []*rtp.Packet) func() (*rtp.Packet, error) {
	i := 0
	return func() (*rtp.Packet, error) {
		if i == len(pkts) {
			return nil, io.EOF
		}
		p := pkts[i]
		i++
		return p, nil
	}
}

func TestPumpVP8ReassemblesFrames(t *testing.T) {
	var pkts []*rtp.Packet
	for i := range 5 {
		pkts = append(pkts, vp8Frame(uint16(100+i), uint32(3000*i), byte(i+1)))
	}

	var got []media.Sample
	err := pumpVP8(context.Background(), packetSource(pkts), func(s media.Sample) { got = append(got, s) })
	require.NoError(t, err)

	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), len(pkts))
	for _, s := range got {
		assert.NotEmpty(t, s.Data)
	}
	// 3000 ticks at 90kHz
	assert.InDelta(t, float64(time.Second/30), float64(got[0].Duration), float64(time.Millisecond))
}

func TestPumpVP8StopsOnReadError(t *testing.T) {
	boom := errors.New("boom")
	err := pumpVP8(context.Background(), func() (*rtp.Packet, error) { return nil, boom }, func(media.Sample) {})
	assert.ErrorIs(t, err, boom)
}

func TestPumpVP8StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := pumpVP8(ctx, func() (*rtp.Packet, error) {
		calls++
		return vp8Frame(1, 0, 1), nil
	}, func(media.Sample) {})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestConfiguration(t *testing.T) {
	assert.Empty(t, Configuration(nil).ICEServers)
	cfg := Configuration([]string{"stun:example.org:3478"})
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:example.org:3478"}, cfg.ICEServers[0].URLs)
}

func TestIngestAnswersOffer(t *testing.T) {
	offerer, err := NewIngest(Configuration(nil), "offerer")
	require.NoError(t, err)
	defer offerer.Close()
	_, err = offerer.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	require.NoError(t, err)
	offer, err := offerer.pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, offerer.pc.SetLocalDescription(offer))

	in, err := NewIngest(Configuration(nil), "s1")
	require.NoError(t, err)
	require.NoError(t, in.Start(context.Background()))
	defer in.Close()

	answer, err := in.ApplyOfferAndCreateAnswer(offer)
	require.NoError(t, err)
	require.NotNil(t, answer)
	assert.Contains(t, answer.SDP, "VP8")
}
