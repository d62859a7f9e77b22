package rtc

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"github.com/rs/zerolog/log"
)

// maxLate is how many packets the sample builder holds back for reordering.
const maxLate = 128

const vp8ClockRate = 90000

// Ingest is a receive-only peer connection carrying the captured tab's
// video. Depacketized VP8 frames are handed to the OnVideo callback.
type Ingest struct {
	pc     *webrtc.PeerConnection
	stream string
	cancel context.CancelFunc

	onICE    func(webrtc.ICECandidateInit)
	onVideo  func(media.Sample)
	onClosed func()
}

func Configuration(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

func NewIngest(cfg webrtc.Configuration, stream string) (*Ingest, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Ingest{pc: pc, stream: stream}, nil
}

func (c *Ingest) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		cancel()
		return err
	}

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("stream", c.stream).Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			cancel()
			if c.onClosed != nil {
				c.onClosed()
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		mime := track.Codec().MimeType
		log.Info().
			Str("module", "rtc").
			Str("stream", c.stream).
			Str("kind", track.Kind().String()).
			Str("codec", mime).
			Msg("track received")
		if track.Kind() != webrtc.RTPCodecTypeVideo || !strings.EqualFold(mime, webrtc.MimeTypeVP8) {
			log.Warn().Str("module", "rtc").Str("stream", c.stream).Str("codec", mime).Msg("ignoring unsupported track")
			return
		}
		go func() {
			read := func() (*rtp.Packet, error) {
				p, _, err := track.ReadRTP()
				return p, err
			}
			if err := pumpVP8(ctx, read, c.emit); err != nil {
				log.Debug().Err(err).Str("module", "rtc").Str("stream", c.stream).Msg("video pump stopped")
			}
		}()
	})

	return nil
}

func (c *Ingest) emit(s media.Sample) {
	if c.onVideo != nil {
		c.onVideo(s)
	}
}

func (c *Ingest) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return c.pc.LocalDescription(), nil
}

func (c *Ingest) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Ingest) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("stream", c.stream).Msg("close error")
		return
	}
	log.Info().Str("module", "rtc").Str("stream", c.stream).Msg("closed")
}

func (c *Ingest) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

// OnVideo sets the receiver of reassembled video frames. Must be set before Start.
func (c *Ingest) OnVideo(fn func(media.Sample)) { c.onVideo = fn }

func (c *Ingest) OnClosed(fn func()) { c.onClosed = fn }

// pumpVP8 reassembles RTP packets into frames until read fails or ctx ends.
// A clean end of stream returns nil.
func pumpVP8(ctx context.Context, read func() (*rtp.Packet, error), emit func(media.Sample)) error {
	sb := samplebuilder.New(maxLate, &codecs.VP8Packet{}, vp8ClockRate)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p, err := read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		sb.Push(p)
		for s := sb.Pop(); s != nil; s = sb.Pop() {
			emit(*s)
		}
	}
}
