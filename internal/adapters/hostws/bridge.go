// Package hostws connects the recorder to the browser shim over a websocket.
// Control traffic is JSON envelopes with request/reply correlation; captured
// media arrives as binary frames, or for tab video optionally over WebRTC.
package hostws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/MeetRecorder/internal/adapters/rtc"
	"github.com/dkeye/MeetRecorder/internal/config"
	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/dkeye/MeetRecorder/internal/metrics"
	"github.com/dkeye/MeetRecorder/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrNotConnected = errors.New("host shim not connected")
	ErrHostTimeout  = fmt.Errorf("host request timed out: %w", domain.ErrUnresponsive)
	ErrPageUnknown  = errors.New("page state not reported yet")
)

// Outbound request and notification types.
const (
	msgTabExists  = "tab_exists"
	msgCaptureTab = "capture_tab"
	msgOpenMic    = "open_microphone"
	msgStopStream = "stop_stream"
	msgStatus     = "status"
	msgAnswer     = "answer"
	msgCandidate  = "candidate"
	msgReply      = "reply"
	msgPong       = "pong"
	msgTabUpdated = "tab_updated"
	msgTabRemoved = "tab_removed"
	msgPageState  = "page_state"
	msgTrackEnded = "track_ended"
	msgOffer      = "offer"
	msgPing       = "ping"
)

// defaultFrameDelta is the duration given to the first frame of a stream.
const defaultFrameDelta = time.Second / 30

// Events receives tab lifecycle notifications reported by the shim.
type Events interface {
	TabUpdated(tab domain.TabID, url string)
	TabRemoved(tab domain.TabID)
}

type tabRef struct {
	Tab domain.TabID `json:"tabId"`
}

type tabUpdate struct {
	Tab domain.TabID `json:"tabId"`
	URL string       `json:"url"`
}

type existsResult struct {
	Exists bool `json:"exists"`
}

type captureResult struct {
	Stream uint32            `json:"streamId"`
	Video  *core.VideoFormat `json:"video"`
	Audio  *core.AudioFormat `json:"audio"`
}

type micResult struct {
	Stream uint32           `json:"streamId"`
	Audio  core.AudioFormat `json:"audio"`
}

type streamRef struct {
	Stream uint32 `json:"streamId"`
}

type statusMsg struct {
	Tab    domain.TabID `json:"tabId"`
	Status core.Status  `json:"status"`
}

type pageState struct {
	Tab    domain.TabID `json:"tabId"`
	InCall bool         `json:"inCall"`
	Muted  bool         `json:"muted"`
}

type sdpMsg struct {
	Stream uint32 `json:"streamId"`
	SDP    string `json:"sdp"`
}

type candidateMsg struct {
	Stream    uint32                  `json:"streamId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type hostReply struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Bridge implements the host ports (tabs, media devices, pages, status and
// playback) on top of one shim connection.
type Bridge struct {
	Events     Events
	PingPeriod time.Duration
	ReadLimit  int64

	cfg      config.HostConfig
	rtcCfg   webrtc.Configuration
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	conn      *hostConn
	limiter   *rate.Limiter
	pending   map[string]chan hostReply
	pages     map[domain.TabID]*page
	audio     map[uint32]*audioTrack
	video     map[uint32]*videoTrack
	lastVideo map[uint32]time.Duration
	ingests   map[uint32]*rtc.Ingest
}

var (
	_ core.Tabs           = (*Bridge)(nil)
	_ core.MediaDevices   = (*Bridge)(nil)
	_ core.Pages          = (*Bridge)(nil)
	_ core.StatusNotifier = (*Bridge)(nil)
	_ core.Playback       = (*Bridge)(nil)
)

func New(cfg config.HostConfig) *Bridge {
	return &Bridge{
		cfg:    cfg,
		rtcCfg: rtc.Configuration(cfg.ICEServers),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pending:   make(map[string]chan hostReply),
		pages:     make(map[domain.TabID]*page),
		audio:     make(map[uint32]*audioTrack),
		video:     make(map[uint32]*videoTrack),
		lastVideo: make(map[uint32]time.Duration),
		ingests:   make(map[uint32]*rtc.Ingest),
	}
}

// HandleWS upgrades the request and serves it as the shim connection.
func (b *Bridge) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "hostws").Msg("upgrade failed")
		return
	}
	if b.ReadLimit > 0 {
		ws.SetReadLimit(b.ReadLimit)
	}
	go b.Serve(ctx, ws)
}

// Serve runs ws as the current shim connection until it fails or ctx ends.
// A newer connection replaces an older one.
func (b *Bridge) Serve(ctx context.Context, ws WSConn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := newHostConn(ws, b.cfg.SendBuffer)
	b.mu.Lock()
	prev := b.conn
	b.conn = c
	b.limiter = rate.NewLimiter(rate.Limit(b.cfg.RateLimit), max(b.cfg.RateBurst, 1))
	b.mu.Unlock()
	if prev != nil {
		log.Info().Str("module", "hostws").Msg("replacing shim connection")
		prev.Close()
	}
	log.Info().Str("module", "hostws").Msg("shim connected")

	go func() {
		<-ctx.Done()
		c.Close()
	}()
	go c.writePump(ctx, b.PingPeriod)
	c.readPump(ctx, b.handle)

	b.detach(c)
}

// detach forgets c and ends every stream it carried.
func (b *Bridge) detach(c *hostConn) {
	b.mu.Lock()
	if b.conn != c {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	audio, video, ingests := b.audio, b.video, b.ingests
	b.audio = make(map[uint32]*audioTrack)
	b.video = make(map[uint32]*videoTrack)
	b.lastVideo = make(map[uint32]time.Duration)
	b.ingests = make(map[uint32]*rtc.Ingest)
	b.mu.Unlock()

	for _, t := range audio {
		t.end()
	}
	for _, t := range video {
		t.end()
	}
	for _, in := range ingests {
		in.Close()
	}
	log.Info().Str("module", "hostws").Msg("shim disconnected")
}

func (b *Bridge) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil
}

func (b *Bridge) current() *hostConn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn
}

func (b *Bridge) notify(typ string, payload any) error {
	c := b.current()
	if c == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(typ, "", payload)
	if err != nil {
		return err
	}
	return c.TrySend(data)
}

// request sends typ and decodes the shim's reply result into out.
func (b *Bridge) request(ctx context.Context, typ string, payload any, out any) error {
	c := b.current()
	if c == nil {
		return ErrNotConnected
	}
	id := uuid.NewString()
	data, err := protocol.Encode(typ, id, payload)
	if err != nil {
		return err
	}
	ch := make(chan hostReply, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := c.TrySend(data); err != nil {
		return fmt.Errorf("%s: %w", typ, err)
	}

	timeout := b.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case r := <-ch:
		if !r.OK {
			return fmt.Errorf("%s: %w", typ, domain.ErrorFor(domain.Reason(r.Error)))
		}
		if out == nil || len(r.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(r.Result, out); err != nil {
			return fmt.Errorf("%s result: %w", typ, err)
		}
		return nil
	case <-t.C:
		return fmt.Errorf("%s: %w", typ, ErrHostTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) Exists(ctx context.Context, tab domain.TabID) (bool, error) {
	var res existsResult
	if err := b.request(ctx, msgTabExists, tabRef{Tab: tab}, &res); err != nil {
		return false, err
	}
	return res.Exists, nil
}

func (b *Bridge) CaptureTab(ctx context.Context, tab domain.TabID) (core.MediaStream, error) {
	var res captureResult
	if err := b.request(ctx, msgCaptureTab, tabRef{Tab: tab}, &res); err != nil {
		return core.MediaStream{}, err
	}
	if res.Video == nil {
		_ = b.notify(msgStopStream, streamRef{Stream: res.Stream})
		return core.MediaStream{}, fmt.Errorf("tab %d: %w: no video track", tab, domain.ErrCaptureRejected)
	}

	id := strconv.FormatUint(uint64(res.Stream), 10)
	stop := func() { b.stopStream(res.Stream) }
	stream := core.MediaStream{}
	vt := &videoTrack{
		track:  newTrack[media.Sample]("tab-video-"+id, core.KindVideo, b.cfg.FrameBuffer, stop),
		format: *res.Video,
	}
	stream.Video = vt

	b.mu.Lock()
	b.video[res.Stream] = vt
	if res.Audio != nil {
		at := &audioTrack{
			track:  newTrack[core.AudioFrame]("tab-audio-"+id, core.KindAudio, b.cfg.FrameBuffer, stop),
			format: *res.Audio,
		}
		b.audio[res.Stream] = at
		stream.Audio = at
	}
	b.mu.Unlock()

	log.Info().Str("module", "hostws").Int("tab", int(tab)).Uint32("stream", res.Stream).Bool("audio", res.Audio != nil).Msg("tab captured")
	return stream, nil
}

func (b *Bridge) Microphone(ctx context.Context) (core.AudioTrack, error) {
	var res micResult
	if err := b.request(ctx, msgOpenMic, nil, &res); err != nil {
		return nil, err
	}
	id := strconv.FormatUint(uint64(res.Stream), 10)
	at := &audioTrack{
		track:  newTrack[core.AudioFrame]("mic-"+id, core.KindAudio, b.cfg.FrameBuffer, func() { b.stopStream(res.Stream) }),
		format: res.Audio,
	}
	b.mu.Lock()
	b.audio[res.Stream] = at
	b.mu.Unlock()
	return at, nil
}

// stopStream forgets the stream's tracks and tells the shim to release it.
// Only the first call for a stream reaches the shim.
func (b *Bridge) stopStream(stream uint32) {
	b.mu.Lock()
	at, hadAudio := b.audio[stream]
	vt, hadVideo := b.video[stream]
	in := b.ingests[stream]
	delete(b.audio, stream)
	delete(b.video, stream)
	delete(b.lastVideo, stream)
	delete(b.ingests, stream)
	b.mu.Unlock()
	if !hadAudio && !hadVideo && in == nil {
		return
	}

	if hadAudio {
		at.end()
	}
	if hadVideo {
		vt.end()
	}
	if in != nil {
		in.Close()
	}
	if err := b.notify(msgStopStream, streamRef{Stream: stream}); err != nil && !errors.Is(err, ErrNotConnected) {
		log.Warn().Err(err).Str("module", "hostws").Uint32("stream", stream).Msg("stop_stream not sent")
	}
}

func (b *Bridge) Notify(tab domain.TabID, s core.Status) {
	if err := b.notify(msgStatus, statusMsg{Tab: tab, Status: s}); err != nil {
		log.Debug().Err(err).Str("module", "hostws").Int("tab", int(tab)).Msg("status not delivered")
	}
}

func (b *Bridge) Play(tab domain.TabID, f core.AudioFrame) {
	c := b.current()
	if c == nil {
		return
	}
	frame := EncodeFrame(MediaFrame{
		Kind:      FramePlayback,
		Stream:    uint32(tab),
		Timestamp: f.Timestamp,
		Payload:   encodePCM(f.Samples),
	})
	if err := c.TrySendBinary(frame); err != nil {
		metrics.HostMessagesDropped.WithLabelValues("playback").Inc()
	}
}

func (b *Bridge) Page(tab domain.TabID) core.Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pages[tab]
	if !ok {
		p = newPage()
		b.pages[tab] = p
	}
	return p
}

func (b *Bridge) handle(typ int, data []byte) {
	if typ == websocket.BinaryMessage {
		b.handleFrame(data)
		return
	}
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "hostws").Msg("bad envelope")
		return
	}
	if env.Type == msgReply {
		b.handleReply(env)
		return
	}

	b.mu.RLock()
	lim := b.limiter
	b.mu.RUnlock()
	if lim != nil && !lim.Allow() {
		metrics.HostMessagesDropped.WithLabelValues("rate_limited").Inc()
		return
	}

	switch env.Type {
	case msgTabUpdated:
		var m tabUpdate
		if b.decode(env, &m) && b.Events != nil {
			b.Events.TabUpdated(m.Tab, m.URL)
		}
	case msgTabRemoved:
		var m tabRef
		if b.decode(env, &m) {
			b.forgetPage(m.Tab)
			if b.Events != nil {
				b.Events.TabRemoved(m.Tab)
			}
		}
	case msgPageState:
		var m pageState
		if b.decode(env, &m) {
			b.Page(m.Tab).(*page).set(m.InCall, m.Muted)
		}
	case msgTrackEnded:
		var m streamRef
		if b.decode(env, &m) {
			b.endStream(m.Stream)
		}
	case msgOffer:
		var m sdpMsg
		if b.decode(env, &m) {
			b.handleOffer(m)
		}
	case msgCandidate:
		var m candidateMsg
		if b.decode(env, &m) {
			b.handleCandidate(m)
		}
	case msgPing:
		_ = b.notify(msgPong, nil)
	default:
		log.Warn().Str("module", "hostws").Str("type", env.Type).Msg("unknown message")
	}
}

func (b *Bridge) decode(env protocol.Envelope, dst any) bool {
	if err := env.Into(dst); err != nil {
		log.Warn().Err(err).Str("module", "hostws").Msg("bad payload")
		return false
	}
	return true
}

func (b *Bridge) handleReply(env protocol.Envelope) {
	var r hostReply
	if !b.decode(env, &r) {
		r = hostReply{Error: string(domain.ReasonCaptureRejected)}
	}
	b.mu.RLock()
	ch, ok := b.pending[env.ID]
	b.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "hostws").Str("id", env.ID).Msg("late reply dropped")
		return
	}
	select {
	case ch <- r:
	default:
	}
}

func (b *Bridge) forgetPage(tab domain.TabID) {
	b.mu.Lock()
	p, ok := b.pages[tab]
	delete(b.pages, tab)
	b.mu.Unlock()
	if ok {
		p.forget()
	}
}

// endStream marks the stream's tracks ended without releasing them; the
// owner still calls Stop.
func (b *Bridge) endStream(stream uint32) {
	b.mu.RLock()
	at := b.audio[stream]
	vt := b.video[stream]
	b.mu.RUnlock()
	if at != nil {
		at.end()
	}
	if vt != nil {
		vt.end()
	}
	log.Info().Str("module", "hostws").Uint32("stream", stream).Msg("track ended by host")
}

func (b *Bridge) handleFrame(data []byte) {
	f, err := DecodeFrame(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "hostws").Msg("bad media frame")
		return
	}
	switch f.Kind {
	case FrameAudio:
		b.mu.RLock()
		at := b.audio[f.Stream]
		b.mu.RUnlock()
		if at == nil {
			return
		}
		frame := core.AudioFrame{
			Samples:    decodePCM(f.Payload),
			SampleRate: at.format.SampleRate,
			Channels:   at.format.Channels,
			Timestamp:  f.Timestamp,
		}
		if at.push(frame) {
			metrics.HostMessagesDropped.WithLabelValues("audio_overrun").Inc()
		}
	case FrameVideo:
		b.pushVideo(f.Stream, f.Timestamp, f.Payload)
	default:
		log.Warn().Str("module", "hostws").Str("kind", string(rune(f.Kind))).Msg("unexpected frame kind from host")
	}
}

// pushVideo queues one encoded frame. Its duration is the gap to the
// previous frame of the same stream.
func (b *Bridge) pushVideo(stream uint32, ts time.Duration, data []byte) {
	b.mu.Lock()
	vt := b.video[stream]
	prev, seen := b.lastVideo[stream]
	if vt != nil {
		b.lastVideo[stream] = ts
	}
	b.mu.Unlock()
	if vt == nil {
		return
	}
	d := defaultFrameDelta
	if seen && ts > prev {
		d = ts - prev
	}
	if vt.push(media.Sample{Data: data, Duration: d, Timestamp: time.Unix(0, 0).Add(ts)}) {
		metrics.HostMessagesDropped.WithLabelValues("video_overrun").Inc()
	}
}

func (b *Bridge) handleOffer(m sdpMsg) {
	in, err := rtc.NewIngest(b.rtcCfg, strconv.FormatUint(uint64(m.Stream), 10))
	if err != nil {
		log.Error().Err(err).Str("module", "hostws").Uint32("stream", m.Stream).Msg("peer connection")
		return
	}
	stream := m.Stream
	in.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		_ = b.notify(msgCandidate, candidateMsg{Stream: stream, Candidate: ci})
	})
	in.OnVideo(func(s media.Sample) {
		b.mu.RLock()
		vt := b.video[stream]
		b.mu.RUnlock()
		if vt != nil && vt.push(s) {
			metrics.HostMessagesDropped.WithLabelValues("video_overrun").Inc()
		}
	})
	if err := in.Start(context.Background()); err != nil {
		log.Error().Err(err).Str("module", "hostws").Uint32("stream", stream).Msg("ingest start")
		in.Close()
		return
	}

	b.mu.Lock()
	prev := b.ingests[stream]
	b.ingests[stream] = in
	b.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	// answering waits for ICE gathering, keep the read pump moving
	go func() {
		answer, err := in.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP})
		if err != nil {
			log.Error().Err(err).Str("module", "hostws").Uint32("stream", stream).Msg("answer failed")
			return
		}
		if err := b.notify(msgAnswer, sdpMsg{Stream: stream, SDP: answer.SDP}); err != nil {
			log.Warn().Err(err).Str("module", "hostws").Uint32("stream", stream).Msg("answer not sent")
		}
	}()
}

func (b *Bridge) handleCandidate(m candidateMsg) {
	b.mu.RLock()
	in := b.ingests[m.Stream]
	b.mu.RUnlock()
	if in == nil {
		log.Debug().Str("module", "hostws").Uint32("stream", m.Stream).Msg("candidate for unknown stream")
		return
	}
	if err := in.AddICECandidate(m.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "hostws").Uint32("stream", m.Stream).Msg("add candidate")
	}
}

// Close drops the shim connection.
func (b *Bridge) Close() {
	if c := b.current(); c != nil {
		c.Close()
	}
}
