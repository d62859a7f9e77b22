// Package capture runs the capture context: one Engine per recording acquires
// the tab and microphone, mixes, encodes and delivers the artifact.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dkeye/MeetRecorder/internal/bus"
	"github.com/dkeye/MeetRecorder/internal/config"
	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/dkeye/MeetRecorder/internal/metrics"
	"github.com/dkeye/MeetRecorder/internal/protocol"
	"github.com/dkeye/MeetRecorder/internal/retry"
	"github.com/dkeye/MeetRecorder/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var errNoVideo = errors.New("no video track")

type Deps struct {
	Bus       *bus.Bus
	Tabs      core.Tabs
	Media     core.MediaDevices
	Encoders  core.EncoderFactory
	Downloads core.Downloads
	Store     core.Store
	Playback  core.Playback
}

type stopCause string

const (
	causeRequested  stopCause = "requested"
	causeTrackEnded stopCause = "track_ended"
	causeTabClosed  stopCause = "tab_closed"
	causeDestroyed  stopCause = "destroyed"
	// causeEncoderFault keeps what was encoded so far but fails the recording.
	causeEncoderFault stopCause = "encoder_fault"
)

type Engine struct {
	id   domain.ContextID
	addr bus.Address
	deps Deps
	cfg  config.CaptureConfig
	save retry.Policy
	log  zerolog.Logger

	state atomic.Int32
	rec   *recording
	ended chan stopCause
}

// recording is everything acquired for one capture. Owned by the Run goroutine.
type recording struct {
	begin     protocol.Begin
	stream    core.MediaStream
	mic       core.AudioTrack
	mixer     *Mixer
	enc       core.Encoder
	fragments [][]byte
	startedAt time.Time
	cancel    context.CancelFunc
	pumps     *conc.WaitGroup
}

func NewEngine(id domain.ContextID, deps Deps, cfg config.CaptureConfig) *Engine {
	return &Engine{
		id:    id,
		addr:  bus.CaptureAddr(id),
		deps:  deps,
		cfg:   cfg,
		save:  retry.NewPolicy(cfg.SaveAttempts, cfg.SaveBackoff, nil),
		log:   log.With().Str("module", "capture").Str("context", string(id)).Logger(),
		ended: make(chan stopCause, 1),
	}
}

func (e *Engine) ID() domain.ContextID { return e.id }

func (e *Engine) State() domain.CaptureState { return domain.CaptureState(e.state.Load()) }

func (e *Engine) setState(s domain.CaptureState) {
	old := domain.CaptureState(e.state.Swap(int32(s)))
	if old != s {
		e.log.Debug().Str("from", old.String()).Str("to", s.String()).Msg("capture state")
	}
}

// Run serves the context mailbox until ctx is done. A capture still running
// at that point is finalized before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	mb, err := e.deps.Bus.Register(e.addr, 0)
	if err != nil {
		return fmt.Errorf("register capture context: %w", err)
	}
	defer mb.Close()
	e.log.Info().Msg("capture context ready")

	fragments := time.NewTicker(e.cfg.FragmentInterval)
	defer fragments.Stop()
	ticks := time.NewTicker(e.cfg.TickInterval)
	defer ticks.Stop()
	tabCheck := time.NewTicker(e.cfg.TabCheckInterval)
	defer tabCheck.Stop()

	for {
		var videoEnded <-chan struct{}
		if e.rec != nil {
			videoEnded = e.rec.stream.Video.Ended()
		}
		select {
		case <-ctx.Done():
			if e.rec != nil {
				e.log.Warn().Msg("capture context destroyed while capturing, finalizing")
				e.finish(ctx, true, causeDestroyed)
			}
			return nil
		case msg := <-mb.C():
			e.handle(ctx, msg)
		case <-fragments.C:
			e.collect()
		case <-ticks.C:
			e.tick(ctx)
		case <-tabCheck.C:
			e.checkTab(ctx)
		case <-videoEnded:
			e.finish(ctx, true, causeTrackEnded)
		case cause := <-e.ended:
			if e.rec != nil {
				e.finish(ctx, true, cause)
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case protocol.Ping:
		msg.Respond(protocol.Reply{OK: true, State: e.State().String()})
	case protocol.BeginCapture:
		p, ok := msg.Payload.(protocol.Begin)
		if !ok {
			msg.Respond(protocol.Fail(domain.ErrCaptureRejected))
			return
		}
		msg.Respond(e.begin(ctx, p))
	case protocol.EndCapture:
		p, _ := msg.Payload.(protocol.End)
		msg.Respond(protocol.OK())
		if e.rec != nil {
			e.finish(ctx, p.ForceFlush, causeRequested)
		}
	default:
		e.log.Warn().Str("type", string(msg.Type)).Msg("unknown message")
		msg.Respond(protocol.Reply{OK: false})
	}
}

func (e *Engine) begin(ctx context.Context, p protocol.Begin) protocol.Reply {
	switch e.State() {
	case domain.CaptureStarting, domain.CaptureCapturing:
		if e.rec != nil && e.rec.begin.Session == p.Session {
			return protocol.OK()
		}
		return protocol.Fail(domain.ErrAlreadyRecording)
	case domain.CaptureStopping, domain.CaptureFinalized:
		return protocol.Fail(domain.ErrCaptureRejected)
	}

	e.setState(domain.CaptureStarting)
	rec, err := e.acquire(ctx, p)
	if err != nil {
		e.setState(domain.CaptureFailed)
		e.log.Error().Err(err).Int("tab", int(p.Tab)).Msg("capture start failed")
		return protocol.Fail(err)
	}
	e.rec = rec
	e.setState(domain.CaptureCapturing)
	e.persistStart(ctx, rec)
	e.notify(protocol.CaptureStarted, protocol.Started{
		Session:   p.Session,
		Tab:       p.Tab,
		StartedAt: rec.startedAt,
		HasMic:    rec.mixer.HasMicPath(),
	})
	e.log.Info().
		Int("tab", int(p.Tab)).
		Str("platform", string(p.Platform)).
		Bool("mic", rec.mixer.HasMicPath()).
		Msg("capture started")
	return protocol.OK()
}

// acquire takes every resource a recording needs. On error everything
// acquired so far has been released.
func (e *Engine) acquire(ctx context.Context, p protocol.Begin) (_ *recording, err error) {
	exists, err := e.deps.Tabs.Exists(ctx, p.Tab)
	if err != nil {
		return nil, fmt.Errorf("query tab %d: %w: %w", p.Tab, domain.ErrNoSourceTab, err)
	}
	if !exists {
		return nil, fmt.Errorf("tab %d: %w", p.Tab, domain.ErrNoSourceTab)
	}

	stream, err := e.deps.Media.CaptureTab(ctx, p.Tab)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCaptureRejected, err)
	}
	var mic core.AudioTrack
	defer func() {
		if err != nil {
			stream.Stop()
			if mic != nil {
				mic.Stop()
			}
		}
	}()
	if stream.Video == nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCaptureRejected, errNoVideo)
	}

	mic, err = e.deps.Media.Microphone(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("microphone unavailable, recording tab audio only")
		mic, err = nil, nil
	}

	rec := &recording{begin: p, stream: stream, mic: mic}
	var play func(core.AudioFrame)
	if e.deps.Playback != nil {
		play = func(f core.AudioFrame) { e.deps.Playback.Play(p.Tab, f) }
	}
	rec.mixer = NewMixer(stream.Audio, mic, play, func(f core.AudioFrame) error {
		return rec.enc.WriteAudio(f)
	}, e.cfg.MicBuffer)

	rec.enc, err = e.deps.Encoders.NewEncoder(stream.Video.Format(), rec.mixer.Format())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEncoderFault, err)
	}

	// drop a stale end signal from a previous attempt
	select {
	case <-e.ended:
	default:
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	rec.cancel = cancel
	rec.pumps = conc.NewWaitGroup()
	rec.pumps.Go(func() { e.pumpVideo(pumpCtx, stream.Video, rec.enc) })
	if rec.mixer.HasAudio() {
		rec.pumps.Go(func() {
			err := rec.mixer.Run(pumpCtx)
			switch {
			case err == nil || pumpCtx.Err() != nil:
			case errors.Is(err, errAudioWrite):
				e.log.Error().Err(err).Msg("audio write failed")
				e.signalEnded(causeEncoderFault)
			default:
				e.log.Debug().Err(err).Msg("audio path ended")
			}
		})
	}
	if rec.mixer.NeedsMicReader() {
		rec.pumps.Go(func() { _ = rec.mixer.RunMic(pumpCtx) })
	}
	if rec.mixer.HasMicPath() {
		rec.pumps.Go(func() { e.pollMute(pumpCtx, p.Tab, rec.mixer) })
	}
	rec.startedAt = time.Now()
	return rec, nil
}

func (e *Engine) pumpVideo(ctx context.Context, v core.VideoTrack, enc core.Encoder) {
	for {
		s, err := v.ReadSample(ctx)
		if err != nil {
			if ctx.Err() == nil {
				e.log.Info().Err(err).Msg("video source ended")
				e.signalEnded(causeTrackEnded)
			}
			return
		}
		if err := enc.WriteVideo(s); err != nil {
			e.log.Error().Err(err).Msg("video write failed")
			e.signalEnded(causeEncoderFault)
			return
		}
	}
}

// signalEnded asks Run to finish the capture. The first cause wins.
func (e *Engine) signalEnded(cause stopCause) {
	select {
	case e.ended <- cause:
	default:
	}
}

// pollMute mirrors the remote mute state onto the microphone gain. An
// unanswered query counts as muted.
func (e *Engine) pollMute(ctx context.Context, tab domain.TabID, m *Mixer) {
	query := func() {
		timeout := min(e.cfg.MuteInterval, e.deps.Bus.DefaultTimeout())
		r, err := e.deps.Bus.RequestTimeout(ctx, timeout, e.addr, bus.MonitorAddr(tab), protocol.MuteStatusQuery, nil)
		if ctx.Err() != nil {
			return
		}
		muted := err != nil || !r.OK || r.Muted
		if muted != m.Muted() {
			e.log.Debug().Bool("muted", muted).Msg("microphone gain changed")
		}
		m.SetMuted(muted)
		if muted {
			metrics.MicMuted.Set(1)
		} else {
			metrics.MicMuted.Set(0)
		}
	}

	query()
	t := time.NewTicker(e.cfg.MuteInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			query()
		}
	}
}

func (e *Engine) collect() {
	if e.rec == nil {
		return
	}
	frag, err := e.rec.enc.Flush()
	if err != nil {
		e.log.Error().Err(err).Msg("encoder flush failed")
		e.signalEnded(causeEncoderFault)
		return
	}
	if len(frag) > 0 {
		e.rec.fragments = append(e.rec.fragments, frag)
	}
}

func (e *Engine) tick(ctx context.Context) {
	if e.rec == nil || e.State() != domain.CaptureCapturing {
		return
	}
	elapsed := time.Since(e.rec.startedAt)
	if err := store.SetDuration(ctx, e.deps.Store, store.KeyRecordingTime, elapsed); err != nil {
		e.log.Warn().Err(err).Msg("persist recording time")
	}
	e.notify(protocol.CaptureTick, protocol.Tick{Session: e.rec.begin.Session, Tab: e.rec.begin.Tab, Elapsed: elapsed})
}

func (e *Engine) checkTab(ctx context.Context) {
	if e.rec == nil {
		return
	}
	exists, err := e.deps.Tabs.Exists(ctx, e.rec.begin.Tab)
	if err != nil {
		e.log.Debug().Err(err).Msg("tab check failed")
		return
	}
	if !exists {
		e.log.Info().Int("tab", int(e.rec.begin.Tab)).Msg("source tab closed")
		e.finish(ctx, true, causeTabClosed)
	}
}

// finish stops the encoder, releases every source and delivers the artifact.
func (e *Engine) finish(ctx context.Context, forceFlush bool, cause stopCause) {
	rec := e.rec
	e.setState(domain.CaptureStopping)
	e.log.Info().Bool("force_flush", forceFlush).Str("cause", string(cause)).Msg("stopping capture")

	if !forceFlush && e.cfg.DrainTimeout > 0 {
		t := time.NewTimer(e.cfg.DrainTimeout)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	rec.cancel()
	rec.stream.Stop()
	if rec.mic != nil {
		rec.mic.Stop()
	}
	if r := rec.pumps.WaitAndRecover(); r != nil {
		e.log.Error().Err(r.AsError()).Msg("media pump panicked")
	}

	e.collect()
	tail, err := rec.enc.Close()
	if err != nil {
		e.log.Warn().Err(err).Msg("encoder close")
	}
	if len(tail) > 0 {
		rec.fragments = append(rec.fragments, tail)
	}
	e.rec = nil

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CloseTimeout)
	defer cancel()
	e.finalize(fctx, rec, cause)
}

func (e *Engine) finalize(ctx context.Context, rec *recording, cause stopCause) {
	duration := time.Since(rec.startedAt)
	tabClosed := cause == causeTabClosed || cause == causeTrackEnded
	e.persistEnd(ctx, duration, tabClosed)

	if len(rec.fragments) == 0 {
		reason := domain.ReasonNoData
		if cause == causeEncoderFault {
			reason = domain.ReasonEncoderFault
		}
		e.log.Warn().Str("reason", string(reason)).Msg("no data recorded")
		e.fail(rec, reason)
		return
	}

	data := bytes.Join(rec.fragments, nil)
	name := FileName(rec.begin.Platform, rec.startedAt, rec.enc.Extension())
	err := e.save.Do(ctx, "download", func(ctx context.Context, _ int) error {
		return e.deps.Downloads.Save(ctx, name, data)
	})
	if err != nil {
		e.log.Error().Err(err).Str("file", name).Msg("download failed")
		e.fail(rec, domain.ReasonEncoderFault)
		return
	}
	if cause == causeEncoderFault {
		e.log.Error().Str("file", name).Int("bytes", len(data)).Msg("encoder fault, partial recording saved")
		e.fail(rec, domain.ReasonEncoderFault)
		return
	}

	e.setState(domain.CaptureFinalized)
	e.log.Info().Str("file", name).Int("bytes", len(data)).Int("fragments", len(rec.fragments)).
		Dur("duration", duration).Msg("recording saved")
	e.notify(protocol.CaptureFinalized, protocol.Finalized{
		Session:   rec.begin.Session,
		Tab:       rec.begin.Tab,
		FileName:  name,
		Bytes:     len(data),
		Fragments: len(rec.fragments),
		Duration:  duration,
		TabClosed: tabClosed,
	})
}

func (e *Engine) fail(rec *recording, reason domain.Reason) {
	e.setState(domain.CaptureFailed)
	e.notify(protocol.CaptureFailed, protocol.Failed{
		Session: rec.begin.Session, Tab: rec.begin.Tab, Reason: reason,
	})
}

// FileName names the artifact after the platform and the capture start time.
func FileName(p domain.Platform, startedAt time.Time, ext string) string {
	return fmt.Sprintf("%s-recording-%s.%s", p, startedAt.UTC().Format("2006-01-02T15-04-05"), ext)
}

func (e *Engine) persistStart(ctx context.Context, rec *recording) {
	s := e.deps.Store
	errs := []error{
		s.Set(ctx, store.KeyRecording, true),
		store.SetTime(ctx, s, store.KeyRecordingStart, rec.startedAt),
		s.Set(ctx, store.KeyRecordingTab, rec.begin.Tab),
		s.Remove(ctx, store.KeyStoppedByTabClose),
	}
	if err := errors.Join(errs...); err != nil {
		e.log.Warn().Err(err).Msg("persist recording start")
	}
}

func (e *Engine) persistEnd(ctx context.Context, duration time.Duration, tabClosed bool) {
	s := e.deps.Store
	errs := []error{
		store.ResetRecording(ctx, s),
		store.SetDuration(ctx, s, store.KeyLastSessionDuration, duration),
	}
	if tabClosed {
		errs = append(errs, s.Set(ctx, store.KeyStoppedByTabClose, true))
	}
	if err := errors.Join(errs...); err != nil {
		e.log.Warn().Err(err).Msg("persist recording end")
	}
}

func (e *Engine) notify(ev protocol.Event, payload any) {
	if err := e.deps.Bus.Send(e.addr, bus.Orchestrator, ev, payload); err != nil {
		e.log.Warn().Err(err).Str("event", string(ev)).Msg("orchestrator unreachable")
	}
}
