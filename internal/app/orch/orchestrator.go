// Package orch is the process-wide recording orchestrator. It owns the single
// recording session, launches capture contexts and relays their progress to
// the tab monitors.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/MeetRecorder/internal/bus"
	"github.com/dkeye/MeetRecorder/internal/config"
	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/dkeye/MeetRecorder/internal/metrics"
	"github.com/dkeye/MeetRecorder/internal/protocol"
	"github.com/dkeye/MeetRecorder/internal/retry"
	"github.com/dkeye/MeetRecorder/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Bus      *bus.Bus
	Store    core.Store
	Tabs     core.Tabs
	Launcher core.ContextLauncher
	Config   config.OrchestratorConfig
	Retry    retry.Policy

	mu      sync.Mutex
	base    context.Context
	session *session
	tasks   sync.WaitGroup
}

type session struct {
	domain.RecordingSession
	cancelStart   context.CancelFunc
	stopRequested bool
	forceFlush    bool
	probing       bool
	stoppingAt    time.Time
}

func New(b *bus.Bus, st core.Store, tabs core.Tabs, launcher core.ContextLauncher, cfg config.OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		Bus:      b,
		Store:    st,
		Tabs:     tabs,
		Launcher: launcher,
		Config:   cfg,
		Retry:    retry.NewPolicy(cfg.StartAttempts, cfg.RetryBackoff, cfg.PermanentReasons),
		base:     context.Background(),
	}
}

// Run serves the orchestrator mailbox and the liveness probe until ctx is
// done. On return every capture context has been closed.
func (o *Orchestrator) Run(ctx context.Context) error {
	mb, err := o.Bus.Register(bus.Orchestrator, 0)
	if err != nil {
		return fmt.Errorf("register orchestrator: %w", err)
	}
	defer mb.Close()

	o.mu.Lock()
	o.base = ctx
	o.mu.Unlock()

	o.recoverState(ctx)
	log.Info().Str("module", "orch").Msg("orchestrator running")

	interval := o.Config.LivenessInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	liveness := time.NewTicker(interval)
	defer liveness.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case msg := <-mb.C():
			o.handle(ctx, msg)
		case <-liveness.C:
			o.probe()
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case protocol.RequestAutoStart, protocol.RequestManualStart:
		p, _ := msg.Payload.(protocol.StartRequest)
		if p.Tab == 0 {
			p.Tab, _ = bus.MonitorTab(msg.From)
		}
		mode := domain.ModeAuto
		if msg.Type == protocol.RequestManualStart {
			mode = domain.ModeManual
		}
		if err := o.RequestStart(ctx, p.Tab, p.Platform, mode); err != nil {
			msg.Respond(protocol.Fail(err))
			return
		}
		msg.Respond(protocol.OK())
	case protocol.RequestStop:
		p, _ := msg.Payload.(protocol.StopRequest)
		if p.Tab == 0 {
			p.Tab, _ = bus.MonitorTab(msg.From)
		}
		o.RequestStop(ctx, p.Tab, p.ForceFlush)
		msg.Respond(protocol.OK())
	case protocol.TabRemoved:
		if p, ok := msg.Payload.(protocol.TabClosed); ok {
			o.OnSourceTabClosed(ctx, p.Tab)
		}
	case protocol.CaptureStarted:
		if p, ok := msg.Payload.(protocol.Started); ok {
			o.onStarted(p)
		}
	case protocol.CaptureTick:
		if p, ok := msg.Payload.(protocol.Tick); ok {
			o.toMonitor(p.Tab, protocol.CaptureTick, p)
		}
	case protocol.CaptureFinalized:
		if p, ok := msg.Payload.(protocol.Finalized); ok {
			metrics.RecordingsFinalized.Inc()
			metrics.RecordingBytes.Observe(float64(p.Bytes))
			o.onEnded(p.Session)
			o.toMonitor(p.Tab, protocol.CaptureFinalized, p)
		}
	case protocol.CaptureFailed:
		if p, ok := msg.Payload.(protocol.Failed); ok {
			metrics.RecordingsFailed.WithLabelValues(string(p.Reason)).Inc()
			o.onEnded(p.Session)
			o.toMonitor(p.Tab, protocol.CaptureFailed, p)
		}
	case protocol.Ping:
		msg.Respond(protocol.Reply{OK: true, State: o.state().String()})
	default:
		log.Warn().Str("module", "orch").Str("type", string(msg.Type)).Msg("unknown message")
		msg.Respond(protocol.Reply{OK: false})
	}
}

// RequestStart opens a recording session for tab. It returns once the
// session is accepted; the capture itself is brought up asynchronously.
func (o *Orchestrator) RequestStart(ctx context.Context, tab domain.TabID, platform domain.Platform, mode domain.RecordingMode) error {
	l := log.With().Str("module", "orch").Int("tab", int(tab)).Str("platform", string(platform)).Str("mode", string(mode)).Logger()

	if mode == domain.ModeAuto {
		perms, err := store.Permissions(ctx, o.Store)
		if err != nil {
			l.Warn().Err(err).Msg("permission lookup failed")
		}
		if !perms.Allowed(platform) {
			metrics.RecordingsRejected.WithLabelValues(string(domain.ReasonNoPermission)).Inc()
			l.Info().Msg("auto start without permission")
			return domain.ErrNoPermission
		}
	}

	o.mu.Lock()
	if s := o.session; s != nil {
		retrying := s.HostTab == tab && s.State == domain.RecordingStarting && !s.stopRequested
		o.mu.Unlock()
		if retrying {
			l.Debug().Str("session", string(s.ID)).Msg("start already in progress for tab")
			return nil
		}
		metrics.RecordingsRejected.WithLabelValues(string(domain.ReasonAlreadyRecording)).Inc()
		return domain.ErrAlreadyRecording
	}
	startCtx, cancel := context.WithCancel(o.base)
	s := &session{
		RecordingSession: domain.RecordingSession{
			ID:             domain.SessionID(uuid.NewString()),
			HostTab:        tab,
			Platform:       platform,
			CaptureContext: domain.ContextID(uuid.NewString()),
			Mode:           mode,
			State:          domain.RecordingStarting,
		},
		cancelStart: cancel,
	}
	o.session = s
	o.mu.Unlock()

	if err := store.ResetRecording(ctx, o.Store); err != nil {
		l.Warn().Err(err).Msg("clear stale recording state")
	}
	l.Info().Str("session", string(s.ID)).Msg("recording session opened")
	o.goTask(func() { o.start(startCtx, s) })
	return nil
}

func (o *Orchestrator) start(ctx context.Context, s *session) {
	defer s.cancelStart()
	l := log.With().Str("module", "orch").Str("session", string(s.ID)).Int("tab", int(s.HostTab)).Logger()

	exists, err := o.Tabs.Exists(ctx, s.HostTab)
	if err == nil && !exists {
		err = domain.ErrNoSourceTab
	}
	if err != nil {
		if ctx.Err() != nil {
			o.abortStart(s)
			return
		}
		o.failStart(s, fmt.Errorf("validate source tab: %w", errors.Join(domain.ErrNoSourceTab, err)))
		return
	}

	if err := o.Launcher.Launch(ctx, s.CaptureContext); err != nil {
		if ctx.Err() != nil {
			o.abortStart(s)
			return
		}
		o.failStart(s, fmt.Errorf("launch capture context: %w: %w", domain.ErrCaptureRejected, err))
		return
	}
	l.Debug().Str("context", string(s.CaptureContext)).Msg("capture context launched")

	if !sleep(ctx, o.Config.StartDelay) {
		o.abortStart(s)
		return
	}

	attempts := 0
	err = o.Retry.Do(ctx, "beginCapture", func(ctx context.Context, attempt int) error {
		attempts = attempt
		o.mu.Lock()
		s.RetryCount = attempt - 1
		o.mu.Unlock()
		// an in-flight begin is not abandoned by a stop; the stop is applied once it answers
		r, err := o.Bus.Request(context.WithoutCancel(ctx), bus.Orchestrator, bus.CaptureAddr(s.CaptureContext),
			protocol.BeginCapture, protocol.Begin{Session: s.ID, Tab: s.HostTab, Platform: s.Platform, Mode: s.Mode})
		if err != nil {
			return err
		}
		return r.Err()
	})
	metrics.StartAttempts.Observe(float64(attempts))

	if err != nil {
		if ctx.Err() != nil {
			o.abortStart(s)
			return
		}
		o.failStart(s, err)
		return
	}

	o.mu.Lock()
	if s.stopRequested {
		s.State = domain.RecordingStopping
		s.stoppingAt = time.Now()
		force := s.forceFlush
		o.mu.Unlock()
		l.Info().Msg("capture started after stop was requested, stopping")
		o.sendEnd(s, force)
		return
	}
	s.State = domain.RecordingActive
	o.mu.Unlock()
	metrics.RecordingsStarted.WithLabelValues(string(s.Platform), string(s.Mode)).Inc()
	metrics.Recording.Set(1)
	l.Info().Int("attempts", attempts).Msg("recording active")
}

// abortStart drops a session whose start was cancelled by a stop request.
// Closing the context finalizes anything it already captured.
func (o *Orchestrator) abortStart(s *session) {
	log.Info().Str("module", "orch").Str("session", string(s.ID)).Msg("start cancelled")
	o.teardown(s)
}

func (o *Orchestrator) failStart(s *session, err error) {
	reason := domain.ReasonOf(err)
	log.Error().Err(err).Str("module", "orch").Str("session", string(s.ID)).
		Str("reason", string(reason)).Msg("recording start failed")
	metrics.RecordingsFailed.WithLabelValues(string(reason)).Inc()

	o.mu.Lock()
	s.State = domain.RecordingFailed
	o.mu.Unlock()
	o.teardown(s)
	o.toMonitor(s.HostTab, protocol.CaptureFailed, protocol.Failed{Session: s.ID, Tab: s.HostTab, Reason: reason})

	if !o.Retry.IsPermanent(err) && o.Config.RecoveryDelay > 0 {
		o.goTask(func() { o.recoverTab(s.HostTab, reason) })
	}
}

// recoverTab asks the tab's monitor to reset and retry once the tab is
// confirmed to still exist.
func (o *Orchestrator) recoverTab(tab domain.TabID, reason domain.Reason) {
	ctx := o.baseCtx()
	if !sleep(ctx, o.Config.RecoveryDelay) {
		return
	}
	exists, err := o.Tabs.Exists(ctx, tab)
	if err != nil || !exists {
		log.Debug().Str("module", "orch").Int("tab", int(tab)).Msg("recovery skipped, tab gone")
		return
	}
	log.Info().Str("module", "orch").Int("tab", int(tab)).Str("reason", string(reason)).Msg("requesting reset and retry")
	o.toMonitor(tab, protocol.ForceResetAndRetry, protocol.ResetAndRetry{Reason: reason})
}

// RequestStop ends the current recording. tab 0 matches any session. Stopping
// when nothing is recording is a no-op.
func (o *Orchestrator) RequestStop(_ context.Context, tab domain.TabID, forceFlush bool) {
	o.mu.Lock()
	s := o.session
	if s == nil || (tab != 0 && s.HostTab != tab) {
		o.mu.Unlock()
		return
	}
	switch s.State {
	case domain.RecordingStarting:
		s.stopRequested = true
		s.forceFlush = s.forceFlush || forceFlush
		cancel := s.cancelStart
		o.mu.Unlock()
		log.Info().Str("module", "orch").Str("session", string(s.ID)).Msg("stop requested while starting")
		cancel()
	case domain.RecordingActive:
		s.State = domain.RecordingStopping
		s.stoppingAt = time.Now()
		o.mu.Unlock()
		log.Info().Str("module", "orch").Str("session", string(s.ID)).Bool("force_flush", forceFlush).Msg("stopping recording")
		o.sendEnd(s, forceFlush)
	default:
		o.mu.Unlock()
	}
}

func (o *Orchestrator) sendEnd(s *session, forceFlush bool) {
	o.goTask(func() {
		r, err := o.Bus.Request(o.baseCtx(), bus.Orchestrator, bus.CaptureAddr(s.CaptureContext),
			protocol.EndCapture, protocol.End{ForceFlush: forceFlush})
		if err == nil {
			err = r.Err()
		}
		if err != nil {
			log.Error().Err(err).Str("module", "orch").Str("session", string(s.ID)).Msg("capture context did not accept stop")
			o.unresponsive(s, err, false)
		}
	})
}

// OnSourceTabClosed force-stops a recording whose host tab went away.
func (o *Orchestrator) OnSourceTabClosed(ctx context.Context, tab domain.TabID) {
	if tab == 0 {
		return
	}
	o.RequestStop(ctx, tab, true)
}

func (o *Orchestrator) probe() {
	o.mu.Lock()
	s := o.session
	if s != nil && s.State == domain.RecordingStopping && o.finalizeOverdue(s) {
		o.mu.Unlock()
		metrics.LivenessFailures.Inc()
		o.unresponsive(s, fmt.Errorf("no outcome %s after stop: %w", o.Config.FinalizeTimeout, domain.ErrUnresponsive), false)
		return
	}
	if s == nil || s.State != domain.RecordingActive || s.probing {
		o.mu.Unlock()
		return
	}
	s.probing = true
	o.mu.Unlock()

	o.goTask(func() {
		defer func() {
			o.mu.Lock()
			s.probing = false
			o.mu.Unlock()
		}()
		timeout := o.Config.LivenessTimeout
		if timeout <= 0 {
			timeout = o.Bus.DefaultTimeout()
		}
		_, err := o.Bus.RequestTimeout(o.baseCtx(), timeout, bus.Orchestrator,
			bus.CaptureAddr(s.CaptureContext), protocol.Ping, nil)
		if err == nil || o.baseCtx().Err() != nil {
			return
		}
		o.mu.Lock()
		current := o.session == s && s.State == domain.RecordingActive
		o.mu.Unlock()
		if current {
			metrics.LivenessFailures.Inc()
			o.unresponsive(s, err, true)
		}
	})
}

// finalizeOverdue reports whether a stopping session outlived its finalize
// deadline. Callers hold o.mu.
func (o *Orchestrator) finalizeOverdue(s *session) bool {
	return o.Config.FinalizeTimeout > 0 && !s.stoppingAt.IsZero() && time.Since(s.stoppingAt) > o.Config.FinalizeTimeout
}

// unresponsive fails the session after its capture context stopped
// answering. A session that was already stopping is not retried.
func (o *Orchestrator) unresponsive(s *session, err error, retry bool) {
	log.Error().Err(err).Str("module", "orch").Str("session", string(s.ID)).Msg("capture context unresponsive")
	metrics.RecordingsFailed.WithLabelValues(string(domain.ReasonUnresponsive)).Inc()
	o.mu.Lock()
	s.State = domain.RecordingFailed
	o.mu.Unlock()
	o.teardown(s)
	o.toMonitor(s.HostTab, protocol.CaptureFailed, protocol.Failed{Session: s.ID, Tab: s.HostTab, Reason: domain.ReasonUnresponsive})
	if retry {
		o.toMonitor(s.HostTab, protocol.ForceResetAndRetry, protocol.ResetAndRetry{Reason: domain.ReasonUnresponsive})
	}
}

func (o *Orchestrator) onStarted(p protocol.Started) {
	o.mu.Lock()
	if s := o.session; s != nil && s.ID == p.Session {
		s.StartedAt = p.StartedAt
	}
	o.mu.Unlock()
	o.toMonitor(p.Tab, protocol.CaptureStarted, p)
}

func (o *Orchestrator) onEnded(id domain.SessionID) {
	o.mu.Lock()
	s := o.session
	match := s != nil && s.ID == id
	if match {
		s.State = domain.RecordingFinalizing
	}
	o.mu.Unlock()
	if match {
		o.goTask(func() { o.teardown(s) })
	}
}

// teardown closes the session's capture context, clears persisted recording
// state and returns the orchestrator to idle.
func (o *Orchestrator) teardown(s *session) {
	s.cancelStart()
	o.Launcher.Close(s.CaptureContext)

	ctx := context.WithoutCancel(o.baseCtx())
	if err := store.ResetRecording(ctx, o.Store); err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("reset recording state")
	}

	o.mu.Lock()
	if o.session == s {
		o.session = nil
	}
	o.mu.Unlock()
	metrics.Recording.Set(0)
	log.Debug().Str("module", "orch").Str("session", string(s.ID)).Msg("session closed")
}

// SetPermission persists the auto-record permission and tells every monitor.
func (o *Orchestrator) SetPermission(ctx context.Context, p domain.Platform, enabled bool) (domain.PermissionSet, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("unknown platform %q", p)
	}
	ps, err := store.SetPermission(ctx, o.Store, p, enabled)
	if err != nil {
		return nil, err
	}
	for _, addr := range o.Bus.Monitors() {
		if err := o.Bus.Send(bus.Orchestrator, addr, protocol.PermissionChanged, protocol.Permission{Platform: p, Enabled: enabled}); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("monitor", string(addr)).Msg("permission broadcast failed")
		}
	}
	log.Info().Str("module", "orch").Str("platform", string(p)).Bool("enabled", enabled).Msg("permission changed")
	return ps, nil
}

// Reset closes any capture context, drops the session and clears persisted
// recording state.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	if s != nil {
		o.teardown(s)
	}
	if err := store.ResetRecording(ctx, o.Store); err != nil {
		return fmt.Errorf("reset recording state: %w", err)
	}
	log.Info().Str("module", "orch").Msg("state reset")
	return nil
}

// Snapshot returns a copy of the current session, if any.
func (o *Orchestrator) Snapshot() (domain.RecordingSession, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return domain.RecordingSession{}, false
	}
	return o.session.RecordingSession, true
}

func (o *Orchestrator) state() domain.RecordingState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return domain.RecordingIdle
	}
	return o.session.State
}

// recoverState clears a recording flag left behind by a previous process.
func (o *Orchestrator) recoverState(ctx context.Context) {
	recording, err := store.Bool(ctx, o.Store, store.KeyRecording)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("read recording state")
		return
	}
	if _, live := o.Snapshot(); recording && !live {
		log.Warn().Str("module", "orch").Msg("clearing stale recording state")
		if err := store.ResetRecording(ctx, o.Store); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("reset recording state")
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	if s != nil {
		log.Info().Str("module", "orch").Str("session", string(s.ID)).Msg("shutting down with live session")
		o.teardown(s)
	}
	o.tasks.Wait()
	log.Info().Str("module", "orch").Msg("orchestrator stopped")
}

func (o *Orchestrator) toMonitor(tab domain.TabID, ev protocol.Event, payload any) {
	if tab == 0 {
		return
	}
	if err := o.Bus.Send(bus.Orchestrator, bus.MonitorAddr(tab), ev, payload); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("event", string(ev)).Int("tab", int(tab)).Msg("monitor unreachable")
	}
}

func (o *Orchestrator) goTask(f func()) {
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		f()
	}()
}

func (o *Orchestrator) baseCtx() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.base
}

// sleep waits d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
