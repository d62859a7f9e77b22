// Package monitor detects meeting presence in one tab and drives auto start
// and stop of recordings for it.
package monitor

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
	"github.com/dkeye/MeetRecorder/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	Bus    *bus.Bus
	Store  core.Store
	Pages  core.Pages
	Status core.StatusNotifier
}

// Monitor is the per-tab actor. All fields below mu are owned by the Run
// goroutine.
type Monitor struct {
	tab  domain.TabID
	addr bus.Address
	page core.Page
	deps Deps
	cfg  config.MonitorConfig
	log  zerolog.Logger

	mu      sync.Mutex
	session domain.MeetingSession

	settle *time.Timer
	leave  *time.Timer
	start  *time.Timer
	reset  *time.Timer

	startRequested bool
	recording      bool
	// recovered is set once a reset and retry was spent on this meeting.
	recovered bool
}

func New(tab domain.TabID, platform domain.Platform, deps Deps, cfg config.MonitorConfig) *Monitor {
	return &Monitor{
		tab:     tab,
		addr:    bus.MonitorAddr(tab),
		page:    deps.Pages.Page(tab),
		deps:    deps,
		cfg:     cfg,
		log:     log.With().Str("module", "monitor").Int("tab", int(tab)).Str("platform", string(platform)).Logger(),
		session: domain.MeetingSession{Platform: platform, HostTab: tab, State: domain.NotInMeeting},
	}
}

func (m *Monitor) Tab() domain.TabID { return m.tab }

func (m *Monitor) Snapshot() domain.MeetingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Monitor) state() domain.MeetingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State
}

func (m *Monitor) platform() domain.Platform { return m.session.Platform }

// Run observes the page until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	mb, err := m.deps.Bus.Register(m.addr, 0)
	if err != nil {
		return fmt.Errorf("register monitor: %w", err)
	}
	defer mb.Close()
	defer m.stopTimers()

	m.recoverState(ctx)
	m.log.Info().Msg("monitoring tab")
	m.observe(ctx)

	poll := time.NewTicker(m.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-m.page.Changes():
			m.observe(ctx)
		case <-poll.C:
			m.observe(ctx)
		case <-timerC(m.settle):
			m.settle = nil
			m.onSettled(ctx)
		case <-timerC(m.leave):
			m.leave = nil
			m.leaveMeeting(ctx)
		case <-timerC(m.start):
			m.start = nil
			m.requestAutoStart(ctx)
		case <-timerC(m.reset):
			m.reset = nil
			m.observe(ctx)
			m.maybeArmStart(ctx)
		case msg := <-mb.C():
			m.handle(ctx, msg)
		}
	}
}

func (m *Monitor) observe(ctx context.Context) {
	visible, err := m.page.InCallVisible(ctx)
	if err != nil {
		m.log.Debug().Err(err).Msg("page unreadable, treating as not in call")
		visible = false
	}

	switch m.state() {
	case domain.NotInMeeting:
		if visible {
			m.transition(domain.Joining)
			m.settle = time.NewTimer(m.cfg.SettleDelay)
		}
	case domain.Joining:
		if !visible {
			m.log.Debug().Msg("join signal lost before settling")
			stopTimer(&m.settle)
			m.transition(domain.NotInMeeting)
		}
	case domain.InMeeting:
		switch {
		case !visible && m.leave == nil:
			m.leave = time.NewTimer(m.cfg.LeaveDebounce)
		case visible && m.leave != nil:
			m.log.Debug().Msg("call signal back, leave cancelled")
			stopTimer(&m.leave)
		}
	}
}

func (m *Monitor) onSettled(ctx context.Context) {
	if m.state() != domain.Joining {
		return
	}
	visible, err := m.page.InCallVisible(ctx)
	if err != nil || !visible {
		m.transition(domain.NotInMeeting)
		return
	}

	now := time.Now()
	m.mu.Lock()
	m.session.JoinedAt = now
	m.mu.Unlock()
	m.transition(domain.InMeeting)

	errs := []error{
		m.deps.Store.Set(ctx, store.KeyInMeeting, true),
		store.SetTime(ctx, m.deps.Store, store.KeyMeetingStart, now),
	}
	if err := errors.Join(errs...); err != nil {
		m.log.Warn().Err(err).Msg("persist meeting start")
	}
	m.notify(core.Status{Kind: core.StatusInfo, Text: "Meeting detected"})
	m.maybeArmStart(ctx)
}

// maybeArmStart schedules the single auto start request for this meeting
// when the platform is permitted and nothing is recording yet.
func (m *Monitor) maybeArmStart(ctx context.Context) {
	if m.state() != domain.InMeeting || m.recording || m.startRequested || m.start != nil {
		return
	}
	perms, err := store.Permissions(ctx, m.deps.Store)
	if err != nil {
		m.log.Warn().Err(err).Msg("read permissions")
		return
	}
	if !perms.Allowed(m.platform()) {
		m.log.Debug().Msg("auto record not permitted")
		return
	}
	m.start = time.NewTimer(m.cfg.StartDelay)
}

func (m *Monitor) requestAutoStart(ctx context.Context) {
	if m.state() != domain.InMeeting || m.recording || m.startRequested {
		return
	}
	m.startRequested = true
	m.log.Info().Msg("requesting auto start")

	r, err := m.deps.Bus.Request(ctx, m.addr, bus.Orchestrator, protocol.RequestAutoStart,
		protocol.StartRequest{Tab: m.tab, Platform: m.platform()})
	if err != nil {
		r = protocol.Fail(err)
	}
	if r.OK {
		return
	}
	m.startRequested = false
	m.log.Warn().Str("reason", string(r.Reason)).Msg("auto start refused")
	m.notify(core.Status{
		Kind:     core.StatusFailed,
		Text:     "Recording could not start",
		Reason:   r.Reason,
		CanRetry: domain.IsTransient(r.Reason),
	})
}

func (m *Monitor) leaveMeeting(ctx context.Context) {
	if m.state() != domain.InMeeting {
		return
	}
	now := time.Now()
	m.mu.Lock()
	duration := m.session.Duration(now)
	m.session.JoinedAt = time.Time{}
	m.mu.Unlock()
	m.transition(domain.NotInMeeting)
	stopTimer(&m.start)
	stopTimer(&m.reset)
	m.recovered = false

	errs := []error{
		m.deps.Store.Set(ctx, store.KeyInMeeting, false),
		store.SetDuration(ctx, m.deps.Store, store.KeyLastMeetingDuration, duration),
		store.SetTime(ctx, m.deps.Store, store.KeyLastMeetingEnd, now),
	}
	if err := errors.Join(errs...); err != nil {
		m.log.Warn().Err(err).Msg("persist meeting end")
	}
	m.log.Info().Dur("duration", duration).Msg("meeting left")
	m.stopRecording()
}

func (m *Monitor) stopRecording() {
	if !m.startRequested && !m.recording {
		return
	}
	m.startRequested = false
	if err := m.deps.Bus.Send(m.addr, bus.Orchestrator, protocol.RequestStop,
		protocol.StopRequest{Tab: m.tab, ForceFlush: true}); err != nil {
		m.log.Warn().Err(err).Msg("stop request not delivered")
	}
}

func (m *Monitor) handle(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case protocol.MuteStatusQuery:
		muted, err := m.page.Muted(ctx)
		if err != nil {
			m.log.Debug().Err(err).Msg("mute state unreadable, reporting muted")
			muted = true
		}
		msg.Respond(protocol.Reply{OK: true, Muted: muted})
	case protocol.MeetingStatusQuery:
		msg.Respond(protocol.Reply{OK: true, InMeeting: m.state() == domain.InMeeting, State: m.state().String()})
	case protocol.PermissionChanged:
		p, ok := msg.Payload.(protocol.Permission)
		if !ok || p.Platform != m.platform() {
			return
		}
		m.log.Info().Bool("enabled", p.Enabled).Msg("permission changed")
		if p.Enabled {
			m.maybeArmStart(ctx)
		} else {
			stopTimer(&m.start)
		}
	case protocol.CaptureStarted:
		m.recording = true
		m.startRequested = false
		m.notify(core.Status{Kind: core.StatusRecording, Text: "Recording"})
	case protocol.CaptureTick:
		if p, ok := msg.Payload.(protocol.Tick); ok {
			m.notify(core.Status{Kind: core.StatusRecording, Text: "Recording", Elapsed: p.Elapsed})
		}
	case protocol.CaptureFinalized:
		m.recording = false
		m.startRequested = false
		if p, ok := msg.Payload.(protocol.Finalized); ok {
			m.notify(core.Status{Kind: core.StatusSaved, Text: "Recording saved: " + p.FileName, Elapsed: p.Duration})
		}
	case protocol.CaptureFailed:
		m.recording = false
		m.startRequested = false
		if p, ok := msg.Payload.(protocol.Failed); ok {
			m.notify(core.Status{
				Kind:     core.StatusFailed,
				Text:     "Recording failed",
				Reason:   p.Reason,
				CanRetry: domain.IsTransient(p.Reason),
			})
		}
	case protocol.ForceResetAndRetry:
		p, _ := msg.Payload.(protocol.ResetAndRetry)
		m.forceReset(ctx, p.Reason)
	default:
		m.log.Warn().Str("type", string(msg.Type)).Msg("unknown message")
		msg.Respond(protocol.Reply{OK: false})
	}
}

// forceReset clears persisted recording state and re-runs detection after a
// delay, retrying the auto start if the meeting is still on. Only one retry
// is made per meeting; a second request gives up until the meeting ends.
func (m *Monitor) forceReset(ctx context.Context, reason domain.Reason) {
	if m.recovered {
		m.log.Warn().Str("reason", string(reason)).Msg("recovery already spent for this meeting, giving up")
		stopTimer(&m.start)
		m.notify(core.Status{
			Kind:   core.StatusFailed,
			Text:   "Recording failed, not retrying",
			Reason: reason,
		})
		return
	}
	m.recovered = true
	m.log.Info().Str("reason", string(reason)).Msg("resetting and retrying")
	if err := store.ResetRecording(ctx, m.deps.Store); err != nil {
		m.log.Warn().Err(err).Msg("reset recording state")
	}
	m.recording = false
	m.startRequested = false
	stopTimer(&m.start)
	stopTimer(&m.reset)
	m.reset = time.NewTimer(m.cfg.ResetRetryDelay)
	m.notify(core.Status{Kind: core.StatusInfo, Text: "Retrying recording"})
}

// recoverState corrects persisted flags left by a previous process.
func (m *Monitor) recoverState(ctx context.Context) {
	stored, err := store.Bool(ctx, m.deps.Store, store.KeyInMeeting)
	if err != nil {
		m.log.Warn().Err(err).Msg("read meeting state")
		return
	}
	if !stored {
		return
	}
	visible, err := m.page.InCallVisible(ctx)
	if err == nil && visible {
		return
	}
	m.log.Info().Msg("clearing stale meeting flag")
	if err := m.deps.Store.Set(ctx, store.KeyInMeeting, false); err != nil {
		m.log.Warn().Err(err).Msg("persist meeting state")
	}

	recording, err := store.Bool(ctx, m.deps.Store, store.KeyRecording)
	if err != nil || !recording {
		return
	}
	r, err := m.deps.Bus.Request(ctx, m.addr, bus.Orchestrator, protocol.Ping, nil)
	if err == nil && r.State == domain.RecordingIdle.String() {
		m.log.Info().Msg("clearing stale recording flag")
		if err := store.ResetRecording(ctx, m.deps.Store); err != nil {
			m.log.Warn().Err(err).Msg("reset recording state")
		}
	}
}

func (m *Monitor) shutdown() {
	if m.state() == domain.InMeeting {
		ctx := context.Background()
		if err := m.deps.Store.Set(ctx, store.KeyInMeeting, false); err != nil {
			m.log.Warn().Err(err).Msg("persist meeting state")
		}
	}
	m.stopRecording()
	m.log.Info().Msg("monitor stopped")
}

func (m *Monitor) transition(to domain.MeetingState) {
	m.mu.Lock()
	from := m.session.State
	m.session.State = to
	m.mu.Unlock()
	if from == to {
		return
	}
	metrics.MeetingTransitions.WithLabelValues(string(m.platform()), to.String()).Inc()
	m.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("meeting state")
}

func (m *Monitor) notify(s core.Status) {
	if m.deps.Status != nil {
		m.deps.Status.Notify(m.tab, s)
	}
}

func (m *Monitor) stopTimers() {
	stopTimer(&m.settle)
	stopTimer(&m.leave)
	stopTimer(&m.start)
	stopTimer(&m.reset)
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
