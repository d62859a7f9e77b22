package monitor_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/MeetRecorder/internal/app/capture"
	"github.com/dkeye/MeetRecorder/internal/app/monitor"
	"github.com/dkeye/MeetRecorder/internal/app/orch"
	"github.com/dkeye/MeetRecorder/internal/bus"
	"github.com/dkeye/MeetRecorder/internal/config"
	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/dkeye/MeetRecorder/internal/hosttest"
	"github.com/dkeye/MeetRecorder/internal/metrics"
	"github.com/dkeye/MeetRecorder/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const meetTab domain.TabID = 21

type recorder struct {
	host     *hosttest.Host
	page     *hosttest.Page
	store    core.Store
	orch     *orch.Orchestrator
	monitors *monitor.Manager
}

func newRecorder(t *testing.T, ocfg config.OrchestratorConfig, prepare func(h *hosttest.Host)) *recorder {
	t.Helper()
	b := bus.New(300 * time.Millisecond)
	h := hosttest.New()
	if prepare != nil {
		prepare(h)
	}
	st := store.NewMemory()
	_, err := store.SetPermission(context.Background(), st, domain.PlatformMeet, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	launcher := capture.NewLauncher(ctx, capture.Deps{
		Bus:       b,
		Tabs:      h,
		Media:     h,
		Encoders:  &hosttest.EncoderFactory{},
		Downloads: h,
		Store:     st,
		Playback:  h,
	}, config.CaptureConfig{
		MuteInterval:     20 * time.Millisecond,
		FragmentInterval: 20 * time.Millisecond,
		TickInterval:     20 * time.Millisecond,
		TabCheckInterval: 20 * time.Millisecond,
		DrainTimeout:     10 * time.Millisecond,
		CloseTimeout:     2 * time.Second,
		MicBuffer:        4,
		SaveAttempts:     1,
	})
	o := orch.New(b, st, h, launcher, ocfg)
	mg := monitor.NewManager(ctx, monitor.Deps{Bus: b, Store: st, Pages: h, Status: h}, config.MonitorConfig{
		SettleDelay:     60 * time.Millisecond,
		LeaveDebounce:   40 * time.Millisecond,
		PollInterval:    15 * time.Millisecond,
		StartDelay:      10 * time.Millisecond,
		ResetRetryDelay: 30 * time.Millisecond,
	})

	orchCtx, orchCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(orchCtx)
	}()
	require.Eventually(t, func() bool { return b.Registered(bus.Orchestrator) }, time.Second, time.Millisecond)

	t.Cleanup(func() {
		mg.Close()
		orchCancel()
		<-done
		launcher.CloseAll()
		cancel()
	})

	return &recorder{host: h, page: h.OpenTab(meetTab), store: st, orch: o, monitors: mg}
}

// verifyNoLeaks must run before newRecorder so its check runs after the
// recorder's own cleanup.
func verifyNoLeaks(t *testing.T) {
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })
}

func e2eOrchestratorConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		StartDelay:       5 * time.Millisecond,
		StartAttempts:    3,
		RetryBackoff:     20 * time.Millisecond,
		RecoveryDelay:    time.Hour,
		LivenessInterval: 50 * time.Millisecond,
		LivenessTimeout:  100 * time.Millisecond,
		PermanentReasons: []string{"no_permission", "already_recording", "no_source_tab", "no_data"},
	}
}

func (r *recorder) recordingState() domain.RecordingState {
	s, ok := r.orch.Snapshot()
	if !ok {
		return domain.RecordingIdle
	}
	return s.State
}

func TestAutoRecordingEndToEnd(t *testing.T) {
	verifyNoLeaks(t)
	started := testutil.ToFloat64(metrics.RecordingsStarted.WithLabelValues(string(domain.PlatformMeet), string(domain.ModeAuto)))

	r := newRecorder(t, e2eOrchestratorConfig(), nil)
	r.monitors.TabUpdated(meetTab, "https://meet.google.com/abc-defg-hij")

	// a join flicker shorter than the settle delay starts nothing
	r.page.SetInCall(true)
	time.Sleep(20 * time.Millisecond)
	r.page.SetInCall(false)
	assert.Never(t, func() bool { return r.host.Captures() > 0 }, 150*time.Millisecond, 10*time.Millisecond)

	r.page.SetInCall(true)
	require.Eventually(t, func() bool { return r.recordingState() == domain.RecordingActive }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, r.host.Captures())
	assert.Equal(t, started+1, testutil.ToFloat64(metrics.RecordingsStarted.WithLabelValues(string(domain.PlatformMeet), string(domain.ModeAuto))),
		"exactly one auto start")

	time.Sleep(100 * time.Millisecond)
	r.page.SetInCall(false)

	require.Eventually(t, func() bool { return len(r.host.Downloads()) == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(r.host.Downloads()) > 1 }, 150*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, r.host.Captures())
	assert.Equal(t, domain.RecordingIdle, r.recordingState())

	dl := r.host.Downloads()[0]
	assert.True(t, strings.HasPrefix(dl.Name, "gmeet-recording-"), dl.Name)
	assert.NotEmpty(t, dl.Data)

	rec, err := store.Bool(context.Background(), r.store, store.KeyRecording)
	require.NoError(t, err)
	assert.False(t, rec)
	assert.Contains(t, r.host.StatusKinds(meetTab), core.StatusSaved)
}

func TestClosingMeetingTabKeepsRecording(t *testing.T) {
	verifyNoLeaks(t)

	r := newRecorder(t, e2eOrchestratorConfig(), nil)
	r.monitors.TabUpdated(meetTab, "https://meet.google.com/abc-defg-hij")
	r.page.SetInCall(true)
	require.Eventually(t, func() bool { return r.recordingState() == domain.RecordingActive }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	r.host.CloseTab(meetTab)
	r.monitors.TabRemoved(meetTab)

	require.Eventually(t, func() bool { return len(r.host.Downloads()) == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, r.host.Downloads()[0].Data)
	_, ok := r.monitors.Get(meetTab)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return r.recordingState() == domain.RecordingIdle }, time.Second, 5*time.Millisecond)
}

func TestFailingCaptureIsAttemptedThreeTimes(t *testing.T) {
	verifyNoLeaks(t)

	r := newRecorder(t, e2eOrchestratorConfig(), func(h *hosttest.Host) {
		h.CaptureErr = errors.New("tab capture blocked")
	})
	r.monitors.TabUpdated(meetTab, "https://meet.google.com/abc-defg-hij")
	r.page.SetInCall(true)

	require.Eventually(t, func() bool {
		for _, k := range r.host.StatusKinds(meetTab) {
			if k == core.StatusFailed {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, r.host.Captures())
	assert.Never(t, func() bool { return r.host.Captures() > 3 }, 150*time.Millisecond, 10*time.Millisecond)
	assert.Empty(t, r.host.Downloads())
	assert.Equal(t, domain.RecordingIdle, r.recordingState())
}

func TestFailingCaptureRecoversOnceThenGivesUp(t *testing.T) {
	verifyNoLeaks(t)

	cfg := e2eOrchestratorConfig()
	cfg.RecoveryDelay = 30 * time.Millisecond
	r := newRecorder(t, cfg, func(h *hosttest.Host) {
		h.CaptureErr = errors.New("tab capture blocked")
	})
	r.monitors.TabUpdated(meetTab, "https://meet.google.com/abc-defg-hij")
	r.page.SetInCall(true)

	require.Eventually(t, func() bool { return r.host.Captures() == 6 }, 3*time.Second, 5*time.Millisecond,
		"one recovery after the first three attempts")
	assert.Never(t, func() bool { return r.host.Captures() > 6 }, 400*time.Millisecond, 10*time.Millisecond)
	assert.Empty(t, r.host.Downloads())
	assert.Equal(t, domain.RecordingIdle, r.recordingState())

	kinds := r.host.StatusKinds(meetTab)
	require.NotEmpty(t, kinds)
	assert.Equal(t, core.StatusFailed, kinds[len(kinds)-1])
}
