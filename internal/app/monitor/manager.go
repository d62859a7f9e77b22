package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/MeetRecorder/internal/bus"
	"github.com/dkeye/MeetRecorder/internal/config"
	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/dkeye/MeetRecorder/internal/metrics"
	"github.com/dkeye/MeetRecorder/internal/protocol"
	"github.com/rs/zerolog/log"
)

type entry struct {
	monitor *Monitor
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager keeps one Monitor per tab showing a supported meeting site.
type Manager struct {
	deps Deps
	cfg  config.MonitorConfig
	base context.Context

	mu       sync.RWMutex
	monitors map[domain.TabID]*entry
}

func NewManager(ctx context.Context, deps Deps, cfg config.MonitorConfig) *Manager {
	return &Manager{
		deps:     deps,
		cfg:      cfg,
		base:     ctx,
		monitors: make(map[domain.TabID]*entry),
	}
}

// TabUpdated reacts to a tab loading url. A monitor is started for supported
// platforms and dropped when the tab navigates elsewhere.
func (mg *Manager) TabUpdated(tab domain.TabID, url string) {
	platform, ok := domain.PlatformFromURL(url)

	mg.mu.Lock()
	cur, exists := mg.monitors[tab]
	if exists && ok && cur.monitor.Snapshot().Platform == platform {
		mg.mu.Unlock()
		return
	}
	if exists {
		delete(mg.monitors, tab)
	}
	var started *entry
	if ok {
		started = mg.spawn(tab, platform)
		mg.monitors[tab] = started
	}
	metrics.Monitors.Set(float64(len(mg.monitors)))
	mg.mu.Unlock()

	if exists {
		log.Info().Str("module", "monitor.manager").Int("tab", int(tab)).Msg("tab left meeting site")
		mg.stop(cur)
	}
	if started != nil {
		log.Info().Str("module", "monitor.manager").Int("tab", int(tab)).Str("platform", string(platform)).Msg("monitor started")
		go mg.run(started)
	}
}

// TabRemoved destroys the tab's monitor and reports the closure to the
// orchestrator.
func (mg *Manager) TabRemoved(tab domain.TabID) {
	mg.mu.Lock()
	e, ok := mg.monitors[tab]
	delete(mg.monitors, tab)
	metrics.Monitors.Set(float64(len(mg.monitors)))
	mg.mu.Unlock()

	if ok {
		mg.stop(e)
		log.Info().Str("module", "monitor.manager").Int("tab", int(tab)).Msg("monitor removed")
	}
	if err := mg.deps.Bus.Send(bus.MonitorAddr(tab), bus.Orchestrator, protocol.TabRemoved, protocol.TabClosed{Tab: tab}); err != nil {
		log.Warn().Err(err).Str("module", "monitor.manager").Int("tab", int(tab)).Msg("tab closure not delivered")
	}
}

func (mg *Manager) Get(tab domain.TabID) (*Monitor, bool) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	e, ok := mg.monitors[tab]
	if !ok {
		return nil, false
	}
	return e.monitor, true
}

// Snapshot lists every monitored meeting ordered by tab.
func (mg *Manager) Snapshot() []domain.MeetingSession {
	mg.mu.RLock()
	out := make([]domain.MeetingSession, 0, len(mg.monitors))
	for _, e := range mg.monitors {
		out = append(out, e.monitor.Snapshot())
	}
	mg.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].HostTab < out[j].HostTab })
	return out
}

// Close stops every monitor.
func (mg *Manager) Close() {
	mg.mu.Lock()
	all := mg.monitors
	mg.monitors = make(map[domain.TabID]*entry)
	metrics.Monitors.Set(0)
	mg.mu.Unlock()
	for _, e := range all {
		mg.stop(e)
	}
}

func (mg *Manager) spawn(tab domain.TabID, platform domain.Platform) *entry {
	ctx, cancel := context.WithCancel(mg.base)
	return &entry{
		monitor: New(tab, platform, mg.deps, mg.cfg),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (mg *Manager) run(e *entry) {
	defer close(e.done)
	if err := e.monitor.Run(e.ctx); err != nil {
		log.Error().Err(err).Str("module", "monitor.manager").Int("tab", int(e.monitor.Tab())).Msg("monitor exited")
	}
}

func (mg *Manager) stop(e *entry) {
	e.cancel()
	t := time.NewTimer(5 * time.Second)
	defer t.Stop()
	select {
	case <-e.done:
	case <-t.C:
		log.Warn().Str("module", "monitor.manager").Int("tab", int(e.monitor.Tab())).Msg("monitor did not stop in time")
	}
}
