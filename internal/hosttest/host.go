// Package hosttest is an in-memory host runtime for tests: tabs, pages,
// synthetic capture streams, a download sink and a status sink.
package hosttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/dkeye/MeetRecorder/internal/domain"
)

var (
	ErrNoTab      = errors.New("no tab with given id")
	ErrMicDenied  = errors.New("microphone permission denied")
	ErrHostClosed = errors.New("host closed")
)

type Download struct {
	Name string
	Data []byte
}

type StatusEvent struct {
	Tab    domain.TabID
	Status core.Status
}

type Host struct {
	mu        sync.Mutex
	tabs      map[domain.TabID]*Page
	streams   []*Track
	mics      []*Track
	downloads []Download
	statuses  []StatusEvent
	played    int

	// FrameInterval paces synthetic media.
	FrameInterval time.Duration
	CaptureErr    error
	MicErr        error
	NoVideo       bool
	NoTabAudio    bool
	SaveErr       error
	// CaptureCalls counts CaptureTab invocations.
	CaptureCalls int
}

func New() *Host {
	return &Host{
		tabs:          make(map[domain.TabID]*Page),
		FrameInterval: 10 * time.Millisecond,
	}
}

func (h *Host) OpenTab(tab domain.TabID) *Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.tabs[tab]
	if !ok {
		p = &Page{changes: make(chan struct{}, 1)}
		h.tabs[tab] = p
	}
	return p
}

// CloseTab removes the tab and ends every stream captured from it.
func (h *Host) CloseTab(tab domain.TabID) {
	h.mu.Lock()
	delete(h.tabs, tab)
	var ending []*Track
	for _, tr := range h.streams {
		if tr.tab == tab {
			ending = append(ending, tr)
		}
	}
	h.mu.Unlock()
	for _, tr := range ending {
		tr.end()
	}
}

func (h *Host) Exists(_ context.Context, tab domain.TabID) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.tabs[tab]
	return ok, nil
}

func (h *Host) Page(tab domain.TabID) core.Page {
	return h.OpenTab(tab)
}

func (h *Host) CaptureTab(_ context.Context, tab domain.TabID) (core.MediaStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CaptureCalls++
	if h.CaptureErr != nil {
		return core.MediaStream{}, h.CaptureErr
	}
	if _, ok := h.tabs[tab]; !ok {
		return core.MediaStream{}, fmt.Errorf("capture tab %d: %w", tab, ErrNoTab)
	}
	var s core.MediaStream
	if !h.NoVideo {
		v := newTrack(tab, core.KindVideo, fmt.Sprintf("tab-%d-video", tab), h.FrameInterval, 0, 0)
		h.streams = append(h.streams, v)
		s.Video = VideoTrack{v}
	}
	if !h.NoTabAudio {
		a := newTrack(tab, core.KindAudio, fmt.Sprintf("tab-%d-audio", tab), h.FrameInterval, TabLevel, 2)
		h.streams = append(h.streams, a)
		s.Audio = AudioTrack{a}
	}
	return s, nil
}

func (h *Host) Microphone(context.Context) (core.AudioTrack, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.MicErr != nil {
		return nil, h.MicErr
	}
	m := newTrack(0, core.KindAudio, fmt.Sprintf("mic-%d", len(h.mics)), h.FrameInterval, MicLevel, 1)
	h.mics = append(h.mics, m)
	return AudioTrack{m}, nil
}

func (h *Host) Save(_ context.Context, name string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SaveErr != nil {
		return h.SaveErr
	}
	h.downloads = append(h.downloads, Download{Name: name, Data: append([]byte(nil), data...)})
	return nil
}

func (h *Host) Notify(tab domain.TabID, s core.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, StatusEvent{Tab: tab, Status: s})
}

func (h *Host) Play(domain.TabID, core.AudioFrame) {
	h.mu.Lock()
	h.played++
	h.mu.Unlock()
}

// Captures reports how many times CaptureTab was called.
func (h *Host) Captures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.CaptureCalls
}

func (h *Host) Downloads() []Download {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Download(nil), h.downloads...)
}

func (h *Host) Statuses() []StatusEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]StatusEvent(nil), h.statuses...)
}

// StatusKinds lists the kinds of statuses shown for tab, in order.
func (h *Host) StatusKinds(tab domain.TabID) []core.StatusKind {
	var out []core.StatusKind
	for _, e := range h.Statuses() {
		if e.Tab == tab {
			out = append(out, e.Status.Kind)
		}
	}
	return out
}

func (h *Host) Played() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.played
}

// Tracks returns every track handed out so far, tab streams then microphones.
func (h *Host) Tracks() []*Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]*Track(nil), h.streams...)
	return append(out, h.mics...)
}

func (h *Host) Mics() []*Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Track(nil), h.mics...)
}

// Page is a scripted meeting page.
type Page struct {
	mu      sync.Mutex
	inCall  bool
	muted   bool
	broken  bool
	changes chan struct{}
}

func (p *Page) SetInCall(v bool) {
	p.mu.Lock()
	p.inCall = v
	p.mu.Unlock()
	p.notify()
}

func (p *Page) SetMuted(v bool) {
	p.mu.Lock()
	p.muted = v
	p.mu.Unlock()
	p.notify()
}

// SetBroken makes every page query fail, as when selectors no longer match.
func (p *Page) SetBroken(v bool) {
	p.mu.Lock()
	p.broken = v
	p.mu.Unlock()
}

func (p *Page) notify() {
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

func (p *Page) InCallVisible(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.broken {
		return false, errors.New("page unreadable")
	}
	return p.inCall, nil
}

func (p *Page) Muted(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.broken {
		return false, errors.New("page unreadable")
	}
	return p.muted, nil
}

func (p *Page) Changes() <-chan struct{} { return p.changes }
