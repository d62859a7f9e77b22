package hostws

import (
	"context"
	"sync"
)

// page caches the last meeting UI state the shim reported for a tab.
type page struct {
	mu      sync.RWMutex
	known   bool
	inCall  bool
	muted   bool
	changes chan struct{}
}

func newPage() *page {
	return &page{changes: make(chan struct{}, 1)}
}

func (p *page) set(inCall, muted bool) {
	p.mu.Lock()
	changed := !p.known || p.inCall != inCall || p.muted != muted
	p.known, p.inCall, p.muted = true, inCall, muted
	p.mu.Unlock()
	if changed {
		p.signal()
	}
}

// forget drops the cached state; reads fail until the next report.
func (p *page) forget() {
	p.mu.Lock()
	p.known = false
	p.mu.Unlock()
	p.signal()
}

func (p *page) signal() {
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

func (p *page) InCallVisible(context.Context) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.known {
		return false, ErrPageUnknown
	}
	return p.inCall, nil
}

func (p *page) Muted(context.Context) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.known {
		return false, ErrPageUnknown
	}
	return p.muted, nil
}

func (p *page) Changes() <-chan struct{} { return p.changes }
