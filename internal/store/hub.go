package store

import (
	"context"
	"sync"

	"github.com/dkeye/MeetRecorder/internal/core"
)

const watchBuffer = 32

// hub fans local changes out to watchers. A slow watcher loses changes
// rather than blocking writers.
type hub struct {
	mu   sync.Mutex
	subs map[chan core.Change]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan core.Change]struct{})}
}

func (h *hub) watch(ctx context.Context) <-chan core.Change {
	ch := make(chan core.Change, watchBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}()
	return ch
}

func (h *hub) publish(c core.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
