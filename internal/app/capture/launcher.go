package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/MeetRecorder/internal/config"
	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrContextExists = errors.New("capture context already exists")

type launched struct {
	engine *Engine
	cancel context.CancelFunc
	done   chan struct{}
}

// Launcher hosts capture contexts in-process. A context becomes reachable
// on the bus after cfg.ReadyDelay, like a freshly created document.
type Launcher struct {
	deps Deps
	cfg  config.CaptureConfig
	base context.Context

	mu       sync.Mutex
	contexts map[domain.ContextID]*launched
}

func NewLauncher(ctx context.Context, deps Deps, cfg config.CaptureConfig) *Launcher {
	return &Launcher{
		deps:     deps,
		cfg:      cfg,
		base:     ctx,
		contexts: make(map[domain.ContextID]*launched),
	}
}

func (l *Launcher) Launch(_ context.Context, id domain.ContextID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.contexts[id]; ok {
		return fmt.Errorf("%s: %w", id, ErrContextExists)
	}
	ctx, cancel := context.WithCancel(l.base)
	h := &launched{engine: NewEngine(id, l.deps, l.cfg), cancel: cancel, done: make(chan struct{})}
	l.contexts[id] = h

	go func() {
		defer close(h.done)
		if l.cfg.ReadyDelay > 0 {
			t := time.NewTimer(l.cfg.ReadyDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if err := h.engine.Run(ctx); err != nil {
			log.Error().Err(err).Str("module", "capture").Str("context", string(id)).Msg("capture context exited")
		}
	}()
	log.Info().Str("module", "capture").Str("context", string(id)).Msg("capture context launched")
	return nil
}

// Close destroys the context and waits for it to finish finalizing.
func (l *Launcher) Close(id domain.ContextID) {
	l.mu.Lock()
	h, ok := l.contexts[id]
	delete(l.contexts, id)
	l.mu.Unlock()
	if !ok {
		return
	}
	h.cancel()

	wait := l.cfg.CloseTimeout
	if wait <= 0 {
		wait = 10 * time.Second
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-h.done:
		log.Info().Str("module", "capture").Str("context", string(id)).Msg("capture context closed")
	case <-t.C:
		log.Warn().Str("module", "capture").Str("context", string(id)).Msg("capture context did not exit in time")
	}
}

func (l *Launcher) CloseAll() {
	for _, id := range l.Live() {
		l.Close(id)
	}
}

func (l *Launcher) Live() []domain.ContextID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ContextID, 0, len(l.contexts))
	for id := range l.contexts {
		out = append(out, id)
	}
	return out
}

func (l *Launcher) Engine(id domain.ContextID) (*Engine, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.contexts[id]
	if !ok {
		return nil, false
	}
	return h.engine, true
}
