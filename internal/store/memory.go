package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/MeetRecorder/internal/core"
)

type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	hub    *hub
	closed bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte), hub: newHub()}
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return core.ErrStoreClosed
	}
	m.data[key] = raw
	m.mu.Unlock()
	m.hub.publish(core.Change{Key: key, Value: raw})
	return nil
}

func (m *Memory) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return core.ErrStoreClosed
	}
	removed := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			removed = append(removed, k)
		}
	}
	m.mu.Unlock()
	for _, k := range removed {
		m.hub.publish(core.Change{Key: k, Removed: true})
	}
	return nil
}

func (m *Memory) Watch(ctx context.Context) (<-chan core.Change, error) {
	return m.hub.watch(ctx), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.closeAll()
	return nil
}
