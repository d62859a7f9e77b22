package core

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrStoreClosed = errors.New("store closed")

// Change is a single key mutation delivered to watchers.
type Change struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value,omitempty"`
	Removed bool            `json:"removed,omitempty"`
}

// Store is the persistent key-value state shared by every context.
// Values are JSON; last writer wins and there are no transactions.
type Store interface {
	// Get decodes the value at key into dst and reports whether it existed.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	Remove(ctx context.Context, keys ...string) error
	// Watch streams changes until ctx is done, then closes the channel.
	Watch(ctx context.Context) (<-chan Change, error)
	Close() error
}
