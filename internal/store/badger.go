package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/MeetRecorder/internal/core"
)

// Badger persists state on local disk so it survives process restarts.
type Badger struct {
	db  *badger.DB
	hub *hub
}

func OpenBadger(path string) (*Badger, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db, hub: newHub()}, nil
}

// OpenBadgerInMemory is used by tests and ephemeral runs.
func OpenBadgerInMemory() (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db, hub: newHub()}, nil
}

func (s *Badger) Get(_ context.Context, key string, dst any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dst)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

func (s *Badger) Set(_ context.Context, key string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, mapClosed(err))
	}
	s.hub.publish(core.Change{Key: key, Value: buf})
	return nil
}

func (s *Badger) Remove(_ context.Context, keys ...string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove: %w", mapClosed(err))
	}
	for _, k := range keys {
		s.hub.publish(core.Change{Key: k, Removed: true})
	}
	return nil
}

func (s *Badger) Watch(ctx context.Context) (<-chan core.Change, error) {
	return s.hub.watch(ctx), nil
}

func (s *Badger) Close() error {
	s.hub.closeAll()
	return s.db.Close()
}

func mapClosed(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return core.ErrStoreClosed
	}
	return err
}
