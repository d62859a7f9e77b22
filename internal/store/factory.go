package store

import (
	"fmt"

	"github.com/dkeye/MeetRecorder/internal/config"
	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/rs/zerolog/log"
)

// New opens the configured backend.
func New(cfg config.StoreConfig) (core.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "badger":
		if cfg.Path == "" {
			return OpenBadgerInMemory()
		}
		return OpenBadger(cfg.Path)
	case "redis":
		logger := log.With().Str("module", "store.redis").Logger()
		return NewRedis(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.Prefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: memory, badger, redis)", cfg.Backend)
	}
}
