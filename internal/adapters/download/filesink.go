// Package download writes finished recordings to a local directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"
)

var ErrBadName = errors.New("invalid artifact name")

// FileSink saves artifacts under Dir. An existing file is never replaced;
// the new one gets a numbered name instead, like a browser download.
type FileSink struct {
	Dir string

	mu sync.Mutex
}

var _ core.Downloads = (*FileSink)(nil)

func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

func (s *FileSink) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	base := filepath.Base(name)
	if base != name || base == "." || base == ".." || base == "" {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.freePath(base)
	if err != nil {
		return err
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending artifact: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			log.Debug().Err(err).Str("module", "download").Str("file", path).Msg("cleanup pending artifact")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit artifact: %w", err)
	}

	log.Info().Str("module", "download").Str("file", path).Int("bytes", len(data)).Msg("artifact saved")
	return nil
}

// freePath returns the first unused path for name: "a.webm", "a (1).webm", ...
func (s *FileSink) freePath(name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(s.Dir, candidate)
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%w: no free name for %q", ErrBadName, name)
}
