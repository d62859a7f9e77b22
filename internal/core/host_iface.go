package core

//go:generate mockgen -source=host_iface.go -destination=mocks/host_mock.go -package=mocks

import (
	"context"
	"time"

	"github.com/dkeye/MeetRecorder/internal/domain"
)

type Tabs interface {
	Exists(ctx context.Context, tab domain.TabID) (bool, error)
}

// ContextLauncher creates and destroys isolated capture contexts.
type ContextLauncher interface {
	Launch(ctx context.Context, id domain.ContextID) error
	// Close destroys the context; a capture in progress is finalized first.
	Close(id domain.ContextID)
}

// Page is the monitored page's view of the meeting UI.
type Page interface {
	InCallVisible(ctx context.Context) (bool, error)
	Muted(ctx context.Context) (bool, error)
	// Changes fires on page mutations. It may coalesce notifications.
	Changes() <-chan struct{}
}

type Pages interface {
	Page(tab domain.TabID) Page
}

// Downloads saves a finished artifact under the given file name.
type Downloads interface {
	Save(ctx context.Context, name string, data []byte) error
}

type StatusKind string

const (
	StatusInfo      StatusKind = "info"
	StatusRecording StatusKind = "recording"
	StatusSaved     StatusKind = "saved"
	StatusFailed    StatusKind = "failed"
)

// Status is a short-lived user-visible message rendered in the page.
type Status struct {
	Kind     StatusKind    `json:"kind"`
	Text     string        `json:"text"`
	Reason   domain.Reason `json:"reason,omitempty"`
	Elapsed  time.Duration `json:"elapsed,omitempty"`
	CanRetry bool          `json:"canRetry,omitempty"`
}

type StatusNotifier interface {
	Notify(tab domain.TabID, s Status)
}
