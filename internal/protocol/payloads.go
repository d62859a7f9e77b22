package protocol

import (
	"time"

	"github.com/dkeye/MeetRecorder/internal/domain"
)

type StartRequest struct {
	Tab      domain.TabID    `json:"tabId"`
	Platform domain.Platform `json:"platformId"`
}

type StopRequest struct {
	Tab        domain.TabID `json:"tabId"`
	ForceFlush bool         `json:"forceFlush"`
}

type TabClosed struct {
	Tab domain.TabID `json:"tabId"`
}

type Begin struct {
	Session  domain.SessionID     `json:"sessionId"`
	Tab      domain.TabID         `json:"hostTabId"`
	Platform domain.Platform      `json:"platformId"`
	Mode     domain.RecordingMode `json:"mode"`
}

type End struct {
	ForceFlush bool `json:"forceFlush"`
}

type Started struct {
	Session   domain.SessionID `json:"sessionId"`
	Tab       domain.TabID     `json:"hostTabId"`
	StartedAt time.Time        `json:"startedAt"`
	HasMic    bool             `json:"hasMic"`
}

type Tick struct {
	Session domain.SessionID `json:"sessionId"`
	Tab     domain.TabID     `json:"hostTabId"`
	Elapsed time.Duration    `json:"elapsed"`
}

type Finalized struct {
	Session   domain.SessionID `json:"sessionId"`
	Tab       domain.TabID     `json:"hostTabId"`
	FileName  string           `json:"fileName"`
	Bytes     int              `json:"bytes"`
	Fragments int              `json:"fragments"`
	Duration  time.Duration    `json:"duration"`
	TabClosed bool             `json:"tabClosed,omitempty"`
}

type Failed struct {
	Session domain.SessionID `json:"sessionId"`
	Tab     domain.TabID     `json:"hostTabId"`
	Reason  domain.Reason    `json:"reason"`
}

type Permission struct {
	Platform domain.Platform `json:"platformId"`
	Enabled  bool            `json:"enabled"`
}

type ResetAndRetry struct {
	Reason domain.Reason `json:"reason,omitempty"`
}

// Reply is the single answer to a request. Event-specific fields are
// zero when they do not apply.
type Reply struct {
	OK        bool          `json:"ok"`
	Reason    domain.Reason `json:"reason,omitempty"`
	Muted     bool          `json:"isMuted,omitempty"`
	InMeeting bool          `json:"inMeeting,omitempty"`
	State     string        `json:"state,omitempty"`
}

func OK() Reply { return Reply{OK: true} }

// Fail builds a failure reply from any error, reduced to its taxonomy reason.
func Fail(err error) Reply {
	return Reply{OK: false, Reason: domain.ReasonOf(err)}
}

// Err turns a reply back into an error, nil when it succeeded.
func (r Reply) Err() error {
	if r.OK {
		return nil
	}
	return domain.ErrorFor(r.Reason)
}
