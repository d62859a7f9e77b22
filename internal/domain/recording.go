package domain

import "time"

type RecordingMode string

const (
	ModeManual RecordingMode = "manual"
	ModeAuto   RecordingMode = "auto"
)

type RecordingState int32

const (
	RecordingIdle RecordingState = iota
	RecordingStarting
	RecordingActive
	RecordingStopping
	RecordingFinalizing
	RecordingFailed
)

func (s RecordingState) String() string {
	switch s {
	case RecordingIdle:
		return "idle"
	case RecordingStarting:
		return "starting"
	case RecordingActive:
		return "active"
	case RecordingStopping:
		return "stopping"
	case RecordingFinalizing:
		return "finalizing"
	case RecordingFailed:
		return "failed"
	}
	return "unknown"
}

func (s RecordingState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// RecordingSession is the process-wide recording; at most one exists.
type RecordingSession struct {
	ID             SessionID      `json:"id"`
	HostTab        TabID          `json:"hostTabId"`
	Platform       Platform       `json:"platform"`
	CaptureContext ContextID      `json:"captureContextId"`
	Mode           RecordingMode  `json:"mode"`
	State          RecordingState `json:"state"`
	StartedAt      time.Time      `json:"startedAt,omitzero"`
	RetryCount     int            `json:"retryCount"`
}

type CaptureState int32

const (
	CaptureIdle CaptureState = iota
	CaptureStarting
	CaptureCapturing
	CaptureStopping
	CaptureFinalized
	CaptureFailed
)

func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "idle"
	case CaptureStarting:
		return "starting"
	case CaptureCapturing:
		return "capturing"
	case CaptureStopping:
		return "stopping"
	case CaptureFinalized:
		return "finalized"
	case CaptureFailed:
		return "failed"
	}
	return "unknown"
}
