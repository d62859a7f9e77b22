package domain

import (
	"errors"
	"fmt"
)

// Reason is the machine-readable form of a recording failure carried in replies.
type Reason string

const (
	ReasonNoPermission     Reason = "no_permission"
	ReasonAlreadyRecording Reason = "already_recording"
	ReasonNoSourceTab      Reason = "no_source_tab"
	ReasonCaptureRejected  Reason = "capture_rejected"
	ReasonUnresponsive     Reason = "unresponsive"
	ReasonNoData           Reason = "no_data"
	ReasonEncoderFault     Reason = "encoder_fault"
)

var (
	ErrNoPermission     = errors.New("auto-record not permitted for platform")
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrNoSourceTab      = errors.New("source tab not found")
	ErrCaptureRejected  = errors.New("capture rejected by host")
	ErrUnresponsive     = errors.New("peer context did not answer")
	ErrNoData           = errors.New("no recorded data")
	ErrEncoderFault     = errors.New("encoder fault")
)

var taxonomy = []struct {
	reason Reason
	err    error
}{
	{ReasonNoPermission, ErrNoPermission},
	{ReasonAlreadyRecording, ErrAlreadyRecording},
	{ReasonNoSourceTab, ErrNoSourceTab},
	{ReasonCaptureRejected, ErrCaptureRejected},
	{ReasonUnresponsive, ErrUnresponsive},
	{ReasonNoData, ErrNoData},
	{ReasonEncoderFault, ErrEncoderFault},
}

// ReasonOf reduces err to a taxonomy reason. Host failures outside the
// taxonomy count as capture rejections; nil yields "".
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.reason
		}
	}
	return ReasonCaptureRejected
}

// ErrorFor is the inverse of ReasonOf.
func ErrorFor(r Reason) error {
	for _, t := range taxonomy {
		if t.reason == r {
			return t.err
		}
	}
	if r == "" {
		return ErrCaptureRejected
	}
	return fmt.Errorf("%w: %s", ErrCaptureRejected, r)
}

// IsTransient reports whether a manual "reset and retry" makes sense for r.
func IsTransient(r Reason) bool {
	switch r {
	case ReasonUnresponsive, ReasonCaptureRejected, ReasonEncoderFault:
		return true
	}
	return false
}

func (r Reason) Valid() bool {
	for _, t := range taxonomy {
		if t.reason == r {
			return true
		}
	}
	return false
}
