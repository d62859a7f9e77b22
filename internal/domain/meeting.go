package domain

import "time"

type MeetingState int32

const (
	NotInMeeting MeetingState = iota
	Joining
	InMeeting
)

func (s MeetingState) String() string {
	switch s {
	case NotInMeeting:
		return "not_in_meeting"
	case Joining:
		return "joining"
	case InMeeting:
		return "in_meeting"
	}
	return "unknown"
}

// MeetingSession is owned by exactly one tab monitor.
type MeetingSession struct {
	Platform Platform     `json:"platform"`
	HostTab  TabID        `json:"hostTabId"`
	State    MeetingState `json:"state"`
	JoinedAt time.Time    `json:"joinedAt,omitzero"`
}

func (m MeetingSession) Duration(now time.Time) time.Duration {
	if m.JoinedAt.IsZero() {
		return 0
	}
	return now.Sub(m.JoinedAt)
}
