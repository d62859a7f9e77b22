// Package store implements the persistent key-value State Store.
package store

// Persisted keys. The store is a write-behind cache for crash recovery; live
// components own the authoritative state.
const (
	KeyPermissions         = "autoRecordPermissions"
	KeyInMeeting           = "isInMeeting"
	KeyRecording           = "isRecording"
	KeyRecordingStart      = "recordingStartTime"
	KeyRecordingTime       = "recordingTime"
	KeyRecordingTab        = "recordingTabId"
	KeyStoppedByTabClose   = "recordingStoppedByTabClose"
	KeyMeetingStart        = "meetingStartTime"
	KeyLastMeetingDuration = "lastMeetingDuration"
	KeyLastMeetingEnd      = "lastMeetingEndTime"
	KeyLastSessionDuration = "lastSessionDuration"
)

// RecordingKeys are cleared whenever a recording ends or is reset.
var RecordingKeys = []string{
	KeyRecording,
	KeyRecordingStart,
	KeyRecordingTime,
	KeyRecordingTab,
}
