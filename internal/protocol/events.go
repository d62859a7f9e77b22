// Package protocol is the vocabulary shared by the monitor, orchestrator and capture contexts.
package protocol

type Event string

const (
	// Monitor -> Orchestrator
	RequestAutoStart   Event = "requestAutoStart"
	RequestManualStart Event = "requestManualStart"
	RequestStop        Event = "requestStop"
	TabRemoved         Event = "tabRemoved"

	// Orchestrator -> Engine
	BeginCapture Event = "beginCapture"
	EndCapture   Event = "endCapture"
	Ping         Event = "ping"

	// Engine -> Orchestrator -> Monitor
	CaptureStarted   Event = "captureStarted"
	CaptureTick      Event = "captureTick"
	CaptureFinalized Event = "captureFinalized"
	CaptureFailed    Event = "captureFailed"

	// Engine -> Monitor
	MuteStatusQuery    Event = "muteStatusQuery"
	MeetingStatusQuery Event = "meetingStatusQuery"

	// Orchestrator -> Monitor
	PermissionChanged  Event = "permissionChanged"
	ForceResetAndRetry Event = "forceResetAndRetry"
)
