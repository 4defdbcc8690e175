package protocol

import "time"

// Voice carries per-request overrides of the daemon's default voice. Nil
// fields keep the default.
type Voice struct {
	Code   *uint8 `json:"code,omitempty"`
	Voice  *int16 `json:"voice,omitempty"`
	Volume *int16 `json:"volume,omitempty"`
	Speed  *int16 `json:"speed,omitempty"`
	Tone   *int16 `json:"tone,omitempty"`
}

// SpeakRequest asks the bridge to have BouyomiChan read Text.
type SpeakRequest struct {
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
	Voice     *Voice `json:"voice,omitempty"`

	// WaitSec > 1 blocks the request until playback ends or the budget runs out.
	WaitSec int    `json:"wait_sec,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// SpeechEvent reports the outcome of a SpeakRequest.
type SpeechEvent struct {
	RequestID string    `json:"request_id"`
	SessionID string    `json:"session_id,omitempty"`
	Accepted  bool      `json:"accepted"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ControlRequest carries one of pause, resume, skip or clear.
type ControlRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Command   string `json:"command"`
}

type ControlReply struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// Status is the playback state of BouyomiChan. RemainingTasks saturates at
// 255 because the application reports it in one byte.
type Status struct {
	Reachable      bool      `json:"reachable"`
	Paused         bool      `json:"paused"`
	Playing        bool      `json:"playing"`
	RemainingTasks uint32    `json:"remaining_tasks"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

const (
	SubjectSpeak        = "bouyomi.speak"
	SubjectSpeakDone    = "bouyomi.speak.done"
	SubjectSpeakFailed  = "bouyomi.speak.failed"
	SubjectControl      = "bouyomi.control"
	SubjectStatus       = "bouyomi.status"
	SubjectStatusUpdate = "bouyomi.status.update"
)
