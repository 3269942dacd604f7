package hub

import (
	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
)

// Event is the envelope delivered to subscribed connections. Name maps to
// the SSE event field; Payload is JSON-encoded into the data field.
type Event struct {
	Name    string
	Payload interface{}
}

const (
	EventConnection     = "connection"
	EventProgressUpdate = "progress_update"
	EventSymptomLibrary = "symptom_library"
	EventError          = "error"
	EventPing           = "ping"
)

// ConnectionPayload acknowledges a live stream before any job update exists.
type ConnectionPayload struct {
	Message string `json:"message"`
}

// ErrorPayload carries a structured code alongside the display message.
type ErrorPayload struct {
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	JobID       string    `json:"jobId,omitempty"`
	ProcessType jobs.Type `json:"processType,omitempty"`
}

// eventName returns the wire event name for a job type. The symptom
// library keeps its historical type-specific alias; everything else uses
// the generic progress event.
func eventName(jobType jobs.Type) string {
	if jobType == jobs.TypeSymptomLibrary {
		return EventSymptomLibrary
	}
	return EventProgressUpdate
}
