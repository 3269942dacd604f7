package jobs

import (
	"errors"
	"time"
)

// Type identifies the kind of background operation a job performs.
type Type string

const (
	TypePreProcessing  Type = "pre_processing"
	TypeExtraction     Type = "extraction"
	TypeSymptomLibrary Type = "symptom_library"
)

// ParseType validates a job type string from the API surface.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypePreProcessing, TypeExtraction, TypeSymptomLibrary:
		return Type(s), nil
	}
	return "", ErrUnknownJobType
}

// Status defines the lifecycle state of a job
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further mutation of the record is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Active reports whether the job counts against the one-active-job-per-type rule.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

var (
	ErrUnknownJobType = errors.New("unknown job type")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobTerminal    = errors.New("job already in a terminal state")
	ErrStaleUpdate    = errors.New("stale update rejected")
)

// Job represents one background operation tracked by the record store.
type Job struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	OwnerID        string    `json:"ownerId" gorm:"index"`
	JobType        Type      `json:"jobType" gorm:"index"`
	Status         Status    `json:"status"`
	Progress       int       `json:"progress"`
	ProcessedItems *int      `json:"processedItems,omitempty"`
	TotalItems     *int      `json:"totalItems,omitempty"`
	Stage          string    `json:"stage,omitempty"`
	Message        string    `json:"message"`
	StartedAt      time.Time `json:"startedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Delta is a monotonic update applied to a job by its worker.
type Delta struct {
	Progress       int
	Message        string
	Stage          string
	ProcessedItems *int
	TotalItems     *int
	// Failed marks the job terminally failed; Message carries the reason.
	Failed bool
}

// Snapshot is the wire shape shared by the poll endpoint and push events.
type Snapshot struct {
	JobID          string `json:"jobId"`
	ProcessType    Type   `json:"processType"`
	Status         Status `json:"status"`
	Progress       int    `json:"progress"`
	Message        string `json:"message"`
	Stage          string `json:"stage,omitempty"`
	ProcessedItems *int   `json:"processedItems,omitempty"`
	TotalItems     *int   `json:"totalItems,omitempty"`
}

// Snapshot returns a point-in-time wire view of the job.
func (j *Job) Snapshot() Snapshot {
	return Snapshot{
		JobID:          j.ID,
		ProcessType:    j.JobType,
		Status:         j.Status,
		Progress:       j.Progress,
		Message:        j.Message,
		Stage:          j.Stage,
		ProcessedItems: j.ProcessedItems,
		TotalItems:     j.TotalItems,
	}
}
