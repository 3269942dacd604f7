package client

import (
	"sync"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/estimate"
)

// Phase is the lifecycle of a client-local upload session.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseUploading  Phase = "uploading"
	PhaseProcessing Phase = "processing"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
)

// UploadSession tracks a single file upload on the client. It is never
// persisted server-side and becomes irrelevant the moment the
// corresponding job exists: the watcher takes over (hand-off, not merge).
type UploadSession struct {
	mu sync.Mutex

	FileSizeBytes              int64
	UploadedBytes              int64
	EstimatedProcessingSeconds int
	phase                      Phase
	errMessage                 string
}

// NewUploadSession seeds a session from the selected file's size. The
// estimate is advisory only; real progress always supersedes it.
func NewUploadSession(fileSizeBytes int64) *UploadSession {
	return &UploadSession{
		FileSizeBytes:              fileSizeBytes,
		EstimatedProcessingSeconds: estimate.Seconds(fileSizeBytes),
		phase:                      PhaseIdle,
	}
}

func (s *UploadSession) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// BeginUpload moves the session into the uploading phase.
func (s *UploadSession) BeginUpload() {
	s.mu.Lock()
	s.phase = PhaseUploading
	s.mu.Unlock()
}

// ObserveBytes records transport-level upload progress.
func (s *UploadSession) ObserveBytes(uploaded int64) {
	s.mu.Lock()
	s.UploadedBytes = uploaded
	if s.FileSizeBytes > 0 && uploaded >= s.FileSizeBytes && s.phase == PhaseUploading {
		s.phase = PhaseProcessing
	}
	s.mu.Unlock()
}

// UploadedFraction returns transport progress in [0,1].
func (s *UploadSession) UploadedFraction() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FileSizeBytes <= 0 {
		return 0
	}
	f := float64(s.UploadedBytes) / float64(s.FileSizeBytes)
	if f > 1 {
		f = 1
	}
	return f
}

// Complete marks the session finished.
func (s *UploadSession) Complete() {
	s.mu.Lock()
	s.phase = PhaseComplete
	s.mu.Unlock()
}

// Fail records a terminal session error.
func (s *UploadSession) Fail(message string) {
	s.mu.Lock()
	s.phase = PhaseError
	s.errMessage = message
	s.mu.Unlock()
}

// ErrorMessage returns the failure reason, empty unless phase is error.
func (s *UploadSession) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMessage
}
