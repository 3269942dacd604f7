package client

import (
	"regexp"
	"strconv"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
)

// Source records which channel last updated the view.
type Source string

const (
	SourcePush   Source = "push"
	SourcePoll   Source = "poll"
	SourceManual Source = "manual"
)

// JobView is the single presentation-facing state derived from all update
// channels. It is never authoritative; the server record is.
type JobView struct {
	JobID          string
	Status         jobs.Status
	Progress       int
	Message        string
	Stage          string
	ProcessedItems *int
	TotalItems     *int
	LastSource     Source
	Reconnecting   bool
}

// counts like "42/100 patients" embedded in free-text status lines
var countsPattern = regexp.MustCompile(`(\d+)\s*/\s*(\d+)\s+[A-Za-z]+`)

// Reconciler merges push events, poll responses and manual-refresh results
// into one coherent, monotonic JobView. It is not safe for concurrent use;
// the owner serializes Apply calls (one event at a time, no re-entrancy).
type Reconciler struct {
	view            JobView
	reconnecting    bool
	notifiedJobID   string
	staleDiscarded  int
	completionReady bool
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		view: JobView{Status: jobs.StatusIdle},
	}
}

// StartRequested resets the view for a new run before any server signal
// exists. The previous job id is forgotten so the first update of the new
// job is always accepted.
func (r *Reconciler) StartRequested() {
	r.view = JobView{Status: jobs.StatusPending, Message: "Starting..."}
	r.reconnecting = false
	r.completionReady = false
}

// Apply merges one update under the last-valid-writer-wins, monotonic
// guard. It reports whether the update was accepted; rejected updates are
// just older information, not errors.
func (r *Reconciler) Apply(src Source, snap jobs.Snapshot) bool {
	if !r.accept(snap) {
		r.staleDiscarded++
		return false
	}

	newJob := snap.JobID != "" && snap.JobID != r.view.JobID
	if newJob {
		r.view = JobView{}
		r.completionReady = false
	}

	if snap.JobID != "" {
		r.view.JobID = snap.JobID
	}
	r.view.Progress = snap.Progress
	if snap.Message != "" {
		r.view.Message = snap.Message
	}
	if snap.Stage != "" {
		r.view.Stage = snap.Stage
	}
	if snap.ProcessedItems != nil {
		r.view.ProcessedItems = snap.ProcessedItems
	}
	if snap.TotalItems != nil {
		r.view.TotalItems = snap.TotalItems
	}
	if r.view.ProcessedItems == nil || r.view.TotalItems == nil {
		r.extractCounts(snap.Message)
	}
	r.view.Status = resolveStatus(snap)
	r.view.LastSource = src

	if r.view.Status == jobs.StatusCompleted && r.notifiedJobID != r.view.JobID {
		r.notifiedJobID = r.view.JobID
		r.completionReady = true
	}
	if r.view.Status.Terminal() {
		r.reconnecting = false
	}
	return true
}

// accept is the pure guard predicate: progress must not move backward for
// the same job id, a different id always resets, and errors always win so
// failures surface even behind a stale higher-progress event.
func (r *Reconciler) accept(snap jobs.Snapshot) bool {
	if snap.Status == jobs.StatusError {
		return true
	}
	if snap.JobID != "" && snap.JobID != r.view.JobID {
		return true
	}
	return snap.Progress >= r.view.Progress
}

func resolveStatus(snap jobs.Snapshot) jobs.Status {
	if snap.Status != "" {
		return snap.Status
	}
	// Some upstream events omit status; infer it from progress.
	if snap.Progress >= 100 {
		return jobs.StatusCompleted
	}
	return jobs.StatusInProgress
}

// extractCounts falls back to parsing "<processed>/<total> <unit>" out of
// the free-text message when the structured fields are absent.
func (r *Reconciler) extractCounts(message string) {
	m := countsPattern.FindStringSubmatch(message)
	if m == nil {
		return
	}
	processed, err1 := strconv.Atoi(m[1])
	total, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || processed > total {
		return
	}
	r.view.ProcessedItems = &processed
	r.view.TotalItems = &total
}

// SetReconnecting flags a transport-level push failure. Status never
// changes on transport errors; the view only gains a transient annotation
// until the stream recovers or the job goes terminal.
func (r *Reconciler) SetReconnecting(down bool) {
	if r.view.Status.Terminal() {
		down = false
	}
	r.reconnecting = down
}

// View returns the current reconciled state.
func (r *Reconciler) View() JobView {
	v := r.view
	v.Reconnecting = r.reconnecting
	if r.reconnecting && v.Status == jobs.StatusInProgress {
		v.Message = v.Message + " (reconnecting...)"
	}
	return v
}

// ConsumeCompletion reports a completed job exactly once per job id, even
// if the terminal event was delivered on several channels.
func (r *Reconciler) ConsumeCompletion() bool {
	if r.completionReady {
		r.completionReady = false
		return true
	}
	return false
}

// StaleDiscarded counts updates dropped by the guard, for debugging.
func (r *Reconciler) StaleDiscarded() int {
	return r.staleDiscarded
}
