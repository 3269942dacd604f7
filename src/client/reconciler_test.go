package client

import (
	"strings"
	"testing"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
)

func intPtr(v int) *int { return &v }

func TestApplyMonotonicGuard(t *testing.T) {
	tests := []struct {
		name         string
		updates      []jobs.Snapshot
		wantProgress int
		wantStatus   jobs.Status
		wantApplied  []bool
	}{
		{
			name: "progress never decreases within one job id",
			updates: []jobs.Snapshot{
				{JobID: "j1", Progress: 10, Status: jobs.StatusInProgress},
				{JobID: "j1", Progress: 30, Status: jobs.StatusInProgress},
				{JobID: "j1", Progress: 20, Status: jobs.StatusInProgress},
			},
			wantProgress: 30,
			wantStatus:   jobs.StatusInProgress,
			wantApplied:  []bool{true, true, false},
		},
		{
			name: "push at 10 beats slower poll at 5",
			updates: []jobs.Snapshot{
				{JobID: "j1", Progress: 10, Status: jobs.StatusInProgress},
				{JobID: "j1", Progress: 5, Status: jobs.StatusInProgress},
			},
			wantProgress: 10,
			wantStatus:   jobs.StatusInProgress,
			wantApplied:  []bool{true, false},
		},
		{
			name: "different job id resets even with lower progress",
			updates: []jobs.Snapshot{
				{JobID: "j1", Progress: 80, Status: jobs.StatusInProgress},
				{JobID: "j2", Progress: 5, Status: jobs.StatusInProgress},
			},
			wantProgress: 5,
			wantStatus:   jobs.StatusInProgress,
			wantApplied:  []bool{true, true},
		},
		{
			name: "errors always win over higher stale progress",
			updates: []jobs.Snapshot{
				{JobID: "j1", Progress: 70, Status: jobs.StatusInProgress},
				{JobID: "j1", Progress: 40, Status: jobs.StatusError, Message: "extraction failed"},
			},
			wantProgress: 40,
			wantStatus:   jobs.StatusError,
			wantApplied:  []bool{true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler()
			for i, snap := range tt.updates {
				applied := r.Apply(SourcePush, snap)
				if applied != tt.wantApplied[i] {
					t.Errorf("update %d applied = %v, want %v", i, applied, tt.wantApplied[i])
				}
			}
			view := r.View()
			if view.Progress != tt.wantProgress {
				t.Errorf("progress = %d, want %d", view.Progress, tt.wantProgress)
			}
			if view.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", view.Status, tt.wantStatus)
			}
		})
	}
}

func TestStaleUpdatesCountedNotErrored(t *testing.T) {
	r := NewReconciler()
	r.Apply(SourcePush, jobs.Snapshot{JobID: "j1", Progress: 50, Status: jobs.StatusInProgress})
	r.Apply(SourcePoll, jobs.Snapshot{JobID: "j1", Progress: 20, Status: jobs.StatusInProgress})
	r.Apply(SourcePoll, jobs.Snapshot{JobID: "j1", Progress: 30, Status: jobs.StatusInProgress})

	if got := r.StaleDiscarded(); got != 2 {
		t.Errorf("StaleDiscarded() = %d, want 2", got)
	}
	if view := r.View(); view.LastSource != SourcePush {
		t.Errorf("LastSource = %s, want %s (stale poll must not claim the view)", view.LastSource, SourcePush)
	}
}

func TestFallbackCountExtraction(t *testing.T) {
	tests := []struct {
		name          string
		snap          jobs.Snapshot
		wantProcessed *int
		wantTotal     *int
	}{
		{
			name:          "counts parsed from message",
			snap:          jobs.Snapshot{JobID: "j1", Progress: 42, Message: "42/100 patients"},
			wantProcessed: intPtr(42),
			wantTotal:     intPtr(100),
		},
		{
			name:          "counts parsed mid-sentence",
			snap:          jobs.Snapshot{JobID: "j1", Progress: 10, Message: "Extracting symptoms: 7/250 patients processed"},
			wantProcessed: intPtr(7),
			wantTotal:     intPtr(250),
		},
		{
			name:          "structured fields win over message text",
			snap:          jobs.Snapshot{JobID: "j1", Progress: 10, Message: "3/4 shards", ProcessedItems: intPtr(30), TotalItems: intPtr(40)},
			wantProcessed: intPtr(30),
			wantTotal:     intPtr(40),
		},
		{
			name: "no counts in plain message",
			snap: jobs.Snapshot{JobID: "j1", Progress: 10, Message: "warming up"},
		},
		{
			name: "implausible counts ignored",
			snap: jobs.Snapshot{JobID: "j1", Progress: 10, Message: "150/100 patients"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler()
			if !r.Apply(SourcePush, tt.snap) {
				t.Fatal("update unexpectedly rejected")
			}
			view := r.View()
			checkIntPtr(t, "ProcessedItems", view.ProcessedItems, tt.wantProcessed)
			checkIntPtr(t, "TotalItems", view.TotalItems, tt.wantTotal)
		})
	}
}

func checkIntPtr(t *testing.T, field string, got, want *int) {
	t.Helper()
	switch {
	case want == nil && got != nil:
		t.Errorf("%s = %d, want nil", field, *got)
	case want != nil && got == nil:
		t.Errorf("%s = nil, want %d", field, *want)
	case want != nil && got != nil && *got != *want:
		t.Errorf("%s = %d, want %d", field, *got, *want)
	}
}

func TestCompletionNotifiedOncePerJobID(t *testing.T) {
	r := NewReconciler()

	done := jobs.Snapshot{JobID: "j1", Progress: 100, Status: jobs.StatusCompleted, Message: "done"}
	r.Apply(SourcePush, done)
	if !r.ConsumeCompletion() {
		t.Fatal("first completion not reported")
	}

	// reconnect replay bug upstream delivers the terminal event again
	r.Apply(SourcePush, done)
	r.Apply(SourcePoll, done)
	if r.ConsumeCompletion() {
		t.Error("duplicate completion reported a second notification")
	}

	// a new job id completes independently
	r.Apply(SourcePush, jobs.Snapshot{JobID: "j2", Progress: 100, Status: jobs.StatusCompleted})
	if !r.ConsumeCompletion() {
		t.Error("completion of a new job id was not reported")
	}
}

func TestReconnectingAnnotation(t *testing.T) {
	r := NewReconciler()
	r.Apply(SourcePush, jobs.Snapshot{JobID: "j1", Progress: 35, Status: jobs.StatusInProgress, Message: "Extracting symptoms"})

	r.SetReconnecting(true)
	view := r.View()
	if view.Status != jobs.StatusInProgress {
		t.Errorf("status = %s, want %s (transport drop must not change status)", view.Status, jobs.StatusInProgress)
	}
	if !strings.Contains(view.Message, "reconnecting") {
		t.Errorf("message = %q, want reconnecting annotation", view.Message)
	}

	r.SetReconnecting(false)
	if view := r.View(); strings.Contains(view.Message, "reconnecting") {
		t.Errorf("message = %q, annotation should clear on recovery", view.Message)
	}
}

func TestReconnectingClearsOnTerminal(t *testing.T) {
	r := NewReconciler()
	r.Apply(SourcePush, jobs.Snapshot{JobID: "j1", Progress: 60, Status: jobs.StatusInProgress})
	r.SetReconnecting(true)

	r.Apply(SourcePoll, jobs.Snapshot{JobID: "j1", Progress: 100, Status: jobs.StatusCompleted, Message: "done"})
	view := r.View()
	if view.Reconnecting {
		t.Error("reconnecting flag survived a terminal update")
	}
	if strings.Contains(view.Message, "reconnecting") {
		t.Errorf("message = %q, want no annotation after completion", view.Message)
	}
}

func TestStartRequestedResetsView(t *testing.T) {
	r := NewReconciler()
	r.Apply(SourcePush, jobs.Snapshot{JobID: "j1", Progress: 100, Status: jobs.StatusCompleted})
	r.ConsumeCompletion()

	r.StartRequested()
	view := r.View()
	if view.Status != jobs.StatusPending {
		t.Errorf("status = %s, want %s", view.Status, jobs.StatusPending)
	}
	if view.Progress != 0 {
		t.Errorf("progress = %d, want 0", view.Progress)
	}

	// the first update of the new run is accepted despite lower progress
	if !r.Apply(SourcePush, jobs.Snapshot{JobID: "j2", Progress: 3, Status: jobs.StatusInProgress}) {
		t.Error("first update of new run rejected")
	}
}

func TestStatusInferredWhenOmitted(t *testing.T) {
	r := NewReconciler()

	r.Apply(SourcePush, jobs.Snapshot{JobID: "j1", Progress: 10})
	if view := r.View(); view.Status != jobs.StatusInProgress {
		t.Errorf("status = %s, want inferred %s", view.Status, jobs.StatusInProgress)
	}

	r.Apply(SourcePush, jobs.Snapshot{JobID: "j1", Progress: 100})
	if view := r.View(); view.Status != jobs.StatusCompleted {
		t.Errorf("status = %s, want inferred %s", view.Status, jobs.StatusCompleted)
	}
}
