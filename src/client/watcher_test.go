package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
)

// statusServer serves a fixed snapshot on the poll endpoint, with an
// optional delay to simulate a slow poll.
type statusServer struct {
	mu    sync.Mutex
	snap  *jobs.Snapshot
	delay time.Duration
	calls int
}

func (s *statusServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		snap := s.snap
		delay := s.delay
		s.calls++
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		if snap == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"status": "none"})
			return
		}
		json.NewEncoder(w).Encode(snap)
	})
}

func (s *statusServer) set(snap *jobs.Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func TestManualRefreshAppliesPollResult(t *testing.T) {
	ss := &statusServer{}
	ss.set(&jobs.Snapshot{
		JobID:       "j1",
		ProcessType: jobs.TypeExtraction,
		Status:      jobs.StatusInProgress,
		Progress:    60,
		Message:     "Extracting symptoms: 60/100 patients",
	})
	srv := httptest.NewServer(ss.handler())
	defer srv.Close()

	api := NewAPI(srv.URL, "o1")
	w := NewWatcher(api, jobs.TypeExtraction)
	w.RefreshCeiling = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	w.ManualRefresh(ctx)
	if !w.Refreshing() {
		t.Error("spinner not showing right after ManualRefresh")
	}

	deadline := time.After(2 * time.Second)
	for w.View().Progress != 60 {
		select {
		case <-deadline:
			t.Fatal("poll result never reached the view")
		case <-time.After(10 * time.Millisecond):
		}
	}

	view := w.View()
	if view.LastSource != SourceManual {
		t.Errorf("LastSource = %s, want %s", view.LastSource, SourceManual)
	}

	// the spinner clears when the poll settles, well before the ceiling
	deadline = time.After(time.Second)
	for w.Refreshing() {
		select {
		case <-deadline:
			t.Fatal("spinner still showing after poll settled")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestManualRefreshSpinnerClearsAtCeiling(t *testing.T) {
	ss := &statusServer{delay: 5 * time.Second} // poll hangs past the ceiling
	ss.set(&jobs.Snapshot{JobID: "j1", Status: jobs.StatusInProgress, Progress: 10})
	srv := httptest.NewServer(ss.handler())
	defer srv.Close()

	api := NewAPI(srv.URL, "o1")
	w := NewWatcher(api, jobs.TypeExtraction)
	w.RefreshCeiling = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	w.ManualRefresh(ctx)
	if !w.Refreshing() {
		t.Fatal("spinner not showing right after ManualRefresh")
	}

	deadline := time.After(time.Second)
	for w.Refreshing() {
		select {
		case <-deadline:
			t.Fatal("spinner never cleared at the ceiling")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// the hung poll never updated the view
	if got := w.View().Progress; got != 0 {
		t.Errorf("progress = %d, want 0 (hung poll must not apply)", got)
	}
}

func TestWatcherPollOnlyReachesTerminal(t *testing.T) {
	// no push endpoint at all: the subscriber keeps failing while the
	// poller carries the job to completion on its own
	ss := &statusServer{}
	ss.set(&jobs.Snapshot{
		JobID:       "j1",
		ProcessType: jobs.TypePreProcessing,
		Status:      jobs.StatusCompleted,
		Progress:    100,
		Message:     "Processing complete",
	})
	mux := http.NewServeMux()
	mux.Handle("/api/jobs/pre_processing/status", ss.handler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	api := NewAPI(srv.URL, "o1")
	w := NewWatcher(api, jobs.TypePreProcessing)
	w.PollInterval = 20 * time.Millisecond
	w.FastInterval = 20 * time.Millisecond

	var completions int
	var mu sync.Mutex
	w.OnComplete = func(view JobView) {
		mu.Lock()
		completions++
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	view := w.View()
	if view.Status != jobs.StatusCompleted {
		t.Errorf("status = %s, want %s", view.Status, jobs.StatusCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	if completions != 1 {
		t.Errorf("completions = %d, want exactly 1", completions)
	}
}
