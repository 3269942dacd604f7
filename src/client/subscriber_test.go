package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
)

// scriptedStream writes one SSE session per connection attempt.
func scriptedStream(t *testing.T, sessions [][]string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	attempt := 0

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		idx := attempt
		attempt++
		mu.Unlock()

		if idx >= len(sessions) {
			// hold the connection open so the subscriber stays quiet
			<-r.Context().Done()
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range sessions[idx] {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
		// returning closes the stream, simulating a transport drop
	}))
}

func TestSubscriberParsesFrames(t *testing.T) {
	srv := scriptedStream(t, [][]string{{
		"event: connection\ndata: {\"message\":\"Connected to progress updates\"}\n\n",
		"event: progress_update\ndata: {\"jobId\":\"j1\",\"processType\":\"extraction\",\"status\":\"in_progress\",\"progress\":10,\"message\":\"Loading clinical notes\"}\n\n",
		"event: symptom_library\ndata: {\"jobId\":\"j2\",\"processType\":\"symptom_library\",\"status\":\"in_progress\",\"progress\":55,\"message\":\"55/200 symptoms\"}\n\n",
		"event: error\ndata: {\"code\":\"JOB_FAILED\",\"message\":\"extraction blew up\",\"jobId\":\"j1\",\"processType\":\"extraction\"}\n\n",
	}})
	defer srv.Close()

	var mu sync.Mutex
	var snaps []jobs.Snapshot
	var transportUps []bool

	sub := NewSubscriber(srv.URL, "o1")
	sub.initialBackoff = 10 * time.Millisecond
	sub.OnSnapshot = func(snap jobs.Snapshot) {
		mu.Lock()
		snaps = append(snaps, snap)
		mu.Unlock()
	}
	sub.OnTransport = func(up bool) {
		mu.Lock()
		transportUps = append(transportUps, up)
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() { _ = sub.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(snaps)
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d snapshots arrived", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()

	if snaps[0].JobID != "j1" || snaps[0].Progress != 10 {
		t.Errorf("snapshot 0 = %+v, want j1 at 10", snaps[0])
	}
	if snaps[1].JobID != "j2" || snaps[1].Progress != 55 {
		t.Errorf("snapshot 1 = %+v, want j2 at 55 (type alias event must decode)", snaps[1])
	}
	if snaps[2].Status != jobs.StatusError || snaps[2].Message != "extraction blew up" {
		t.Errorf("snapshot 2 = %+v, want error snapshot", snaps[2])
	}

	if len(transportUps) == 0 || !transportUps[0] {
		t.Error("connection ack did not report transport up")
	}
}

func TestSubscriberReconnectsAfterDrop(t *testing.T) {
	srv := scriptedStream(t, [][]string{
		{
			"event: connection\ndata: {\"message\":\"hi\"}\n\n",
			"event: progress_update\ndata: {\"jobId\":\"j1\",\"status\":\"in_progress\",\"progress\":20}\n\n",
		},
		{
			"event: connection\ndata: {\"message\":\"hi again\"}\n\n",
			"event: progress_update\ndata: {\"jobId\":\"j1\",\"status\":\"in_progress\",\"progress\":40}\n\n",
		},
	})
	defer srv.Close()

	var mu sync.Mutex
	var progress []int
	var transitions []bool

	sub := NewSubscriber(srv.URL, "o1")
	sub.initialBackoff = 10 * time.Millisecond
	sub.OnSnapshot = func(snap jobs.Snapshot) {
		mu.Lock()
		progress = append(progress, snap.Progress)
		mu.Unlock()
	}
	sub.OnTransport = func(up bool) {
		mu.Lock()
		transitions = append(transitions, up)
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() { _ = sub.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(progress)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("reconnect never delivered the second update (got %d)", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()

	if progress[0] != 20 || progress[1] != 40 {
		t.Errorf("progress sequence = %v, want [20 40]", progress)
	}

	// expect up (first connect), down (drop), up (reconnect)
	sawDown := false
	for _, up := range transitions {
		if !up {
			sawDown = true
		}
	}
	if !sawDown {
		t.Error("transport drop was never reported")
	}
}
