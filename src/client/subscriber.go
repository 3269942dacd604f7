package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/log"
)

// sseEvent is one parsed frame from the text-event stream.
type sseEvent struct {
	name string
	data string
}

// Subscriber maintains the push channel: it connects to the server's
// event stream, parses frames and hands snapshots to a sink. Transport
// drops are absorbed locally with reconnect-and-backoff; the sink is told
// so it can tighten polling, never shown a failure.
type Subscriber struct {
	baseURL    string
	ownerID    string
	httpClient *http.Client

	// OnSnapshot receives every decoded job update, in arrival order.
	OnSnapshot func(snap jobs.Snapshot)
	// OnTransport is called with false when the stream drops and true
	// once it is reestablished.
	OnTransport func(up bool)

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewSubscriber(baseURL, ownerID string) *Subscriber {
	return &Subscriber{
		baseURL:        baseURL,
		ownerID:        ownerID,
		httpClient:     &http.Client{}, // no timeout: the stream is long-lived
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
	}
}

// Run connects and keeps the stream alive until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.initialBackoff
	for {
		err := s.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("Push stream dropped, reconnecting", "error", err.Error(), "backoff", backoff.String())
		if s.OnTransport != nil {
			s.OnTransport(false)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *Subscriber) stream(ctx context.Context) error {
	u := fmt.Sprintf("%s/api/events?ownerId=%s", s.baseURL, url.QueryEscape(s.ownerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			s.dispatch(current)
			current = sseEvent{}
		case strings.HasPrefix(line, "event:"):
			current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if current.data != "" {
				current.data += "\n"
			}
			current.data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("event stream closed by server")
}

func (s *Subscriber) dispatch(ev sseEvent) {
	switch ev.name {
	case "connection":
		// Stream is live again; the reconciler can drop its annotation.
		if s.OnTransport != nil {
			s.OnTransport(true)
		}
	case "ping", "":
		// keepalive
	case "error":
		var payload struct {
			Code        string    `json:"code"`
			Message     string    `json:"message"`
			JobID       string    `json:"jobId"`
			ProcessType jobs.Type `json:"processType"`
		}
		if err := json.Unmarshal([]byte(ev.data), &payload); err != nil {
			log.Error(err, "Failed to decode error event")
			return
		}
		if s.OnSnapshot != nil {
			s.OnSnapshot(jobs.Snapshot{
				JobID:       payload.JobID,
				ProcessType: payload.ProcessType,
				Status:      jobs.StatusError,
				Message:     payload.Message,
			})
		}
	default:
		// progress_update and job-type-specific aliases share one shape.
		var snap jobs.Snapshot
		if err := json.Unmarshal([]byte(ev.data), &snap); err != nil {
			log.Error(err, "Failed to decode progress event", "event", ev.name)
			return
		}
		if s.OnSnapshot != nil {
			s.OnSnapshot(snap)
		}
	}
}
