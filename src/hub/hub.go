package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/log"
)

// DefaultOutboxSize bounds the per-connection event buffer. A slow consumer
// loses its oldest pending events instead of stalling the job worker.
const DefaultOutboxSize = 16

// Connection is one subscriber owned by the hub for its lifetime.
type Connection struct {
	ID       string
	OwnerID  string
	OpenedAt time.Time

	outbox chan Event
	done   chan struct{}

	mu            sync.Mutex
	lastDelivered time.Time
}

// Events exposes the connection's outbox to the transport handler.
func (c *Connection) Events() <-chan Event {
	return c.outbox
}

// Done is closed when the hub unsubscribes the connection.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// MarkDelivered records the time an event was written to the transport.
func (c *Connection) MarkDelivered() {
	c.mu.Lock()
	c.lastDelivered = time.Now()
	c.mu.Unlock()
}

// LastDeliveredAt returns the time of the most recent delivery, zero if none.
func (c *Connection) LastDeliveredAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDelivered
}

// offer enqueues an event without ever blocking. When the outbox is full
// the oldest pending event is dropped; a reconnecting subscriber catches
// up via the poll endpoint, so losing intermediate deltas is acceptable.
func (c *Connection) offer(ev Event) {
	for {
		select {
		case <-c.done:
			return
		case c.outbox <- ev:
			return
		default:
		}
		select {
		case <-c.outbox:
		default:
		}
	}
}

type terminalKey struct {
	ownerID string
	jobType jobs.Type
}

// Hub fans job-state changes out to every open connection for the same
// owner. It consumes the store's event topic and owns the connection
// registry; nothing outside the hub touches a Connection's lifecycle.
type Hub struct {
	subscriber message.Subscriber
	outboxSize int

	mu           sync.RWMutex
	conns        map[string]map[*Connection]struct{}
	lastTerminal map[terminalKey]string
}

func New(subscriber message.Subscriber, outboxSize int) *Hub {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	return &Hub{
		subscriber:   subscriber,
		outboxSize:   outboxSize,
		conns:        make(map[string]map[*Connection]struct{}),
		lastTerminal: make(map[terminalKey]string),
	}
}

// Subscribe registers a connection for ownerID and immediately queues the
// connection acknowledgement so clients can tell the stream is live before
// any job update exists.
func (h *Hub) Subscribe(ownerID string) *Connection {
	conn := &Connection{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		OpenedAt: time.Now(),
		outbox:   make(chan Event, h.outboxSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	set, ok := h.conns[ownerID]
	if !ok {
		set = make(map[*Connection]struct{})
		h.conns[ownerID] = set
	}
	set[conn] = struct{}{}
	h.mu.Unlock()

	conn.offer(Event{
		Name:    EventConnection,
		Payload: ConnectionPayload{Message: "Connected to progress updates"},
	})

	log.Debug("Connection subscribed", "connection_id", conn.ID, "owner_id", ownerID)
	return conn
}

// Unsubscribe drops the connection. Losing a subscriber is a non-fatal
// local event; it is the client's job to resubscribe and reconcile.
func (h *Hub) Unsubscribe(conn *Connection) {
	h.mu.Lock()
	if set, ok := h.conns[conn.OwnerID]; ok {
		if _, present := set[conn]; present {
			delete(set, conn)
			close(conn.done)
		}
		if len(set) == 0 {
			delete(h.conns, conn.OwnerID)
		}
	}
	h.mu.Unlock()

	log.Debug("Connection unsubscribed", "connection_id", conn.ID, "owner_id", conn.OwnerID)
}

// Run consumes the job event topic and fans deltas out until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.subscriber.Subscribe(ctx, jobs.EventsTopic)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			h.dispatch(msg)
			msg.Ack()
		}
	}
}

func (h *Hub) dispatch(msg *message.Message) {
	var job jobs.Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		log.Error(err, "Failed to decode job event", "message_id", msg.UUID)
		return
	}

	ev, ok := h.eventFor(&job)
	if !ok {
		return
	}

	h.mu.RLock()
	set := h.conns[job.OwnerID]
	targets := make([]*Connection, 0, len(set))
	for conn := range set {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.offer(ev)
	}
}

// eventFor converts a job record to its wire event. Terminal events are
// emitted exactly once per job id; replays after completion are refused
// rather than double-notifying subscribers.
func (h *Hub) eventFor(job *jobs.Job) (Event, bool) {
	if job.Status.Terminal() {
		key := terminalKey{ownerID: job.OwnerID, jobType: job.JobType}
		h.mu.Lock()
		if h.lastTerminal[key] == job.ID {
			h.mu.Unlock()
			log.Debug("Suppressed duplicate terminal event", "job_id", job.ID)
			return Event{}, false
		}
		h.lastTerminal[key] = job.ID
		h.mu.Unlock()
	}

	if job.Status == jobs.StatusError {
		return Event{
			Name: EventError,
			Payload: ErrorPayload{
				Code:        "JOB_FAILED",
				Message:     job.Message,
				JobID:       job.ID,
				ProcessType: job.JobType,
			},
		}, true
	}

	return Event{
		Name:    eventName(job.JobType),
		Payload: job.Snapshot(),
	}, true
}
