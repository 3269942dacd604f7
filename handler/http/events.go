package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/hub"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/log"
)

// heartbeatInterval keeps idle streams alive through proxies.
const heartbeatInterval = 15 * time.Second

// Events is the push subscription endpoint: a persistent text-event
// stream carrying job deltas for one owner. The hub owns the connection;
// this handler only drains its outbox onto the wire.
func (h *Handler) Events(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "STREAMING_UNSUPPORTED",
			Message: "response writer does not support streaming",
		})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	conn := h.pushHub.Subscribe(owner)
	defer h.pushHub.Unsubscribe(conn)

	writeEvent := func(name string, payload interface{}) bool {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error(err, "Failed to marshal push event", "event", name)
			return true
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", name, data); err != nil {
			return false
		}
		flusher.Flush()
		conn.MarkDelivered()
		return true
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-ticker.C:
			if !writeEvent(hub.EventPing, gin.H{"ts": time.Now().Unix()}) {
				return
			}
		case ev := <-conn.Events():
			if !writeEvent(ev.Name, ev.Payload) {
				return
			}
		}
	}
}
