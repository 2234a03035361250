package tasks

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// pollInterval is how often a connected client receives a progress
// snapshot while a task is still queued or processing.
const pollInterval = 500 * time.Millisecond

// StreamProgress upgrades the request to a websocket and pushes
// Record snapshots for taskID until it reaches a terminal status or
// the client disconnects, implementing spec.md §4.10's progress
// channel over gorilla/websocket.
func (r *Registry) StreamProgress(c *gin.Context, taskID string) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		rec, err := r.Get(taskID)
		if err != nil {
			_ = ws.WriteJSON(map[string]string{"error": err.Error()})
			return
		}
		if err := ws.WriteJSON(rec); err != nil {
			return
		}
		if rec.Status == Completed || rec.Status == Failed {
			return
		}

		select {
		case <-ticker.C:
		case <-c.Request.Context().Done():
			return
		}
	}
}
