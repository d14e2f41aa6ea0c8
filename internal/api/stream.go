package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/reelforge/transcoder/internal/model"
)

// wsUpgrader leaves origin checking to a reverse proxy in front of this
// service rather than the handler itself.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// StreamJobStatus implements stream_job_status(job_id): a WebSocket
// connection that receives the job's current snapshot immediately, then
// one further message per state or progress change, and closes once the
// job reaches a terminal status, so a client doesn't need to poll
// get_job_status to watch a long-running encode to completion.
func (h *Handlers) StreamJobStatus(c *gin.Context) {
	jobID := c.Param("job_id")

	job, ok := h.registry.Get(jobID)
	if !ok {
		c.JSON(http.StatusOK, unknownJobStatus(jobID))
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.registry.Subscribe(jobID)
	defer unsubscribe()

	// Detect client disconnects without blocking the update loop.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !h.sendSnapshot(conn, job.Snapshot()) {
		return
	}
	if job.Status().IsTerminal() {
		return
	}

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if !h.sendSnapshot(conn, snap) {
				return
			}
			if snap.Status.IsTerminal() {
				return
			}
		}
	}
}

func (h *Handlers) sendSnapshot(conn *websocket.Conn, snap model.Snapshot) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(jobStatusFromSnapshot(snap)); err != nil {
		h.logger.Debug("websocket write failed, ending stream", "job_id", snap.ID, "error", err)
		return false
	}
	return true
}
