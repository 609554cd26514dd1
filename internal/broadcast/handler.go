package broadcast

import (
	"io"
	"net/http"
	"time"

	"github.com/SlpAus/aviator-backend/internal/platform/apperr"
	"github.com/gin-gonic/gin"
)

const keepAliveInterval = 15 * time.Second

// StreamHandler serves the event stream over Server-Sent Events.
func (h *Hub) StreamHandler(c *gin.Context) {
	msgs, leave := h.Subscribe()
	defer leave()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-h.done:
			return false
		case msg := <-msgs:
			c.SSEvent(msg.Event, msg.Data)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"t": time.Now().UnixMilli()})
			return true
		}
	})
}

type actionRequest struct {
	Action string      `json:"action" binding:"required,max=64"`
	Data   interface{} `json:"data"`
}

// ActionHandler handles POST /api/admin/broadcast. The body is sent as-is inside an action event.
func ActionHandler(pub Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body actionRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		pub.Publish(NewAction(body.Action, body.Data))
		c.JSON(http.StatusAccepted, gin.H{"action": body.Action})
	}
}
