package server

import (
	"io"

	"github.com/gin-gonic/gin"
)

const eventConnected = "connected"

// handleEvents streams progress events as server-sent events. The optional
// requestId query parameter narrows the stream to one run.
func (s *Server) handleEvents(c *gin.Context) {
	runID := c.Query("requestId")
	sub := s.pub.Subscribe(runID)
	defer sub.Close()

	s.logger.Debug("event stream opened", map[string]any{
		"client":     c.ClientIP(),
		"request_id": runID,
	})

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// Headers go out before the first run publishes.
	c.SSEvent(eventConnected, gin.H{"type": eventConnected, "requestId": runID})
	c.Writer.Flush()

	events := sub.Events()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev)
			return true
		}
	})
}
