package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tkardel/camwall/wall"
)

const wsWriteTimeout = 5 * time.Second

// wsMessage is one wall event on the websocket.
type wsMessage struct {
	Kind     string `json:"kind"`
	CameraID string `json:"camera_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// wsHandler streams wall events to the client until either side hangs up.
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := s.wall.Subscribe()
	defer cancel()
	s.log.Debug("websocket client connected", "remote", conn.RemoteAddr())

	// Reader goroutine: drains control frames and signals disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			msg := wsMessage{Kind: ev.Kind.String(), CameraID: ev.CameraID, Message: ev.Message}
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug("websocket write failed", "error", err)
				return
			}
			if ev.Kind == wall.EventStreamError {
				s.log.Debug("stream error pushed", "camera", ev.CameraID)
			}
		}
	}
}
