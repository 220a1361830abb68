package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// writeTimeout bounds one frame write to a stream client. A client that
// cannot take a frame within this window is disconnected.
const writeTimeout = 10 * time.Second

// handleEventStream upgrades to a websocket and relays events as one
// JSON text frame each. An optional ?project_id= scopes delivery; the
// stream starts at the moment of subscription, there is no replay.
func (s *Server) handleEventStream(c *gin.Context) {
	projectID, ok := projectIDQuery(c)
	if !ok {
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Local tool, any origin may connect.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := s.events.Subscribe(projectID)
	defer s.events.Unsubscribe(sub.ID)
	s.logger.Info("Stream client connected", "subscription_id", sub.ID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Drain client frames so pings are answered and a client close is
	// noticed even though we never expect payloads.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-sub.C:
			if !open {
				// Hub dropped us, most likely buffer overflow.
				conn.Close(websocket.StatusTryAgainLater, "stream buffer overflow")
				return
			}
			frame, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("Could not encode stream event", "event_id", evt.ID, "error", err)
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				s.logger.Debug("Stream client gone", "subscription_id", sub.ID, "error", err)
				return
			}
		}
	}
}
