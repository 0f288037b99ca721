package ipc

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tetherview/scadabridge/pkg/telemetry"
)

// StreamEvent is the envelope for every /ws/data message.
type StreamEvent struct {
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Sample    *telemetry.Sample  `json:"sample,omitempty"`
	Snapshot  []telemetry.Sample `json:"snapshot,omitempty"`
}

const wsHeartbeatInterval = 30 * time.Second

// handleDataSocket streams telemetry to a browser. On connect the client
// gets the buffered history, then live samples as they are collected. There
// is no replay on reconnect; a returning client starts from the current
// buffer again.
func (s *Server) handleDataSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.wsOriginPatterns(),
	})
	if err != nil {
		s.logger.Warn("data websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	subscriberID := uuid.NewString()
	logger := s.logger.With("subscriber", subscriberID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	samples, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	lastN := parseIntDefault(r.URL.Query().Get("last"), 0)
	snapshot := s.buffer.History(lastN, 0)
	hello := StreamEvent{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Snapshot:  snapshot,
	}
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		return
	}
	logger.Info("data subscriber connected", "snapshot_samples", len(snapshot))

	// Drain client frames so pings and closes are noticed. The stream is
	// one-way otherwise.
	readCtx := conn.CloseRead(ctx)

	ticker := time.NewTicker(wsHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readCtx.Done():
			logger.Info("data subscriber disconnected")
			return
		case <-ticker.C:
			heartbeat := StreamEvent{Type: "heartbeat", Timestamp: time.Now()}
			if err := wsjson.Write(ctx, conn, heartbeat); err != nil {
				return
			}
		case sample, ok := <-samples:
			if !ok {
				return
			}
			event := StreamEvent{
				Type:      "sample",
				Timestamp: time.Now(),
				Sample:    &sample,
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				logger.Info("data subscriber write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) wsOriginPatterns() []string {
	patterns := make([]string, 0, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		patterns = append(patterns, stripScheme(origin))
	}
	if s.cfg.PublicOrigin != "" {
		patterns = append(patterns, stripScheme(s.cfg.PublicOrigin))
	}
	return patterns
}

func stripScheme(origin string) string {
	for _, prefix := range []string{"http://", "https://"} {
		if len(origin) > len(prefix) && origin[:len(prefix)] == prefix {
			return origin[len(prefix):]
		}
	}
	return origin
}
