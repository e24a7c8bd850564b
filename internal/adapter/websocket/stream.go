package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/adapter/metrics"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/voting"
)

const (
	writeDeadline  = 5 * time.Second
	pingInterval   = 30 * time.Second
	pongDeadline   = 60 * time.Second
	maxInboundSize = 512
)

// Message is the envelope written for every pushed view.
type Message struct {
	Type string      `json:"type"`
	Data voting.View `json:"data"`
}

// Stream pushes session views to one WebSocket client. The connection is
// write-only from the server's point of view; inbound frames are read and
// discarded so pongs and close frames are processed.
type Stream struct {
	conn    *websocket.Conn
	clock   clockwork.Clock
	metrics *metrics.WebSocketMetrics
}

func NewStream(conn *websocket.Conn, clock clockwork.Clock, wsMetrics *metrics.WebSocketMetrics) *Stream {
	return &Stream{conn: conn, clock: clock, metrics: wsMetrics}
}

// Serve writes every view received on updates until updates is closed, the
// client disconnects or ctx is done. The connection is closed on return.
func (s *Stream) Serve(ctx context.Context, updates <-chan voting.View) error {
	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
		defer s.metrics.ActiveConnections.Dec()
	}
	defer func() { _ = s.conn.Close() }()

	readDone := make(chan struct{})
	go s.readPump(readDone)

	ticker := s.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case view, ok := <-updates:
			if !ok {
				s.writeClose(websocket.CloseGoingAway, "session closed")
				return nil
			}
			if err := s.writeView(view); err != nil {
				return err
			}
		case <-ticker.Chan():
			s.updateWriteDeadline()
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("failed to write ping: %w", err)
			}
		case <-readDone:
			return nil
		case <-ctx.Done():
			s.writeClose(websocket.CloseGoingAway, "server shutting down")
			return nil
		}
	}
}

func (s *Stream) writeView(view voting.View) error {
	payload, err := json.Marshal(Message{Type: "view", Data: view})
	if err != nil {
		return fmt.Errorf("failed to encode view: %w", err)
	}

	s.updateWriteDeadline()
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write view: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ViewsPushed.Inc()
	}
	return nil
}

func (s *Stream) writeClose(code int, reason string) {
	s.updateWriteDeadline()
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func (s *Stream) readPump(done chan<- struct{}) {
	defer close(done)

	s.conn.SetReadLimit(maxInboundSize)
	s.updateReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.updateReadDeadline()
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) updateWriteDeadline() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
}

func (s *Stream) updateReadDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongDeadline))
}
