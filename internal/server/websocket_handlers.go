package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/rekap/internal/pipeline"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WebSocket message types.
const (
	MessageProgress  = "progress"
	MessageCompleted = "completed"
	MessageError     = "error"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are governed by server.cors_origin like every other route
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketMessage is one server-to-client message on the progress stream.
type WebSocketMessage struct {
	Type      string             `json:"type"`
	JobID     string             `json:"job_id"`
	Progress  *pipeline.Progress `json:"progress,omitempty"`
	ResultURL string             `json:"result_url,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// WebSocketConnWriter is the part of *websocket.Conn the stream writes to.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
}

// progressWebSocketHandler streams a job's progress until it finishes.
func (s *Server) progressWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "job_id", jobID, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	s.logger.Debug("progress stream opened", "job_id", jobID, "remote_addr", r.RemoteAddr)

	// Reading keeps control frames flowing and notices the client leaving.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	updates, cancel := s.progress.Subscribe(jobID)
	defer cancel()

	if s.streamProgress(conn, jobID, updates, closed) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
			time.Now().Add(wsWriteWait))
	}
}

// streamProgress sends the current progress, every later update, and a final
// completed or error message. It returns false when the client went away.
func (s *Server) streamProgress(conn WebSocketConnWriter, jobID string, updates <-chan pipeline.Progress, closed <-chan struct{}) bool {
	current := s.progress.Get(jobID)
	if err := s.sendProgress(conn, jobID, current); err != nil {
		return false
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for !current.Done() {
		select {
		case p, ok := <-updates:
			if !ok {
				return false
			}
			current = p
			if err := s.sendProgress(conn, jobID, p); err != nil {
				return false
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return false
			}
		case <-closed:
			return false
		}
	}

	// Progress reaches 100 before the outputs are saved.
	var jobErr error
	if j := s.lookupJob(jobID); j != nil {
		select {
		case <-j.done:
			jobErr = j.err
		case <-closed:
			return false
		}
		current = s.progress.Get(jobID)
	}
	if jobErr == nil && current.Failed() {
		jobErr = errors.New(current.Stage)
	}

	msg := WebSocketMessage{Type: MessageCompleted, JobID: jobID, ResultURL: "/v1/jobs/" + jobID + "/result"}
	if jobErr != nil {
		msg = WebSocketMessage{Type: MessageError, JobID: jobID, Error: jobErr.Error()}
	}
	return s.sendWebSocketMessage(conn, msg) == nil
}

func (s *Server) sendProgress(conn WebSocketConnWriter, jobID string, p pipeline.Progress) error {
	return s.sendWebSocketMessage(conn, WebSocketMessage{Type: MessageProgress, JobID: jobID, Progress: &p})
}

// sendWebSocketMessage sends one message over WebSocket.
func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket message", "error", err)
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Failed to send WebSocket message", "job_id", msg.JobID, "error", err)
		return err
	}

	websocketMessagesTotal.WithLabelValues(msg.Type).Inc()
	return nil
}
