// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ai-and-i/recorder/internal/catalog"
	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/orchestrator"
	"github.com/ai-and-i/recorder/internal/recorder"
	"github.com/ai-and-i/recorder/internal/trace"
)

// Controller is the recording service behind the API.
type Controller interface {
	Start(ctx context.Context, id string) (recorder.Status, error)
	Stop(ctx context.Context) (orchestrator.StopResult, error)
	Status() recorder.Status
	Subscribe(size int) (<-chan recorder.Event, func())
	Recordings(ctx context.Context, limit int) ([]catalog.Recording, error)
	Recording(ctx context.Context, id string) (orchestrator.RecordingDetail, error)
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type StartRequest struct {
	SessionID string `json:"sessionId"`
}

type StatusMessage struct {
	Type   string          `json:"type"`
	Status recorder.Status `json:"status"`
}

type ErrorMessage struct {
	Type    string         `json:"type"`
	Code    apperrors.Code `json:"code,omitempty"`
	Message string         `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// client is one WebSocket connection. Frames go through send so each client
// sees events in publish order.
type client struct {
	conn    *websocket.Conn
	send    chan any
	limiter rateLimiter
}

func (c *client) enqueue(msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctl         Controller
	mu          sync.RWMutex
	clients     map[*client]struct{}
	unsubscribe func()
	done        chan struct{}
}

// New creates a server and starts relaying recorder events to WebSocket
// clients.
func New(ctl Controller, eventBuffer int) *Server {
	s := &Server{
		ctl:     ctl,
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
	events, unsub := ctl.Subscribe(eventBuffer)
	s.unsubscribe = unsub
	go s.broadcastEvents(events)
	return s
}

// Close stops the event relay.
func (s *Server) Close() {
	s.unsubscribe()
	<-s.done
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("GET /api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("GET /api/recordings", s.handleRecordings)
	mux.HandleFunc("GET /api/recordings/{id}", s.handleRecording)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "read body"))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "decode body"))
			return
		}
	}

	st, err := s.ctl.Start(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctl.Stop(r.Context())
	if err != nil && res.Summary.Session.SessionID == "" {
		writeError(w, r, err)
		return
	}
	if err != nil {
		// Segments were captured but metadata could not be written; the
		// summary still tells the caller what exists on disk.
		trace.Logger(r.Context()).Error("stop pipeline failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"summary": res.Summary,
			"outcome": res.Outcome,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid limit %q", v))
			return
		}
		limit = min(n, MaxListLimit)
	}
	recs, err := s.ctl.Recordings(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []catalog.Recording{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": recs})
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ctl.Recording(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	c := &client{conn: conn, send: make(chan any, ClientSendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, c)
	}()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		cancel()
		<-writerDone
	}()

	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	c.enqueue(StatusMessage{Type: "status", Status: s.ctl.Status()})

	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !c.limiter.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			c.enqueue(ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "status":
			msgCtx := ctx
			if tc, ok := trace.FromMessage(msg); ok {
				msgCtx = trace.WithContext(ctx, tc)
			}
			trace.Logger(msgCtx).Debug("status requested")
			c.enqueue(StatusMessage{Type: "status", Status: s.ctl.Status()})
		default:
			c.enqueue(ErrorMessage{Type: "error", Code: apperrors.CodeInvalidArgument, Message: "unknown message type " + base.Type})
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				slog.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

func (s *Server) broadcastEvents(events <-chan recorder.Event) {
	defer close(s.done)
	for ev := range events {
		s.mu.RLock()
		for c := range s.clients {
			if !c.enqueue(ev) {
				slog.Debug("websocket client slow, event dropped", "type", ev.Type)
			}
		}
		s.mu.RUnlock()
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code = appErr.HTTPStatus()
	}
	if code >= http.StatusInternalServerError {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, ErrorMessage{Type: "error", Code: apperrors.CodeOf(err), Message: err.Error()})
}
