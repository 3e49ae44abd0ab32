package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ai-and-i/recorder/internal/catalog"
	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/events"
	"github.com/ai-and-i/recorder/internal/orchestrator"
	"github.com/ai-and-i/recorder/internal/recorder"
	"github.com/ai-and-i/recorder/internal/session"
)

// mockController for testing.
type mockController struct {
	mu        sync.Mutex
	recording bool
	sessionID string
	startErr  error
	bus       *events.Bus[recorder.Event]
	recs      []catalog.Recording
}

func newMockController() *mockController {
	return &mockController{bus: events.NewBus[recorder.Event]("test")}
}

func (m *mockController) Start(_ context.Context, id string) (recorder.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return recorder.Status{}, m.startErr
	}
	if m.recording {
		return recorder.Status{}, recorder.ErrAlreadyRecording
	}
	if id == "" {
		id = "generated"
	}
	m.recording, m.sessionID = true, id
	return recorder.Status{Recording: true, SessionID: id}, nil
}

func (m *mockController) Stop(context.Context) (orchestrator.StopResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.recording {
		return orchestrator.StopResult{}, recorder.ErrNotRecording
	}
	m.recording = false
	return orchestrator.StopResult{
		Summary: session.Summary{Session: session.RecordingSession{SessionID: m.sessionID}, SystemOnly: true},
		Outcome: orchestrator.Outcome{SessionID: m.sessionID, Status: catalog.StatusMixed},
	}, nil
}

func (m *mockController) Status() recorder.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return recorder.Status{Recording: m.recording, SessionID: m.sessionID}
}

func (m *mockController) Subscribe(size int) (<-chan recorder.Event, func()) { return m.bus.Subscribe(size) }

func (m *mockController) Recordings(_ context.Context, limit int) ([]catalog.Recording, error) {
	return m.recs[:min(limit, len(m.recs))], nil
}

func (m *mockController) Recording(_ context.Context, id string) (orchestrator.RecordingDetail, error) {
	for _, r := range m.recs {
		if r.ID == id {
			return orchestrator.RecordingDetail{Recording: r}, nil
		}
	}
	return orchestrator.RecordingDetail{}, apperrors.Newf(apperrors.CodeNotFound, "recording %s not found", id)
}

func newTestServer(t *testing.T) (*mockController, http.Handler) {
	t.Helper()
	ctl := newMockController()
	s := New(ctl, 16)
	t.Cleanup(func() {
		ctl.bus.Close()
		s.Close()
	})
	return ctl, s.Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, OPTIONS")
	}
}

func TestRecordingStartStop(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(h, http.MethodPost, "/api/recording/start", `{"sessionId":"s1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body)
	}
	var st recorder.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Recording || st.SessionID != "s1" {
		t.Errorf("status = %+v, want recording s1", st)
	}

	rec = do(h, http.MethodPost, "/api/recording/start", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want %d", rec.Code, http.StatusConflict)
	}
	var em ErrorMessage
	_ = json.Unmarshal(rec.Body.Bytes(), &em)
	if em.Code != apperrors.CodeAlreadyRecording {
		t.Errorf("error code = %q, want %q", em.Code, apperrors.CodeAlreadyRecording)
	}

	rec = do(h, http.MethodGet, "/api/recording/status", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"recording":true`) {
		t.Errorf("status = %d %s", rec.Code, rec.Body)
	}

	rec = do(h, http.MethodPost, "/api/recording/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body %s", rec.Code, rec.Body)
	}
	var res orchestrator.StopResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode stop: %v", err)
	}
	if res.Outcome.Status != catalog.StatusMixed || !res.Summary.SystemOnly {
		t.Errorf("stop result = %+v", res)
	}

	rec = do(h, http.MethodPost, "/api/recording/stop", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second stop status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestRecordingStartErrors(t *testing.T) {
	ctl, h := newTestServer(t)

	rec := do(h, http.MethodPost, "/api/recording/start", `{"sessionId":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	ctl.startErr = apperrors.New(apperrors.CodeSourceUnavailable, "system audio unavailable")
	rec = do(h, http.MethodPost, "/api/recording/start", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("source unavailable status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRecordingsEndpoints(t *testing.T) {
	ctl, h := newTestServer(t)
	ctl.recs = []catalog.Recording{{ID: "b", Status: catalog.StatusMixed}, {ID: "a", Status: catalog.StatusInvalid}}

	rec := do(h, http.MethodGet, "/api/recordings?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Recordings []catalog.Recording `json:"recordings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Recordings) != 1 || list.Recordings[0].ID != "b" {
		t.Errorf("recordings = %+v, want [b]", list.Recordings)
	}

	if rec := do(h, http.MethodGet, "/api/recordings?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid limit status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if rec := do(h, http.MethodGet, "/api/recordings/a", ""); rec.Code != http.StatusOK {
		t.Errorf("get status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec := do(h, http.MethodGet, "/api/recordings/zzz", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRateLimiter(t *testing.T) {
	var rl rateLimiter
	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow() {
			t.Fatalf("message %d should be allowed", i)
		}
	}
	if rl.allow() {
		t.Error("message over the limit should be rejected")
	}
}

func TestWebSocketRelaysEvents(t *testing.T) {
	ctl, h := newTestServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first StatusMessage
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read initial status: %v", err)
	}
	if first.Type != "status" {
		t.Errorf("first frame type = %q, want status", first.Type)
	}

	// The client is registered before the initial status frame is queued.
	ctl.bus.Publish(recorder.Event{
		Type:      recorder.EventDeviceSwap,
		SessionID: "s1",
		Stream:    session.StreamMic,
		Swap:      &session.DeviceSwap{FromName: "AirPods Pro", ToName: "MacBook Pro Microphone", SessionTime: 180},
	})
	var ev recorder.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != recorder.EventDeviceSwap || ev.Swap == nil || ev.Swap.ToName != "MacBook Pro Microphone" {
		t.Errorf("event = %+v", ev)
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "status", "trace_id": "abc"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var st StatusMessage
	if err := wsjson.Read(ctx, conn, &st); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if st.Type != "status" {
		t.Errorf("type = %q, want status", st.Type)
	}
}
