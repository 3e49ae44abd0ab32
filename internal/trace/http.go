package trace

import (
	"encoding/json"
	"net/http"
)

// Middleware continues the trace named in the request headers, or starts
// one, and echoes the trace ID in the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := FromMap(map[string]string{
			TraceIDKey:   r.Header.Get(TraceIDKey),
			SpanIDKey:    r.Header.Get(SpanIDKey),
			SessionIDKey: r.Header.Get(SessionIDKey),
		})
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// FromMessage reads trace_id and session_id from a WebSocket client
// message. ok is false when the message names no trace.
func FromMessage(data []byte) (tc Context, ok bool) {
	var msg struct {
		TraceID   string `json:"trace_id"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.TraceID == "" {
		return New(), false
	}
	return Context{TraceID: msg.TraceID, SpanID: newSpanID(), SessionID: msg.SessionID}, true
}
