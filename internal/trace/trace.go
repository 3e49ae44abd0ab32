// Package trace tags work with a trace and the recording session it belongs
// to, so the logs of one stop pipeline, one HTTP request or one health call
// can be followed across goroutines. Pipeline stages are timed as spans.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Propagation keys, used as HTTP headers and gRPC metadata.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
	SessionIDKey    = "x-session-id"
)

type ctxKey struct{}

// Context identifies one span of work. SessionID is empty outside a
// recording session.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	SessionID    string
}

// New starts a trace.
func New() Context {
	return Context{TraceID: newTraceID(), SpanID: newSpanID()}
}

// NewChild opens a span under parent, keeping its trace and session.
func NewChild(parent Context) Context {
	return Context{
		TraceID:      parent.TraceID,
		SpanID:       newSpanID(),
		ParentSpanID: parent.SpanID,
		SessionID:    parent.SessionID,
	}
}

func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// EnsureContext returns the trace carried by ctx, starting one if needed.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// WithSession binds the recording session to the trace in ctx. Loggers and
// spans derived from the result carry the session ID.
func WithSession(ctx context.Context, sessionID string) context.Context {
	ctx, tc := EnsureContext(ctx)
	tc.SessionID = sessionID
	return WithContext(ctx, tc)
}

// 128-bit trace IDs and 64-bit span IDs, hex encoded.
func newTraceID() string { return randomHex(16) }
func newSpanID() string { return randomHex(8) }

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ToMap exports the context for gRPC metadata. Empty fields are left out.
func (c Context) ToMap() map[string]string {
	m := make(map[string]string, 4)
	for k, v := range map[string]string{
		TraceIDKey:      c.TraceID,
		SpanIDKey:       c.SpanID,
		ParentSpanIDKey: c.ParentSpanID,
		SessionIDKey:    c.SessionID,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// FromMap continues a caller's trace: the caller's span becomes the parent
// of a new span.
func FromMap(m map[string]string) Context {
	tc := Context{
		TraceID:      m[TraceIDKey],
		SpanID:       newSpanID(),
		ParentSpanID: m[SpanIDKey],
		SessionID:    m[SessionIDKey],
	}
	if tc.TraceID == "" {
		tc.TraceID = newTraceID()
	}
	return tc
}

func (c Context) logArgs() []any {
	args := []any{"trace_id", c.TraceID, "span_id", c.SpanID}
	if c.ParentSpanID != "" {
		args = append(args, "parent_span_id", c.ParentSpanID)
	}
	if c.SessionID != "" {
		args = append(args, "session", c.SessionID)
	}
	return args
}

// Logger returns the default logger annotated with the trace in ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With(tc.logArgs()...)
}

// Span times one stage, such as persist, validate, plan or mix.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time
	Attrs     map[string]any
}

// StartSpan opens a child span of the trace in ctx, or a new trace.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tc := New()
	if parent, ok := FromContext(ctx); ok && parent.TraceID != "" {
		tc = NewChild(parent)
	}
	s := &Span{Name: name, Ctx: tc, StartTime: time.Now(), Attrs: make(map[string]any)}
	return WithContext(ctx, tc), s
}

// End closes the span. Failed spans are logged at warn, others at debug.
func (s *Span) End() {
	s.EndTime = time.Now()
	if _, failed := s.Attrs["error"]; failed {
		slog.Warn("stage failed", "span", s)
		return
	}
	slog.Debug("stage finished", "span", s)
}

// SetError records err on the span. A nil err is ignored.
func (s *Span) SetError(err error) {
	if err != nil {
		s.Attrs["error"] = err.Error()
	}
}

func (s *Span) SetAttr(key string, val any) { s.Attrs[key] = val }

// Duration is zero until End is called.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", s.Name),
		slog.Duration("duration", s.Duration()),
	}
	args := s.Ctx.logArgs()
	for i := 0; i+1 < len(args); i += 2 {
		attrs = append(attrs, slog.Any(args[i].(string), args[i+1]))
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}
