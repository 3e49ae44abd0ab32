// Package recorder owns the lifecycle of a dual-stream recording session:
// microphone and system audio captured side by side into two segment
// buffers.
//
// System audio is required: without it Start fails. The microphone is
// best-effort: if it cannot be opened the session runs system-only, and if it
// disappears mid-session the device monitor tries to swap in the current
// default input.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ai-and-i/recorder/internal/audio"
	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/events"
	"github.com/ai-and-i/recorder/internal/monitor"
	"github.com/ai-and-i/recorder/internal/resilience"
	"github.com/ai-and-i/recorder/internal/segment"
	"github.com/ai-and-i/recorder/internal/session"
	"github.com/ai-and-i/recorder/internal/syncx"
)

var (
	ErrAlreadyRecording = apperrors.New(apperrors.CodeAlreadyRecording, "a recording session is already active")
	ErrNotRecording     = apperrors.New(apperrors.CodeNotRecording, "no active recording session")
)

// Config configures a Recorder.
type Config struct {
	SegmentDuration   time.Duration
	Monitor           monitor.Config
	MicAcquireRetries int
	RequireMic        bool
	RequireSystem     bool
	FinalizeTimeout   time.Duration
}

// DefaultConfig returns 60s segments, monitor defaults and system audio
// required.
func DefaultConfig() Config {
	return Config{
		SegmentDuration:   time.Minute,
		Monitor:           monitor.DefaultConfig(),
		MicAcquireRetries: resilience.AcquireMaxRetries,
		RequireSystem:     true,
		FinalizeTimeout:   30 * time.Second,
	}
}

// Recorder runs at most one session at a time.
type Recorder struct {
	cfg   Config
	acq   audio.Acquirer
	store segment.Store
	bus   *events.Bus[Event]
	now   func() time.Time

	mu       sync.Mutex
	active   *activeSession
	starting bool
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithClock sets the time source for session timing.
func WithClock(now func() time.Time) Option { return func(r *Recorder) { r.now = now } }

// WithStore persists segments through store.
func WithStore(store segment.Store) Option { return func(r *Recorder) { r.store = store } }

// New creates a recorder.
func New(cfg Config, acq audio.Acquirer, opts ...Option) *Recorder {
	r := &Recorder{
		cfg: cfg,
		acq: acq,
		bus: events.NewBus[Event]("recorder"),
		now: time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Subscribe returns a channel of recorder events; call the func to
// unsubscribe.
func (r *Recorder) Subscribe(size int) (<-chan Event, func()) { return r.bus.Subscribe(size) }

// DroppedEvents counts events skipped because a subscriber was full.
func (r *Recorder) DroppedEvents() int64 { return r.bus.Dropped() }

// Close ends all subscriptions.
func (r *Recorder) Close() { r.bus.Close() }

type activeSession struct {
	id        string
	startedAt time.Time
	stamp     string
	runCtx    context.Context
	cancel    context.CancelFunc

	sys    audio.Source
	sysBuf *segment.Buffer
	mic    *syncx.RWGuard[audio.Source]
	micBuf *segment.Buffer // nil when system-only

	swapping    syncx.Flag
	lostDevice  *syncx.RWGuard[audio.Device]
	swaps       *syncx.RWGuard[[]session.DeviceSwap]
	monitor     *monitor.Monitor
	monitorDone chan struct{}
}

func (r *Recorder) sessionTime(as *activeSession) float64 {
	return r.now().Sub(as.startedAt).Seconds()
}

// Start begins a session. An empty id gets a generated one.
func (r *Recorder) Start(ctx context.Context, id string) (Status, error) {
	r.mu.Lock()
	if r.active != nil || r.starting {
		r.mu.Unlock()
		return Status{}, ErrAlreadyRecording
	}
	r.starting = true
	r.mu.Unlock()

	as, err := r.open(ctx, id)

	r.mu.Lock()
	r.starting = false
	if err == nil {
		r.active = as
	}
	r.mu.Unlock()
	if err != nil {
		return Status{}, err
	}

	slog.Info("recording started", "session", as.id, "mic", r.micDevice(as).Name,
		"system", deviceOf(as.sys).Name, "system_only", as.micBuf == nil)
	r.publish(Event{Type: EventSessionStarted, SessionID: as.id})
	return r.Status(), nil
}

func (r *Recorder) open(ctx context.Context, id string) (*activeSession, error) {
	if id == "" {
		id = uuid.NewString()
	}
	startedAt := r.now()
	runCtx, cancel := context.WithCancel(context.Background())
	as := &activeSession{
		id:         id,
		startedAt:  startedAt,
		stamp:      session.FileStamp(startedAt),
		runCtx:     runCtx,
		cancel:     cancel,
		mic:        syncx.NewGuard[audio.Source](nil),
		swaps:      syncx.NewGuard[[]session.DeviceSwap](nil),
		lostDevice: syncx.NewGuard(audio.Device{}),
	}

	sys, err := r.acq.System(ctx)
	if err != nil {
		if r.cfg.RequireSystem {
			cancel()
			return nil, apperrors.Wrap(err, apperrors.CodeSourceUnavailable, "system audio unavailable")
		}
		slog.Warn("system audio unavailable, recording mic only", "error", err)
		r.publish(Event{Type: EventSourceUnavailable, SessionID: id, Stream: session.StreamSystem, Error: err.Error()})
		sys = nil
	}

	var mic audio.Source
	err = resilience.Retry(ctx, resilience.AcquireRetryConfig(r.cfg.MicAcquireRetries), func() error {
		var acqErr error
		mic, acqErr = r.acq.Microphone(ctx)
		return acqErr
	})
	if err != nil {
		if r.cfg.RequireMic {
			stopQuietly(sys)
			cancel()
			return nil, apperrors.Wrap(err, apperrors.CodeSourceUnavailable, "microphone unavailable")
		}
		slog.Warn("microphone unavailable, recording system audio only", "error", err)
		r.publish(Event{Type: EventSourceUnavailable, SessionID: id, Stream: session.StreamMic, Error: err.Error()})
		mic = nil
	}
	if sys == nil && mic == nil {
		cancel()
		return nil, apperrors.New(apperrors.CodeSourceUnavailable, "no audio source available")
	}

	if sys != nil {
		if as.sysBuf, err = r.newBuffer(as, session.StreamSystem, sys); err != nil {
			stopQuietly(sys)
			stopQuietly(mic)
			cancel()
			return nil, err
		}
	}
	if mic != nil {
		if as.micBuf, err = r.newBuffer(as, session.StreamMic, mic); err != nil {
			slog.Warn("microphone buffer setup failed, recording system audio only", "error", err)
			stopQuietly(mic)
			mic = nil
		}
	}

	// Sources start back to back; the skew between them is left as is.
	if sys != nil {
		if err := sys.Start(runCtx, feeder(as.sysBuf)); err != nil {
			if r.cfg.RequireSystem || mic == nil {
				stopQuietly(mic)
				discard(as.sysBuf)
				if as.micBuf != nil {
					discard(as.micBuf)
				}
				cancel()
				return nil, apperrors.Wrap(err, apperrors.CodeSourceUnavailable, "start system audio")
			}
			slog.Warn("system audio failed to start", "error", err)
			discard(as.sysBuf)
			as.sysBuf = nil
			sys = nil
		}
	}
	as.sys = sys
	if mic != nil {
		if err := mic.Start(runCtx, feeder(as.micBuf)); err != nil {
			slog.Warn("microphone failed to start, recording system audio only", "error", err)
			r.publish(Event{Type: EventSourceUnavailable, SessionID: id, Stream: session.StreamMic, Error: err.Error()})
			stopQuietly(mic)
			discard(as.micBuf)
			as.micBuf = nil
		} else {
			as.mic.Set(mic)
			r.startMonitor(as)
		}
	}
	if as.sysBuf == nil && as.micBuf == nil {
		cancel()
		return nil, apperrors.New(apperrors.CodeSourceUnavailable, "no audio source started")
	}
	return as, nil
}

func (r *Recorder) newBuffer(as *activeSession, stream session.Stream, src audio.Source) (*segment.Buffer, error) {
	return segment.New(segment.Config{
		Stream:          stream,
		Stamp:           as.stamp,
		Format:          src.Format(),
		SegmentDuration: r.cfg.SegmentDuration,
		Device:          src.Device(),
		StartAt:         r.sessionTime(as),
		Store:           r.store,
		OnSegment: func(seg segment.Segment) {
			meta := seg.AudioSegment
			r.publish(Event{Type: EventSegment, SessionID: as.id, Stream: stream, Segment: &meta, Payload: seg.Data})
		},
		OnError: func(err error) {
			r.publish(Event{Type: EventError, SessionID: as.id, Stream: stream, Error: err.Error()})
		},
	})
}

func feeder(buf *segment.Buffer) func([]byte) {
	return func(b []byte) {
		if err := buf.Feed(b); err != nil {
			slog.Debug("audio after buffer closed", "error", err)
		}
	}
}

func (r *Recorder) startMonitor(as *activeSession) {
	as.monitor = monitor.New(r.cfg.Monitor, &micTarget{r: r, as: as},
		monitor.WithClock(r.now),
		monitor.WithHook(func(prev, next monitor.Status, act monitor.Action) {
			if prev.State != next.State {
				r.publish(Event{Type: EventSourceHealth, SessionID: as.id, Stream: session.StreamMic, Health: next.State.String()})
			}
			if act == monitor.ActionGiveUp {
				r.publish(Event{Type: EventSourceUnavailable, SessionID: as.id, Stream: session.StreamMic,
					Error: "microphone recovery exhausted, continuing with system audio"})
			}
		}))
	as.monitorDone = make(chan struct{})
	go func() {
		defer close(as.monitorDone)
		as.monitor.Run(as.runCtx)
	}()
}

// NotifyDeviceChange forwards an OS device-change hint to the mic monitor.
func (r *Recorder) NotifyDeviceChange() {
	r.mu.Lock()
	as := r.active
	r.mu.Unlock()
	if as != nil && as.monitor != nil {
		as.monitor.Notify()
	}
}

// Stop ends the active session, waits for both buffers to emit and persist
// their final segments, and returns the frozen session.
func (r *Recorder) Stop(ctx context.Context) (session.Summary, error) {
	r.mu.Lock()
	as := r.active
	r.active = nil
	r.mu.Unlock()
	if as == nil {
		return session.Summary{}, ErrNotRecording
	}

	as.cancel()
	if as.monitorDone != nil {
		<-as.monitorDone
	}
	stopQuietly(as.sys)
	stopQuietly(as.mic.Get())

	if r.cfg.FinalizeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.FinalizeTimeout)
		defer cancel()
	}
	var g errgroup.Group
	for _, buf := range []*segment.Buffer{as.sysBuf, as.micBuf} {
		if buf != nil {
			g.Go(func() error { return buf.Finalize(ctx) })
		}
	}
	finErr := g.Wait()

	endedAt := r.now()
	sess := session.RecordingSession{
		SessionID:   as.id,
		StartedAt:   as.startedAt,
		EndedAt:     &endedAt,
		DeviceSwaps: as.swaps.Get(),
	}
	if as.micBuf != nil {
		sess.MicSegments = as.micBuf.Segments()
	}
	if as.sysBuf != nil {
		sess.SystemSegments = as.sysBuf.Segments()
	}
	summary := session.Summary{
		Session:         sess,
		Duration:        endedAt.Sub(as.startedAt),
		DeviceSwapCount: len(sess.DeviceSwaps),
		SystemOnly:      as.micBuf == nil,
	}

	slog.Info("recording stopped", "session", as.id, "duration", summary.Duration,
		"mic_segments", len(sess.MicSegments), "system_segments", len(sess.SystemSegments),
		"swaps", summary.DeviceSwapCount)
	r.publish(Event{Type: EventSessionStopped, SessionID: as.id})
	if finErr != nil {
		return summary, apperrors.Wrap(finErr, apperrors.CodeTimeout, "finalize segments")
	}
	return summary, nil
}

func (r *Recorder) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = r.now()
	}
	r.bus.Publish(ev)
}

func (r *Recorder) micDevice(as *activeSession) audio.Device {
	return deviceOf(as.mic.Get())
}

func deviceOf(src audio.Source) audio.Device {
	if src == nil {
		return audio.Device{}
	}
	return src.Device()
}

// discard closes a buffer that never received audio.
func discard(buf *segment.Buffer) {
	if err := buf.Finalize(context.Background()); err != nil {
		slog.Debug("discarding buffer failed", "error", err)
	}
}

func stopQuietly(src audio.Source) {
	if src == nil {
		return
	}
	if err := src.Stop(); err != nil {
		slog.Debug("source stop failed", "device", src.Device().Name, "error", err)
	}
}
