package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ai-and-i/recorder/internal/catalog"
	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/recorder"
	"github.com/ai-and-i/recorder/internal/session"
	"github.com/ai-and-i/recorder/internal/trace"
)

// Config configures a Manager.
type Config struct {
	AutoMix            bool
	EventBuffer        int
	CheckpointMaxSize  int
	CheckpointInterval time.Duration
}

// StopResult is everything a caller learns from stopping a session.
type StopResult struct {
	Summary session.Summary `json:"summary"`
	Outcome Outcome         `json:"outcome"`
}

// RecordingDetail is a catalog row with its checkpointed segments.
type RecordingDetail struct {
	catalog.Recording
	Segments []session.AudioSegment `json:"segments"`
}

// Manager owns one recorder and runs the stop pipeline for every session it
// ends.
type Manager struct {
	cfg         Config
	rec         *recorder.Recorder
	pipeline    *Pipeline
	catalog     Catalog
	checkpoints *Checkpointer

	unsubscribe func()
	watchDone   chan struct{}
	stopMu      sync.Mutex
}

// New creates a manager. cat may be nil, in which case nothing is indexed.
func New(cfg Config, rec *recorder.Recorder, pipeline *Pipeline, cat Catalog) *Manager {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	m := &Manager{
		cfg:       cfg,
		rec:       rec,
		pipeline:  pipeline,
		catalog:   cat,
		watchDone: make(chan struct{}),
	}
	if cat != nil {
		m.checkpoints = NewCheckpointer(cat, cfg.CheckpointMaxSize, cfg.CheckpointInterval)
	}
	events, unsub := rec.Subscribe(cfg.EventBuffer)
	m.unsubscribe = unsub
	go m.watch(events)
	return m
}

func (m *Manager) watch(events <-chan recorder.Event) {
	defer close(m.watchDone)
	for ev := range events {
		if ev.Type == recorder.EventSegment && ev.Segment != nil && m.checkpoints != nil {
			m.checkpoints.Add(ev.SessionID, *ev.Segment)
		}
	}
}

// Start begins a recording session.
func (m *Manager) Start(ctx context.Context, id string) (recorder.Status, error) {
	ctx, span := trace.StartSpan(ctx, "start_recording")
	defer span.End()

	st, err := m.rec.Start(ctx, id)
	span.SetError(err)
	if err != nil {
		return st, err
	}
	if m.catalog != nil && st.StartedAt != nil {
		if err := m.catalog.Begin(ctx, st.SessionID, session.FileStamp(*st.StartedAt), *st.StartedAt); err != nil {
			trace.Logger(ctx).Warn("catalog update failed", "session", st.SessionID, "error", err)
		}
	}
	return st, nil
}

// Stop ends the active session and runs the stop pipeline over it. A
// finalize timeout is logged and the pipeline still runs on what was captured.
func (m *Manager) Stop(ctx context.Context) (StopResult, error) {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()

	ctx, span := trace.StartSpan(ctx, "stop_recording")
	defer span.End()
	log := trace.Logger(ctx)

	sum, err := m.rec.Stop(ctx)
	if apperrors.IsCode(err, apperrors.CodeNotRecording) {
		return StopResult{}, err
	}
	if err != nil {
		span.SetError(err)
		log.Warn("recorder stopped with errors", "session", sum.Session.SessionID, "error", err)
	}
	if m.checkpoints != nil {
		m.checkpoints.Flush()
	}

	ctx, cancel := context.WithTimeout(ctx, StopPipelineTimeout)
	defer cancel()
	out, err := m.pipeline.Run(ctx, sum.Session, RunOptions{Persist: true, Mix: m.cfg.AutoMix})
	if m.checkpoints != nil {
		// Segment events still in flight carry older state than the index
		// the pipeline just wrote.
		m.checkpoints.Discard(sum.Session.SessionID)
	}
	res := StopResult{Summary: sum, Outcome: out}
	if err != nil {
		span.SetError(err)
		return res, err
	}
	log.Info("session processed", "session", out.SessionID, "status", out.Status)
	return res, nil
}

// Status returns the recorder snapshot.
func (m *Manager) Status() recorder.Status { return m.rec.Status() }

// Subscribe exposes recorder events.
func (m *Manager) Subscribe(size int) (<-chan recorder.Event, func()) { return m.rec.Subscribe(size) }

// NotifyDeviceChange forwards an OS device-change hint.
func (m *Manager) NotifyDeviceChange() { m.rec.NotifyDeviceChange() }

// Recordings lists catalogued recordings, newest first.
func (m *Manager) Recordings(ctx context.Context, limit int) ([]catalog.Recording, error) {
	if m.catalog == nil {
		return nil, nil
	}
	return m.catalog.List(ctx, limit)
}

// Recording returns one recording with its segments.
func (m *Manager) Recording(ctx context.Context, id string) (RecordingDetail, error) {
	if m.catalog == nil {
		return RecordingDetail{}, apperrors.Newf(apperrors.CodeNotFound, "recording %s not found", id)
	}
	rec, err := m.catalog.Get(ctx, id)
	if err != nil {
		return RecordingDetail{}, err
	}
	segs, err := m.catalog.Segments(ctx, id)
	if err != nil {
		return RecordingDetail{}, err
	}
	return RecordingDetail{Recording: rec, Segments: segs}, nil
}

// Close stops any active session, drains events and flushes checkpoints.
func (m *Manager) Close(ctx context.Context) {
	if m.rec.Status().Recording {
		if _, err := m.Stop(ctx); err != nil && !apperrors.IsCode(err, apperrors.CodeNotRecording) {
			trace.Logger(ctx).Warn("stop on shutdown failed", "error", err)
		}
	}
	m.unsubscribe()
	<-m.watchDone
	if m.checkpoints != nil {
		m.checkpoints.Stop()
	}
}
