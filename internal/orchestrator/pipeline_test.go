package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-and-i/recorder/internal/catalog"
	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/reconcile"
	"github.com/ai-and-i/recorder/internal/session"
	"github.com/ai-and-i/recorder/internal/storage"
	"github.com/ai-and-i/recorder/internal/timeline"
)

type fakeMixer struct {
	mu    sync.Mutex
	err   error
	plans []reconcile.Plan
}

func (m *fakeMixer) Mix(_ context.Context, p reconcile.Plan, output string) (reconcile.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = append(m.plans, p)
	if m.err != nil {
		return reconcile.Result{Plan: p, Fallback: p.Inputs()}, apperrors.Wrap(m.err, apperrors.CodeMixFailed, "ffmpeg")
	}
	if err := os.WriteFile(output, []byte("RIFF"), 0o644); err != nil {
		return reconcile.Result{Plan: p}, err
	}
	return reconcile.Result{Plan: p, Output: output}, nil
}

func (m *fakeMixer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.plans)
}

var started = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func seg(stream session.Stream, idx int, start, end float64, device string) session.AudioSegment {
	return session.AudioSegment{
		SegmentID:        fmt.Sprintf("%s-%d", stream, idx),
		Stream:           stream,
		Index:            idx,
		FilePath:         fmt.Sprintf("/rec/%s_%03d.wav", stream, idx),
		DeviceName:       device,
		DeviceID:         device,
		SampleRate:       48000,
		Channels:         1,
		StartSessionTime: start,
		EndSessionTime:   end,
		FrameCount:       int64((end - start) * 48000),
		Quality:          session.QualityHigh,
	}
}

func frozen(id string, mic, sys []session.AudioSegment) session.RecordingSession {
	end := started.Add(6 * time.Minute)
	return session.RecordingSession{
		SessionID:      id,
		StartedAt:      started,
		EndedAt:        &end,
		MicSegments:    mic,
		SystemSegments: sys,
	}
}

func newPipeline(t *testing.T, mixer Mixer) (*Pipeline, *catalog.Catalog) {
	t.Helper()
	dir := t.TempDir()
	cat, err := catalog.Open(filepath.Join(dir, "recordings.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return &Pipeline{
		Dir:        dir,
		Tolerances: timeline.DefaultTolerances(),
		Gains:      reconcile.DefaultOptions(),
		Mixer:      mixer,
		Catalog:    cat,
	}, cat
}

func TestPipelineMixesValidSession(t *testing.T) {
	mixer := &fakeMixer{}
	p, cat := newPipeline(t, mixer)
	ctx := context.Background()

	s := frozen("s1",
		[]session.AudioSegment{seg(session.StreamMic, 1, 0, 180, "AirPods Pro"), seg(session.StreamMic, 2, 180.2, 300, "MacBook Pro Microphone")},
		[]session.AudioSegment{seg(session.StreamSystem, 1, 0, 180, "BlackHole"), seg(session.StreamSystem, 2, 180, 320, "BlackHole")})

	out, err := p.Run(ctx, s, RunOptions{Persist: true, Mix: true})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusMixed, out.Status)
	require.NotNil(t, out.Report)
	assert.InDelta(t, 0.2, out.Report.MaxGap, 1e-9)
	assert.Equal(t, 1, out.Report.FallbackSegmentCount)
	require.NotNil(t, out.Plan)
	assert.InDelta(t, 320, out.Plan.OutputDuration, 1e-9)
	require.NotNil(t, out.Mix)
	assert.Equal(t, storage.MixedPath(p.Dir, "20240301_100000"), out.Mix.Output)

	loaded, err := storage.LoadSession(out.MetadataPath)
	require.NoError(t, err)
	assert.Len(t, loaded.MicSegments, 2)

	rec, err := cat.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusMixed, rec.Status)
	assert.Equal(t, out.Mix.Output, rec.MixedPath)
	assert.Equal(t, 2, rec.MicSegments)

	segs, err := cat.Segments(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, segs, 4)
}

func TestPipelineSkipsMixOnExcessiveGap(t *testing.T) {
	mixer := &fakeMixer{}
	p, cat := newPipeline(t, mixer)
	ctx := context.Background()

	s := frozen("s1",
		[]session.AudioSegment{seg(session.StreamMic, 1, 0, 10, "AirPods Pro"), seg(session.StreamMic, 2, 12.5, 20, "AirPods Pro")},
		[]session.AudioSegment{seg(session.StreamSystem, 1, 0, 20, "BlackHole")})

	out, err := p.Run(ctx, s, RunOptions{Persist: true, Mix: true})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusInvalid, out.Status)
	assert.Equal(t, apperrors.CodeExcessiveGap, out.ValidationCode)
	assert.Nil(t, out.Mix)
	assert.Zero(t, mixer.calls())

	rec, err := cat.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusInvalid, rec.Status)
	assert.Contains(t, rec.Error, "2.5")

	out, err = p.Run(ctx, s, RunOptions{Mix: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusMixed, out.Status)
	assert.Equal(t, 1, mixer.calls())
}

func TestPipelineCoverageShortfall(t *testing.T) {
	p, _ := newPipeline(t, &fakeMixer{})
	s := frozen("s1",
		[]session.AudioSegment{seg(session.StreamMic, 1, 0, 180, "AirPods Pro"), seg(session.StreamMic, 2, 180.3, 360, "AirPods Pro")},
		[]session.AudioSegment{seg(session.StreamSystem, 1, 0, 355, "BlackHole")})

	out, err := p.Run(context.Background(), s, RunOptions{Mix: true})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusInvalid, out.Status)
	assert.Equal(t, apperrors.CodeCoverageShortfall, out.ValidationCode)
	assert.Nil(t, out.Mix)
}

func TestPipelinePassesThroughSystemOnly(t *testing.T) {
	mixer := &fakeMixer{}
	p, _ := newPipeline(t, mixer)
	s := frozen("s1", nil, []session.AudioSegment{seg(session.StreamSystem, 1, 0, 60, "BlackHole")})

	out, err := p.Run(context.Background(), s, RunOptions{Persist: true, Mix: true})
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeNoSegments, out.ValidationCode)
	require.NotNil(t, out.Plan)
	assert.Equal(t, reconcile.ModeSystemOnly, out.Plan.Mode)
	assert.Equal(t, catalog.StatusMixed, out.Status)
	assert.Equal(t, 1, mixer.calls())
}

func TestPipelineNothingToMix(t *testing.T) {
	p, cat := newPipeline(t, &fakeMixer{})
	s := frozen("s1", nil, nil)

	out, err := p.Run(context.Background(), s, RunOptions{Persist: true, Mix: true})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusInvalid, out.Status)
	assert.NotEmpty(t, out.PlanError)

	rec, err := cat.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusInvalid, rec.Status)
}

func TestPipelineMixFailureKeepsFallback(t *testing.T) {
	p, cat := newPipeline(t, &fakeMixer{err: errors.New("exit status 1")})
	s := frozen("s1",
		[]session.AudioSegment{seg(session.StreamMic, 1, 0, 60, "AirPods Pro")},
		[]session.AudioSegment{seg(session.StreamSystem, 1, 0, 60, "BlackHole")})

	out, err := p.Run(context.Background(), s, RunOptions{Persist: true, Mix: true})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusMixFailed, out.Status)
	require.NotNil(t, out.Mix)
	assert.Equal(t, []string{"/rec/mic_001.wav", "/rec/system_001.wav"}, out.Mix.Fallback)

	rec, err := cat.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusMixFailed, rec.Status)
}

func TestPipelinePersistFailure(t *testing.T) {
	p, _ := newPipeline(t, &fakeMixer{})
	p.Dir = filepath.Join(p.Dir, "missing")
	s := frozen("s1", nil, []session.AudioSegment{seg(session.StreamSystem, 1, 0, 60, "BlackHole")})

	_, err := p.Run(context.Background(), s, RunOptions{Persist: true, Mix: true})
	assert.True(t, apperrors.IsCode(err, apperrors.CodePersistFailed))
}

func TestPipelineWithoutCatalog(t *testing.T) {
	p := &Pipeline{Dir: t.TempDir(), Tolerances: timeline.DefaultTolerances(), Gains: reconcile.DefaultOptions()}
	s := frozen("s1",
		[]session.AudioSegment{seg(session.StreamMic, 1, 0, 60, "AirPods Pro")},
		[]session.AudioSegment{seg(session.StreamSystem, 1, 0, 60, "BlackHole")})

	out, err := p.Run(context.Background(), s, RunOptions{Persist: true, Mix: true})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusValidated, out.Status)
	assert.Nil(t, out.Mix)
}
