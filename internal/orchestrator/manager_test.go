package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-and-i/recorder/internal/audio"
	"github.com/ai-and-i/recorder/internal/catalog"
	"github.com/ai-and-i/recorder/internal/recorder"
	"github.com/ai-and-i/recorder/internal/reconcile"
	"github.com/ai-and-i/recorder/internal/storage"
	"github.com/ai-and-i/recorder/internal/timeline"
)

type stubSource struct {
	dev audio.Device

	mu      sync.Mutex
	deliver func([]byte)
	stopped bool
}

func (s *stubSource) Device() audio.Device { return s.dev }
func (s *stubSource) Format() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1, BytesPerSample: 2}
}
func (s *stubSource) State() audio.SourceState {
	return audio.SourceState{TrackLive: true, EncoderRunning: true}
}

func (s *stubSource) Start(_ context.Context, deliver func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = deliver
	return nil
}

func (s *stubSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *stubSource) push(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliver != nil && !s.stopped {
		s.deliver(make([]byte, n))
	}
}

type stubAcquirer struct {
	mic, sys *stubSource
}

func (a *stubAcquirer) Microphone(context.Context) (audio.Source, error) {
	if a.mic == nil {
		return nil, errors.New("no input device")
	}
	return a.mic, nil
}

func (a *stubAcquirer) System(context.Context) (audio.Source, error) { return a.sys, nil }

func newTestManager(t *testing.T, acq audio.Acquirer, mixer Mixer) (*Manager, *catalog.Catalog) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewWAVStore(dir)
	require.NoError(t, err)
	cat, err := catalog.Open(filepath.Join(dir, "recordings.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	rcfg := recorder.DefaultConfig()
	rcfg.SegmentDuration = time.Second
	rcfg.Monitor.Interval = 10 * time.Millisecond
	rec := recorder.New(rcfg, acq, recorder.WithStore(store))
	t.Cleanup(rec.Close)

	p := &Pipeline{Dir: dir, Tolerances: timeline.DefaultTolerances(), Gains: reconcile.DefaultOptions(), Mixer: mixer, Catalog: cat}
	m := New(Config{AutoMix: true, CheckpointInterval: 10 * time.Millisecond}, rec, p, cat)
	return m, cat
}

func TestManagerRecordsAndMixes(t *testing.T) {
	mic := &stubSource{dev: audio.Device{ID: "airpods", Name: "AirPods Pro"}}
	sys := &stubSource{dev: audio.Device{ID: "blackhole", Name: "BlackHole 2ch"}}
	mixer := &fakeMixer{}
	m, cat := newTestManager(t, &stubAcquirer{mic: mic, sys: sys}, mixer)
	ctx := context.Background()

	st, err := m.Start(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, st.Recording)

	rec, err := cat.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusRecording, rec.Status)

	mic.push(32000)
	sys.push(32000)
	require.Eventually(t, func() bool {
		segs, err := cat.Segments(ctx, "s1")
		return err == nil && len(segs) == 2
	}, 2*time.Second, 10*time.Millisecond, "segments should be checkpointed while recording")

	res, err := m.Stop(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Summary.Session.MicSegments, 1)
	assert.Len(t, res.Summary.Session.SystemSegments, 1)
	assert.Equal(t, catalog.StatusMixed, res.Outcome.Status)
	assert.Equal(t, 1, mixer.calls())

	info, err := storage.ReadInfo(res.Summary.Session.MicSegments[0].FilePath)
	require.NoError(t, err)
	assert.Equal(t, 16000, info.SampleRate)

	detail, err := m.Recording(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusMixed, detail.Status)
	assert.Len(t, detail.Segments, 2)

	list, err := m.Recordings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = m.Stop(ctx)
	assert.ErrorIs(t, err, recorder.ErrNotRecording)
	m.Close(ctx)
}

func TestManagerSystemOnlySession(t *testing.T) {
	sys := &stubSource{dev: audio.Device{ID: "blackhole", Name: "BlackHole 2ch"}}
	mixer := &fakeMixer{}
	m, _ := newTestManager(t, &stubAcquirer{sys: sys}, mixer)
	ctx := context.Background()

	st, err := m.Start(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, st.SystemOnly)

	sys.push(48000)
	res, err := m.Stop(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Summary.Session.MicSegments)
	assert.Len(t, res.Summary.Session.SystemSegments, 2)
	require.NotNil(t, res.Outcome.Plan)
	assert.Equal(t, reconcile.ModeSystemOnly, res.Outcome.Plan.Mode)
	m.Close(ctx)
}

func TestManagerCloseStopsActiveSession(t *testing.T) {
	sys := &stubSource{dev: audio.Device{ID: "blackhole", Name: "BlackHole 2ch"}}
	m, cat := newTestManager(t, &stubAcquirer{sys: sys}, &fakeMixer{})
	ctx := context.Background()

	_, err := m.Start(ctx, "s1")
	require.NoError(t, err)
	sys.push(32000)
	m.Close(ctx)

	assert.True(t, sys.stopped)
	rec, err := cat.Get(ctx, "s1")
	require.NoError(t, err)
	assert.NotEqual(t, catalog.StatusRecording, rec.Status)
}
