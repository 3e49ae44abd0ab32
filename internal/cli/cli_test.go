package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-and-i/recorder/internal/audio"
	"github.com/ai-and-i/recorder/internal/catalog"
	"github.com/ai-and-i/recorder/internal/config"
	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/segment"
	"github.com/ai-and-i/recorder/internal/session"
	"github.com/ai-and-i/recorder/internal/storage"
)

var pcm16k = audio.Format{SampleRate: 16000, Channels: 1, BytesPerSample: 2}

type fixture struct {
	dir   string
	store *storage.WAVStore
	cfg   *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewWAVStore(dir)
	require.NoError(t, err)
	cfg := config.Defaults()
	cfg.RecordingsDir = dir
	cfg.CatalogPath = filepath.Join(dir, "recordings.sqlite")
	return &fixture{dir: dir, store: store, cfg: cfg}
}

// writeSegment encodes a silent WAV for seg and returns seg with its path
// and frame count filled in.
func (f *fixture) writeSegment(t *testing.T, stamp string, seg session.AudioSegment) session.AudioSegment {
	t.Helper()
	seg.FilePath = f.store.Path(stamp, seg.Stream, seg.Index)
	seg.SampleRate = float64(pcm16k.SampleRate)
	seg.Channels = pcm16k.Channels
	seg.FrameCount = int64(seg.Duration() * float64(pcm16k.SampleRate))
	data := make([]byte, seg.FrameCount*int64(pcm16k.FrameSize()))
	require.NoError(t, f.store.Write(context.Background(), segment.Segment{AudioSegment: seg, Format: pcm16k, Data: data}))
	return seg
}

// addSession writes a session with one mic segment per [start, end] pair
// and a single system segment covering the whole span.
func (f *fixture) addSession(t *testing.T, startedAt time.Time, mic [][2]float64) session.RecordingSession {
	t.Helper()
	stamp := session.FileStamp(startedAt)
	s := session.RecordingSession{SessionID: "sess-" + stamp, StartedAt: startedAt}
	end := 0.0
	for i, span := range mic {
		s.MicSegments = append(s.MicSegments, f.writeSegment(t, stamp, session.AudioSegment{
			SegmentID: fmt.Sprintf("m%s-%d", stamp, i+1), Stream: session.StreamMic, Index: i + 1,
			DeviceName: "AirPods Pro", DeviceID: "airpods",
			StartSessionTime: span[0], EndSessionTime: span[1], Quality: session.QualityLow,
		}))
		end = span[1]
	}
	s.SystemSegments = append(s.SystemSegments, f.writeSegment(t, stamp, session.AudioSegment{
		SegmentID: "s" + stamp, Stream: session.StreamSystem, Index: 1,
		DeviceName: "BlackHole 2ch", DeviceID: "blackhole",
		StartSessionTime: 0, EndSessionTime: end, Quality: session.QualityLow,
	}))
	ended := startedAt.Add(time.Duration(end * float64(time.Second)))
	s.EndedAt = &ended
	require.NoError(t, storage.SaveSession(storage.MetadataPath(f.dir, stamp), s))
	return s
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(&Dependencies{Config: f.cfg, Out: &out})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// fakeFFmpeg writes a non-empty file at the last argument.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done; printf 'RIFFdata' > \"$last\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

var (
	t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 = time.Date(2025, 3, 1, 11, 30, 0, 0, time.UTC)
)

func TestSessionsListsPending(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, t0, [][2]float64{{0, 1}})
	f.addSession(t, t1, [][2]float64{{0, 1}})
	require.NoError(t, os.WriteFile(storage.MixedPath(f.dir, session.FileStamp(t0)), []byte("RIFF"), 0o644))

	out, err := f.run(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "20250301_100000")
	assert.Contains(t, out, "20250301_113000")

	out, err = f.run(t, "sessions", "--pending", "--json")
	require.NoError(t, err)
	var files []storage.SessionFile
	require.NoError(t, json.Unmarshal([]byte(out), &files))
	require.Len(t, files, 1)
	assert.Equal(t, "20250301_113000", files[0].Stamp)
}

func TestSessionsEmptyDir(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found")
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, t0, [][2]float64{{0, 1}, {1, 2}})
	f.addSession(t, t1, [][2]float64{{0, 1}, {3, 4}})

	out, err := f.run(t, "validate", "20250301_100000")
	require.NoError(t, err)
	assert.Contains(t, out, "timeline ok")

	out, err = f.run(t, "validate", storage.MetadataPath(f.dir, "20250301_113000"))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeExcessiveGap, apperrors.CodeOf(err))
	assert.Contains(t, out, "max gap   2.00s")

	out, err = f.run(t, "validate", "--gap-tolerance", "2.5", "20250301_113000")
	require.NoError(t, err)
	assert.Contains(t, out, "timeline ok")
}

func TestValidateMissingSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "validate", "20000101_000000")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestPlanPrintsFilterGraph(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, t0, [][2]float64{{0, 1}})

	out, err := f.run(t, "plan", "20250301_100000")
	require.NoError(t, err)
	assert.Contains(t, out, "amix=inputs=2")
	assert.Contains(t, out, "mixed_20250301_100000.wav")
	// Low-quality captures take the telephony path.
	assert.Contains(t, out, "telephony=true")
}

func TestInspect(t *testing.T) {
	f := newFixture(t)
	s := f.addSession(t, t0, [][2]float64{{0, 1}})

	out, err := f.run(t, "inspect", "20250301_100000")
	require.NoError(t, err)
	assert.Contains(t, out, "2 segments, 0 with problems")

	// Metadata claiming a longer segment than the file holds.
	s.MicSegments[0].EndSessionTime = 1.5
	s.MicSegments[0].FrameCount = 24000
	require.NoError(t, storage.SaveSession(storage.MetadataPath(f.dir, "20250301_100000"), s))

	out, err = f.run(t, "inspect", "20250301_100000")
	require.NoError(t, err)
	assert.Contains(t, out, "2 segments, 1 with problems")
	assert.Contains(t, out, "16000 frames, metadata says 24000")
}

func TestMix(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, t0, [][2]float64{{0, 1}})

	out, err := f.run(t, "mix", "--ffmpeg", fakeFFmpeg(t), "--catalog", "", "20250301_100000")
	require.NoError(t, err)
	assert.Contains(t, out, "mixed")
	assert.FileExists(t, storage.MixedPath(f.dir, "20250301_100000"))
}

func TestMixRefusesInvalidTimeline(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, t0, [][2]float64{{0, 1}, {3, 4}})
	ffmpeg := fakeFFmpeg(t)

	_, err := f.run(t, "mix", "--ffmpeg", ffmpeg, "--catalog", "", "20250301_100000")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeExcessiveGap, apperrors.CodeOf(err))
	assert.NoFileExists(t, storage.MixedPath(f.dir, "20250301_100000"))

	_, err = f.run(t, "mix", "--ffmpeg", ffmpeg, "--catalog", "", "--force", "20250301_100000")
	require.NoError(t, err)
	assert.FileExists(t, storage.MixedPath(f.dir, "20250301_100000"))
}

func TestMixFailure(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, t0, [][2]float64{{0, 1}})

	out, err := f.run(t, "mix", "--ffmpeg", filepath.Join(t.TempDir(), "no-such-ffmpeg"), "--catalog", "", "20250301_100000")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMixFailed, apperrors.CodeOf(err))
	assert.Contains(t, out, "fallback: ")
}

func TestRecoverDryRun(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, t0, [][2]float64{{0, 1}})

	out, err := f.run(t, "recover", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "session_20250301_100000_metadata.json")
	assert.NoFileExists(t, storage.MixedPath(f.dir, "20250301_100000"))
}

func TestRecoverMixesAndCatalogs(t *testing.T) {
	f := newFixture(t)
	s0 := f.addSession(t, t0, [][2]float64{{0, 1}})
	s1 := f.addSession(t, t1, [][2]float64{{0, 1}})

	_, err := f.run(t, "recover", "--ffmpeg", fakeFFmpeg(t))
	require.NoError(t, err)
	assert.FileExists(t, storage.MixedPath(f.dir, "20250301_100000"))
	assert.FileExists(t, storage.MixedPath(f.dir, "20250301_113000"))

	cat, err := catalog.Open(f.cfg.CatalogPath)
	require.NoError(t, err)
	defer cat.Close()
	for _, s := range []session.RecordingSession{s0, s1} {
		rec, err := cat.Get(context.Background(), s.SessionID)
		require.NoError(t, err)
		assert.Equal(t, catalog.StatusMixed, rec.Status)
	}

	out, err := f.run(t, "recover")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to recover")
}
