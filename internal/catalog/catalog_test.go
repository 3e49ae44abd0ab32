package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/session"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "db", "recordings.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBeginFinishGet(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, c.Begin(ctx, "s1", "20240301_100000", started))
	rec, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusRecording, rec.Status)
	assert.Nil(t, rec.EndedAt)
	assert.True(t, rec.StartedAt.Equal(started))

	ended := started.Add(90 * time.Second)
	require.NoError(t, c.Finish(ctx, Recording{
		ID: "s1", Stamp: "20240301_100000", StartedAt: started, EndedAt: &ended,
		Status: StatusStopped, Duration: 90, MicSegments: 2, SystemSegments: 2, DeviceSwaps: 1,
		MetadataPath: "/rec/session_20240301_100000_metadata.json",
	}))

	rec, err = c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, rec.Status)
	require.NotNil(t, rec.EndedAt)
	assert.True(t, rec.EndedAt.Equal(ended))
	assert.Equal(t, 2, rec.MicSegments)
	assert.Equal(t, 1, rec.DeviceSwaps)
	assert.InDelta(t, 90, rec.Duration, 1e-9)
}

func TestGetMissing(t *testing.T) {
	c := openTest(t)
	_, err := c.Get(context.Background(), "nope")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	err = c.UpdateStatus(context.Background(), "nope", StatusInvalid, "")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestStatusTransitions(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	require.NoError(t, c.Begin(ctx, "s1", "stamp", time.Now()))

	require.NoError(t, c.UpdateStatus(ctx, "s1", StatusInvalid, "gap of 3.0s exceeds tolerance"))
	rec, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, rec.Status)
	assert.Contains(t, rec.Error, "gap")

	require.NoError(t, c.SetMixed(ctx, "s1", "/rec/mixed_stamp.wav"))
	rec, err = c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusMixed, rec.Status)
	assert.Equal(t, "/rec/mixed_stamp.wav", rec.MixedPath)
	assert.Empty(t, rec.Error)
}

func TestListNewestFirst(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.Begin(ctx, id, id, base.Add(time.Duration(i)*time.Hour)))
	}

	all, err := c.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	two, err := c.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestSegmentsCheckpointIsIdempotent(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	require.NoError(t, c.Begin(ctx, "s1", "stamp", time.Now()))

	segs := []session.AudioSegment{
		{SegmentID: "m1", Stream: session.StreamMic, Index: 1, DeviceName: "AirPods Pro", SampleRate: 24000,
			Channels: 1, StartSessionTime: 0, EndSessionTime: 60, FrameCount: 1440000, Quality: session.QualityMedium},
		{SegmentID: "s1", Stream: session.StreamSystem, Index: 1, SampleRate: 48000, Channels: 2,
			StartSessionTime: 0, EndSessionTime: 60, FrameCount: 2880000, Quality: session.QualityHigh},
	}
	require.NoError(t, c.AddSegments(ctx, "s1", segs))

	segs[0].FailureReason = session.ReasonSourceSilent
	require.NoError(t, c.AddSegments(ctx, "s1", segs[:1]))

	got, err := c.Segments(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, session.StreamMic, got[0].Stream)
	assert.Equal(t, session.ReasonSourceSilent, got[0].FailureReason)
	assert.Equal(t, session.QualityHigh, got[1].Quality)
	assert.InDelta(t, 60, got[1].EndSessionTime, 1e-9)
}

func TestLateCheckpointKeepsFailure(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	require.NoError(t, c.Begin(ctx, "s1", "stamp", time.Now()))

	checkpoint := session.AudioSegment{SegmentID: "m1", Stream: session.StreamMic, Index: 1, SampleRate: 48000,
		Channels: 1, StartSessionTime: 0, EndSessionTime: 30, FrameCount: 1440000, Quality: session.QualityHigh}
	final := checkpoint
	final.Quality = session.QualityFailed
	final.FailureReason = session.ReasonPersistFailed

	require.NoError(t, c.AddSegments(ctx, "s1", []session.AudioSegment{final}))
	require.NoError(t, c.AddSegments(ctx, "s1", []session.AudioSegment{checkpoint}))

	got, err := c.Segments(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, session.ReasonPersistFailed, got[0].FailureReason)
	assert.Equal(t, session.QualityFailed, got[0].Quality)
	assert.InDelta(t, 30, got[0].EndSessionTime, 1e-9)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recordings.sqlite")
	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Begin(context.Background(), "s1", "stamp", time.Now()))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Get(context.Background(), "s1")
	assert.NoError(t, err)
}
