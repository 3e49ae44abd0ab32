package timeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/session"
)

func seg(id, device string, start, end float64) session.AudioSegment {
	return session.AudioSegment{SegmentID: id, DeviceID: device, DeviceName: device, StartSessionTime: start, EndSessionTime: end}
}

func TestValidateNoSegments(t *testing.T) {
	tests := []struct {
		name string
		s    session.RecordingSession
	}{
		{"empty", session.RecordingSession{}},
		{"no system", session.RecordingSession{MicSegments: []session.AudioSegment{seg("m", "a", 0, 1)}}},
		{"no mic", session.RecordingSession{SystemSegments: []session.AudioSegment{seg("s", "bh", 0, 1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.s, DefaultTolerances())
			assert.ErrorIs(t, err, ErrNoSegments)
			assert.Equal(t, apperrors.CodeNoSegments, apperrors.CodeOf(err))
		})
	}
}

func TestValidateReportsExactGap(t *testing.T) {
	s := session.RecordingSession{
		MicSegments:    []session.AudioSegment{seg("a", "mic", 0, 10), seg("b", "mic", 12.5, 20)},
		SystemSegments: []session.AudioSegment{seg("s", "bh", 0, 20)},
	}

	r, err := Validate(s, Tolerances{Gap: 1.0, Coverage: 0.5})

	var gapErr *GapError
	require.ErrorAs(t, err, &gapErr)
	assert.InDelta(t, 2.5, gapErr.Gap, 1e-9)
	assert.Equal(t, "a", gapErr.Before)
	assert.Equal(t, "b", gapErr.After)
	assert.InDelta(t, 2.5, r.MaxGap, 1e-9)
	assert.Equal(t, apperrors.CodeExcessiveGap, apperrors.CodeOf(err))
}

func TestValidateSmallSwapGapIsFallback(t *testing.T) {
	s := session.RecordingSession{
		MicSegments: []session.AudioSegment{
			seg("a", "airpods", 0, 180),
			seg("b", "builtin", 180.2, 360),
		},
		SystemSegments: []session.AudioSegment{seg("s", "bh", 0, 360)},
	}

	r, err := Validate(s, DefaultTolerances())

	require.NoError(t, err)
	assert.InDelta(t, 0.2, r.MaxGap, 1e-9)
	assert.GreaterOrEqual(t, r.FallbackSegmentCount, 1)
	assert.InDelta(t, 359.8, r.MicDuration, 1e-9)
	assert.InDelta(t, 360.0, r.SystemDuration, 1e-9)
}

func TestValidateSystemCoverageShortfall(t *testing.T) {
	s := session.RecordingSession{
		MicSegments:    []session.AudioSegment{seg("a", "airpods", 0, 180), seg("b", "airpods", 180.3, 360)},
		SystemSegments: []session.AudioSegment{seg("s", "bh", 0, 355)},
	}

	_, err := Validate(s, DefaultTolerances())

	var covErr *CoverageError
	require.ErrorAs(t, err, &covErr)
	assert.InDelta(t, 355, covErr.SystemEnd, 1e-9)
	assert.InDelta(t, 360, covErr.MicEnd, 1e-9)
	assert.Equal(t, apperrors.CodeCoverageShortfall, apperrors.CodeOf(err))
}

func TestValidateCoverageWithinTolerance(t *testing.T) {
	s := session.RecordingSession{
		MicSegments:    []session.AudioSegment{seg("a", "m", 0, 100)},
		SystemSegments: []session.AudioSegment{seg("s", "bh", 0, 99.6)},
	}
	_, err := Validate(s, DefaultTolerances())
	assert.NoError(t, err)
}

func TestValidateSortsUnorderedInput(t *testing.T) {
	s := session.RecordingSession{
		MicSegments: []session.AudioSegment{
			seg("c", "m", 20, 30), seg("a", "m", 0, 10), seg("b", "m", 10.5, 20),
		},
		SystemSegments: []session.AudioSegment{seg("s2", "bh", 15, 30), seg("s1", "bh", 0, 15)},
	}
	orig := append([]session.AudioSegment(nil), s.MicSegments...)

	r, err := Validate(s, DefaultTolerances())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, r.MaxGap, 1e-9)
	assert.Equal(t, orig, s.MicSegments, "input untouched")
}

func TestValidateIsIdempotent(t *testing.T) {
	s := session.RecordingSession{
		SessionID:      "x",
		MicSegments:    []session.AudioSegment{seg("a", "m", 0, 10), seg("b", "n", 10.1, 20)},
		SystemSegments: []session.AudioSegment{seg("s", "bh", 0, 20)},
	}
	r1, err1 := Validate(s, DefaultTolerances())
	r2, err2 := Validate(s, DefaultTolerances())
	assert.Equal(t, r1, r2)
	assert.Equal(t, err1, err2)
}

func TestValidateOverlapIsNotAGap(t *testing.T) {
	s := session.RecordingSession{
		MicSegments:    []session.AudioSegment{seg("a", "m", 0, 10), seg("b", "m", 9.8, 20)},
		SystemSegments: []session.AudioSegment{seg("s", "bh", 0, 20)},
	}
	r, err := Validate(s, DefaultTolerances())
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.MaxGap)
}

func TestIsFallback(t *testing.T) {
	assert.False(t, IsFallback(seg("a", "airpods", 0, 1), "airpods"))
	assert.True(t, IsFallback(seg("a", "builtin", 0, 1), "airpods"))

	silent := seg("a", "airpods", 0, 1)
	silent.FailureReason = session.ReasonSourceSilent
	assert.True(t, IsFallback(silent, "airpods"))
}

func TestGapErrorMatchesCode(t *testing.T) {
	err := error(&GapError{Gap: 3, Tolerance: 1})
	assert.True(t, errors.Is(err, apperrors.New(apperrors.CodeExcessiveGap, "")))
	assert.Contains(t, err.Error(), "3.000s")
}
