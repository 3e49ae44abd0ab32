// Package timeline checks that a finished recording's segments form a usable
// timeline before transcription or mixing.
package timeline

import (
	"fmt"
	"sort"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/session"
)

// Default tolerances in seconds.
const (
	DefaultGapTolerance      = 1.0
	DefaultCoverageTolerance = 0.5
)

// ErrNoSegments is returned when either stream has no segments.
var ErrNoSegments = apperrors.New(apperrors.CodeNoSegments, "session has no segments")

// GapError reports a mic discontinuity larger than the tolerance.
type GapError struct {
	Gap       float64
	Tolerance float64
	Before    string // segment IDs either side of the gap
	After     string
	At        float64 // session time where the gap starts
}

func (e *GapError) Error() string {
	return fmt.Sprintf("excessive gap of %.3fs at %.3fs (tolerance %.3fs)", e.Gap, e.At, e.Tolerance)
}

// Unwrap exposes the EXCESSIVE_GAP code to errors.Is and apperrors.CodeOf.
func (e *GapError) Unwrap() error {
	return apperrors.New(apperrors.CodeExcessiveGap, e.Error()).
		WithMetadata("gap", fmt.Sprintf("%.3f", e.Gap))
}

// CoverageError reports system audio ending before the mic timeline.
type CoverageError struct {
	MicEnd    float64
	SystemEnd float64
	Tolerance float64
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("system audio ends at %.3fs, %.3fs before mic end %.3fs (tolerance %.3fs)",
		e.SystemEnd, e.MicEnd-e.SystemEnd, e.MicEnd, e.Tolerance)
}

// Unwrap exposes the COVERAGE_SHORTFALL code.
func (e *CoverageError) Unwrap() error {
	return apperrors.New(apperrors.CodeCoverageShortfall, e.Error())
}

// Tolerances configures Validate.
type Tolerances struct {
	Gap      float64
	Coverage float64
}

// DefaultTolerances returns 1.0s gap and 0.5s coverage.
func DefaultTolerances() Tolerances {
	return Tolerances{Gap: DefaultGapTolerance, Coverage: DefaultCoverageTolerance}
}

// Report summarizes a valid timeline.
type Report struct {
	SessionID            string  `json:"sessionID"`
	MaxGap               float64 `json:"maxGap"`
	MicDuration          float64 `json:"micDuration"`
	SystemDuration       float64 `json:"systemDuration"`
	MicEnd               float64 `json:"micEnd"`
	SystemEnd            float64 `json:"systemEnd"`
	MicSegmentCount      int     `json:"micSegmentCount"`
	SystemSegmentCount   int     `json:"systemSegmentCount"`
	FallbackSegmentCount int     `json:"fallbackSegmentCount"`
	SilentSegmentCount   int     `json:"silentSegmentCount"`
}

// Validate checks s. It never modifies s and can be called repeatedly.
func Validate(s session.RecordingSession, tol Tolerances) (Report, error) {
	if len(s.MicSegments) == 0 || len(s.SystemSegments) == 0 {
		return Report{}, apperrors.Wrapf(ErrNoSegments, apperrors.CodeNoSegments,
			"mic=%d system=%d", len(s.MicSegments), len(s.SystemSegments)).WithMetadata("session", s.SessionID)
	}

	mic := SortByStart(s.MicSegments)
	sys := SortByStart(s.SystemSegments)

	r := Report{
		SessionID:          s.SessionID,
		MicSegmentCount:    len(mic),
		SystemSegmentCount: len(sys),
		MicDuration:        TotalDuration(mic),
		SystemDuration:     TotalDuration(sys),
		MicEnd:             spanEnd(mic),
		SystemEnd:          spanEnd(sys),
	}

	var widest *GapError
	for i := 1; i < len(mic); i++ {
		gap := mic[i].StartSessionTime - mic[i-1].EndSessionTime
		if gap > r.MaxGap {
			r.MaxGap = gap
			widest = &GapError{Gap: gap, Tolerance: tol.Gap, Before: mic[i-1].SegmentID, After: mic[i].SegmentID, At: mic[i-1].EndSessionTime}
		}
	}
	if widest != nil && r.MaxGap > tol.Gap {
		return r, widest
	}

	if r.SystemEnd+tol.Coverage < r.MicEnd {
		return r, &CoverageError{MicEnd: r.MicEnd, SystemEnd: r.SystemEnd, Tolerance: tol.Coverage}
	}

	primary := mic[0].DeviceID
	for _, seg := range mic {
		if IsFallback(seg, primary) {
			r.FallbackSegmentCount++
		}
		if seg.FailureReason == session.ReasonSourceSilent {
			r.SilentSegmentCount++
		}
	}
	return r, nil
}

// IsFallback reports whether seg came from a device other than the session's
// primary mic, or was captured while the primary had gone silent.
func IsFallback(seg session.AudioSegment, primaryDeviceID string) bool {
	switch seg.FailureReason {
	case session.ReasonSourceSilent, "airpods-mic-silent":
		return true
	}
	return seg.DeviceID != primaryDeviceID
}

// SortByStart returns a copy of segs ordered by start time.
func SortByStart(segs []session.AudioSegment) []session.AudioSegment {
	out := append([]session.AudioSegment(nil), segs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartSessionTime < out[j].StartSessionTime })
	return out
}

// TotalDuration sums segment durations.
func TotalDuration(segs []session.AudioSegment) float64 {
	var total float64
	for _, s := range segs {
		total += s.Duration()
	}
	return total
}

func spanEnd(segs []session.AudioSegment) float64 {
	var end float64
	for _, s := range segs {
		end = max(end, s.EndSessionTime)
	}
	return end
}
