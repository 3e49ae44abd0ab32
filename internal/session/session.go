// Package session holds the recording data model shared by the recorder,
// the reconciler, the validator and the on-disk metadata format.
package session

import (
	"time"
)

// Stream identifies one of the two captured audio streams.
type Stream string

const (
	StreamMic    Stream = "mic"
	StreamSystem Stream = "system"
)

// Quality is a diagnostic classification of a segment's payload.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
	QualityFailed Quality = "failed"
)

// QualityForRate classifies a capture by its sample rate.
func QualityForRate(sampleRate float64) Quality {
	switch {
	case sampleRate >= 48000:
		return QualityHigh
	case sampleRate >= 24000:
		return QualityMedium
	case sampleRate > 0:
		return QualityLow
	default:
		return QualityFailed
	}
}

// Failure reasons attached to segments after creation.
const (
	ReasonSourceSilent  = "source-silent"
	ReasonPersistFailed = "persist-failed"
)

// AudioSegment describes one slice of one stream. Times are seconds from the
// session start, never wall-clock.
type AudioSegment struct {
	SegmentID        string  `json:"segmentID"`
	Stream           Stream  `json:"stream,omitempty"`
	Index            int     `json:"index"`
	FilePath         string  `json:"filePath"`
	DeviceName       string  `json:"deviceName"`
	DeviceID         string  `json:"deviceID"`
	SampleRate       float64 `json:"sampleRate"`
	Channels         int     `json:"channels"`
	StartSessionTime float64 `json:"startSessionTime"`
	EndSessionTime   float64 `json:"endSessionTime"`
	FrameCount       int64   `json:"frameCount"`
	ByteCount        int64   `json:"byteCount,omitempty"`
	Quality          Quality `json:"quality"`
	FailureReason    string  `json:"error,omitempty"`
}

// Duration is the segment length in seconds, clamped at zero.
func (s AudioSegment) Duration() float64 {
	return max(0, s.EndSessionTime-s.StartSessionTime)
}

// DeviceSwap records the microphone moving from one device to another.
type DeviceSwap struct {
	FromName    string  `json:"fromDeviceName"`
	FromID      string  `json:"fromDeviceID"`
	ToName      string  `json:"toDeviceName"`
	ToID        string  `json:"toDeviceID"`
	SessionTime float64 `json:"sessionTime"`
}

// RecordingSession is one recording from start to stop. Segment lists only
// grow while recording and are frozen once EndedAt is set.
type RecordingSession struct {
	SessionID      string         `json:"sessionID"`
	StartedAt      time.Time      `json:"sessionStartTime"`
	EndedAt        *time.Time     `json:"sessionEndTime,omitempty"`
	MicSegments    []AudioSegment `json:"micSegments"`
	SystemSegments []AudioSegment `json:"systemSegments"`
	DeviceSwaps    []DeviceSwap   `json:"deviceSwaps,omitempty"`
}

// Frozen reports whether the session has ended.
func (s *RecordingSession) Frozen() bool { return s.EndedAt != nil }

// Segments returns the segment list for a stream.
func (s *RecordingSession) Segments(stream Stream) []AudioSegment {
	if stream == StreamMic {
		return s.MicSegments
	}
	return s.SystemSegments
}

// Stamp is the timestamp used in file names belonging to this session.
func (s *RecordingSession) Stamp() string { return FileStamp(s.StartedAt) }

// Clone returns a deep copy safe to hand to another goroutine.
func (s RecordingSession) Clone() RecordingSession {
	out := s
	out.MicSegments = append([]AudioSegment(nil), s.MicSegments...)
	out.SystemSegments = append([]AudioSegment(nil), s.SystemSegments...)
	out.DeviceSwaps = append([]DeviceSwap(nil), s.DeviceSwaps...)
	if s.EndedAt != nil {
		end := *s.EndedAt
		out.EndedAt = &end
	}
	return out
}

// FileStamp formats t the way segment and metadata files are named.
func FileStamp(t time.Time) string { return t.Format("20060102_150405") }

// Summary is what stopping a recording returns.
type Summary struct {
	Session         RecordingSession `json:"session"`
	Duration        time.Duration    `json:"duration"`
	DeviceSwapCount int              `json:"deviceSwapCount"`
	SystemOnly      bool             `json:"systemOnly"`
}
