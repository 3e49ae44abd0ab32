// Package audio defines the audio source contract the recorder consumes and
// the device heuristics shared by the recorder and the mixer.
package audio

import (
	"context"
	"strings"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
)

// Device identifies a physical or logical capture device.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Format describes interleaved little-endian PCM.
type Format struct {
	SampleRate     int `json:"sampleRate"`
	Channels       int `json:"channels"`
	BytesPerSample int `json:"bytesPerSample"`
}

// FrameSize is the number of bytes in one frame across all channels.
func (f Format) FrameSize() int { return f.Channels * f.BytesPerSample }

// BytesPerSecond is the byte rate of the stream.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.FrameSize() }

// Seconds converts a byte count into stream time.
func (f Format) Seconds(n int64) float64 {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return float64(n) / float64(bps)
}

// Validate rejects formats the segment math cannot work with.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BytesPerSample <= 0 {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "invalid audio format %+v", f)
	}
	return nil
}

// SourceState is a point-in-time liveness snapshot of a source.
type SourceState struct {
	TrackLive      bool `json:"trackLive"`
	EncoderRunning bool `json:"encoderRunning"`
}

// Healthy requires both conditions: a track can stay live after its
// encoder has silently stopped.
func (s SourceState) Healthy() bool { return s.TrackLive && s.EncoderRunning }

// Source produces a continuous stream of PCM chunks.
//
// Start delivers chunks to deliver from the source's own goroutine until Stop
// is called. After Stop returns, deliver is never called again.
type Source interface {
	Device() Device
	Format() Format
	Start(ctx context.Context, deliver func([]byte)) error
	State() SourceState
	Stop() error
}

// Acquirer opens sources. Microphone returns whatever the OS currently
// considers the default input, so calling it again after a Bluetooth device
// disappears yields the fallback device.
type Acquirer interface {
	Microphone(ctx context.Context) (Source, error)
	System(ctx context.Context) (Source, error)
}

// Class groups devices by how they sound in a mix.
type Class int

const (
	ClassUnknown   Class = iota
	ClassNearField       // headset or earbud mic close to the mouth
	ClassBuiltIn         // laptop or webcam mic, far-field
	ClassLoopback        // virtual device carrying system output
)

func (c Class) String() string {
	return [...]string{"unknown", "near-field", "built-in", "loopback"}[c]
}

var (
	loopbackKeywords  = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower", "stereo mix"}
	nearFieldKeywords = []string{"airpods", "headset", "headphone", "bluetooth", "buds", "hands-free"}
	builtInKeywords   = []string{"built-in", "builtin", "macbook", "internal", "microphone array"}
	micKeywords       = []string{"microphone", "input", "mic"}
)

// Classify maps a device name to a Class.
func Classify(name string) Class {
	switch {
	case MatchesAny(name, loopbackKeywords):
		return ClassLoopback
	case MatchesAny(name, nearFieldKeywords):
		return ClassNearField
	case MatchesAny(name, builtInKeywords):
		return ClassBuiltIn
	default:
		return ClassUnknown
	}
}

// IsMicrophone reports whether a device name looks like a capture mic.
func IsMicrophone(name string) bool {
	c := Classify(name)
	return c == ClassNearField || c == ClassBuiltIn || MatchesAny(name, micKeywords) && c != ClassLoopback
}

// MatchesAny reports whether s contains any keyword, ignoring case.
func MatchesAny(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// DeviceID derives a stable identifier from a device name.
func DeviceID(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}
