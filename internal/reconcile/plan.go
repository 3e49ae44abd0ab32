// Package reconcile turns a finished session into a mix plan and realizes
// the plan with ffmpeg.
package reconcile

import (
	"strings"

	"github.com/ai-and-i/recorder/internal/audio"
	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/session"
	"github.com/ai-and-i/recorder/internal/timeline"
)

// Mode says which tracks the output is built from.
type Mode string

const (
	ModeMixed      Mode = "mixed"
	ModeMicOnly    Mode = "mic-only"
	ModeSystemOnly Mode = "system-only"
)

// DefaultSampleRate is used when no segment reports a rate.
const DefaultSampleRate = 48000

// Options holds the gain heuristics, in dB.
type Options struct {
	NearFieldGainDB      float64 // headset mics, close to the mouth
	FarFieldGainDB       float64 // built-in and unknown mics
	TelephonyGainDB      float64 // narrow-band captures
	SystemGainDB         float64 // system bed when every mic segment is near-field
	SystemFallbackGainDB float64 // system bed when a far-field mic was used
}

// DefaultOptions returns the gains used for meeting recordings.
func DefaultOptions() Options {
	return Options{
		NearFieldGainDB:      4,
		FarFieldGainDB:       6,
		TelephonyGainDB:      8,
		SystemGainDB:         -4,
		SystemFallbackGainDB: -8,
	}
}

// MicInput is one mic segment in concatenation order.
type MicInput struct {
	Segment   session.AudioSegment `json:"segment"`
	Class     string               `json:"deviceClass"`
	GainDB    float64              `json:"gainDB"`
	Telephony bool                 `json:"telephony"`
}

// SystemInput is one system segment placed on the output timeline.
type SystemInput struct {
	Segment session.AudioSegment `json:"segment"`
	DelayMs int64                `json:"delayMs"`
}

// Plan is everything needed to produce the mixed output.
type Plan struct {
	SessionID        string        `json:"sessionID"`
	Mode             Mode          `json:"mode"`
	TargetSampleRate int           `json:"targetSampleRate"`
	Mic              []MicInput    `json:"mic"`
	System           []SystemInput `json:"system"`
	SystemGainDB     float64       `json:"systemGainDB"`
	FallbackMic      bool          `json:"fallbackMic"`
	MicDuration      float64       `json:"micDuration"`
	SystemDuration   float64       `json:"systemDuration"`
	OutputDuration   float64       `json:"outputDuration"`
	Skipped          []string      `json:"skipped,omitempty"`
}

// Inputs returns input files in the order ffmpeg receives them.
func (p Plan) Inputs() []string {
	out := make([]string, 0, len(p.Mic)+len(p.System))
	for _, m := range p.Mic {
		out = append(out, m.Segment.FilePath)
	}
	for _, s := range p.System {
		out = append(out, s.Segment.FilePath)
	}
	return out
}

// BuildPlan derives a plan from s. Segments whose audio never reached disk
// are left out and listed in Skipped.
func BuildPlan(s session.RecordingSession, opt Options) (Plan, error) {
	p := Plan{SessionID: s.SessionID}

	mic, skippedMic := usable(s.MicSegments)
	sys, skippedSys := usable(s.SystemSegments)
	p.Skipped = append(skippedMic, skippedSys...)

	switch {
	case len(mic) > 0 && len(sys) > 0:
		p.Mode = ModeMixed
	case len(mic) > 0:
		p.Mode = ModeMicOnly
	case len(sys) > 0:
		p.Mode = ModeSystemOnly
	default:
		return p, apperrors.Wrapf(timeline.ErrNoSegments, apperrors.CodeNoSegments,
			"nothing to mix for session %s", s.SessionID)
	}

	for _, seg := range mic {
		class := audio.Classify(seg.DeviceName)
		in := MicInput{Segment: seg, Class: class.String(), GainDB: opt.FarFieldGainDB}
		switch {
		case isTelephony(seg):
			in.Telephony = true
			in.GainDB = opt.TelephonyGainDB
		case class == audio.ClassNearField:
			in.GainDB = opt.NearFieldGainDB
		}
		if class != audio.ClassNearField {
			p.FallbackMic = true
		}
		p.Mic = append(p.Mic, in)
		p.MicDuration += seg.Duration()
	}

	p.SystemGainDB = opt.SystemGainDB
	if p.FallbackMic {
		p.SystemGainDB = opt.SystemFallbackGainDB
	}
	if len(sys) > 0 {
		base := sys[0].StartSessionTime
		var end float64
		for _, seg := range sys {
			p.System = append(p.System, SystemInput{
				Segment: seg,
				DelayMs: int64((seg.StartSessionTime-base)*1000 + 0.5),
			})
			end = max(end, seg.EndSessionTime)
		}
		p.SystemDuration = end - base
	}

	p.OutputDuration = max(p.MicDuration, p.SystemDuration)
	p.TargetSampleRate = targetRate(mic, sys)
	return p, nil
}

func usable(segs []session.AudioSegment) ([]session.AudioSegment, []string) {
	var ok []session.AudioSegment
	var skipped []string
	for _, seg := range timeline.SortByStart(segs) {
		if seg.FailureReason == session.ReasonPersistFailed || seg.FilePath == "" || seg.Duration() <= 0 {
			skipped = append(skipped, seg.SegmentID)
			continue
		}
		ok = append(ok, seg)
	}
	return ok, skipped
}

func isTelephony(seg session.AudioSegment) bool {
	return seg.Quality == session.QualityLow || strings.Contains(strings.ToLower(seg.FailureReason), "telephony")
}

// targetRate is the highest rate among the inputs.
func targetRate(groups ...[]session.AudioSegment) int {
	best := 0
	for _, g := range groups {
		for _, seg := range g {
			best = max(best, int(seg.SampleRate))
		}
	}
	if best == 0 {
		return DefaultSampleRate
	}
	return best
}
