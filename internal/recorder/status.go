package recorder

import (
	"time"

	"github.com/ai-and-i/recorder/internal/audio"
	"github.com/ai-and-i/recorder/internal/segment"
	"github.com/ai-and-i/recorder/internal/session"
)

// Status is a snapshot of the recorder.
type Status struct {
	Recording    bool                 `json:"recording"`
	SessionID    string               `json:"sessionId,omitempty"`
	StartedAt    *time.Time           `json:"startedAt,omitempty"`
	Elapsed      float64              `json:"elapsed"`
	SystemOnly   bool                 `json:"systemOnly"`
	MicDevice    audio.Device         `json:"micDevice"`
	SystemDevice audio.Device         `json:"systemDevice"`
	MicHealth    string               `json:"micHealth,omitempty"`
	Mic          segment.Stats        `json:"mic"`
	System       segment.Stats        `json:"system"`
	DeviceSwaps  []session.DeviceSwap `json:"deviceSwaps,omitempty"`
}

// Status reports the active session, or Recording false when idle.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	as := r.active
	r.mu.Unlock()
	if as == nil {
		return Status{}
	}

	startedAt := as.startedAt
	st := Status{
		Recording:    true,
		SessionID:    as.id,
		StartedAt:    &startedAt,
		Elapsed:      r.sessionTime(as),
		SystemOnly:   as.micBuf == nil,
		MicDevice:    r.micDevice(as),
		SystemDevice: deviceOf(as.sys),
		DeviceSwaps:  as.swaps.Get(),
	}
	if as.micBuf != nil {
		st.Mic = as.micBuf.Stats()
	}
	if as.sysBuf != nil {
		st.System = as.sysBuf.Stats()
	}
	if as.monitor != nil {
		st.MicHealth = as.monitor.Status().State.String()
	}
	return st
}
