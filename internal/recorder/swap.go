package recorder

import (
	"context"
	"log/slog"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/monitor"
	"github.com/ai-and-i/recorder/internal/session"
)

// micTarget adapts an active session's microphone for the monitor.
type micTarget struct {
	r  *Recorder
	as *activeSession
}

func (t *micTarget) Healthy() bool {
	src := t.as.mic.Get()
	return src != nil && src.State().Healthy()
}

func (t *micTarget) Recover(ctx context.Context, st monitor.Status) error {
	return t.r.swapMic(ctx, t.as, st)
}

// swapMic replaces the session's microphone with the current default input.
// The mic buffer keeps going: the old device's run is cut and a new run
// starts at the session time the new device came up.
func (r *Recorder) swapMic(ctx context.Context, as *activeSession, st monitor.Status) error {
	if !as.swapping.TryAcquire() {
		return apperrors.New(apperrors.CodeInvalidState, "device swap already in progress")
	}
	defer as.swapping.Release()

	if old := as.mic.Swap(nil); old != nil {
		as.lostDevice.Set(old.Device())
		stopQuietly(old)
		if err := as.micBuf.Cut(); err != nil {
			return err
		}
		silentFrom := st.LastHealthy.Sub(as.startedAt).Seconds()
		if n := as.micBuf.FlagSince(silentFrom, session.ReasonSourceSilent); n > 0 {
			slog.Info("flagged segments captured while mic was silent", "session", as.id, "count", n, "since", silentFrom)
		}
	}
	from := as.lostDevice.Get()

	next, err := r.acq.Microphone(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeSourceUnavailable, "reacquire microphone")
	}
	if next.Format() != as.micBuf.Format() {
		stopQuietly(next)
		return apperrors.Newf(apperrors.CodeSourceUnavailable, "replacement mic format %+v does not match %+v",
			next.Format(), as.micBuf.Format())
	}

	at := r.sessionTime(as)
	if err := as.micBuf.Begin(next.Device(), at); err != nil {
		stopQuietly(next)
		return err
	}
	if err := next.Start(as.runCtx, feeder(as.micBuf)); err != nil {
		stopQuietly(next)
		return apperrors.Wrapf(err, apperrors.CodeSourceUnavailable, "start %s", next.Device().Name)
	}
	as.mic.Set(next)

	swap := session.DeviceSwap{
		FromName: from.Name, FromID: from.ID,
		ToName: next.Device().Name, ToID: next.Device().ID,
		SessionTime: at,
	}
	as.swaps.Write(func(s *[]session.DeviceSwap) { *s = append(*s, swap) })

	slog.Info("microphone swapped", "session", as.id, "from", from.Name, "to", swap.ToName, "at", at)
	r.publish(Event{Type: EventDeviceSwap, SessionID: as.id, Stream: session.StreamMic, Swap: &swap})
	return nil
}
