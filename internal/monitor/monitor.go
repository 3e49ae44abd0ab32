package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/ai-and-i/recorder/internal/syncx"
)

// Target is the monitored source.
type Target interface {
	// Healthy reports whether the source is live and its encoder running.
	Healthy() bool
	// Recover swaps in a replacement source. st is the status at the moment
	// recovery began.
	Recover(ctx context.Context, st Status) error
}

// Config configures a Monitor.
type Config struct {
	Interval time.Duration
	Limits
	// Debounce drops device-change notifications that arrive within this
	// window of the previous one.
	Debounce time.Duration
	// MaxNotifications within NotifyWindow; beyond that, notifications are
	// ignored and only the regular tick runs.
	MaxNotifications int
	NotifyWindow     time.Duration
}

// DefaultConfig returns polling every 2s with 3 attempts 5s apart.
func DefaultConfig() Config {
	return Config{
		Interval:         2 * time.Second,
		Limits:           Limits{MaxAttempts: 3, Cooldown: 5 * time.Second},
		Debounce:         time.Second,
		MaxNotifications: 3,
		NotifyWindow:     10 * time.Second,
	}
}

// Monitor polls a Target and runs the recovery state machine.
type Monitor struct {
	cfg      Config
	target   Target
	now      func() time.Time
	onChange func(prev, next Status, act Action)

	status   *syncx.RWGuard[Status]
	inflight syncx.Flag
	notify   chan struct{}
	notes    *syncx.RWGuard[[]time.Time]
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// WithHook is called after every transition that changes state or requires
// an action.
func WithHook(fn func(prev, next Status, act Action)) Option {
	return func(m *Monitor) { m.onChange = fn }
}

// New creates a monitor in the Healthy state.
func New(cfg Config, target Target, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:    cfg,
		target: target,
		now:    time.Now,
		notify: make(chan struct{}, 1),
		notes:  syncx.NewGuard[[]time.Time](nil),
	}
	for _, o := range opts {
		o(m)
	}
	m.status = syncx.NewGuard(Status{State: Healthy, LastHealthy: m.now()})
	return m
}

// Status returns a snapshot.
func (m *Monitor) Status() Status { return m.status.Get() }

// Run polls until ctx is done or recovery is exhausted.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-m.notify:
		}
		m.Check(ctx)
		if m.Status().State == Exhausted {
			return
		}
	}
}

// Notify hints that the OS reported a device change. The hint triggers an
// early check unless it is debounced or rate limited.
func (m *Monitor) Notify() {
	now := m.now()
	accepted := false
	m.notes.Write(func(notes *[]time.Time) {
		recent := (*notes)[:0]
		for _, t := range *notes {
			if now.Sub(t) < m.cfg.NotifyWindow {
				recent = append(recent, t)
			}
		}
		*notes = recent
		if n := len(recent); n > 0 && now.Sub(recent[n-1]) < m.cfg.Debounce {
			return
		}
		if m.cfg.MaxNotifications > 0 && len(recent) >= m.cfg.MaxNotifications {
			slog.Info("device changes too frequent, holding current source", "window", m.cfg.NotifyWindow)
			return
		}
		*notes = append(*notes, now)
		accepted = true
	})
	if !accepted {
		return
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Check runs one health check and, if needed, one recovery attempt. Calls
// made while a check is in flight return immediately.
func (m *Monitor) Check(ctx context.Context) {
	if !m.inflight.TryAcquire() {
		return
	}
	defer m.inflight.Release()

	st, act := m.apply(Input{Kind: Tick, OK: m.target.Healthy(), At: m.now()})
	if act != ActionRecover {
		return
	}

	slog.Info("source unhealthy, attempting recovery", "attempt", st.Attempts, "max", m.cfg.MaxAttempts)
	err := m.target.Recover(ctx, st)
	if err != nil {
		slog.Warn("recovery attempt failed", "attempt", st.Attempts, "error", err)
	}
	if next, act := m.apply(Input{Kind: RecoveryResult, OK: err == nil, At: m.now()}); act == ActionGiveUp {
		slog.Warn("recovery exhausted, continuing without this source", "attempts", next.Attempts)
	}
}

func (m *Monitor) apply(in Input) (Status, Action) {
	var prev, next Status
	var act Action
	m.status.Write(func(st *Status) {
		prev = *st
		next, act = Step(prev, in, m.cfg.Limits)
		*st = next
	})
	if m.onChange != nil && (prev.State != next.State || act != ActionNone) {
		m.onChange(prev, next, act)
	}
	return next, act
}
