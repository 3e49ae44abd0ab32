// Package monitor watches a capture source and drives bounded recovery when
// it stops producing audio.
package monitor

import "time"

// State of the monitored source.
type State int

const (
	Healthy State = iota
	Unhealthy
	Recovering
	Exhausted
)

func (s State) String() string {
	return [...]string{"healthy", "unhealthy", "recovering", "exhausted"}[s]
}

// Status is the full machine state.
type Status struct {
	State          State     `json:"state"`
	Attempts       int       `json:"attempts"`
	LastAttempt    time.Time `json:"lastAttempt"`
	LastHealthy    time.Time `json:"lastHealthy"`
	UnhealthySince time.Time `json:"unhealthySince"`
}

// Limits bound recovery.
type Limits struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// InputKind distinguishes health ticks from recovery outcomes.
type InputKind int

const (
	Tick InputKind = iota
	RecoveryResult
)

// Input drives one transition. For Tick, OK is the health check result; for
// RecoveryResult it is whether the recovery attempt succeeded.
type Input struct {
	Kind InputKind
	OK   bool
	At   time.Time
}

// Action is what the driver must do after a transition.
type Action int

const (
	ActionNone Action = iota
	ActionRecover
	ActionGiveUp
)

func (a Action) String() string {
	return [...]string{"none", "recover", "give-up"}[a]
}

// Step computes the next status. It has no side effects.
func Step(st Status, in Input, lim Limits) (Status, Action) {
	switch in.Kind {
	case Tick:
		return stepTick(st, in, lim)
	case RecoveryResult:
		return stepResult(st, in, lim)
	}
	return st, ActionNone
}

func stepTick(st Status, in Input, lim Limits) (Status, Action) {
	switch st.State {
	case Recovering, Exhausted:
		return st, ActionNone
	}
	if in.OK {
		return Status{State: Healthy, LastHealthy: in.At}, ActionNone
	}

	if st.State == Healthy {
		st.UnhealthySince = in.At
	}
	if st.Attempts >= lim.MaxAttempts {
		st.State = Exhausted
		return st, ActionGiveUp
	}
	if st.Attempts > 0 && in.At.Sub(st.LastAttempt) < lim.Cooldown {
		st.State = Unhealthy
		return st, ActionNone
	}
	st.State = Recovering
	st.Attempts++
	st.LastAttempt = in.At
	return st, ActionRecover
}

func stepResult(st Status, in Input, lim Limits) (Status, Action) {
	if st.State != Recovering {
		return st, ActionNone
	}
	if in.OK {
		return Status{State: Healthy, LastHealthy: in.At}, ActionNone
	}
	if st.Attempts >= lim.MaxAttempts {
		st.State = Exhausted
		return st, ActionGiveUp
	}
	st.State = Unhealthy
	return st, ActionNone
}
