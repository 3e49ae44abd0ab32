package resilience

import "time"

// Circuit breaker configuration constants
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Segment persistence: a disk that failed three writes in a row is
	// probably full or unmounted; try again after a few segments.
	PersistThreshold         = 3
	PersistResetTimeout      = 15 * time.Second
	PersistHalfOpenSuccesses = 1
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string        // used in logs
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// PersistConfig returns settings for the segment persistence worker.
func PersistConfig(name string) Config {
	return Config{
		Name:              name,
		Threshold:         PersistThreshold,
		ResetTimeout:      PersistResetTimeout,
		HalfOpenSuccesses: PersistHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
