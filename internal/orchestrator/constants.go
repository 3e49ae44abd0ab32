// Package orchestrator ties the recorder to everything that happens after a
// session ends: metadata persistence, timeline validation, mixing and the
// recordings catalog.
package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// Segment checkpoint batching
	DefaultCheckpointMaxSize    = 50
	DefaultCheckpointFlushDelay = 5 * time.Second

	// Recorder event subscription used to feed checkpoints
	DefaultEventBuffer = 64

	// Upper bound for the stop pipeline after the recorder has stopped
	StopPipelineTimeout = 10 * time.Minute
)
