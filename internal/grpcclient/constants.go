// Package grpcclient provides a client for the recorder's gRPC health service
package grpcclient

import "time"

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Health check configuration
	HealthCheckTimeout = 2 * time.Second
)

// Health service names registered by the server.
const (
	ServiceOverall = ""
	ServiceMic     = "recorder.mic"
	ServiceSystem  = "recorder.system"
)
