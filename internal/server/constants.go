// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection rate limit for client WebSocket messages
	RateLimitMessages = 5
	RateLimitWindow   = time.Second

	// Outbound frames queued per WebSocket client before events are dropped
	ClientSendBuffer = 64
	WriteTimeout     = 5 * time.Second

	// Default page size for GET /api/recordings
	DefaultListLimit = 50
	MaxListLimit     = 500

	// Largest accepted request body
	MaxBodyBytes = 1 << 16
)
