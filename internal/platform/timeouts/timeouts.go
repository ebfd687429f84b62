// Package timeouts defines shared timeout constants used across the chat
// client and broker. Centralizing these values prevents drift between the
// transport, session, and broker layers and makes the durations discoverable.
package timeouts

import "time"

// EchoWindow bounds how long an optimistic local message waits to be matched
// against its server echo. An echo arriving after the window is treated as a
// new message.
const EchoWindow = 5 * time.Second

// Dial caps the wait time when dialing the broker websocket.
const Dial = 5 * time.Second

// ReadHeader limits how long the broker HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the broker waits for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second
