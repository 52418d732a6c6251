// Package adapter defines the model-server client contract. An adapter
// performs the wire exchange for one request and reports token arrivals
// as a bounded stream of timestamped events.
package adapter

import (
	"context"
	"time"

	"inferload/internal/datagen"
)

// EventKind discriminates token stream events.
type EventKind int

const (
	// EventToken marks the arrival of one output token (or chunk).
	EventToken EventKind = iota
	// EventDone terminates a successful stream and carries final counts.
	EventDone
	// EventError terminates a failed stream.
	EventError
)

// Event is one timestamped occurrence within a request's lifetime.
type Event struct {
	Kind EventKind
	At   time.Time

	// Set on EventDone.
	InputTokens  int
	OutputTokens int

	// Set on EventError.
	Err error
}

// Client is the model-server adapter. Stream issues the request and
// returns a channel of events ending in exactly one EventDone or
// EventError. Implementations must honor ctx cancellation and the
// ctx deadline as a cooperative timeout.
type Client interface {
	Stream(ctx context.Context, req datagen.Request) <-chan Event
}
