// Package stream holds the contract shared by every sensor transport: where decoded
// samples go, which lifecycle events a connection reports, and how a connection is
// opened and torn down.
package stream

import (
	"context"
	"errors"

	"sleepywoodpecker/sensor-stream/internal/sensor"
)

var ErrTransport = errors.New("transport error")

// Sink receives every decoded sample. Append is called from the client's receive
// goroutine, so implementations must be safe for concurrent use.
type Sink interface {
	Append(sample sensor.Sample) error
}

type EventKind int

const (
	EventOpened EventKind = iota
	EventClosed
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind     EventKind
	Sensor   sensor.Type
	Endpoint string
	Code     int    // close code, EventClosed only
	Reason   string // close reason, EventClosed only
	Err      error  // EventError only
}

// EventHandler runs on the client's receive goroutine. It must not call Close on
// the client that reported the event.
type EventHandler func(Event)

// Client is the handle of one live connection. Close stops the receive goroutine
// and only returns once it has exited; no sink is called after that. Close is
// idempotent.
type Client interface {
	Close() error
}

// Opener starts a connection for one sensor. Open returns as soon as the receive
// goroutine is running; connection establishment may complete later and is
// reported through the handler.
type Opener interface {
	Open(ctx context.Context, sensorType sensor.Type, handler EventHandler, sinks ...Sink) (Client, error)
}

// Deliver hands one sample to every sink and reports sink failures as error events.
func Deliver(sample sensor.Sample, sinks []Sink, report func(error)) {
	for _, sink := range sinks {
		if err := sink.Append(sample); err != nil {
			report(err)
		}
	}
}
