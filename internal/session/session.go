// Package session ties one sensor's stream, buffer, window and store together and
// switches between sensors without letting samples from the old stream reach the
// new one.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sleepywoodpecker/sensor-stream/internal/metrics"
	"sleepywoodpecker/sensor-stream/internal/processing"
	"sleepywoodpecker/sensor-stream/internal/sensor"
	"sleepywoodpecker/sensor-stream/internal/stream"
)

type State int

const (
	Idle State = iota
	Starting
	Active
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Store is the durable record store of one sensor.
type Store interface {
	processing.BatchWriter
	EnsureInitialized() error
}

type StoreFactory func(sensorType sensor.Type) Store

type Options struct {
	BufferSize   int
	WindowRetain int
	Metrics      *metrics.Metrics
}

// Session owns everything that belongs to the active sensor. Control operations
// (Start, Stop, SwitchTo) are serialized; Snapshot and CurrentSensorType may be
// called concurrently with them.
type Session struct {
	opener   stream.Opener
	newStore StoreFactory
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics

	controlMu sync.Mutex
	client    stream.Client
	buffer    *processing.AccumulationBuffer
	streaming sensor.Type

	// guards what the display side reads
	viewMu  sync.RWMutex
	state   State
	current sensor.Type
	window  *processing.RollingWindow
}

func New(opener stream.Opener, newStore StoreFactory, opts Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = processing.DefaultBufferSize
	}

	return &Session{
		opener:   opener,
		newStore: newStore,
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		window:   processing.NewRollingWindow(opts.WindowRetain),
	}
}

// Start opens a stream for sensorType. It is a no-op unless the session is idle.
// A failed connection attempt is reported and logged but leaves the session
// active with an empty window; a store that cannot be initialized leaves it idle.
func (s *Session) Start(ctx context.Context, sensorType sensor.Type) error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	return s.startLocked(ctx, sensorType)
}

// Stop closes the stream and discards the buffer. Samples accumulated since the
// last threshold flush are dropped, not written. Stop on an idle session is a no-op.
func (s *Session) Stop() error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	return s.stopLocked()
}

// SwitchTo stops the current stream and starts one for next. The window visible to
// Snapshot is replaced before the old stream is torn down, so no sample of the old
// sensor is returned once the switch has begun.
func (s *Session) SwitchTo(ctx context.Context, next sensor.Type) error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	previous := s.CurrentSensorType()
	s.logger.Info("[session] switching sensor", zap.Stringer("from", previous), zap.Stringer("to", next))

	s.viewMu.Lock()
	old := s.window
	s.window = processing.NewRollingWindow(s.opts.WindowRetain)
	s.current = next
	s.viewMu.Unlock()

	stopErr := s.stopLocked()

	// the old client has exited, nothing writes to the old window any more
	old.Clear()

	if err := s.startLocked(ctx, next); err != nil {
		// nothing is streaming for next, keep reporting the sensor we left
		s.viewMu.Lock()
		s.current = previous
		s.viewMu.Unlock()
		return multierr.Append(stopErr, err)
	}

	s.metrics.Switched()
	return stopErr
}

// SwitchNext moves on to the sensor after the current one.
func (s *Session) SwitchNext(ctx context.Context) error {
	return s.SwitchTo(ctx, s.CurrentSensorType().Next())
}

// Snapshot returns the last limit samples of the active sensor.
func (s *Session) Snapshot(limit int) processing.Snapshot {
	s.viewMu.RLock()
	window := s.window
	s.viewMu.RUnlock()

	snap := window.Snapshot(limit)
	s.metrics.SetWindowLength(window.Len())
	return snap
}

func (s *Session) CurrentSensorType() sensor.Type {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()

	return s.current
}

func (s *Session) State() State {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()

	return s.state
}

// BufferedLen is the number of samples waiting for the next flush.
func (s *Session) BufferedLen() int {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	if s.buffer == nil {
		return 0
	}
	return s.buffer.Len()
}

func (s *Session) startLocked(ctx context.Context, sensorType sensor.Type) error {
	if state := s.State(); state != Idle {
		s.logger.Debug("[session] start ignored", zap.Stringer("state", state), zap.Stringer("sensor", sensorType))
		return nil
	}
	s.setState(Starting)

	store := s.newStore(sensorType)
	if err := store.EnsureInitialized(); err != nil {
		s.logger.Error("[session] error initializing store", zap.Error(err), zap.Stringer("sensor", sensorType))
		s.setState(Idle)
		return err
	}

	buffer := processing.NewAccumulationBuffer(s.opts.BufferSize, &countingWriter{
		writer:  store,
		sensor:  sensorType,
		metrics: s.metrics,
	})
	window := processing.NewRollingWindow(s.opts.WindowRetain)

	s.viewMu.Lock()
	s.window = window
	s.current = sensorType
	s.viewMu.Unlock()
	s.buffer = buffer
	s.streaming = sensorType

	client, err := s.opener.Open(ctx, sensorType, s.handleEvent, window, buffer, &sampleCounter{sensor: sensorType, metrics: s.metrics})
	if err != nil {
		s.handleEvent(stream.Event{Kind: stream.EventError, Sensor: sensorType, Err: err})
		client = nil
	}
	s.client = client

	s.setState(Active)
	s.logger.Info("[session] started", zap.Stringer("sensor", sensorType), zap.Int("bufferSize", s.opts.BufferSize))
	return nil
}

func (s *Session) stopLocked() error {
	state := s.State()
	if state != Active && state != Starting {
		s.logger.Debug("[session] stop ignored", zap.Stringer("state", state))
		return nil
	}
	s.setState(Stopping)

	var err error
	if s.client != nil {
		// blocks until the receive goroutine has exited
		err = s.client.Close()
		s.client = nil
	}

	if s.buffer != nil {
		if dropped := s.buffer.Len(); dropped > 0 {
			s.logger.Info("[session] discarding unflushed samples", zap.Int("dropped", dropped), zap.Stringer("sensor", s.streaming))
		}
		s.buffer = nil
	}

	s.setState(Idle)
	s.logger.Info("[session] stopped", zap.Stringer("sensor", s.streaming))
	return err
}

func (s *Session) setState(state State) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()

	s.state = state
}

// handleEvent runs on the client's receive goroutine; it must not take controlMu,
// which Stop holds while it waits for that goroutine to exit.
func (s *Session) handleEvent(event stream.Event) {
	s.metrics.ConnectionEvent(event.Sensor, event.Kind.String())

	switch event.Kind {
	case stream.EventOpened:
		s.logger.Info("[session] connected", zap.Stringer("sensor", event.Sensor), zap.String("endpoint", event.Endpoint))
	case stream.EventClosed:
		s.logger.Info("[session] connection closed", zap.Stringer("sensor", event.Sensor), zap.Int("code", event.Code), zap.String("reason", event.Reason))
	case stream.EventError:
		switch {
		case errors.Is(event.Err, sensor.ErrDecode):
			s.metrics.DecodeError(event.Sensor)
			s.logger.Warn("[session] dropped malformed message", zap.Error(event.Err), zap.Stringer("sensor", event.Sensor))
		case errors.Is(event.Err, processing.ErrStorage):
			s.logger.Error("[session] error flushing samples", zap.Error(event.Err), zap.Stringer("sensor", event.Sensor))
		default:
			s.metrics.TransportError(event.Sensor)
			s.logger.Warn("[session] stream error", zap.Error(event.Err), zap.Stringer("sensor", event.Sensor), zap.String("endpoint", event.Endpoint))
		}
	}
}

type countingWriter struct {
	writer  processing.BatchWriter
	sensor  sensor.Type
	metrics *metrics.Metrics
}

func (c *countingWriter) AppendBatch(samples []sensor.Sample) error {
	if err := c.writer.AppendBatch(samples); err != nil {
		c.metrics.FlushFailed(c.sensor)
		if !errors.Is(err, processing.ErrStorage) {
			err = fmt.Errorf("%w: %w", processing.ErrStorage, err)
		}
		return err
	}

	c.metrics.Flushed(c.sensor, len(samples))
	return nil
}

type sampleCounter struct {
	sensor  sensor.Type
	metrics *metrics.Metrics
}

func (c *sampleCounter) Append(sensor.Sample) error {
	c.metrics.SampleReceived(c.sensor)
	return nil
}
