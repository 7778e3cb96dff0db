// r in rserial stands for "robust"
package rserial

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"sleepywoodpecker/sensor-stream/internal/sensor"
	"sleepywoodpecker/sensor-stream/internal/stream"
)

// A serial sensor hub streams every sensor it has over one port, one JSON frame per
// line: {"type":"android.sensor.gyroscope","values":[x,y,z],"timestamp":us}.
// Only frames for the requested sensor are delivered.

const DefaultBaudRate = 460800
const DefaultMaxFrameSize = 4096

var StopSequence byte = '\n'

type OutOfSyncError struct {
	ByteSequence []byte
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("[rserial] no stop sequence within %d bytes", len(e.ByteSequence))
}

// Opener opens the hub's serial port for one sensor. OpenPort defaults to serial.Open.
type Opener struct {
	PortName     string
	BaudRate     int
	MaxFrameSize int
	Logger       *zap.Logger
	OpenPort     func(portName string, mode *serial.Mode) (serial.Port, error)
}

func (o *Opener) Open(ctx context.Context, sensorType sensor.Type, handler stream.EventHandler, sinks ...stream.Sink) (stream.Client, error) {
	openPort := o.OpenPort
	if openPort == nil {
		openPort = serial.Open
	}

	baudRate := o.BaudRate
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}

	port, err := openPort(o.PortName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("%w: open serial port %s: %w", stream.ErrTransport, o.PortName, err)
	}

	// drop whatever the hub sent before we were listening
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: reset serial port %s: %w", stream.ErrTransport, o.PortName, err)
	}

	r := NewRSerial(port, o.PortName, sensorType, handler, o.Logger, o.MaxFrameSize, sinks...)
	r.Start(ctx)
	return r, nil
}

type rserial struct {
	port         io.ReadCloser
	reader       *bufio.Reader
	portName     string
	sensor       sensor.Type
	handler      stream.EventHandler
	sinks        []stream.Sink
	logger       *zap.Logger
	maxFrameSize int
	cancel       context.CancelFunc
	done         chan struct{}
	closeOnce    sync.Once
	closeErr     error
}

type hubFrame struct {
	Type string `json:"type"`
}

func NewRSerial(port io.ReadCloser, portName string, sensorType sensor.Type, handler stream.EventHandler, logger *zap.Logger, maxFrameSize int, sinks ...stream.Sink) *rserial {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	return &rserial{
		port:         port,
		reader:       bufio.NewReaderSize(port, maxFrameSize),
		portName:     portName,
		sensor:       sensorType,
		handler:      handler,
		sinks:        sinks,
		logger:       logger,
		maxFrameSize: maxFrameSize,
		done:         make(chan struct{}),
	}
}

func (r *rserial) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.Run(ctx)

	// a cancelled parent context tears the port down the same way Close does
	go func() {
		select {
		case <-ctx.Done():
			r.closePort()
		case <-r.done:
		}
	}()
}

func (r *rserial) Run(ctx context.Context) {
	defer close(r.done)

	if err := r.sync(); err != nil {
		r.handleReadError(ctx, err)
		return
	}
	r.emit(stream.Event{Kind: stream.EventOpened})

	for {
		frame, err := r.ReadFrame()
		if err != nil {
			var oosError *OutOfSyncError
			if errors.As(err, &oosError) {
				r.logger.Warn("[rserial] frame too long, resyncing", zap.Error(err), zap.String("portName", r.portName), zap.ByteString("payload", oosError.ByteSequence))
				if err := r.sync(); err != nil {
					r.handleReadError(ctx, err)
					return
				}
				continue
			}

			r.handleReadError(ctx, err)
			return
		}

		if ctx.Err() != nil {
			return
		}

		r.processFrame(frame)
	}
}

// ReadFrame returns the next line without its stop sequence.
func (r *rserial) ReadFrame() ([]byte, error) {
	line, err := r.reader.ReadSlice(StopSequence)
	if errors.Is(err, bufio.ErrBufferFull) {
		byteSequenceCopy := make([]byte, len(line))
		copy(byteSequenceCopy, line)
		return nil, &OutOfSyncError{ByteSequence: byteSequenceCopy}
	}
	if err != nil {
		return nil, err
	}

	return bytes.TrimRight(line, "\r\n"), nil
}

func (r *rserial) processFrame(frame []byte) {
	if len(bytes.TrimSpace(frame)) == 0 {
		return
	}

	var header hubFrame
	if err := json.Unmarshal(frame, &header); err == nil && header.Type != "" && header.Type != r.sensor.ID() {
		return
	}

	sample, err := sensor.Decode(frame)
	if err != nil {
		r.logger.Debug("[rserial] dropping malformed frame", zap.Error(err), zap.String("portName", r.portName), zap.ByteString("payload", frame))
		r.emitError(err)
		return
	}

	stream.Deliver(sample, r.sinks, r.emitError)
}

// sync discards bytes up to and including the next stop sequence, since we may have
// joined the hub in the middle of a frame.
func (r *rserial) sync() error {
	r.logger.Debug("[rserial] syncing serial port", zap.String("portName", r.portName))
	for {
		_, err := r.reader.ReadSlice(StopSequence)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return err
	}
}

func (r *rserial) handleReadError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		r.emit(stream.Event{Kind: stream.EventClosed, Reason: "closed by client"})
		return
	}

	if errors.Is(err, io.EOF) {
		r.emit(stream.Event{Kind: stream.EventClosed, Reason: "port reached end of stream"})
		return
	}

	r.emitError(fmt.Errorf("%w: read from %s: %w", stream.ErrTransport, r.portName, err))
	r.emit(stream.Event{Kind: stream.EventClosed, Reason: err.Error()})
}

func (r *rserial) Close() error {
	if r.cancel == nil {
		return nil
	}

	r.cancel()
	r.closePort()
	<-r.done
	return r.closeErr
}

func (r *rserial) closePort() {
	r.closeOnce.Do(func() {
		r.closeErr = r.port.Close()
	})
}

func (r *rserial) emitError(err error) {
	r.emit(stream.Event{Kind: stream.EventError, Err: err})
}

func (r *rserial) emit(event stream.Event) {
	event.Sensor = r.sensor
	event.Endpoint = r.portName
	if r.handler != nil {
		r.handler(event)
	}
}
