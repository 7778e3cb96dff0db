package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sleepywoodpecker/sensor-stream/internal/sensor"
)

const DefaultPath = "/sensor/connect"
const maxMessageSize = 64 * 1024
const closeWriteTimeout = time.Second

// WebSocketOpener addresses a sensor as ws://<Address><Path>?type=<sensor id>.
type WebSocketOpener struct {
	Address string
	Path    string
	Dialer  *websocket.Dialer
	Logger  *zap.Logger
}

func (o *WebSocketOpener) Endpoint(sensorType sensor.Type) string {
	path := o.Path
	if path == "" {
		path = DefaultPath
	}

	endpoint := url.URL{Scheme: "ws", Host: o.Address, Path: path}
	if parsed, err := url.Parse(o.Address); err == nil && strings.Contains(o.Address, "://") {
		endpoint.Scheme = parsed.Scheme
		endpoint.Host = parsed.Host
	}

	endpoint.RawQuery = url.Values{"type": []string{sensorType.ID()}}.Encode()
	return endpoint.String()
}

func (o *WebSocketOpener) Open(ctx context.Context, sensorType sensor.Type, handler EventHandler, sinks ...Sink) (Client, error) {
	dialer := o.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: 45 * time.Second,
		}
	}

	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &webSocketClient{
		endpoint: o.Endpoint(sensorType),
		sensor:   sensorType,
		dialer:   dialer,
		handler:  handler,
		sinks:    sinks,
		logger:   logger,
		done:     make(chan struct{}),
	}

	client.start(ctx)
	return client, nil
}

type webSocketClient struct {
	endpoint  string
	sensor    sensor.Type
	dialer    *websocket.Dialer
	handler   EventHandler
	sinks     []Sink
	logger    *zap.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	conn      *websocket.Conn
	connMu    sync.Mutex
	closeOnce sync.Once
}

func (c *webSocketClient) start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

func (c *webSocketClient) run(ctx context.Context) {
	defer close(c.done)

	c.logger.Debug("[stream] dialing", zap.String("endpoint", c.endpoint))
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.emitError(fmt.Errorf("%w: dial %s: %w", ErrTransport, c.endpoint, err))
		return
	}

	c.connMu.Lock()
	if ctx.Err() != nil {
		c.connMu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connMu.Unlock()
	defer c.release()

	conn.SetReadLimit(maxMessageSize)
	c.emit(Event{Kind: EventOpened})
	c.readLoop(ctx, conn)
}

func (c *webSocketClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(ctx, err)
			return
		}

		// Close has been requested; whatever is still in flight belongs to a session that is going away
		if ctx.Err() != nil {
			return
		}

		sample, err := sensor.Decode(payload)
		if err != nil {
			c.logger.Debug("[stream] dropping malformed message", zap.Error(err), zap.ByteString("payload", payload))
			c.emitError(err)
			continue
		}

		Deliver(sample, c.sinks, c.emitError)
	}
}

func (c *webSocketClient) handleReadError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		c.emit(Event{Kind: EventClosed, Code: websocket.CloseNormalClosure, Reason: "closed by client"})
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		c.emit(Event{Kind: EventClosed, Code: closeErr.Code, Reason: closeErr.Text})
		return
	}

	c.emitError(fmt.Errorf("%w: read from %s: %w", ErrTransport, c.endpoint, err))
	c.emit(Event{Kind: EventClosed, Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
}

func (c *webSocketClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}

		c.connMu.Lock()
		if c.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
			err = c.conn.Close()
		}
		c.connMu.Unlock()
	})

	if c.cancel != nil {
		<-c.done
	}
	return err
}

func (c *webSocketClient) release() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *webSocketClient) emitError(err error) {
	c.emit(Event{Kind: EventError, Err: err})
}

func (c *webSocketClient) emit(event Event) {
	event.Sensor = c.sensor
	event.Endpoint = c.endpoint
	if c.handler != nil {
		c.handler(event)
	}
}
