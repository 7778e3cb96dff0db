package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sleepywoodpecker/sensor-stream/internal/sensor"
)

type collectingSink struct {
	mu      sync.Mutex
	samples []sensor.Sample
}

func (c *collectingSink) Append(sample sensor.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, sample)
	return nil
}

func (c *collectingSink) snapshot() []sensor.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]sensor.Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()

	kinds := make([]EventKind, 0, len(l.events))
	for _, e := range l.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (l *eventLog) has(kind EventKind) bool {
	for _, k := range l.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// sensorServer upgrades every request, records the requested sensor type and plays
// the given messages followed by a normal close.
func sensorServer(t *testing.T, messages []string, hold chan struct{}) (*httptest.Server, chan string) {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}
	requested := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested <- r.URL.Path + "?" + r.URL.RawQuery

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("Upgrade error: %v", err)
			return
		}
		defer conn.Close()

		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}

		if hold != nil {
			// keep reading so the client's close frame is observed
			go func() {
				for {
					if _, _, err := conn.ReadMessage(); err != nil {
						return
					}
				}
			}()
			<-hold
			return
		}

		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	}))

	return server, requested
}

func TestWebSocketOpener_Endpoint(t *testing.T) {
	opener := &WebSocketOpener{Address: "10.0.0.5:8080"}
	assert.Equal(t, "ws://10.0.0.5:8080/sensor/connect?type=android.sensor.accelerometer", opener.Endpoint(sensor.Accelerometer))

	opener = &WebSocketOpener{Address: "wss://phone.local:9443", Path: "/stream"}
	assert.Equal(t, "wss://phone.local:9443/stream?type=android.sensor.magnetic_field", opener.Endpoint(sensor.Magnetometer))
}

func TestWebSocketClient_DecodesAndDeliversToAllSinks(t *testing.T) {
	server, requested := sensorServer(t, []string{
		`{"values":[1,2,3],"timestamp":90000000}`,
		`{"values":["bad"],"timestamp":1}`,
		`{"values":[4,5,6],"timestamp":91000000}`,
	}, nil)
	defer server.Close()

	buffer := &collectingSink{}
	window := &collectingSink{}
	events := &eventLog{}

	opener := &WebSocketOpener{Address: strings.TrimPrefix(server.URL, "http://"), Logger: zap.NewNop()}
	client, err := opener.Open(context.Background(), sensor.Gyroscope, events.handle, buffer, window)
	require.NoError(t, err)
	defer client.Close()

	assert.Eventually(t, func() bool { return events.has(EventClosed) }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "/sensor/connect?type=android.sensor.gyroscope", <-requested)

	expected := []sensor.Sample{
		{Timestamp: 90, X: 1, Y: 2, Z: 3},
		{Timestamp: 91, X: 4, Y: 5, Z: 6},
	}
	assert.Equal(t, expected, buffer.snapshot())
	assert.Equal(t, expected, window.snapshot())

	assert.Equal(t, []EventKind{EventOpened, EventError, EventClosed}, events.kinds())

	events.mu.Lock()
	defer events.mu.Unlock()
	assert.True(t, errors.Is(events.events[1].Err, sensor.ErrDecode))
	assert.Equal(t, websocket.CloseNormalClosure, events.events[2].Code)
	assert.Equal(t, "bye", events.events[2].Reason)
	assert.Equal(t, sensor.Gyroscope, events.events[2].Sensor)
}

func TestWebSocketClient_CloseIsIdempotentAndStopsDelivery(t *testing.T) {
	hold := make(chan struct{})
	server, _ := sensorServer(t, []string{`{"values":[1,2,3],"timestamp":1000000}`}, hold)
	defer server.Close()
	defer close(hold)

	sink := &collectingSink{}
	events := &eventLog{}

	opener := &WebSocketOpener{Address: strings.TrimPrefix(server.URL, "http://")}
	client, err := opener.Open(context.Background(), sensor.Accelerometer, events.handle, sink)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())

	kinds := events.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, EventClosed, kinds[len(kinds)-1])
	assert.Len(t, sink.snapshot(), 1)
}

func TestWebSocketClient_DialFailureReportsTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	events := &eventLog{}
	opener := &WebSocketOpener{Address: strings.TrimPrefix(server.URL, "http://")}
	client, err := opener.Open(context.Background(), sensor.Accelerometer, events.handle)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return events.has(EventError) }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, client.Close())

	kinds := events.kinds()
	require.Equal(t, []EventKind{EventError}, kinds)
	events.mu.Lock()
	defer events.mu.Unlock()
	assert.True(t, errors.Is(events.events[0].Err, ErrTransport))
}

func TestWebSocketClient_CloseNeverOpened(t *testing.T) {
	client := &webSocketClient{}
	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
}
