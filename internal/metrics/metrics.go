package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"sleepywoodpecker/sensor-stream/internal/sensor"
)

const namespace = "sensorstream"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	samplesReceived  *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	transportErrors  *prometheus.CounterVec
	flushes          *prometheus.CounterVec
	flushedRecords   *prometheus.CounterVec
	flushErrors      *prometheus.CounterVec
	connectionEvents *prometheus.CounterVec
	switches         prometheus.Counter
	windowLength     prometheus.Gauge
}

func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		samplesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_received_total",
			Help:      "Samples decoded from the active stream",
		}, []string{"sensor"}),

		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound messages dropped because they could not be decoded",
		}, []string{"sensor"}),

		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Connection level failures",
		}, []string{"sensor"}),

		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Batches handed to the persistence sink",
		}, []string{"sensor"}),

		flushedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_records_total",
			Help:      "Records written to the persistence sink",
		}, []string{"sensor"}),

		flushErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_errors_total",
			Help:      "Batches lost because the persistence sink failed",
		}, []string{"sensor"}),

		connectionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Stream lifecycle events by kind",
		}, []string{"sensor", "event"}),

		switches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_switches_total",
			Help:      "Completed switches between sensors",
		}),

		windowLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_length",
			Help:      "Samples currently held by the rolling window",
		}),
	}

	if registerer == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.samplesReceived,
		m.decodeErrors,
		m.transportErrors,
		m.flushes,
		m.flushedRecords,
		m.flushErrors,
		m.connectionEvents,
		m.switches,
		m.windowLength,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) SampleReceived(t sensor.Type) {
	if m == nil {
		return
	}
	m.samplesReceived.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) DecodeError(t sensor.Type) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) TransportError(t sensor.Type) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) Flushed(t sensor.Type, records int) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(t.String()).Inc()
	m.flushedRecords.WithLabelValues(t.String()).Add(float64(records))
}

func (m *Metrics) FlushFailed(t sensor.Type) {
	if m == nil {
		return
	}
	m.flushErrors.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) ConnectionEvent(t sensor.Type, event string) {
	if m == nil {
		return
	}
	m.connectionEvents.WithLabelValues(t.String(), event).Inc()
}

func (m *Metrics) Switched() {
	if m == nil {
		return
	}
	m.switches.Inc()
}

func (m *Metrics) SetWindowLength(n int) {
	if m == nil {
		return
	}
	m.windowLength.Set(float64(n))
}
