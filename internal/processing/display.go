package processing

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"sleepywoodpecker/sensor-stream/internal/sensor"
)

const MeasurementName = "sensorstream"

// InfluxDisplay forwards the newest sample of every frame as an influx line to a
// telegraf socket listener, so the live plot can be drawn by grafana.
type InfluxDisplay struct {
	conn       io.Writer
	lastSensor sensor.Type
	lastSample float64
	sentAny    bool
}

func NewInfluxDisplay(conn io.Writer) *InfluxDisplay {
	return &InfluxDisplay{conn: conn}
}

func (d *InfluxDisplay) Render(frame Frame) error {
	n := frame.Window.Len()
	if n == 0 {
		return nil
	}

	// nothing new arrived since the last tick; sensor clocks are independent, so a
	// switch may repeat the previous timestamp
	newest := frame.Window.Times[n-1]
	if d.sentAny && frame.Sensor == d.lastSensor && newest == d.lastSample {
		return nil
	}

	line := FormatInfluxLine(frame, n-1)
	if err := writeAll(d.conn, []byte(line)); err != nil {
		return err
	}

	d.lastSensor = frame.Sensor
	d.lastSample = newest
	d.sentAny = true
	return nil
}

// FormatInfluxLine renders entry idx of the frame's window in influx line protocol.
// The point is stamped with the sensor's own clock.
func FormatInfluxLine(frame Frame, idx int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s,sensor=%s ", MeasurementName, frame.Sensor.String())
	fmt.Fprintf(&b, "x=%s,y=%s,z=%s", formatFloat(frame.Window.Xs[idx]), formatFloat(frame.Window.Ys[idx]), formatFloat(frame.Window.Zs[idx]))
	fmt.Fprintf(&b, " %d\n", int64(frame.Window.Times[idx]*1e9))
	return b.String()
}

func writeAll(w io.Writer, data []byte) error {
	totalWritten := 0
	for totalWritten < len(data) {
		n, err := w.Write(data[totalWritten:])
		if err != nil {
			return err
		}
		totalWritten += n
	}

	return nil
}

// LogDisplay is the fallback when no telegraf address is configured.
type LogDisplay struct {
	logger *zap.Logger
}

func NewLogDisplay(logger *zap.Logger) *LogDisplay {
	return &LogDisplay{logger: logger}
}

func (d *LogDisplay) Render(frame Frame) error {
	n := frame.Window.Len()
	if n == 0 {
		d.logger.Debug("[display] window empty", zap.Stringer("sensor", frame.Sensor))
		return nil
	}

	d.logger.Debug(
		"[display] frame",
		zap.Stringer("sensor", frame.Sensor),
		zap.Int("points", n),
		zap.Float64("newestTimestamp", frame.Window.Times[n-1]),
		zap.Float64("x", frame.Window.Xs[n-1]),
		zap.Float64("y", frame.Window.Ys[n-1]),
		zap.Float64("z", frame.Window.Zs[n-1]),
	)
	return nil
}
