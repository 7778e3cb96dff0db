package processing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/sensor-stream/internal/sensor"
)

// The display side polls instead of being pushed to. Ingestion never waits on
// rendering; the only thing the two share is the window lock.

const DefaultSamplingFrequency = 50 * time.Millisecond
const DefaultDisplayLength = 1000

type WindowSource interface {
	Snapshot(limit int) Snapshot
	CurrentSensorType() sensor.Type
}

type Frame struct {
	Sensor    sensor.Type
	Window    Snapshot
	SampledAt time.Time
}

type Display interface {
	Render(frame Frame) error
}

type sampler struct {
	samplingFrequency time.Duration
	displayLength     int
	source            WindowSource
	displays          []Display
	logger            *zap.Logger
}

func NewSampler(samplingFrequency time.Duration, displayLength int, source WindowSource, logger *zap.Logger, displays ...Display) *sampler {
	if samplingFrequency <= 0 {
		samplingFrequency = DefaultSamplingFrequency
	}
	if displayLength <= 0 {
		displayLength = DefaultDisplayLength
	}

	return &sampler{
		samplingFrequency: samplingFrequency,
		displayLength:     displayLength,
		source:            source,
		displays:          displays,
		logger:            logger,
	}
}

func (s *sampler) SampleAndRender() {
	frame := Frame{
		Sensor:    s.source.CurrentSensorType(),
		Window:    s.source.Snapshot(s.displayLength),
		SampledAt: time.Now(),
	}

	for _, display := range s.displays {
		if err := display.Render(frame); err != nil {
			s.logger.Warn("[sampler] error rendering frame", zap.Error(err), zap.Stringer("sensor", frame.Sensor))
		}
	}
}

func (s *sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.samplingFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SampleAndRender()
		case <-ctx.Done():
			s.logger.Info("[sampler] received shutdown signal")
			return
		}
	}
}
