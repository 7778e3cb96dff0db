package processing

import (
	"sync"

	"sleepywoodpecker/sensor-stream/internal/sensor"
)

const DefaultBufferSize = 100

// BatchWriter is the durable side of the pipeline. It receives one batch per flush.
type BatchWriter interface {
	AppendBatch(samples []sensor.Sample) error
}

// AccumulationBuffer collects samples and hands them to the writer in batches of
// threshold. The whole check/flush/clear sequence runs under one lock, so a sample
// ends up in exactly one batch.
type AccumulationBuffer struct {
	threshold int
	writer    BatchWriter
	samples   []sensor.Sample
	mu        sync.Mutex
}

func NewAccumulationBuffer(threshold int, writer BatchWriter) *AccumulationBuffer {
	if threshold <= 0 {
		threshold = DefaultBufferSize
	}

	return &AccumulationBuffer{
		threshold: threshold,
		writer:    writer,
		samples:   make([]sensor.Sample, 0, threshold),
	}
}

// Append adds a sample and flushes synchronously when the buffer reaches the
// threshold. The returned error is the flush error, if a flush happened and failed.
func (b *AccumulationBuffer) Append(sample sensor.Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, sample)
	if len(b.samples) < b.threshold {
		return nil
	}

	return b.flushLocked()
}

// Flush writes whatever is buffered. It is a no-op on an empty buffer.
func (b *AccumulationBuffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.flushLocked()
}

// Len is the number of samples waiting for the next flush.
func (b *AccumulationBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.samples)
}

// The batch is detached from the buffer before the write, so a failed write drops
// that batch instead of writing it again on the next flush.
func (b *AccumulationBuffer) flushLocked() error {
	if len(b.samples) == 0 {
		return nil
	}

	batch := b.samples
	b.samples = make([]sensor.Sample, 0, b.threshold)

	return b.writer.AppendBatch(batch)
}
