package processing

import (
	"sync"

	"sleepywoodpecker/sensor-stream/internal/sensor"
)

// The window keeps everything that arrived during a session so that the display can
// pick any suffix length it likes. retain only exists so a session left running for
// days does not grow without bound; it has to stay well above the display length.

const DefaultWindowRetain = 10000

// Snapshot is the visualization view of the window: four index aligned series.
type Snapshot struct {
	Times []float64
	Xs    []float64
	Ys    []float64
	Zs    []float64
}

func (s Snapshot) Len() int {
	return len(s.Times)
}

type RollingWindow struct {
	times  []float64
	xs     []float64
	ys     []float64
	zs     []float64
	retain int
	mu     sync.RWMutex
}

func NewRollingWindow(retain int) *RollingWindow {
	if retain <= 0 {
		retain = DefaultWindowRetain
	}

	return &RollingWindow{
		retain: retain,
	}
}

func (w *RollingWindow) Append(sample sensor.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.times = append(w.times, sample.Timestamp)
	w.xs = append(w.xs, sample.X)
	w.ys = append(w.ys, sample.Y)
	w.zs = append(w.zs, sample.Z)

	// compact in one go once we are at twice the retained size, so the copy cost is amortized
	if len(w.times) >= 2*w.retain {
		w.times = keepLast(w.times, w.retain)
		w.xs = keepLast(w.xs, w.retain)
		w.ys = keepLast(w.ys, w.retain)
		w.zs = keepLast(w.zs, w.retain)
	}

	return nil
}

// Snapshot copies out the last limit entries of every series. A limit <= 0 returns
// everything retained.
func (w *RollingWindow) Snapshot(limit int) Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	start := 0
	if limit > 0 && len(w.times) > limit {
		start = len(w.times) - limit
	}

	return Snapshot{
		Times: clone(w.times[start:]),
		Xs:    clone(w.xs[start:]),
		Ys:    clone(w.ys[start:]),
		Zs:    clone(w.zs[start:]),
	}
}

func (w *RollingWindow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.times = nil
	w.xs = nil
	w.ys = nil
	w.zs = nil
}

func (w *RollingWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return len(w.times)
}

func keepLast(values []float64, n int) []float64 {
	kept := make([]float64, n, 2*n)
	copy(kept, values[len(values)-n:])
	return kept
}

func clone(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	return out
}
