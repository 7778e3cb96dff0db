package processing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingWindow_SnapshotReturnsSuffix(t *testing.T) {
	window := NewRollingWindow(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, window.Append(sampleAt(i)))
	}

	snap := window.Snapshot(3)
	assert.Equal(t, []float64{2, 3, 4}, snap.Times)
	assert.Equal(t, []float64{2, 3, 4}, snap.Xs)
	assert.Equal(t, []float64{-2, -3, -4}, snap.Ys)
	assert.Equal(t, []float64{1, 1, 1}, snap.Zs)

	assert.Equal(t, 5, window.Snapshot(1000).Len())
	assert.Equal(t, 5, window.Snapshot(0).Len())
}

func TestRollingWindow_SnapshotIsACopy(t *testing.T) {
	window := NewRollingWindow(0)
	require.NoError(t, window.Append(sampleAt(1)))

	snap := window.Snapshot(10)
	snap.Xs[0] = 42

	assert.Equal(t, 1.0, window.Snapshot(10).Xs[0])
}

func TestRollingWindow_Clear(t *testing.T) {
	window := NewRollingWindow(0)
	for i := 0; i < 10; i++ {
		require.NoError(t, window.Append(sampleAt(i)))
	}

	window.Clear()
	snap := window.Snapshot(1000)
	assert.Equal(t, 0, snap.Len())
	assert.Empty(t, snap.Xs)
	assert.Empty(t, snap.Ys)
	assert.Empty(t, snap.Zs)
}

func TestRollingWindow_RetainKeepsNewest(t *testing.T) {
	window := NewRollingWindow(4)
	for i := 0; i < 20; i++ {
		require.NoError(t, window.Append(sampleAt(i)))
	}

	assert.LessOrEqual(t, window.Len(), 8)
	snap := window.Snapshot(4)
	assert.Equal(t, []float64{16, 17, 18, 19}, snap.Times)
	assert.Equal(t, []float64{-16, -17, -18, -19}, snap.Ys)
}

func TestRollingWindow_ConcurrentReadersSeeAlignedSeries(t *testing.T) {
	window := NewRollingWindow(500)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			_ = window.Append(sampleAt(i))
			if i%1000 == 999 {
				window.Clear()
			}
		}
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		snap := window.Snapshot(100)
		require.Equal(t, len(snap.Times), len(snap.Xs))
		require.Equal(t, len(snap.Times), len(snap.Ys))
		require.Equal(t, len(snap.Times), len(snap.Zs))
		for i := range snap.Times {
			require.Equal(t, snap.Times[i], snap.Xs[i])
			require.Equal(t, -snap.Times[i], snap.Ys[i])
		}

		select {
		case <-done:
			wg.Wait()
			return
		case <-deadline:
			t.Fatal("writer did not finish")
		default:
		}
	}
}
