package estimate

import "github.com/gammazero/deque"

// WindowSize is the number of samples kept by a sampling window.
const WindowSize = 6

// RollingWindow holds the most recent samples of a signal up to a fixed
// capacity. Pushing onto a full window evicts the oldest sample.
type RollingWindow struct {
	samples  deque.Deque[float64]
	capacity int
}

// NewRollingWindow creates an empty window holding at most capacity samples
func NewRollingWindow(capacity int) *RollingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingWindow{capacity: capacity}
}

// Push appends a sample, evicting the oldest when the window is full
func (w *RollingWindow) Push(value float64) {
	for w.samples.Len() >= w.capacity {
		w.samples.PopFront()
	}
	w.samples.PushBack(value)
}

// Reset discards every sample
func (w *RollingWindow) Reset() {
	w.samples.Clear()
}

// Len returns the number of samples currently held
func (w *RollingWindow) Len() int {
	return w.samples.Len()
}

// Values returns the samples oldest first
func (w *RollingWindow) Values() []float64 {
	values := make([]float64, w.samples.Len())
	for i := range values {
		values[i] = w.samples.At(i)
	}
	return values
}

// Mean returns the arithmetic mean of the held samples.
// ok is false when the window is empty.
//
// The mean is accumulated incrementally so a window of identical samples
// averages to exactly that sample.
func (w *RollingWindow) Mean() (mean float64, ok bool) {
	n := w.samples.Len()
	if n == 0 {
		return 0, false
	}
	for i := 0; i < n; i++ {
		mean += (w.samples.At(i) - mean) / float64(i+1)
	}
	return mean, true
}
