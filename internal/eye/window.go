package eye

import "slices"

// window is a fixed-capacity FIFO of raw EAR values with a running median.
type window struct {
	size   int
	values []float64
	buf    []float64 // scratch for sorting, reused across calls
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{
		size:   size,
		values: make([]float64, 0, size),
		buf:    make([]float64, 0, size),
	}
}

// push appends v, evicting the oldest value when full, and returns the median
// of the retained values. With an even count the median is the mean of the two
// central values.
func (w *window) push(v float64) float64 {
	if len(w.values) >= w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:len(w.values)-1]
	}
	w.values = append(w.values, v)
	return w.median()
}

func (w *window) median() float64 {
	if len(w.values) == 0 {
		return 0
	}
	w.buf = append(w.buf[:0], w.values...)
	slices.Sort(w.buf)
	mid := len(w.buf) / 2
	if len(w.buf)%2 == 1 {
		return w.buf[mid]
	}
	return (w.buf[mid-1] + w.buf[mid]) / 2
}

func (w *window) reset() {
	w.values = w.values[:0]
}
