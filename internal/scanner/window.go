package scanner

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Reading is one strength sample.
type Reading struct {
	FrequencyHz  int64
	StrengthDBFS float64
	Timestamp    time.Time
}

// same reports whether r and o are the same sample, ignoring the time.
func (r Reading) same(o Reading) bool {
	return r.FrequencyHz == o.FrequencyHz && r.StrengthDBFS == o.StrengthDBFS
}

// History is the bounded trailing strength history.
type History struct {
	values   []float64
	capacity int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		values:   make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Push appends v, dropping the oldest value when full.
func (h *History) Push(v float64) {
	if len(h.values) == h.capacity {
		copy(h.values, h.values[1:])
		h.values = h.values[:len(h.values)-1]
	}
	h.values = append(h.values, v)
}

// Last returns the most recent value.
func (h *History) Last() (float64, bool) {
	if len(h.values) == 0 {
		return 0, false
	}
	return h.values[len(h.values)-1], true
}

// Mean returns the moving average, NaN when empty.
func (h *History) Mean() float64 {
	if len(h.values) == 0 {
		return math.NaN()
	}
	return stat.Mean(h.values, nil)
}

func (h *History) Len() int {
	return len(h.values)
}

func (h *History) Reset() {
	h.values = h.values[:0]
}

// CandidateWindow accumulates the steps of a rising run above the lock level.
type CandidateWindow struct {
	readings []Reading
}

func (w *CandidateWindow) Add(r Reading) {
	w.readings = append(w.readings, r)
}

func (w *CandidateWindow) Len() int {
	return len(w.readings)
}

func (w *CandidateWindow) Reset() {
	w.readings = w.readings[:0]
}

// Bounds returns the lowest frequency of the run and the step before the
// highest one, which is where the last rising sample was taken.
func (w *CandidateWindow) Bounds(step int64) (begHz, topHz int64) {
	begHz, maxHz := w.readings[0].FrequencyHz, w.readings[0].FrequencyHz
	for _, r := range w.readings[1:] {
		begHz = min(begHz, r.FrequencyHz)
		maxHz = max(maxHz, r.FrequencyHz)
	}
	return begHz, maxHz - step
}
