package flashlog

import "sync"

// Sample is one (session-relative timestamp, physical value) point.
type Sample struct {
	T float64 // seconds since the session origin
	V float64
}

// retainedSlack is the overshoot factor applied to window×rate before any
// trimming occurs. A generous bound keeps "never lose data the user hasn't
// reset" true for realistic session lengths while still provably bounding
// memory by window length × rate, independent of wall-clock duration.
const retainedSlack = 2

// minRetained keeps low-rate, long-window sessions from being starved by a
// too-small capacity.
const minRetained = 1024

// RetainedSeries is the bounded in-memory time series backing visualization
// for one channel. It is mutated only by the pipeline's fan-out stage; the
// renderer reads copied snapshots, never the live slice.
type RetainedSeries struct {
	mu       sync.Mutex
	samples  []Sample
	capacity int
	revision uint64
}

// NewRetainedSeries sizes the series for the given sample rate and
// visualization window.
func NewRetainedSeries(sampleRate, windowSec float64) *RetainedSeries {
	capacity := int(sampleRate*windowSec) * retainedSlack
	if capacity < minRetained {
		capacity = minRetained
	}
	return &RetainedSeries{capacity: capacity}
}

// Append adds one block's points, in non-decreasing timestamp order, then
// trims only the oldest excess past capacity. Points inside the visible
// window can never be trimmed: capacity is at least twice window×rate.
func (r *RetainedSeries) Append(points []Sample) {
	if len(points) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, points...)
	if excess := len(r.samples) - r.capacity; excess > 0 {
		n := copy(r.samples, r.samples[excess:])
		r.samples = r.samples[:n]
	}
	r.revision++
}

// Snapshot copies out the points inside the trailing window (seconds before
// the newest timestamp), plus the revision counter, which increases exactly
// when Append does. window <= 0 copies the whole series.
func (r *RetainedSeries) Snapshot(window float64) ([]Sample, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return nil, r.revision
	}
	start := 0
	if window > 0 {
		cutoff := r.samples[len(r.samples)-1].T - window
		// Points are time-ordered; scan back to the cutoff.
		for start = len(r.samples); start > 0 && r.samples[start-1].T >= cutoff; start-- {
		}
	}
	out := make([]Sample, len(r.samples)-start)
	copy(out, r.samples[start:])
	return out, r.revision
}

// Revision returns the current revision without copying data.
func (r *RetainedSeries) Revision() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revision
}

// Len returns the number of retained points.
func (r *RetainedSeries) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Capacity returns the trim threshold.
func (r *RetainedSeries) Capacity() int { return r.capacity }

// Clear discards all points; used only on session Reset.
func (r *RetainedSeries) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = r.samples[:0]
	r.revision++
}
