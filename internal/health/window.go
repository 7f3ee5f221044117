package health

import (
	"errors"
	"sync"
	"time"
)

// ErrRangeExceeded is returned when a query asks for more history than the
// window retains. Callers must size their queries to the configured duration.
var ErrRangeExceeded = errors.New("health: requested range exceeds window duration")

type sample struct {
	at    time.Time
	value float64
}

// Window keeps per-key samples over a fixed sliding duration. Eviction is
// read-triggered; there is no sweep goroutine. Memory is bounded by arrival
// rate times window duration.
type Window struct {
	duration time.Duration

	mu      sync.Mutex
	buckets map[string][]sample

	nowFn func() time.Time
}

func NewWindow(duration time.Duration) *Window {
	if duration <= 0 {
		duration = 15 * time.Minute
	}
	return &Window{
		duration: duration,
		buckets:  make(map[string][]sample),
		nowFn:    time.Now,
	}
}

func (w *Window) Duration() time.Duration { return w.duration }

// Record appends a sample stamped now.
func (w *Window) Record(key string, value float64) {
	w.RecordAt(key, value, w.nowFn())
}

// RecordAt appends a sample with an explicit timestamp.
func (w *Window) RecordAt(key string, value float64, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bucket := append(w.buckets[key], sample{at: at, value: value})
	w.buckets[key] = w.prune(bucket, at)
}

// CountSince counts samples within [now-d, now]. A range larger than the
// configured window fails fast: samples outside the window are already gone,
// so the answer would silently undercount.
func (w *Window) CountSince(key string, d time.Duration) (int, error) {
	if d > w.duration {
		return 0, ErrRangeExceeded
	}
	now := w.nowFn()
	w.mu.Lock()
	defer w.mu.Unlock()
	bucket := w.prune(w.buckets[key], now)
	w.buckets[key] = bucket
	cutoff := now.Add(-d)
	n := 0
	for _, s := range bucket {
		if !s.at.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// RateSince returns events per second over the requested range.
func (w *Window) RateSince(key string, d time.Duration) (float64, error) {
	n, err := w.CountSince(key, d)
	if err != nil {
		return 0, err
	}
	secs := d.Seconds()
	if secs <= 0 {
		return 0, nil
	}
	return float64(n) / secs, nil
}

// LastValue returns the most recent in-window sample value for key.
func (w *Window) LastValue(key string) (float64, bool) {
	now := w.nowFn()
	w.mu.Lock()
	defer w.mu.Unlock()
	bucket := w.prune(w.buckets[key], now)
	w.buckets[key] = bucket
	if len(bucket) == 0 {
		return 0, false
	}
	return bucket[len(bucket)-1].value, true
}

// Counts returns the in-window count for every key. Used by the reporter to
// build the aggregate patch.
func (w *Window) Counts() map[string]int {
	now := w.nowFn()
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int, len(w.buckets))
	for key, bucket := range w.buckets {
		bucket = w.prune(bucket, now)
		w.buckets[key] = bucket
		if len(bucket) > 0 {
			out[key] = len(bucket)
		}
	}
	return out
}

func (w *Window) prune(bucket []sample, now time.Time) []sample {
	cutoff := now.Add(-w.duration)
	i := 0
	for i < len(bucket) && bucket[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return bucket
	}
	if i == len(bucket) {
		return nil
	}
	// Reallocate so the evicted prefix does not pin the backing array.
	trimmed := make([]sample, len(bucket)-i)
	copy(trimmed, bucket[i:])
	return trimmed
}
