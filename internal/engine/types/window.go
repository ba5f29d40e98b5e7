package types

import "time"

// Window is a half-open time interval [StartMs, EndMs) in Unix milliseconds.
type Window struct {
	StartMs int64
	EndMs   int64
}

// NewWindow builds a window from two time.Time boundaries.
func NewWindow(start, end time.Time) Window {
	return Window{StartMs: start.UnixMilli(), EndMs: end.UnixMilli()}
}

// IsValid returns true when the window is non-empty and not inverted.
func (w Window) IsValid() bool {
	return w.StartMs < w.EndMs
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return time.Duration(w.EndMs-w.StartMs) * time.Millisecond
}

// Contains reports whether a timestamp falls inside the window.
func (w Window) Contains(tsMs int64) bool {
	return tsMs >= w.StartMs && tsMs < w.EndMs
}

// Overlaps reports whether the interval [startMs, endMs) intersects the window.
func (w Window) Overlaps(startMs, endMs int64) bool {
	return startMs < w.EndMs && endMs > w.StartMs
}

// StartTime returns the window start as a time.Time.
func (w Window) StartTime() time.Time {
	return time.UnixMilli(w.StartMs)
}

// EndTime returns the window end as a time.Time.
func (w Window) EndTime() time.Time {
	return time.UnixMilli(w.EndMs)
}
