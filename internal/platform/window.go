package platform

import (
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
)

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns the window [start, end) in UTC.
func NewWindow(start, end time.Time) Window {
	return Window{Start: start.UTC(), End: end.UTC()}
}

// Empty reports whether the window covers no time.
func (w Window) Empty() bool {
	return !w.Start.Before(w.End)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Chunks splits the window into consecutive windows of at most size. A size
// of 0 returns the window itself.
func (w Window) Chunks(size time.Duration) []Window {
	if w.Empty() {
		return nil
	}
	if size <= 0 {
		return []Window{w}
	}
	var chunks []Window
	for start := w.Start; start.Before(w.End); start = start.Add(size) {
		end := start.Add(size)
		if end.After(w.End) {
			end = w.End
		}
		chunks = append(chunks, Window{Start: start, End: end})
	}
	return chunks
}

// Days returns the UTC midnight of every day the window touches.
func (w Window) Days() []time.Time {
	if w.Empty() {
		return nil
	}
	last := models.DayStart(w.End.Add(-time.Nanosecond))
	var days []time.Time
	for d := models.DayStart(w.Start); !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
