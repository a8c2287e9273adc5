package chunk

import "time"

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t falls inside the half-open interval.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Plan splits [start, end) into fixed-width chunks, clamping the final chunk
// to end. It never queries the store; an empty chunk is discovered (and
// skipped) by the extract step.
func Plan(start, end time.Time, width time.Duration) []Window {
	if width <= 0 || !start.Before(end) {
		return nil
	}
	var windows []Window
	for cur := start; cur.Before(end); {
		next := cur.Add(width)
		if next.After(end) {
			next = end
		}
		windows = append(windows, Window{Start: cur, End: next})
		cur = next
	}
	return windows
}

// Sizer decides the width of the next chunk. Observe feeds back the row count
// of the chunk just processed; the adjustment only ever applies prospectively.
type Sizer interface {
	Width() time.Duration
	Observe(rows int)
}

// Fixed is a Sizer that never adjusts.
type Fixed time.Duration

func (f Fixed) Width() time.Duration { return time.Duration(f) }
func (f Fixed) Observe(int)          {}

// Adaptive shrinks the chunk width when a chunk overflows the row budget and
// grows it back when chunks come in sparse, bounded by a floor and ceiling.
type Adaptive struct {
	width     time.Duration
	floor     time.Duration
	ceiling   time.Duration
	rowBudget int
}

// NewAdaptive returns an adaptive sizer starting at width.
func NewAdaptive(width, floor, ceiling time.Duration, rowBudget int) *Adaptive {
	if floor <= 0 {
		floor = width
	}
	if ceiling < width {
		ceiling = width
	}
	return &Adaptive{width: width, floor: floor, ceiling: ceiling, rowBudget: rowBudget}
}

func (a *Adaptive) Width() time.Duration { return a.width }

// Observe halves the width after an overflowing chunk and doubles it after a
// chunk under a quarter of the budget.
func (a *Adaptive) Observe(rows int) {
	if a.rowBudget <= 0 {
		return
	}
	switch {
	case rows > a.rowBudget:
		if half := a.width / 2; half >= a.floor {
			a.width = half
		} else {
			a.width = a.floor
		}
	case rows < a.rowBudget/4:
		if doubled := a.width * 2; doubled <= a.ceiling {
			a.width = doubled
		} else {
			a.width = a.ceiling
		}
	}
}

// Planner walks a window chunk by chunk, asking the Sizer for each width.
type Planner struct {
	cur   time.Time
	end   time.Time
	sizer Sizer
}

// NewPlanner returns a Planner over w using the given sizer.
func NewPlanner(w Window, sizer Sizer) *Planner {
	return &Planner{cur: w.Start, end: w.End, sizer: sizer}
}

// Next returns the next chunk, or ok=false when the window is exhausted.
func (p *Planner) Next() (Window, bool) {
	if !p.cur.Before(p.end) {
		return Window{}, false
	}
	next := p.cur.Add(p.sizer.Width())
	if next.After(p.end) {
		next = p.end
	}
	w := Window{Start: p.cur, End: next}
	p.cur = next
	return w, true
}

// Observe forwards the processed chunk's row count to the sizer.
func (p *Planner) Observe(rows int) {
	p.sizer.Observe(rows)
}
