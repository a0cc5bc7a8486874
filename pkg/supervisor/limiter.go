package supervisor

import "time"

// restartWindow is the sliding restart-rate limiter. It keeps the timestamps
// of restarts performed within the last period.
type restartWindow struct {
	intensity int
	period    time.Duration
	stamps    []time.Time
}

func newRestartWindow(intensity int, period time.Duration) *restartWindow {
	return &restartWindow{intensity: intensity, period: period}
}

// charge records n restarts at now, prunes stamps older than period and
// reports whether the restarts are allowed. Vetoed restarts stay recorded;
// the supervisor escalates right after a veto.
func (w *restartWindow) charge(now time.Time, n int) bool {
	for i := 0; i < n; i++ {
		w.stamps = append(w.stamps, now)
	}
	w.prune(now)
	return len(w.stamps) <= w.intensity
}

// size returns the number of restarts inside the window at now
func (w *restartWindow) size(now time.Time) int {
	w.prune(now)
	return len(w.stamps)
}

func (w *restartWindow) prune(now time.Time) {
	cutoff := now.Add(-w.period)
	keep := 0
	for keep < len(w.stamps) && !w.stamps[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[keep:]...)
	}
}
