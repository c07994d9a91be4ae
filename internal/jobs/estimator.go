package jobs

import "time"

const (
	estimatorWindow = 10
	// estimatorOverhead approximates one chunk's analysis time before any
	// have been measured.
	estimatorOverhead = 5 * time.Second
)

// Estimator predicts the time left from recent chunk durations.
type Estimator struct {
	samples []time.Duration
}

// Add records how long one chunk took.
func (e *Estimator) Add(d time.Duration) {
	e.samples = append(e.samples, d)
	if len(e.samples) > estimatorWindow {
		e.samples = e.samples[len(e.samples)-estimatorWindow:]
	}
}

// Reset forgets every sample.
func (e *Estimator) Reset() {
	e.samples = nil
}

// ETA estimates the time to finish remaining chunks with ceiling running at
// once. Until two samples exist it assumes submitDelay plus a fixed overhead
// per chunk.
func (e *Estimator) ETA(remaining, ceiling int, submitDelay time.Duration) time.Duration {
	if remaining <= 0 {
		return 0
	}
	if ceiling < 1 {
		ceiling = 1
	}
	per := submitDelay + estimatorOverhead
	if len(e.samples) >= 2 {
		var total time.Duration
		for _, s := range e.samples {
			total += s
		}
		per = total / time.Duration(len(e.samples))
	}
	return per * time.Duration(remaining) / time.Duration(ceiling)
}
