package batch

import (
	"sync"
	"time"
)

// Stats tracks batcher activity. It is installed on every Batcher and is safe
// for concurrent use.
type Stats struct {
	// Submitted is the number of requests accepted.
	Submitted int

	// Deduplicated is the number of requests that joined an already pending key.
	Deduplicated int

	// Flushes is the number of executor calls made.
	Flushes int

	// FlushedKeys is the number of distinct keys handed to the executor.
	FlushedKeys int

	// Failures is the number of executor calls that failed as a whole.
	Failures int

	// Aborted is the number of groups resolved without running the executor.
	Aborted int

	// Triggers counts flushes and aborts by trigger.
	Triggers map[Trigger]int

	// StartTime is when tracking started.
	StartTime time.Time

	// LastFlushTime is when the executor last returned.
	LastFlushTime time.Time

	// ExecTime is the total time spent in the executor.
	ExecTime time.Duration

	// mu protects concurrent access to stats fields.
	mu sync.RWMutex
}

// NewStats creates a new stats tracker.
func NewStats() *Stats {
	return &Stats{
		Triggers:  make(map[Trigger]int),
		StartTime: time.Now(),
	}
}

// ObserveSubmit implements Observer.
func (s *Stats) ObserveSubmit(deduplicated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Submitted++
	if deduplicated {
		s.Deduplicated++
	}
}

// ObserveFlush implements Observer.
func (s *Stats) ObserveFlush(trigger Trigger, size, _ int, elapsed time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Flushes++
	s.FlushedKeys += size
	s.Triggers[trigger]++
	s.ExecTime += elapsed
	s.LastFlushTime = time.Now()
	if err != nil {
		s.Failures++
	}
}

// ObserveAbort implements Observer.
func (s *Stats) ObserveAbort(trigger Trigger, _, _ int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Aborted++
	s.Triggers[trigger]++
}

// ElapsedTime returns the time elapsed since tracking started.
func (s *Stats) ElapsedTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return time.Since(s.StartTime)
}

// RequestsPerSecond returns the submission rate.
func (s *Stats) RequestsPerSecond() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.requestsPerSecondUnsafe()
}

// Snapshot returns a thread-safe copy of the current stats.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	triggers := make(map[Trigger]int, len(s.Triggers))
	for k, v := range s.Triggers {
		triggers[k] = v
	}

	return StatsSnapshot{
		Submitted:         s.Submitted,
		Deduplicated:      s.Deduplicated,
		Flushes:           s.Flushes,
		FlushedKeys:       s.FlushedKeys,
		Failures:          s.Failures,
		Aborted:           s.Aborted,
		Triggers:          triggers,
		StartTime:         s.StartTime,
		LastFlushTime:     s.LastFlushTime,
		ElapsedTime:       time.Since(s.StartTime),
		ExecTime:          s.ExecTime,
		AvgBatchSize:      s.avgBatchSizeUnsafe(),
		RequestsPerSecond: s.requestsPerSecondUnsafe(),
	}
}

// StatsSnapshot is an immutable snapshot of batcher stats.
type StatsSnapshot struct {
	Submitted         int
	Deduplicated      int
	Flushes           int
	FlushedKeys       int
	Failures          int
	Aborted           int
	Triggers          map[Trigger]int
	StartTime         time.Time
	LastFlushTime     time.Time
	ElapsedTime       time.Duration
	ExecTime          time.Duration
	AvgBatchSize      float64
	RequestsPerSecond float64
}

// avgBatchSizeUnsafe calculates the mean keys per flush without locking.
// Should only be called when already holding the lock.
func (s *Stats) avgBatchSizeUnsafe() float64 {
	if s.Flushes == 0 {
		return 0
	}
	return float64(s.FlushedKeys) / float64(s.Flushes)
}

// requestsPerSecondUnsafe calculates the submission rate without locking.
// Should only be called when already holding the lock.
func (s *Stats) requestsPerSecondUnsafe() float64 {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(s.Submitted) / elapsed
}

// Reset resets the tracker to its initial state.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Submitted = 0
	s.Deduplicated = 0
	s.Flushes = 0
	s.FlushedKeys = 0
	s.Failures = 0
	s.Aborted = 0
	s.Triggers = make(map[Trigger]int)
	s.StartTime = time.Now()
	s.LastFlushTime = time.Time{}
	s.ExecTime = 0
}
