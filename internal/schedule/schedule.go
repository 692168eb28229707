// Package schedule implements the minute-resolution dispatch table every other
// component defers work through. Entries map an absolute instant to the tasks
// due at that instant; the run loop executes due tasks serially and sleeps
// until the nearest deadline, capped by a ceiling so the stop signal is
// observed promptly.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"midas/internal/logger"
	"midas/internal/mktcal"
)

type Task func()

type entry struct {
	name string
	task Task
}

type Scheduler struct {
	MaxSleep time.Duration

	mu      sync.Mutex
	entries map[int64][]entry // unix minute -> tasks, execution order preserved
	nowFn   func() time.Time
}

func New(maxSleep time.Duration) *Scheduler {
	if maxSleep <= 0 {
		maxSleep = time.Minute
	}
	return &Scheduler{
		MaxSleep: maxSleep,
		entries:  make(map[int64][]entry),
		nowFn:    mktcal.Now,
	}
}

// Add defers task to run at the given instant, truncated to the minute.
// Safe to call from within a dispatched task and from other goroutines.
func (s *Scheduler) Add(at time.Time, name string, task Task) {
	if task == nil {
		return
	}
	key := at.Truncate(time.Minute).Unix()
	s.mu.Lock()
	s.entries[key] = append(s.entries[key], entry{name: name, task: task})
	s.mu.Unlock()
}

// AddClock defers task to the next occurrence of a wall-clock time on a
// trading day: today if the clock time is still ahead, otherwise the next
// session day.
func (s *Scheduler) AddClock(hour, min int, name string, task Task) {
	now := s.nowFn()
	day := mktcal.Midnight(now)
	if !mktcal.At(day, hour, min).After(now) {
		day = day.AddDate(0, 0, 1)
	}
	day = mktcal.NextTradingDay(day)
	s.Add(mktcal.At(day, hour, min), name, task)
}

// Next returns the nearest scheduled instant.
func (s *Scheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var min int64
	found := false
	for key := range s.entries {
		if !found || key < min {
			min = key
			found = true
		}
	}
	if !found {
		return time.Time{}, false
	}
	return time.Unix(min, 0).In(mktcal.Location()), true
}

// Pending reports the scheduled instants and task names, soonest first.
func (s *Scheduler) Pending() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]int64, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make(map[string][]string, len(keys))
	for _, key := range keys {
		at := time.Unix(key, 0).In(mktcal.Location()).Format(time.RFC3339)
		for _, e := range s.entries[key] {
			out[at] = append(out[at], e.name)
		}
	}
	return out
}

// Run dispatches entries until ctx is done. Tasks execute serially on this
// goroutine; a task may re-enter Add.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Infof("schedule: loop started max_sleep=%s", s.MaxSleep)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("schedule: ctx done, exit")
			return ctx.Err()
		default:
		}

		for _, e := range s.popDue(s.nowFn()) {
			logger.Debugf("schedule: running %s", e.name)
			e.task()
		}

		wait := s.MaxSleep
		if next, ok := s.Next(); ok {
			if until := next.Sub(s.nowFn()); until < wait {
				wait = until
			}
		}
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("schedule: ctx done, exit")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// popDue removes and returns every entry whose instant has arrived, ordered by
// instant then insertion.
func (s *Scheduler) popDue(now time.Time) []entry {
	cutoff := now.Truncate(time.Minute).Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []int64
	for key := range s.entries {
		if key <= cutoff {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var due []entry
	for _, key := range keys {
		due = append(due, s.entries[key]...)
		delete(s.entries, key)
	}
	return due
}
