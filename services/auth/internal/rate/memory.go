package rate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLimiter keeps the sliding windows in process. It serves single
// instance deployments and tests.
type MemoryLimiter struct {
	mu           sync.Mutex
	entries      map[string]*window
	lastCleanup  time.Time
	cleanupEvery time.Duration
}

type window struct {
	stamps  []time.Time
	expires time.Time
}

func NewMemory(cleanupEvery time.Duration) *MemoryLimiter {
	if cleanupEvery <= 0 {
		cleanupEvery = time.Minute
	}
	return &MemoryLimiter{
		entries:      map[string]*window{},
		cleanupEvery: cleanupEvery,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastCleanup.IsZero() {
		l.lastCleanup = now
	}
	if now.Sub(l.lastCleanup) >= l.cleanupEvery {
		for k, w := range l.entries {
			if !now.Before(w.expires) {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	w, ok := l.entries[key]
	if !ok {
		w = &window{}
		l.entries[key] = w
	}

	w.stamps = trim(w.stamps, now.Add(-policy.Window))
	if len(w.stamps) >= policy.Max {
		return rejected(policy, w.stamps[0], now), nil
	}

	count := len(w.stamps)
	w.stamps = insertSorted(w.stamps, now)
	if exp := now.Add(policy.Window); exp.After(w.expires) {
		w.expires = exp
	}
	return allowed(policy, count, now), nil
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// trim removes stamps at or before cutoff.
func trim(stamps []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(stamps), func(i int) bool { return stamps[i].After(cutoff) })
	return stamps[i:]
}

func insertSorted(stamps []time.Time, t time.Time) []time.Time {
	i := sort.Search(len(stamps), func(i int) bool { return stamps[i].After(t) })
	stamps = append(stamps, time.Time{})
	copy(stamps[i+1:], stamps[i:])
	stamps[i] = t
	return stamps
}
