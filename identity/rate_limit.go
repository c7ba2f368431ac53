package identity

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterEntry pairs a token bucket with the last time its key was seen
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter throttles sign-in attempts per client key (normally the remote IP)
type LoginLimiter struct {
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	now      func() time.Time
}

// NewLoginLimiter allows requestsPerMinute attempts per key with the given burst.
// Idle keys are swept every idleTTL.
func NewLoginLimiter(requestsPerMinute, burst int, idleTTL time.Duration) *LoginLimiter {
	if burst < 1 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = time.Hour
	}
	l := &LoginLimiter{
		limit:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
		idleTTL:  idleTTL,
		limiters: make(map[string]*limiterEntry),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}

	l.wg.Add(1)
	go l.cleanupLoop()
	return l
}

// Allow reports whether another attempt from key may proceed now
func (l *LoginLimiter) Allow(key string) bool {
	l.mu.Lock()
	entry, exists := l.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = l.now()
	// Capture while holding the lock; the sweeper may delete the entry
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// Len returns the number of tracked keys
func (l *LoginLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *LoginLimiter) cleanupLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopCh:
			return
		}
	}
}

func (l *LoginLimiter) sweep() {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

// Closed reports whether Close has been called
func (l *LoginLimiter) Closed() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

// Close stops the sweeper
func (l *LoginLimiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.wg.Wait()
}
