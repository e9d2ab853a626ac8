package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// reportLimiter spaces out report uploads per session.
type reportLimiter struct {
	mu       sync.Mutex
	every    time.Duration
	limiters map[string]*rate.Limiter
}

func newReportLimiter(every time.Duration) *reportLimiter {
	return &reportLimiter{every: every, limiters: map[string]*rate.Limiter{}}
}

func (l *reportLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.every), 1)
		l.limiters[sessionID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (l *reportLimiter) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.limiters, sessionID)
	l.mu.Unlock()
}

// Prune drops limiters that have refilled, so ended or expired sessions do
// not accumulate.
func (l *reportLimiter) Prune() int {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, lim := range l.limiters {
		if lim.TokensAt(now) >= 1 {
			delete(l.limiters, id)
			n++
		}
	}
	return n
}
