package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sessionLimiter keeps one token bucket per session id so a misbehaving
// client cannot flood the ledger.
type sessionLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newSessionLimiter(perSecond float64, burst int) *sessionLimiter {
	l := &sessionLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[string]*visitor),
		stop:     make(chan struct{}),
	}
	if perSecond <= 0 {
		l.limit = rate.Inf
	}
	go l.cleanup(time.Minute, 3*time.Minute)
	return l
}

func (l *sessionLimiter) allow(key string) bool {
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()
	return v.limiter.Allow()
}

func (l *sessionLimiter) cleanup(every, idle time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			l.mu.Lock()
			for k, v := range l.visitors {
				if time.Since(v.lastSeen) > idle {
					delete(l.visitors, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *sessionLimiter) close() {
	l.stopOnce.Do(func() { close(l.stop) })
}
