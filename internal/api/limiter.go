package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// ProjectLimiter holds one token bucket per project id. Buckets are created
// on first use and live for the life of the process.
type ProjectLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewProjectLimiter allows rps requests per second per project with the
// given burst. A burst below 1 is raised to 1.
func NewProjectLimiter(rps float64, burst int) *ProjectLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ProjectLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether one more request for projectID may proceed now.
func (l *ProjectLimiter) Allow(projectID string) bool {
	return l.get(projectID).Allow()
}

func (l *ProjectLimiter) get(projectID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[projectID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[projectID] = lim
	}
	return lim
}
