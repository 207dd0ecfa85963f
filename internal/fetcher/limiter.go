package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter enforces a minimum interval between requests to the same
// host. Each host gets its own token bucket so waiting on one host never
// delays another, which keeps the limiter safe under cross-site workers.
type HostLimiter struct {
	defaultDelay time.Duration
	maxDelay     time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates a limiter with the given politeness interval.
// maxDelay caps per-host overrides so a hostile Crawl-delay directive
// cannot stall a scan.
func NewHostLimiter(defaultDelay, maxDelay time.Duration) *HostLimiter {
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &HostLimiter{
		defaultDelay: defaultDelay,
		maxDelay:     maxDelay,
		limiters:     make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to host is permitted or ctx is cancelled.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l == nil || host == "" || l.defaultDelay <= 0 {
		return nil
	}
	return l.limiter(host).Wait(ctx)
}

// SetDelay installs a per-host politeness override, typically from a
// robots.txt Crawl-delay directive. Overrides only ever slow a host down:
// values below the default interval are ignored.
func (l *HostLimiter) SetDelay(host string, delay time.Duration) {
	if l == nil || host == "" || delay <= l.defaultDelay {
		return
	}
	if delay > l.maxDelay {
		delay = l.maxDelay
	}
	l.limiter(host).SetLimit(rate.Every(delay))
}

func (l *HostLimiter) limiter(host string) *rate.Limiter {
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		interval := l.defaultDelay
		if interval <= 0 {
			interval = time.Millisecond
		}
		lim = rate.NewLimiter(rate.Every(interval), 1)
		l.limiters[host] = lim
	}
	return lim
}
