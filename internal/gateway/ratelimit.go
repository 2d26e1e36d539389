package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cod3vil/data-veil/internal/config"
)

// clientLimiter keeps a token bucket per client address.
type clientLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientBucket
	limit    rate.Limit
	burst    int
	enabled  bool
	stopOnce sync.Once
	stop     chan struct{}
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(cfg config.RateLimitConfig) *clientLimiter {
	return &clientLimiter{
		clients: make(map[string]*clientBucket),
		limit:   rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:   cfg.Burst,
		enabled: cfg.Enabled,
		stop:    make(chan struct{}),
	}
}

// allow reports whether the client may make another request now.
func (l *clientLimiter) allow(client string) bool {
	if !l.enabled {
		return true
	}

	l.mu.Lock()
	bucket, ok := l.clients[client]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = bucket
	}
	bucket.lastSeen = time.Now()
	l.mu.Unlock()

	return bucket.limiter.Allow()
}

// startCleanup evicts buckets for clients idle longer than ten minutes.
func (l *clientLimiter) startCleanup() {
	if !l.enabled {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-10 * time.Minute)
				l.mu.Lock()
				for client, bucket := range l.clients {
					if bucket.lastSeen.Before(cutoff) {
						delete(l.clients, client)
					}
				}
				l.mu.Unlock()
			}
		}
	}()
}

func (l *clientLimiter) stopCleanup() {
	l.stopOnce.Do(func() { close(l.stop) })
}
