package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// SubmitLimiter is per-client token bucket limiting for execution requests.
// Each accepted request may start a sandbox, so the bucket is small.
type SubmitLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       float64 // tokens per second
	burst      int
	maxClients int
	now        func() time.Time
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewSubmitLimiter creates a limiter allowing rate requests per second per
// client with bursts of up to burst.
func NewSubmitLimiter(rate float64, burst int) *SubmitLimiter {
	return &SubmitLimiter{
		buckets:    make(map[string]*bucket),
		rate:       rate,
		burst:      burst,
		maxClients: 10000,
		now:        time.Now,
	}
}

// Handler rejects requests over the limit with 429 and a Retry-After header.
func (l *SubmitLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wait, ok := l.take(clientIP(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many execution requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// take consumes one token for client, or reports how long until one is
// available.
func (l *SubmitLimiter) take(client string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[client]
	if !ok {
		if len(l.buckets) >= l.maxClients {
			return time.Duration(float64(time.Second) / l.rate), false
		}
		b = &bucket{tokens: float64(l.burst)}
		l.buckets[client] = b
	} else {
		b.tokens = math.Min(float64(l.burst), b.tokens+now.Sub(b.lastSeen).Seconds()*l.rate)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return time.Duration((1 - b.tokens) / l.rate * float64(time.Second)), false
	}
	b.tokens--
	return 0, true
}

// Run drops buckets idle for longer than maxIdle every interval until ctx
// is done.
func (l *SubmitLimiter) Run(ctx context.Context, interval, maxIdle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.sweep(maxIdle)
		}
	}
}

func (l *SubmitLimiter) sweep(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxIdle)
	for c, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, c)
		}
	}
}

// Clients returns the number of tracked clients.
func (l *SubmitLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// clientIP uses RemoteAddr only. Forwarding headers are client controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
