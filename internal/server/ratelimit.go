package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/kbqa-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained questions per second allowed per
	// client IP (KBQA_RATE_LIMIT).
	defaultRateLimit = 10

	// defaultRateBurst is the per-IP bucket size (KBQA_RATE_BURST).
	defaultRateBurst = 20

	// staleAfter is how long a bucket may go unused before it is dropped.
	staleAfter = 5 * time.Minute

	// sweepEvery is the interval of the background sweep.
	sweepEvery = time.Minute
)

// bucket is one client's token bucket plus the time it last asked.
type bucket struct {
	*rate.Limiter
	seen time.Time
}

// rateLimiter throttles /api/ask with one token bucket per client IP.
type rateLimiter struct {
	rps   rate.Limit
	burst int
	log   *slog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
}

// newRateLimiter starts the sweep goroutine. The returned stop func ends it
// and is safe to call repeatedly.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
		buckets: make(map[string]*bucket),
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(sweepEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-t.C:
				if n := rl.sweep(now); n > 0 {
					rl.log.Debug("rate limiter swept idle clients", slog.Int("dropped", n))
				}
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// allow spends one token from ip's bucket, creating the bucket on first use.
func (rl *rateLimiter) allow(ip string, now time.Time) bool {
	rl.mu.Lock()
	b := rl.buckets[ip]
	if b == nil {
		b = &bucket{Limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.seen = now
	rl.mu.Unlock()

	return b.AllowN(now, 1)
}

// sweep drops buckets unused since now-staleAfter and reports how many went.
func (rl *rateLimiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	dropped := 0
	for ip, b := range rl.buckets {
		if now.Sub(b.seen) > staleAfter {
			delete(rl.buckets, ip)
			dropped++
		}
	}
	return dropped
}

// middleware answers 429 with Retry-After once the caller's bucket is empty.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if rl.allow(ip, time.Now()) {
			next.ServeHTTP(w, r)
			return
		}

		logging.FromContext(r.Context()).Warn("question rate limited",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
		)
		w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", true)
	})
}

// retryAfter is the refill time of one token in whole seconds, within 1..60.
func (rl *rateLimiter) retryAfter() int {
	if rl.rps <= 0 {
		return 60
	}
	secs := int(math.Ceil(1 / float64(rl.rps)))
	return min(max(secs, 1), 60)
}

// clientIP is the host part of RemoteAddr. Forwarding headers are ignored.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
