package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ipLimiters is a per-client-IP token bucket set with lazy expiry.
type ipLimiters struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	byIP  map[string]*ipBucket
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	b, ok := l.byIP[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.byIP[ip] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()
	return b.limiter.Allow()
}

// sweep drops buckets idle longer than 10 minutes.
func (l *ipLimiters) sweep() {
	for range time.Tick(5 * time.Minute) {
		l.mu.Lock()
		for ip, b := range l.byIP {
			if time.Since(b.lastSeen) > 10*time.Minute {
				delete(l.byIP, ip)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimiter returns a Gin middleware enforcing a per-IP token bucket:
// rps steady-state requests per second with the given burst allowance.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	l := &ipLimiters{
		rps:   rate.Limit(rps),
		burst: burst,
		byIP:  make(map[string]*ipBucket),
	}
	go l.sweep()

	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
