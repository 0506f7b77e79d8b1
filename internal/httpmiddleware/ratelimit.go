package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc picks the identity a request is limited under.
type KeyFunc func(c *gin.Context) string

// ClientIP limits by remote address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// TokenBucket is an in-memory per-key rate limiter. Buckets are local to the
// process. A bucket left idle long enough to refill completely is dropped,
// since a fresh bucket behaves the same.
type TokenBucket struct {
	capacity  int
	rate      int
	now       func() time.Time
	mu        sync.Mutex
	state     map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewTokenBucket creates limiter with capacity tokens and rate per minute.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     perMinute,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// Middleware returns a gin handler enforcing limits per key. A nil key
// function limits by client IP; an empty key falls back to it as well.
func (l *TokenBucket) Middleware(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.rate <= 0 {
			c.Next()
			return
		}
		k := ""
		if key != nil {
			k = key(c)
		}
		if k == "" {
			k = ClientIP(c)
		}
		if !l.allow(k) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// refillPeriod is how long an empty bucket takes to fill up.
func (l *TokenBucket) refillPeriod() time.Duration {
	return time.Duration(float64(l.capacity) / float64(l.rate) * float64(time.Minute))
}

// sweep runs at most once per refill period, so its cost is amortised over
// the requests in between.
func (l *TokenBucket) sweep(now time.Time) {
	idle := l.refillPeriod()
	if now.Sub(l.lastSweep) < idle {
		return
	}
	l.lastSweep = now
	for k, b := range l.state {
		if now.Sub(b.last) >= idle {
			delete(l.state, k)
		}
	}
}

func (l *TokenBucket) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweep(now)
	b, ok := l.state[key]
	if !ok {
		b = &bucket{tokens: l.capacity - 1, last: now}
		l.state[key] = b
		return true
	}
	elapsed := now.Sub(b.last).Minutes()
	refill := int(elapsed * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
