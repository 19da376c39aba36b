package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware keeps a token bucket per client. Authenticated
// requests are keyed by user, everything else by source IP. Idle buckets
// are evicted so the map stays bounded.
type RateLimitMiddleware struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimitMiddleware(perSecond float64, burst int) *RateLimitMiddleware {
	m := &RateLimitMiddleware{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
	go m.evictLoop()
	return m
}

func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID := c.GetInt64("user_id"); userID != 0 {
			key = "user:" + strconv.FormatInt(userID, 10)
		}

		if !m.limiterFor(key).Allow() {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests, slow down",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (m *RateLimitMiddleware) limiterFor(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, ok := m.clients[key]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.clients[key] = client
	}
	client.lastSeen = time.Now()
	return client.limiter
}

func (m *RateLimitMiddleware) evictLoop() {
	for range time.Tick(time.Minute) {
		cutoff := time.Now().Add(-10 * time.Minute)
		m.mu.Lock()
		for key, client := range m.clients {
			if client.lastSeen.Before(cutoff) {
				delete(m.clients, key)
			}
		}
		m.mu.Unlock()
	}
}
