package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/authsession/pkg/metrics"
	"github.com/gogotex/authsession/pkg/response"
	"golang.org/x/time/rate"
)

// rateKey prefers the authenticated subject when present (NAT-friendly), otherwise the client IP.
func rateKey(c *gin.Context) string {
	if p, ok := PrincipalFrom(c); ok && p.ID != "" {
		return "sub:" + p.ID
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

func rejectRateLimited(c *gin.Context, retryAfter string) {
	c.Header("Retry-After", retryAfter)
	response.Fail(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
}

// RateLimitMiddleware returns a Gin middleware enforcing a token bucket per key.
// Every call owns its own bucket set, so separate route groups do not share budgets.
// rps = allowed events per second, burst = maximum tokens in bucket.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	var buckets sync.Map // map[string]*rate.Limiter
	return func(c *gin.Context) {
		v, _ := buckets.LoadOrStore(rateKey(c), rate.NewLimiter(rate.Limit(rps), burst))
		if !v.(*rate.Limiter).Allow() {
			metrics.RateLimitRejected.WithLabelValues("memory").Inc()
			rejectRateLimited(c, "1")
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("memory").Inc()
		c.Next()
	}
}
