package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/open-mem/cmem-worker/internal/auth"
)

// corsMiddleware allows only the two localhost origins for the
// configured port; no wildcard (§4.9 middleware 1).
func corsMiddleware(port int) gin.HandlerFunc {
	portStr := strconv.Itoa(port)
	allowed := map[string]bool{
		"http://localhost:" + portStr: true,
		"http://127.0.0.1:" + portStr: true,
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// remoteAddrGuard rejects non-localhost remotes when the server is not
// explicitly bound to 0.0.0.0 (§4.9 middleware 2).
func remoteAddrGuard(bindHost string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if bindHost == "0.0.0.0" {
			c.Next()
			return
		}
		if !isLocalRemote(c.Request.RemoteAddr) {
			writeError(c, http.StatusForbidden, "remote address not permitted")
			return
		}
		c.Next()
	}
}

func isLocalRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	switch strings.ToLower(host) {
	case "127.0.0.1", "::1", "::ffff:127.0.0.1", "localhost", "":
		return true
	}
	return false
}

// rateLimitBucket pairs a token-bucket limiter with its last-use time
// so the sweeper can reap idle entries.
type rateLimitBucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// RateLimiter is a per-remote-address token-bucket limiter: 100 req/s,
// burst 100, with a sweeper evicting buckets idle for 60s (§4.9
// middleware 3).
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateLimitBucket
	rps     float64
	burst   int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter constructs a RateLimiter and starts its sweeper.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*rateLimitBucket),
		rps:     rps,
		burst:   burst,
		stopCh:  make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &rateLimitBucket{limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst)}
		rl.buckets[key] = b
	}
	b.lastUsed = time.Now()
	return b.limiter.Allow()
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) sweep() {
	cutoff := time.Now().Add(-60 * time.Second)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// Stop halts the sweeper goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		host := c.Request.RemoteAddr
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if !rl.allow(host) {
			writeError(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// bodySizeGuard enforces the 100 KB cap both on declared Content-Length
// and on bytes actually read (§4.9 middleware 4).
func bodySizeGuard(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			writeError(c, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// bearerAuth requires a valid Authorization: Bearer token on every path
// except GET /health (§4.9 middleware 5).
func bearerAuth(mgr *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet && c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		candidate := strings.TrimPrefix(header, prefix)
		if !mgr.Verify(candidate) {
			writeError(c, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		c.Next()
	}
}

// contentTypeEnforcement requires application/json on POST/PUT bodies
// (§4.9 middleware 6).
func contentTypeEnforcement() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != http.MethodPost && method != http.MethodPut {
			c.Next()
			return
		}
		ct := c.GetHeader("Content-Type")
		if !strings.HasPrefix(ct, "application/json") {
			writeError(c, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		c.Next()
	}
}

