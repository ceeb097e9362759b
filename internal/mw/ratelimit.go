package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"chatroom/internal/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

// KeyedLimiter 为每个 key 维护一个令牌桶，长期不活跃的 key 会被回收。
// HTTP 中间件按 IP+路由 取 key，实时层按用户 ID 取 key。
type KeyedLimiter struct {
	mu   sync.Mutex
	m    map[string]*keyLimiter
	r    rate.Limit
	b    int
	ttl  time.Duration
	stop chan struct{}
}

func NewKeyedLimiter(r rate.Limit, burst int, ttl time.Duration) *KeyedLimiter {
	kl := &KeyedLimiter{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl, stop: make(chan struct{})}
	go kl.gc()
	return kl
}

func (kl *KeyedLimiter) get(key string) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	e, ok := kl.m[key]
	if ok {
		e.ts = time.Now()
		return e.lim
	}
	lim := rate.NewLimiter(kl.r, kl.b)
	kl.m[key] = &keyLimiter{lim: lim, ts: time.Now()}
	return lim
}

// Allow 消耗 key 对应的一个令牌。
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.get(key).Allow()
}

func (kl *KeyedLimiter) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-kl.stop:
			return
		case <-ticker.C:
			now := time.Now()
			kl.mu.Lock()
			for k, v := range kl.m {
				if now.Sub(v.ts) > kl.ttl {
					delete(kl.m, k)
				}
			}
			kl.mu.Unlock()
		}
	}
}

// Stop 停止 GC goroutine，用于优雅停服。
func (kl *KeyedLimiter) Stop() {
	select {
	case <-kl.stop:
	default:
		close(kl.stop)
	}
}

// RateLimit 返回一个基于 IP+路径的令牌桶限速中间件。
func RateLimit(kl *KeyedLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := clientIP(c.Request.RemoteAddr)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !kl.Allow(ip + "|" + path) {
			metrics.RateLimited.WithLabelValues("http").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
