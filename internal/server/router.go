package server

import (
	"net/http"
	"time"

	"chatroom/internal/auth"
	"chatroom/internal/config"
	"chatroom/internal/metrics"
	"chatroom/internal/mw"
	"chatroom/internal/service"
	"chatroom/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Deps 是路由需要的运行期依赖。Redis 为空时登录接口只使用进程内限速。
type Deps struct {
	Store   *service.Store
	Hub     *ws.Hub
	Limiter *mw.KeyedLimiter
	Redis   *redis.Client
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	limiter := d.Limiter
	if limiter == nil {
		limiter = mw.NewKeyedLimiter(rate.Every(time.Second/20), 40, 10*time.Minute)
	}
	// 控制单个 IP+路由的速率。
	r.Use(mw.RateLimit(limiter))

	r.GET("/healthz", func(c *gin.Context) {
		users, rooms, messages := d.Store.Stats()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "users": users, "rooms": rooms, "messages": messages})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ttl := time.Duration(cfg.SessionTTLDays) * 24 * time.Hour
	h := NewHandler(d.Store, d.Hub, cfg.JWTSecret, ttl, cfg.Env != "dev")
	resolver := auth.NewResolver(d.Store, cfg.JWTSecret)

	api := r.Group("/api/v1")

	login := api.Group("/auth")
	if d.Redis != nil {
		// 跨实例的登录尝试限制，防止口令被暴力枚举。
		login.Use(mw.RedisRateLimit(mw.NewWindowLimiter(d.Redis, "chat:login", 10, time.Minute)))
	}
	login.POST("/password", h.LoginPassword)
	login.POST("/account-hash", h.LoginAccountHash)
	if cfg.Env == "dev" {
		login.POST("/dev-login", h.DevLogin)
	}

	// 需要会话凭据的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(resolver))

	authed.POST("/auth/logout", h.Logout)

	authed.GET("/me", h.Me)
	authed.DELETE("/me", h.DeleteAccount)
	authed.PUT("/me/name", h.Rename)
	authed.POST("/me/password", h.SetPassword)
	authed.DELETE("/me/password", h.DisablePassword)
	authed.POST("/me/account-hash", h.GenerateAccountHash)
	authed.DELETE("/me/account-hash", h.DisableAccountHash)

	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/discover", h.DiscoverRooms)
	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms/:id", h.RoomSnapshot)
	authed.GET("/rooms/:id/messages", h.ListMessages)
	authed.POST("/rooms/:id/join", h.JoinRoom)
	authed.POST("/rooms/:id/leave", h.LeaveRoom)

	r.GET("/ws", ws.Serve(d.Hub, resolver, mw.OriginAllowed(cfg.Env)))
	return r
}
