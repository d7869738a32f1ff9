package server

import (
	"net/http"
	"time"

	"chatwire/internal/auth"
	"chatwire/internal/config"
	"chatwire/internal/metrics"
	"chatwire/internal/mw"
	"chatwire/internal/service"
	"chatwire/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, reg *ws.Registry, router *ws.Router) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	userSvc := service.NewUserService(db, cfg)
	h := NewHandler(userSvc, cfg)

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))
	authed.GET("/users", h.ListUsers)
	authed.POST("/upload", h.Upload)

	r.GET("/ws", ws.Serve(reg, router, db, cfg))
	r.Static("/uploads", cfg.UploadDir)

	return r
}
