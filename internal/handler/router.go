package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xpp-chat/backend/internal/logger"
	"github.com/xpp-chat/backend/internal/service"
)

type RouterConfig struct {
	CORSOrigins []string
	// probed by /health
	Dependencies map[string]Pinger
}

func NewRouter(cfg RouterConfig, authService *service.AuthService, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log), CORSMiddleware(cfg.CORSOrigins, true))

	health := NewHealthHandler(cfg.Dependencies)
	router.GET("/", Root)
	router.GET("/ping", Ping)
	router.GET("/health", health.Health)
	router.GET("/openapi.json", OpenAPIDoc)

	auth := NewAuthHandler(authService)
	api := router.Group("/api/auth")
	api.POST("/register", auth.Register)
	api.POST("/login", auth.Login)

	protected := api.Group("", AuthMiddleware(authService))
	protected.POST("/logout", auth.Logout)
	protected.GET("/me", auth.Me)

	return router
}
