package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xpp-chat/backend/internal/model"
)

const (
	ServiceName    = "XPP WeChat Backend API"
	ServiceVersion = "1.0.0"
)

// Pinger is anything /health should probe: the user store, the session cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	deps  map[string]Pinger
	names []string // probe order
	now   func() time.Time
}

func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return &HealthHandler{deps: deps, names: names, now: time.Now}
}

// Health godoc
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} model.HealthResponse
// @Failure 503 {object} model.HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for _, name := range h.names {
		if err := h.deps[name].Ping(ctx); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, model.HealthResponse{
				Status:    name + " unavailable",
				Timestamp: h.now().Unix(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, model.HealthResponse{Status: "ok", Timestamp: h.now().Unix()})
}

// Ping godoc
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} model.PingResponse
// @Router /ping [get]
func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, model.PingResponse{Message: "pong"})
}

// Root godoc
// @Summary Service banner
// @Tags health
// @Produce json
// @Success 200 {object} model.RootResponse
// @Router / [get]
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, model.RootResponse{Message: ServiceName, Version: ServiceVersion})
}
