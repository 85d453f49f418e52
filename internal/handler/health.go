package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Dependency is one backing service probed by /readyz.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

type HealthHandler struct {
	deps []Dependency
}

func NewHealthHandler(deps ...Dependency) *HealthHandler {
	return &HealthHandler{deps: deps}
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Readyz(c *gin.Context) {
	ctx := c.Request.Context()

	body := gin.H{"status": "ok"}
	for _, d := range h.deps {
		if err := d.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", d.Name: "unavailable"})
			return
		}
		body[d.Name] = "connected"
	}
	c.JSON(http.StatusOK, body)
}
