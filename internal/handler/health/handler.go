package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

const checkTimeout = 2 * time.Second

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Handler struct {
	checks map[string]Check
}

// NewHandler builds a handler whose readiness depends on checks. A nil map
// means the process is ready as soon as it serves.
func NewHandler(checks map[string]Check) *Handler {
	if checks == nil {
		checks = map[string]Check{}
	}
	return &Handler{checks: checks}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/live", h.LivenessCheck)
	r.GET("/ready", h.ReadinessCheck)
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := gin.H{}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"checks": failed,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}
