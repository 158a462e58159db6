package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck pings one backing dependency such as postgres or redis.
type ReadinessCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// BaseHandler serves liveness, readiness and the prometheus scrape endpoint.
type BaseHandler struct {
	logger *zap.Logger
	checks []ReadinessCheck
}

func NewBaseHandler(logger *zap.Logger, checks ...ReadinessCheck) *BaseHandler {
	return &BaseHandler{logger: logger, checks: checks}
}

func (b *BaseHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", b.GetHealth)
	r.GET("/ready", b.GetReady)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// GetHealth reports that the process is up. It never touches dependencies.
func (b *BaseHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetReady answers 503 while any dependency check fails.
func (b *BaseHandler) GetReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(gin.H, len(b.checks))
	for _, check := range b.checks {
		if err := check.Probe(ctx); err != nil {
			b.logger.Warn("readiness_check_failed", zap.String("dependency", check.Name), zap.Error(err))
			results[check.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[check.Name] = "ok"
	}
	c.JSON(status, gin.H{"ready": status == http.StatusOK, "checks": results})
}
