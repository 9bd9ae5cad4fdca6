package handler

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "financial-tools"

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler serves liveness and dependency checks
type HealthHandler struct {
	version string
	checks  map[string]HealthCheck
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewHealthHandler creates a new health handler. checks is keyed by
// dependency name.
func NewHealthHandler(version string, checks map[string]HealthCheck, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		version: version,
		checks:  checks,
		timeout: 2 * time.Second,
		now:     time.Now,
		logger:  logger,
	}
}

// Health reports that the process is serving
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": h.now().UTC(),
		"version":   h.version,
	})
}

// Detailed checks every dependency and reports runtime figures. It answers
// 503 when any dependency is down.
// GET /health/detailed
func (h *HealthHandler) Detailed(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "healthy"
	services := gin.H{"api": "healthy"}
	var warnings []string
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			services[name] = "unhealthy"
			warnings = append(warnings, name+" unreachable")
			status = "degraded"
			continue
		}
		services[name] = "healthy"
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	body := gin.H{
		"status":    status,
		"service":   serviceName,
		"timestamp": h.now().UTC(),
		"version":   h.version,
		"system": gin.H{
			"goroutines":    runtime.NumGoroutine(),
			"heap_alloc_mb": mem.HeapAlloc / (1 << 20),
			"sys_mb":        mem.Sys / (1 << 20),
			"num_gc":        mem.NumGC,
			"go_version":    runtime.Version(),
			"num_cpu":       runtime.NumCPU(),
		},
		"services": services,
	}
	if len(warnings) > 0 {
		body["warnings"] = warnings
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, body)
}
