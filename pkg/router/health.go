package router

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// setupHealthRoutes registers health, status and metrics endpoints
func (r *Router) setupHealthRoutes() {
	r.Engine.GET("/health", r.Container.Health.Handler())

	r.Engine.GET("/status", func(c *gin.Context) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		response := gin.H{
			"status":    "ok",
			"version":   os.Getenv("APP_VERSION"),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(startTime).Round(time.Second).String(),
			"sessions":  r.Container.Hub.Stats(c.Request.Context()),
			"memory": gin.H{
				"alloc_mb":   memStats.Alloc / 1024 / 1024,
				"sys_mb":     memStats.Sys / 1024 / 1024,
				"gc_cycles":  memStats.NumGC,
				"goroutines": runtime.NumGoroutine(),
			},
		}
		if r.Container.Breaker != nil {
			response["redisBreaker"] = r.Container.Breaker.Stats()
		}
		c.JSON(http.StatusOK, response)
	})

	if r.Container.Config.Telemetry.MetricsEnabled {
		r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}
