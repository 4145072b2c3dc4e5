// Package api wires the quorumd HTTP surface: the replica-set wire
// endpoints, health checks, and Prometheus metrics.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"quorumd.io/server/internal/api/handlers"
	"quorumd.io/server/internal/api/middleware"
	"quorumd.io/server/internal/cluster"
	"quorumd.io/server/internal/metrics"
)

// RouterConfig holds configuration for setting up the HTTP router.
type RouterConfig struct {
	// Manager is the cluster manager owning the topology coordinator.
	Manager *cluster.Manager

	// Logger is the Zap logger for request logging.
	Logger *zap.Logger

	// InstanceID is this instance's UUID.
	InstanceID string

	// RequestsPerSecond rate-limits each client IP; zero disables
	// limiting.
	RequestsPerSecond float64
}

// SetupRouter creates and configures the Gin HTTP router with all routes
// and middleware.
//
// Parameters:
//   - config: Router configuration
//
// Returns:
//   - Configured Gin engine ready to serve requests
func SetupRouter(config *RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(config.Logger))
	if config.RequestsPerSecond > 0 {
		router.Use(middleware.RateLimitByIP(config.RequestsPerSecond, int(config.RequestsPerSecond*2)))
	}

	replSetHandler := handlers.NewReplSetHandler(config.Manager)
	healthHandler := handlers.NewHealthHandler(config.Manager, config.InstanceID)

	// Metrics endpoint (no authentication required).
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		metrics.Registry,
		promhttp.HandlerOpts{},
	)))

	// Health check routes.
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Liveness)
		health.GET("/ready", healthHandler.Readiness)
	}

	// Replica-set wire surface.
	v1 := router.Group("/v1/replset")
	{
		v1.POST("/heartbeat", replSetHandler.Heartbeat)
		v1.POST("/fresh", replSetHandler.Fresh)
		v1.POST("/elect", replSetHandler.Elect)
		v1.POST("/freeze", replSetHandler.Freeze)
		v1.POST("/syncFrom", replSetHandler.SyncFrom)
		v1.POST("/stepDown", replSetHandler.StepDown)
		v1.GET("/status", replSetHandler.Status)
	}

	return router
}
