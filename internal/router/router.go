package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"proofplus-coordinator/internal/config"
	"proofplus-coordinator/internal/handlers"
	"proofplus-coordinator/internal/middleware"
)

// Deps what the status API reads from
type Deps struct {
	Health    handlers.ListenerHealth
	States    handlers.TaskStateSource
	Finalized handlers.FinalizedTaskFinder
	Server    config.ServerConfig
	Logger    *logrus.Logger
}

// requestLogger logs every request at debug level through the shared logger
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.WithFields(logrus.Fields{
			"path":        c.Request.URL.Path,
			"method":      c.Request.Method,
			"status":      c.Writer.Status(),
			"remote_addr": c.ClientIP(),
		}).Debug("HTTP request")
	}
}

func SetupRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Logger))

	// ClientIP reads forwarding headers only from these peers
	if err := r.SetTrustedProxies(deps.Server.TrustedProxies); err != nil {
		deps.Logger.WithError(err).Warn("Invalid server.trustedProxies, forwarding headers are ignored")
		_ = r.SetTrustedProxies(nil)
	}

	auth := middleware.NewAuthMiddleware(deps.Server.JWTSecret, deps.Logger)
	if !auth.Enabled() {
		deps.Logger.Warn("server.jwtSecret is empty, /api is unauthenticated")
	}
	localhostOnly := middleware.NewLocalhostOnly(deps.Logger, deps.Server.MetricsAllowedIPs)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/health", handlers.HealthHandler(deps.Health))
	r.GET("/metrics", localhostOnly.Restrict(), gin.WrapH(promhttp.Handler()))

	login := handlers.NewAuthHandler(deps.Server.JWTSecret, deps.Server.TOTPSecret, deps.Logger)
	if login.Enabled() {
		r.POST("/auth/token", login.IssueToken)
	}

	tasks := handlers.NewTaskHandler(deps.States, deps.Finalized, deps.Logger)
	api := r.Group("/api", auth.RequireAuth())
	{
		api.GET("/tasks", tasks.ListTasks)
		api.GET("/tasks/:taskId", tasks.GetTask)
		api.GET("/finalized", tasks.ListFinalized)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message": "Endpoint not found",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}
