package router

import (
	"net/http"
	"strconv"
	"strings"

	"defeatthememe-backend/internal/config"
	"defeatthememe-backend/internal/handlers"
	"defeatthememe-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Dependencies are the handlers and settings the router wires together.
type Dependencies struct {
	CORS         config.CORSConfig
	AllowedIPs   []string
	Relay        *handlers.RelayHandler
	GameResults  *handlers.GameResultHandler
	AdminAuth    *handlers.AdminAuthHandler
	Admin        *handlers.AdminHandler
	WebSocket    *handlers.WebSocketHandler
	HealthChecks []handlers.HealthCheck
	Logger       *logrus.Entry
}

// corsMiddleware applies the configured origin list. An empty list allows every origin.
func corsMiddleware(cfg config.CORSConfig, logger *logrus.Entry) gin.HandlerFunc {
	allowedOrigins := cfg.AllowedOrigins
	allowCredentials := cfg.AllowCredentials
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
		allowCredentials = false
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 3600
	}
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, o := range allowedOrigins {
				if strings.TrimSpace(o) == origin {
					allowed = true
					break
				}
			}
			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			} else {
				logger.WithFields(logrus.Fields{
					"request_origin": origin,
					"path":           c.Request.URL.Path,
					"method":         c.Request.Method,
				}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		if allowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SetupRouter builds the gin engine.
func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestMetrics(deps.Logger))
	r.Use(corsMiddleware(deps.CORS, deps.Logger))

	// ============ Probes ============
	r.GET("/ping", handlers.PingHandler)
	r.GET("/health", handlers.HealthCheckHandler(deps.HealthChecks...))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ Live feed ============
	if deps.WebSocket != nil {
		r.GET("/ws", deps.WebSocket.HandleWebSocket)
	}

	api := r.Group("/api")

	// ============ Relay ============
	if deps.Relay != nil {
		relay := api.Group("/relay")
		relay.POST("", deps.Relay.LegacyRelayHandler)
		relay.POST("/execute", deps.Relay.ExecuteHandler)
		relay.POST("/prepare", deps.Relay.PrepareHandler)
		relay.GET("/forwarder", deps.Relay.ForwarderHandler)
	}

	// ============ Game results ============
	if deps.GameResults != nil {
		api.POST("/game-results", deps.GameResults.SaveHandler)
		api.GET("/game-results", deps.GameResults.QueryHandler)
	}

	// ============ Admin (IP allow-list + JWT) ============
	if deps.AdminAuth != nil {
		allowList := middleware.NewIPAllowList(deps.Logger, deps.AllowedIPs)
		admin := api.Group("/admin", allowList.Restrict())
		admin.POST("/login", deps.AdminAuth.AdminLoginHandler)
		admin.GET("/totp-secret", deps.AdminAuth.GenerateTOTPSecretHandler)

		authed := admin.Group("", middleware.NewAdminAuthMiddleware(deps.AdminAuth, deps.Logger).RequireAdminAuth())
		if deps.Admin != nil {
			authed.GET("/relay-attempts", deps.Admin.ListRelayAttemptsHandler)
			authed.GET("/relay-attempts/:id", deps.Admin.GetRelayAttemptHandler)
		}
		if deps.GameResults != nil {
			authed.POST("/sample-data", deps.GameResults.SampleDataHandler)
		}
		if deps.WebSocket != nil {
			authed.GET("/ws-stats", deps.WebSocket.StatsHandler)
		}
	}

	// ============ NoRoute handler for 404 ============
	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if !strings.HasPrefix(path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{
				"message":    "Endpoint not found",
				"path":       path,
				"suggestion": "Check /api endpoints for available APIs",
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{
			"message": "API endpoint not found",
			"path":    path,
		})
	})

	return r
}
