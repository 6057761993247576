package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/config"
	"github.com/stemsi/trivia-engine/internal/handler"
	"github.com/stemsi/trivia-engine/internal/middleware"
	"github.com/stemsi/trivia-engine/internal/response"
	"github.com/stemsi/trivia-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
	Health  *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	joinLimiter middleware.Limiter,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware(log))

	// SSE and WebSocket upgrades are skipped by the middleware itself.
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.Health.Health)

	// ─── 1. Authenticated API ──────────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireIdentity(authService))
	{
		sessions := api.Group("/sessions")
		sessions.Use(middleware.NoStore())
		{
			sessions.POST("", handlers.Session.CreateSession)
			sessions.GET("", handlers.Session.ListSessions)
			sessions.POST("/join", middleware.RateLimit(joinLimiter), handlers.Session.JoinSession)

			sessions.GET("/:session_id", handlers.Session.GetSession)
			sessions.DELETE("/:session_id", handlers.Session.DeleteSession)
			sessions.POST("/:session_id/start", handlers.Session.StartGame)
			sessions.POST("/:session_id/advance", handlers.Session.AdvanceQuestion)
			sessions.POST("/:session_id/end", handlers.Session.EndGame)
			sessions.POST("/:session_id/restart", handlers.Session.RestartSession)
			sessions.POST("/:session_id/answers", handlers.Session.SubmitAnswer)
			sessions.GET("/:session_id/leaderboard", handlers.Session.GetLeaderboard)
		}

		// Archived results do not change once written.
		results := api.Group("")
		results.Use(middleware.PrivateCache(60))
		{
			results.GET("/sessions/:session_id/results", handlers.Session.GetSessionResults)
			results.GET("/users/me/results", handlers.Session.GetMyResults)
		}

		api.GET("/users/me/stats", handlers.Session.GetMyStats)

		api.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	// ─── 2. WebSocket ──────────────────────────────────────────────────
	wsGroup := router.Group("/ws/v1")
	wsGroup.Use(middleware.RequireWSIdentity(authService))
	{
		wsGroup.GET("/sessions", handlers.WS.SessionStream)
	}

	return router
}
