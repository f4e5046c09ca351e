package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/vighneshvikky/vortexfit-rtc/config"
	"github.com/vighneshvikky/vortexfit-rtc/internal/handlers"
	"github.com/vighneshvikky/vortexfit-rtc/internal/middleware"
	"github.com/vighneshvikky/vortexfit-rtc/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis
	st, err := store.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer st.Close()

	log.Println("Redis connection established")

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	sessions := handlers.NewSessionAPI(st)
	signaling := handlers.NewSignaling(handlers.NewHub(), st, cfg.JWTSecret)

	// Session API (seeded by the booking subsystem)
	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// Create session (requires JWT)
		apiGroup.POST("/sessions", middleware.JWTAuth(cfg.JWTSecret), sessions.Create)

		// Get session info (public)
		apiGroup.GET("/sessions/:sessionId", sessions.Get)

		// Delete session (requires JWT, trainer only)
		apiGroup.DELETE("/sessions/:sessionId", middleware.JWTAuth(cfg.JWTSecret), sessions.Delete)
	}

	// Namespaced websocket endpoint (video, chat, notifications)
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/:namespace", signaling.HandleNamespace)
	}

	// Start server
	log.Printf("Starting signaling server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
