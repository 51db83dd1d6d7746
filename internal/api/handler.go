package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"paper-core/internal/engine"
	"paper-core/internal/events"
	"paper-core/internal/monitor"
	"paper-core/pkg/db"
)

// Server wires HTTP endpoints around the engine service.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	DB        *db.Database
	Hub       *events.Hub
	Metrics   *monitor.SystemMetrics
	Logger    *zap.Logger
	JWTSecret string
}

// Options configures NewServer.
type Options struct {
	Engine    engine.Service
	DB        *db.Database
	Hub       *events.Hub
	Metrics   *monitor.SystemMetrics
	Logger    *zap.Logger
	JWTSecret string

	// RateLimit is requests per second per client IP; RateBurst its burst.
	RateLimit float64
	RateBurst int
	Timeout   time.Duration
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(RecoveryMiddleware(logger)) // Panic recovery (first)
	r.Use(RequestIDMiddleware())      // Request ID tracking
	r.Use(RequestLogger(logger))      // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(newLimiterSet(opts.RateLimit, opts.RateBurst)))
	r.Use(TimeoutMiddleware(opts.Timeout))
	r.Use(CORSMiddleware()) // CORS (last before routes)

	s := &Server{
		Router:    r,
		Engine:    opts.Engine,
		DB:        opts.DB,
		Hub:       opts.Hub,
		Metrics:   opts.Metrics,
		Logger:    logger.Named("api"),
		JWTSecret: opts.JWTSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/prices", s.getPrices)
		api.GET("/prices/:symbol", s.getPrice)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/portfolios", s.createPortfolio)
			protected.GET("/portfolios", s.listPortfolios)
			protected.GET("/portfolios/:id", s.getPortfolio)

			protected.POST("/portfolios/:id/orders", s.placeOrder)
			protected.GET("/portfolios/:id/orders", s.listOrders)
			protected.PATCH("/orders/:id", s.modifyOrder)
			protected.DELETE("/orders/:id", s.cancelOrder)

			protected.GET("/portfolios/:id/positions", s.listPositions)
			protected.GET("/portfolios/:id/trades", s.listTrades)

			// Position actions
			protected.POST("/positions/:id/close", s.closePosition)
			protected.PUT("/positions/:id/stop-loss", s.setStopLoss)
			protected.PUT("/positions/:id/take-profit", s.setTakeProfit)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler exposes the router for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
