package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nshruti113/request-shield/internal/config"
	"github.com/nshruti113/request-shield/internal/ddos"
	"github.com/nshruti113/request-shield/internal/detection"
	"github.com/nshruti113/request-shield/internal/events"
	"github.com/nshruti113/request-shield/internal/firewall"
	"github.com/nshruti113/request-shield/internal/logging"
	"github.com/nshruti113/request-shield/internal/models"
	"github.com/nshruti113/request-shield/internal/patterns"
	"github.com/nshruti113/request-shield/internal/pipeline"
	"github.com/nshruti113/request-shield/internal/ratelimit"
	"github.com/nshruti113/request-shield/internal/storage"
)

type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	store  storage.Store
	engine *ddos.Engine
	hub    *events.Hub
	router *gin.Engine
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	var store storage.Store
	var err error
	switch cfg.Storage {
	case "memory":
		store = storage.NewMemoryStore()
	default:
		store, err = storage.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	library, err := patterns.NewLibrary()
	if err != nil {
		return nil, fmt.Errorf("compiling attack patterns: %w", err)
	}

	categories, err := cfg.Categories()
	if err != nil {
		return nil, err
	}

	detector := detection.NewDetector(library, categories, cfg.MaxRequestSize)
	fw := firewall.New(detector, logger)

	hub := events.NewHub(logger)
	sink := events.Multi{
		events.NewLogSink(logger),
		events.NewStoreSink(store, logger),
		hub,
	}

	engine := ddos.NewEngine(store, sink, logger, ddos.Options{
		Whitelist:           cfg.WhitelistNets,
		Blacklist:           cfg.BlacklistNets,
		SuspiciousThreshold: cfg.SuspiciousThreshold,
		BlockDuration:       cfg.BlockDuration(),
		Window:              cfg.Window(),
	})

	limiter := ratelimit.NewLimiter(store, engine, logger, ratelimit.Options{
		Algorithm:       ratelimit.Algorithm(cfg.Algorithm),
		DefaultLimit:    cfg.DefaultLimit,
		AdminLimit:      cfg.AdminLimit,
		AuthLimit:       cfg.AuthLimit,
		PerRouteLimits:  cfg.PerRouteLimits,
		BurstMultiplier: cfg.BurstMultiplier,
		Window:          cfg.Window(),
	})

	defense := pipeline.New(cfg, fw, engine, limiter, sink, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(defense.Middleware())

	server := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
		engine: engine,
		hub:    hub,
		router: router,
	}

	server.setupRoutes()
	return server, nil
}

func (s *Server) setupRoutes() {
	// Whitelisted, bypasses the pipeline.
	s.router.GET("/health", s.health)

	api := s.router.Group("/api/v1")
	{
		// Protected sample resources standing in for the business API.
		api.GET("/books", passthrough("books"))
		api.GET("/quotes", passthrough("quotes"))
		api.POST("/auth/login", passthrough("login"))

		security := api.Group("/security")
		{
			security.POST("/challenge", s.issueChallenge)
			security.POST("/challenge/verify", s.verifyChallenge)
			security.POST("/unblock/:client", s.unblockClient)
			security.GET("/status/:client", s.clientStatus)
		}
	}

	// Live security-event feed.
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.Serve(c.Writer, c.Request)
	})
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
	defer cancel()

	status := "ok"
	if err := s.store.Ping(ctx); err != nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// passthrough stands in for business handlers that live behind the
// pipeline.
func passthrough(resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resource": resource, "items": []string{}})
	}
}

// issueChallenge hands a bot-tier client an arithmetic puzzle instead
// of a flat deny.
func (s *Server) issueChallenge(c *gin.Context) {
	client := pipeline.Identify(c.Request)

	challenge, err := s.engine.GenerateChallenge(c.Request.Context(), client)
	if err != nil {
		s.logger.Error("generating challenge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to generate challenge"})
		return
	}
	c.JSON(http.StatusOK, challenge)
}

func (s *Server) verifyChallenge(c *gin.Context) {
	var req struct {
		Token  string `json:"token" binding:"required"`
		Answer string `json:"answer" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	ok, err := s.engine.VerifyChallenge(c.Request.Context(), req.Token, req.Answer)
	if err != nil {
		s.logger.Error("verifying challenge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to verify challenge"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"verified": false})
		return
	}

	// A passed challenge clears the client's standing.
	client := pipeline.Identify(c.Request)
	if err := s.engine.Unblock(c.Request.Context(), client); err != nil {
		s.logger.Error("clearing client after challenge", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (s *Server) unblockClient(c *gin.Context) {
	client := models.ClientIdentity{ID: c.Param("client")}
	if err := s.engine.Unblock(c.Request.Context(), client); err != nil {
		s.logger.Error("unblocking client", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to unblock client"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unblocked"})
}

func (s *Server) clientStatus(c *gin.Context) {
	client := models.ClientIdentity{ID: c.Param("client")}
	status, err := s.engine.Status(c.Request.Context(), client)
	if err != nil {
		s.logger.Error("reading client status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to read client status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// corsMiddleware handles CORS for the dashboard.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("invalid configuration:", err)
		return
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Println("failed to build logger:", err)
		return
	}
	defer logger.Sync()

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}
	defer server.store.Close()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("request shield listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
