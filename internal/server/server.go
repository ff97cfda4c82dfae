package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mirra-dev/mirra/internal/config"
	"github.com/mirra-dev/mirra/internal/models"
	"github.com/mirra-dev/mirra/internal/service"
	"github.com/mirra-dev/mirra/internal/service/store"
)

// Server exposes the read-only catalog API plus the publish entry point
// the external production step posts jobs to. Read paths never mutate
// the catalog.
type Server struct {
	Config *config.Config
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Catalog        *store.Store
	Quarantine     *store.Quarantine
	PublishService *service.PublishService
	Scheduler      *service.Scheduler
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize the catalog and quarantine stores
	backups := store.NewBackupManager(logger, cfg.Store.CatalogPath)
	catalog, err := store.New(logger, cfg.Store.CatalogPath, backups)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	quarantine, err := store.NewQuarantine(logger, cfg.Store.QuarantinePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize quarantine: %w", err)
	}

	// One-shot idempotent migration at startup; external readers expect
	// the legacy hosting shape to never reappear.
	if _, err := catalog.MigrateSchema(); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog schema: %w", err)
	}

	// Initialize services
	publishService := service.NewPublishService(cfg, catalog, quarantine, logger)
	scheduler := service.NewScheduler(&cfg.Scheduler, logger, publishService, catalog, quarantine)

	// Create router
	router := gin.New()

	// Create server
	srv := &Server{
		Config:         cfg,
		Router:         router,
		Logger:         logger,
		Catalog:        catalog,
		Quarantine:     quarantine,
		PublishService: publishService,
		Scheduler:      scheduler,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		api.GET("/records", s.handleListRecords)
		api.GET("/records/:code", s.handleGetRecord)
		api.GET("/quarantine", s.handleGetQuarantine)
		api.POST("/publish", s.handlePublish)
	}
}

func (s *Server) handleListRecords(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if pageSize > 200 {
		pageSize = 200
	}

	records, total := s.Catalog.List(page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"records":   records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) handleGetRecord(c *gin.Context) {
	code := c.Param("code")

	record, ok := s.Catalog.Get(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) handleGetQuarantine(c *gin.Context) {
	entries := s.Quarantine.Entries()

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

func (s *Server) handlePublish(c *gin.Context) {
	var job models.PublishJob
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid publish job: %v", err)})
		return
	}

	outcome, err := s.PublishService.Publish(c.Request.Context(), &job)
	if err != nil {
		s.Logger.Error("Publish failed", zap.String("code", job.Code), zap.Error(err))
		status := http.StatusInternalServerError
		if outcome == nil {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error(), "outcome": outcome})
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (s *Server) Start(ctx context.Context) error {
	// Start scheduler
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop scheduler first
	s.Scheduler.Stop()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
