// Package api assembles the HTTP surface of the ledger server.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/hashledger/internal/api/handler"
	"github.com/jmerrifield20/hashledger/internal/auth"
	"github.com/jmerrifield20/hashledger/internal/ledger"
)

// Config controls the cross-cutting middleware.
type Config struct {
	CORSOrigins    []string
	RateLimitRPS   int
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Store  ledger.Store
	Issuer *auth.Issuer // nil disables caller tokens
	Audit  handler.AuditSource
	Logger *zap.Logger
}

// NewRouter builds the gin engine serving /healthz, /metrics and /api/v1.
func NewRouter(cfg Config, deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestID())

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", handler.RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", handler.RequestIDHeader},
			AllowCredentials: !containsWildcard(cfg.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit(cfg.MaxBodyBytes))
	if cfg.RateLimitRPS > 0 {
		router.Use(handler.RateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(handler.RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	lh := handler.NewLedgerHandler(deps.Store, cfg.RequestTimeout, logger)
	if deps.Audit != nil {
		lh.SetAuditSource(deps.Audit)
	}
	v1 := router.Group("/api/v1")
	lh.Register(v1, auth.RequireCaller(deps.Issuer))

	return router
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
