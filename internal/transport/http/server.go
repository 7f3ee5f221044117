// Package statushttp exposes a read-only status surface for operators and
// probes. It never mutates state.
package statushttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"keel/internal/gateway/record"
	"keel/internal/health"
	"keel/internal/logger"
	"keel/internal/runtime"
	"keel/internal/store/eventlog"
)

type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig describes the status server's dependencies.
type ServerConfig struct {
	Addr     string
	BotID    string
	Symbol   string
	Loop     *runtime.Loop
	Reporter *health.Reporter
	Gateway  record.Gateway
	Events   *eventlog.Store
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Loop == nil || cfg.Reporter == nil || cfg.Gateway == nil {
		return nil, errors.New("status server requires loop, reporter and gateway")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8433"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"bot_id":   cfg.BotID,
			"symbol":   cfg.Symbol,
			"tier":     cfg.Reporter.Tier(),
			"loop":     cfg.Loop.Status(),
			"evidence": cfg.Reporter.Snapshot(),
		})
	})
	api.GET("/position", func(c *gin.Context) {
		row, err := cfg.Gateway.GetCanonicalPosition(c.Request.Context(), record.PositionStatusOpen)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if row == nil {
			c.JSON(http.StatusOK, gin.H{"position": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"position": row})
	})
	api.GET("/events", func(c *gin.Context) {
		if cfg.Events == nil {
			c.JSON(http.StatusOK, gin.H{"events": []eventlog.Event{}})
			return
		}
		events, err := cfg.Events.Recent(c.Request.Context(), 100)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	return &Server{addr: cfg.Addr, router: router}, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		client := c.ClientIP()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), client, time.Since(start))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
