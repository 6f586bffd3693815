// Package server exposes the admin/health HTTP surface. It sits next
// to the worker, not in its data path: the only thing it can do to the
// core is trigger a settings/rule refresh.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Refresher is the slice of the worker the admin surface may poke.
type Refresher interface {
	RefreshSettings(ctx context.Context) error
	ReloadRules(ctx context.Context) error
}

// StreamStatus reports one stream's health for /healthz.
type StreamStatus interface {
	Name() string
	Connected() bool
}

type Admin struct {
	engine     *gin.Engine
	token      string
	refreshers []Refresher
	statuses   []StreamStatus
	startedAt  time.Time
	logger     *slog.Logger
}

func NewAdmin(token string, refreshers []Refresher, statuses []StreamStatus, logger *slog.Logger) *Admin {
	gin.SetMode(gin.ReleaseMode)
	a := &Admin{
		engine:     gin.New(),
		token:      token,
		refreshers: refreshers,
		statuses:   statuses,
		startedAt:  time.Now(),
		logger:     logger.With("component", "admin_server"),
	}
	a.engine.Use(gin.Recovery())
	a.routes()
	return a
}

func (a *Admin) routes() {
	a.engine.GET("/healthz", a.handleHealth)

	api := a.engine.Group("/api/v1", a.auth())
	api.POST("/refresh", a.handleRefresh)
}

func (a *Admin) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+a.token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (a *Admin) handleHealth(c *gin.Context) {
	streams := make([]gin.H, 0, len(a.statuses))
	for _, s := range a.statuses {
		streams = append(streams, gin.H{"name": s.Name(), "connected": s.Connected()})
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(a.startedAt).Round(time.Second).String(),
		"streams": streams,
	})
}

func (a *Admin) handleRefresh(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	failed := 0
	for _, r := range a.refreshers {
		if err := r.RefreshSettings(ctx); err != nil {
			a.logger.Warn("settings refresh via admin failed", "err", err)
			failed++
		}
		if err := r.ReloadRules(ctx); err != nil {
			a.logger.Warn("rule reload via admin failed", "err", err)
			failed++
		}
	}

	if failed > 0 {
		c.JSON(http.StatusBadGateway, gin.H{"refreshed": false, "failures": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": true})
}

// Run serves until ctx is cancelled.
func (a *Admin) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: a.engine}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.logger.Info("admin server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
