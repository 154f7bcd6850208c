package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/internal/di"
	"github.com/msaedi/instructly-sub006/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "payment-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := di.New(ctx, cfg, di.Options{LifecycleWorkers: true, OutboxDispatcher: true})
	if err != nil {
		return err
	}
	defer c.Close(context.Background())

	c.Log.Info("payment worker starting",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	c.Scheduler.Start(ctx)

	// Probe-only server so the orchestrator can tell a live worker from a
	// wedged one.
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      probeRouter(c),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.Log.Error("probe server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	c.Log.Info("payment worker shutting down")

	c.Scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		c.Log.Error("probe server shutdown failed", zap.Error(err))
	}
	return nil
}

func probeRouter(c *di.Container) *gin.Engine {
	if c.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(ctx *gin.Context) {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
		defer cancel()
		if err := c.DB.HealthCheck(checkCtx); err != nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "postgres": err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"ready": true})
	})
	return r
}
